package registry

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/opdflow/platform/pkg/common/logger"
	"github.com/opdflow/platform/pkg/store"
	"github.com/opdflow/platform/pkg/tokens"
)

type HTTPHandler struct {
	service *Service
	maxBody int64
}

func NewHTTPHandler(service *Service, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/patients", h.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/patients", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/patients/{key}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/patients/{key}/status", h.handleStatus).Methods(http.MethodPut)
	router.HandleFunc("/patients/{key}/prescription", h.handlePrescription).Methods(http.MethodPut)
	router.HandleFunc("/patients/{key}/archive", h.handleArchive).Methods(http.MethodPost)
	router.HandleFunc("/patients/{key}/history", h.handleHistory).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, err, "failed to register patient")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rec)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(w, err, "failed to list patients")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	rec, err := h.service.Get(r.Context(), key)
	if err != nil {
		h.writeError(w, err, "failed to fetch patient")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var req struct {
		Status Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := h.service.SetStatus(r.Context(), key, req.Status, stationUser(r))
	if err != nil {
		h.writeError(w, err, "failed to update status")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *HTTPHandler) handlePrescription(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var req struct {
		Medicine     string `json:"medicine"`
		Notes        string `json:"notes"`
		PrescribedBy string `json:"prescribedBy,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	author := req.PrescribedBy
	if author == "" {
		author = stationUser(r)
	}

	rec, err := h.service.SetPrescription(r.Context(), key, req.Medicine, req.Notes, author)
	if err != nil {
		h.writeError(w, err, "failed to save prescription")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *HTTPHandler) handleArchive(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	if err := h.service.Archive(r.Context(), key, stationUser(r)); err != nil {
		h.writeError(w, err, "failed to archive patient")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	entries, err := h.service.History(r.Context(), key)
	if err != nil {
		h.writeError(w, err, "failed to load history")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, ErrNoSelection), errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidPatient):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "patient not found", http.StatusNotFound)
	case errors.Is(err, tokens.ErrAllocationAborted), errors.Is(err, ErrTokenAllocation):
		logger.Log.WithError(err).Error("token allocation failed")
		http.Error(w, "token allocation failed", http.StatusConflict)
	case errors.Is(err, store.ErrUnavailable):
		logger.Log.WithError(err).Error("store unavailable")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
	default:
		logger.Log.WithError(err).Error(msg)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// stationUser mirrors the original auth-user fallback: identity comes from
// the surrounding application, not from this core.
func stationUser(r *http.Request) string {
	if user := r.Header.Get("X-Station-User"); user != "" {
		return user
	}
	return "doctor"
}
