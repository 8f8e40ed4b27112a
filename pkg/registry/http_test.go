package registry

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gorilla/mux"
	"github.com/opdflow/platform/pkg/common/logger"
	"github.com/opdflow/platform/pkg/store"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func newTestRouter(s store.Store) *mux.Router {
	svc, _ := newTestService(s)
	router := mux.NewRouter()
	NewHTTPHandler(svc, 1<<20).Register(router)
	return router
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHTTPCreateAndGet(t *testing.T) {
	router := newTestRouter(store.NewMemoryStore())

	resp := doJSON(t, router, http.MethodPost, "/patients", map[string]interface{}{
		"name": "Asha", "age": 34, "reason": "fever",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var created PatientRecord
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid create response: %v", err)
	}
	if created.TokenLabel != "T-001" || created.Status != StatusWaiting {
		t.Fatalf("unexpected record %+v", created)
	}

	resp = doJSON(t, router, http.MethodGet, "/patients/"+created.Key, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = doJSON(t, router, http.MethodGet, "/patients/missing", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing patient, got %d", resp.Code)
	}
}

func TestHTTPCreateValidation(t *testing.T) {
	router := newTestRouter(store.NewMemoryStore())

	resp := doJSON(t, router, http.MethodPost, "/patients", map[string]interface{}{"age": 34})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing name, got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/patients", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestHTTPStatusUpdate(t *testing.T) {
	router := newTestRouter(store.NewMemoryStore())

	resp := doJSON(t, router, http.MethodPost, "/patients", map[string]interface{}{"name": "Asha"})
	var created PatientRecord
	json.Unmarshal(resp.Body.Bytes(), &created)

	resp = doJSON(t, router, http.MethodPut, "/patients/"+created.Key+"/status", map[string]interface{}{"status": "called"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var updated PatientRecord
	json.Unmarshal(resp.Body.Bytes(), &updated)
	if updated.Status != StatusCalled {
		t.Fatalf("expected called, got %s", updated.Status)
	}

	resp = doJSON(t, router, http.MethodPut, "/patients/"+created.Key+"/status", map[string]interface{}{"status": "bogus"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid status, got %d", resp.Code)
	}
}

func TestHTTPPrescriptionAndHistory(t *testing.T) {
	router := newTestRouter(store.NewMemoryStore())

	resp := doJSON(t, router, http.MethodPost, "/patients", map[string]interface{}{"name": "Asha"})
	var created PatientRecord
	json.Unmarshal(resp.Body.Bytes(), &created)

	resp = doJSON(t, router, http.MethodPut, "/patients/"+created.Key+"/prescription", map[string]interface{}{
		"medicine": "paracetamol", "notes": "after meals",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var updated PatientRecord
	json.Unmarshal(resp.Body.Bytes(), &updated)
	if updated.Prescription == nil || updated.Prescription.Medicine != "paracetamol" {
		t.Fatalf("unexpected record %+v", updated)
	}
	// Identity falls back to the station default when no header is set.
	if updated.Prescription.PrescribedBy != "doctor" {
		t.Fatalf("expected default author, got %s", updated.Prescription.PrescribedBy)
	}

	resp = doJSON(t, router, http.MethodGet, "/patients/"+created.Key+"/history", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(resp.Body.Bytes(), &entries); err != nil {
		t.Fatalf("invalid history response: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one history entry, got %d", len(entries))
	}
}

func TestHTTPArchive(t *testing.T) {
	router := newTestRouter(store.NewMemoryStore())

	resp := doJSON(t, router, http.MethodPost, "/patients", map[string]interface{}{"name": "Asha"})
	var created PatientRecord
	json.Unmarshal(resp.Body.Bytes(), &created)

	resp = doJSON(t, router, http.MethodPost, "/patients/"+created.Key+"/archive", nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(t, router, http.MethodGet, "/patients/"+created.Key, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after archival, got %d", resp.Code)
	}

	resp = doJSON(t, router, http.MethodGet, "/patients", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var list []PatientRecord
	json.Unmarshal(resp.Body.Bytes(), &list)
	if len(list) != 0 {
		t.Fatalf("expected empty active list, got %d", len(list))
	}
}
