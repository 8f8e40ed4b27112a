package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opdflow/platform/pkg/archive"
	"github.com/opdflow/platform/pkg/common/logger"
	"github.com/opdflow/platform/pkg/common/models"
	"github.com/opdflow/platform/pkg/history"
	"github.com/opdflow/platform/pkg/observability/metrics"
	"github.com/opdflow/platform/pkg/store"
	"github.com/opdflow/platform/pkg/tokens"
)

var (
	// ErrTokenAllocation means no token was committed; no record may exist
	// for the attempt.
	ErrTokenAllocation = errors.New("registry: token allocation failed")

	// ErrNoSelection is the caller-level precondition: the operation was
	// issued without a target patient.
	ErrNoSelection = errors.New("registry: no patient selected")

	ErrInvalidStatus = errors.New("registry: invalid status")

	ErrInvalidPatient = errors.New("registry: patient name is required")
)

// EventPublisher pushes queue events onto the event stream. Publish
// failures never fail the clinical write; the store stays authoritative.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// CreateRequest carries the registration form fields.
type CreateRequest struct {
	Name    string `json:"name"`
	Age     int    `json:"age,omitempty"`
	Gender  string `json:"gender,omitempty"`
	Contact string `json:"contact,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Service owns the patient record lifecycle: creation against a freshly
// allocated token, status moves, prescription saves with their ledger
// append, and archival out of the active set.
type Service struct {
	store     store.Store
	repo      *Repository
	allocator *tokens.Allocator
	history   *history.Log
	archive   archive.Store
	events    EventPublisher
	source    string
}

func NewService(s store.Store, repo *Repository, allocator *tokens.Allocator, log *history.Log, archiveStore archive.Store, events EventPublisher) *Service {
	return &Service{
		store:     s,
		repo:      repo,
		allocator: allocator,
		history:   log,
		archive:   archiveStore,
		events:    events,
		source:    "queue-service",
	}
}

// Create allocates the next token and registers the patient as waiting.
// When allocation fails nothing is persisted; a committed token whose
// record write then fails is surfaced to the operator and leaves only a
// numbering gap, never a corrupt record.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*PatientRecord, error) {
	if req.Name == "" {
		return nil, ErrInvalidPatient
	}

	token, err := s.allocator.Allocate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenAllocation, err)
	}

	key, err := s.repo.NewKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserving patient key for token %d: %w", token, err)
	}

	doc := map[string]interface{}{
		"tokenNumber": token,
		"tokenLabel":  s.allocator.FormatLabel(token),
		"name":        req.Name,
		"age":         req.Age,
		"gender":      req.Gender,
		"contact":     req.Contact,
		"reason":      req.Reason,
		"status":      string(StatusWaiting),
		"createdAt":   s.store.ServerTimestamp(),
	}
	if err := s.repo.Put(ctx, key, doc); err != nil {
		return nil, fmt.Errorf("persisting patient for token %d: %w", token, err)
	}

	rec, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	metrics.PatientsCreated.Inc()
	s.publish(ctx, models.EventPatientCreated, map[string]interface{}{
		"patientKey":  key,
		"tokenNumber": token,
		"tokenLabel":  rec.TokenLabel,
		"name":        rec.Name,
	})
	return rec, nil
}

// SetStatus moves a patient between active statuses. Any active status may
// move to any other; archived patients are gone from the active set and
// come back as ErrNotFound.
func (s *Service) SetStatus(ctx context.Context, key string, status Status, actor string) (*PatientRecord, error) {
	if key == "" {
		return nil, ErrNoSelection
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	doc, err := s.repo.GetMap(ctx, key)
	if err != nil {
		return nil, err
	}

	doc["status"] = string(status)
	doc["lastUpdated"] = s.store.ServerTimestamp()
	if err := s.repo.Put(ctx, key, doc); err != nil {
		return nil, fmt.Errorf("updating status for %s: %w", key, err)
	}

	metrics.StatusUpdates.WithLabelValues(string(status)).Inc()
	s.publish(ctx, models.EventStatusChanged, map[string]interface{}{
		"patientKey": key,
		"status":     string(status),
		"actor":      actor,
	})
	return s.repo.Get(ctx, key)
}

// SetPrescription writes the prescription snapshot onto the record and
// appends the matching ledger entry in one atomic multi-path update.
// Retrying after a failure is safe: the retry writes a fresh entry key and
// restates the same record field.
func (s *Service) SetPrescription(ctx context.Context, key, medicine, notes, author string) (*PatientRecord, error) {
	if key == "" {
		return nil, ErrNoSelection
	}
	if author == "" {
		author = "doctor"
	}

	doc, err := s.repo.GetMap(ctx, key)
	if err != nil {
		return nil, err
	}

	entryKey, err := s.history.NewEntryKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reserving history entry for %s: %w", key, err)
	}

	snapshot := map[string]interface{}{
		"medicine":     medicine,
		"notes":        notes,
		"prescribedBy": author,
		"ts":           s.store.ServerTimestamp(),
	}
	doc["prescription"] = snapshot
	doc["lastUpdated"] = s.store.ServerTimestamp()

	updates := map[string]interface{}{
		PatientsPath + "/" + key:         doc,
		history.EntryPath(key, entryKey): history.EntryValue(medicine, notes, author, s.store.ServerTimestamp()),
	}
	if err := s.store.Update(ctx, updates); err != nil {
		return nil, fmt.Errorf("saving prescription for %s: %w", key, err)
	}

	metrics.PrescriptionsSaved.Inc()
	s.publish(ctx, models.EventPrescriptionSaved, map[string]interface{}{
		"patientKey": key,
		"entryKey":   entryKey,
		"medicine":   medicine,
		"actor":      author,
	})
	return s.repo.Get(ctx, key)
}

// Archive copies the record into the archive store and removes it from the
// active set. Absent keys are a no-op; re-running after a crash between
// copy and delete just repeats the copy.
func (s *Service) Archive(ctx context.Context, key, actor string) error {
	if key == "" {
		return ErrNoSelection
	}

	doc, err := s.repo.GetMap(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var token int64
	if n, ok := doc["tokenNumber"].(float64); ok {
		token = int64(n)
	}

	archived := archive.ArchivedPatient{
		Key:         key,
		TokenNumber: token,
		Payload:     doc,
		ArchivedAt:  time.Now().UTC(),
	}
	if err := s.archive.Save(ctx, archived); err != nil {
		return fmt.Errorf("copying patient %s to archive: %w", key, err)
	}

	if err := s.repo.Delete(ctx, key); err != nil {
		return fmt.Errorf("removing archived patient %s: %w", key, err)
	}

	metrics.PatientsArchived.Inc()
	s.publish(ctx, models.EventPatientArchived, map[string]interface{}{
		"patientKey": key,
		"actor":      actor,
	})
	return nil
}

// Get returns a single active record.
func (s *Service) Get(ctx context.Context, key string) (*PatientRecord, error) {
	if key == "" {
		return nil, ErrNoSelection
	}
	return s.repo.Get(ctx, key)
}

// List returns the active set in token order.
func (s *Service) List(ctx context.Context) ([]PatientRecord, error) {
	return s.repo.List(ctx)
}

// History returns the patient's ledger, newest prescription first.
func (s *Service) History(ctx context.Context, key string) ([]history.Entry, error) {
	if key == "" {
		return nil, ErrNoSelection
	}
	metrics.HistoryReads.Inc()
	return s.history.ListFor(ctx, key)
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, eventType, s.source, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("failed to publish queue event")
	}
}
