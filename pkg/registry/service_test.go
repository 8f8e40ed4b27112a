package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/opdflow/platform/pkg/archive"
	"github.com/opdflow/platform/pkg/common/config"
	"github.com/opdflow/platform/pkg/history"
	"github.com/opdflow/platform/pkg/store"
	"github.com/opdflow/platform/pkg/tokens"
)

func newTestService(s store.Store) (*Service, archive.Store) {
	allocator := tokens.NewAllocator(s, config.DefaultSettings())
	log := history.NewLog(s)
	repo := NewRepository(s)
	archiveStore := archive.NewMemoryStore()
	return NewService(s, repo, allocator, log, archiveStore, nil), archiveStore
}

func TestCreateAssignsTokenAndWaiting(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(store.NewMemoryStore())

	rec, err := svc.Create(ctx, CreateRequest{Name: "Asha", Age: 34, Reason: "fever"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if rec.Key == "" {
		t.Fatal("expected record key")
	}
	if rec.TokenNumber != 1 || rec.TokenLabel != "T-001" {
		t.Fatalf("expected token 1 / T-001, got %d / %s", rec.TokenNumber, rec.TokenLabel)
	}
	if rec.Status != StatusWaiting {
		t.Fatalf("expected waiting status, got %s", rec.Status)
	}
	if rec.CreatedAt == 0 {
		t.Fatal("expected createdAt stamp")
	}

	second, err := svc.Create(ctx, CreateRequest{Name: "Binod"})
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if second.TokenNumber != 2 {
		t.Fatalf("expected token 2, got %d", second.TokenNumber)
	}
}

func TestCreateRequiresName(t *testing.T) {
	svc, _ := newTestService(store.NewMemoryStore())

	if _, err := svc.Create(context.Background(), CreateRequest{}); !errors.Is(err, ErrInvalidPatient) {
		t.Fatalf("expected ErrInvalidPatient, got %v", err)
	}
}

func TestCreateFailsWhenAllocationAborted(t *testing.T) {
	ctx := context.Background()
	s := &abortingStore{Store: store.NewMemoryStore()}
	svc, _ := newTestService(s)

	if _, err := svc.Create(ctx, CreateRequest{Name: "Asha"}); !errors.Is(err, ErrTokenAllocation) {
		t.Fatalf("expected ErrTokenAllocation, got %v", err)
	}

	records, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no record after failed allocation, got %d", len(records))
	}
}

func TestSetStatusTransitionsArePermissive(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(store.NewMemoryStore())

	rec, err := svc.Create(ctx, CreateRequest{Name: "Asha"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Any active status may move to any other, including backwards.
	for _, status := range []Status{StatusChecked, StatusWaiting, StatusCalled} {
		updated, err := svc.SetStatus(ctx, rec.Key, status, "reception")
		if err != nil {
			t.Fatalf("transition to %s failed: %v", status, err)
		}
		if updated.Status != status {
			t.Fatalf("expected status %s, got %s", status, updated.Status)
		}
		if updated.LastUpdated == 0 {
			t.Fatal("expected lastUpdated stamp")
		}
	}
}

func TestSetStatusValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(store.NewMemoryStore())

	if _, err := svc.SetStatus(ctx, "", StatusCalled, "reception"); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
	if _, err := svc.SetStatus(ctx, "missing", StatusCalled, "reception"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec, _ := svc.Create(ctx, CreateRequest{Name: "Asha"})
	if _, err := svc.SetStatus(ctx, rec.Key, Status("archived"), "reception"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestSetPrescriptionWritesSnapshotAndLedger(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	svc, _ := newTestService(s)

	rec, err := svc.Create(ctx, CreateRequest{Name: "Asha"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := svc.SetPrescription(ctx, rec.Key, "paracetamol", "after meals", "dr.rao")
	if err != nil {
		t.Fatalf("prescription save failed: %v", err)
	}
	if updated.Prescription == nil {
		t.Fatal("expected prescription snapshot on record")
	}
	if updated.Prescription.Medicine != "paracetamol" || updated.Prescription.PrescribedBy != "dr.rao" {
		t.Fatalf("unexpected snapshot %+v", updated.Prescription)
	}

	entries, err := svc.History(ctx, rec.Key)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(entries))
	}
	if entries[0].Prescription.TS != updated.Prescription.TS {
		t.Fatalf("ledger ts %d does not match record ts %d", entries[0].Prescription.TS, updated.Prescription.TS)
	}

	if _, err := svc.SetPrescription(ctx, rec.Key, "ibuprofen", "", "dr.rao"); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	entries, _ = svc.History(ctx, rec.Key)
	if len(entries) != 2 {
		t.Fatalf("expected two ledger entries, got %d", len(entries))
	}
	if entries[0].Prescription.Medicine != "ibuprofen" {
		t.Fatalf("expected newest entry first, got %s", entries[0].Prescription.Medicine)
	}
}

func TestSetPrescriptionPreconditions(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(store.NewMemoryStore())

	if _, err := svc.SetPrescription(ctx, "", "med", "", "dr.rao"); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
	if _, err := svc.SetPrescription(ctx, "missing", "med", "", "dr.rao"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestArchiveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, archiveStore := newTestService(store.NewMemoryStore())

	rec, err := svc.Create(ctx, CreateRequest{Name: "Asha"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := svc.Archive(ctx, rec.Key, "reception"); err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if err := svc.Archive(ctx, rec.Key, "reception"); err != nil {
		t.Fatalf("second archive failed: %v", err)
	}

	records, _ := svc.List(ctx)
	if len(records) != 0 {
		t.Fatalf("expected empty active set, got %d records", len(records))
	}

	count, _ := archiveStore.Count(ctx)
	if count != 1 {
		t.Fatalf("expected exactly one archived copy, got %d", count)
	}

	archived, err := archiveStore.Get(ctx, rec.Key)
	if err != nil {
		t.Fatalf("archived copy missing: %v", err)
	}
	if archived.ArchivedAt.IsZero() {
		t.Fatal("expected archivedAt stamp")
	}
	if archived.Payload["name"] != "Asha" {
		t.Fatalf("expected archived payload to carry the record, got %v", archived.Payload)
	}

	// Once archived, the patient accepts no further operations.
	if _, err := svc.SetStatus(ctx, rec.Key, StatusCalled, "reception"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after archival, got %v", err)
	}
}

func TestArchiveMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	svc, archiveStore := newTestService(store.NewMemoryStore())

	if err := svc.Archive(ctx, "missing", "reception"); err != nil {
		t.Fatalf("expected no-op for missing key, got %v", err)
	}
	count, _ := archiveStore.Count(ctx)
	if count != 0 {
		t.Fatalf("expected empty archive, got %d", count)
	}
}

// abortingStore simulates a counter backend that discards every
// conditional write non-committally.
type abortingStore struct {
	store.Store
}

func (a *abortingStore) ConditionalUpdate(ctx context.Context, path string, fn store.UpdateFn) (store.CommitResult, error) {
	return store.CommitResult{}, store.ErrAborted
}
