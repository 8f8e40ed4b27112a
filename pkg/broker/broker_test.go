package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opdflow/platform/pkg/archive"
	"github.com/opdflow/platform/pkg/common/config"
	"github.com/opdflow/platform/pkg/common/logger"
	"github.com/opdflow/platform/pkg/history"
	"github.com/opdflow/platform/pkg/registry"
	"github.com/opdflow/platform/pkg/store"
	"github.com/opdflow/platform/pkg/tokens"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func newQueue(s store.Store) *registry.Service {
	allocator := tokens.NewAllocator(s, config.DefaultSettings())
	repo := registry.NewRepository(s)
	log := history.NewLog(s)
	return registry.NewService(s, repo, allocator, log, archive.NewMemoryStore(), nil)
}

// waitFor reads viewer updates until one carries exactly the wanted keys,
// in order. Intermediate sets are allowed; a wrong terminal set times out.
func waitFor(t *testing.T, viewer *Viewer, want ...string) []registry.PatientRecord {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case records, ok := <-viewer.Updates():
			if !ok {
				t.Fatalf("viewer closed while waiting for %v", want)
			}
			if len(records) != len(want) {
				continue
			}
			match := true
			for i, rec := range records {
				if rec.Key != want[i] {
					match = false
					break
				}
			}
			if match {
				return records
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func TestWaitingViewerFollowsQueueChanges(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	svc := newQueue(s)

	b, err := New(ctx, s, 16)
	if err != nil {
		t.Fatalf("broker start failed: %v", err)
	}
	defer b.Close()

	viewer := b.Register(Filter{Status: string(registry.StatusWaiting)})
	defer viewer.Close()

	waitFor(t, viewer) // empty queue

	a, err := svc.Create(ctx, registry.CreateRequest{Name: "Asha"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	waitFor(t, viewer, a.Key)

	bRec, err := svc.Create(ctx, registry.CreateRequest{Name: "Binod"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	waitFor(t, viewer, a.Key, bRec.Key)

	if _, err := svc.SetStatus(ctx, a.Key, registry.StatusCalled, "doctor"); err != nil {
		t.Fatalf("status change failed: %v", err)
	}
	// A left the waiting filter, so only B remains visible.
	waitFor(t, viewer, bRec.Key)
}

func TestSetFilterRedeliversWithoutQueueChange(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	svc := newQueue(s)

	a, err := svc.Create(ctx, registry.CreateRequest{Name: "Asha"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.SetStatus(ctx, a.Key, registry.StatusChecked, "doctor"); err != nil {
		t.Fatalf("status change failed: %v", err)
	}

	b, err := New(ctx, s, 16)
	if err != nil {
		t.Fatalf("broker start failed: %v", err)
	}
	defer b.Close()

	viewer := b.Register(Filter{Status: string(registry.StatusWaiting)})
	defer viewer.Close()
	waitFor(t, viewer)

	viewer.SetFilter(Filter{Status: string(registry.StatusChecked)})
	records := waitFor(t, viewer, a.Key)
	if records[0].Status != registry.StatusChecked {
		t.Fatalf("expected checked record, got %s", records[0].Status)
	}
}

func TestViewerCloseUnregisters(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	b, err := New(ctx, s, 16)
	if err != nil {
		t.Fatalf("broker start failed: %v", err)
	}
	defer b.Close()

	v1 := b.Register(Filter{})
	v2 := b.Register(Filter{})
	if got := b.ViewerCount(); got != 2 {
		t.Fatalf("expected 2 viewers, got %d", got)
	}

	v1.Close()
	v1.Close() // idempotent
	if got := b.ViewerCount(); got != 1 {
		t.Fatalf("expected 1 viewer, got %d", got)
	}

	for range v1.Updates() {
		// drained; terminates because the channel is closed
	}
	v2.Close()
}

func TestBrokerCloseTearsDownViewers(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	b, err := New(ctx, s, 16)
	if err != nil {
		t.Fatalf("broker start failed: %v", err)
	}

	viewer := b.Register(Filter{})
	b.Close()
	b.Close() // idempotent

	if got := b.ViewerCount(); got != 0 {
		t.Fatalf("expected no viewers after close, got %d", got)
	}
	for range viewer.Updates() {
	}
}
