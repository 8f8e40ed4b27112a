// Package broker fans queue changes out to live viewers. Every change to
// the active set produces a fresh full candidate list; each viewer's filter
// is re-applied independently and the viewer receives the complete matching
// set, never a diff.
package broker

import (
	"context"
	"sync"

	"github.com/opdflow/platform/pkg/common/logger"
	"github.com/opdflow/platform/pkg/observability/metrics"
	"github.com/opdflow/platform/pkg/registry"
	"github.com/opdflow/platform/pkg/store"
)

type Broker struct {
	sub    store.Subscription
	buffer int

	mu      sync.RWMutex
	viewers map[*Viewer]struct{}
	latest  []registry.PatientRecord
	closed  bool
}

// New subscribes to the active-patient collection and starts fan-out.
// buffer sizes each viewer's delivery channel; a lagging viewer loses the
// oldest queued sets, never the newest.
func New(ctx context.Context, s store.Store, buffer int) (*Broker, error) {
	sub, err := s.Subscribe(ctx, registry.PatientsPath)
	if err != nil {
		return nil, err
	}
	if buffer <= 0 {
		buffer = 16
	}

	b := &Broker{
		sub:     sub,
		buffer:  buffer,
		viewers: make(map[*Viewer]struct{}),
	}
	go b.run()
	return b, nil
}

func (b *Broker) run() {
	for snapshot := range b.sub.Snapshots() {
		records, err := registry.DecodeRecords(snapshot)
		if err != nil {
			logger.Log.WithError(err).Warn("skipping undecodable queue snapshot")
			continue
		}

		b.mu.Lock()
		b.latest = records
		for viewer := range b.viewers {
			viewer.send(viewer.filter.Apply(records))
		}
		b.mu.Unlock()
	}
}

// Register adds a viewer and immediately delivers the current matching set.
func (b *Broker) Register(filter Filter) *Viewer {
	viewer := &Viewer{
		broker: b,
		filter: filter,
		ch:     make(chan []registry.PatientRecord, b.buffer),
	}

	b.mu.Lock()
	b.viewers[viewer] = struct{}{}
	viewer.send(filter.Apply(b.latest))
	b.mu.Unlock()

	metrics.LiveViewers.Inc()
	return viewer
}

// ViewerCount reports the number of registered viewers.
func (b *Broker) ViewerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.viewers)
}

// Close tears down the upstream subscription and every viewer.
func (b *Broker) Close() {
	b.sub.Close()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for viewer := range b.viewers {
		viewer.closeLocked()
		delete(b.viewers, viewer)
	}
	b.mu.Unlock()
}

// Viewer is one registered live view.
type Viewer struct {
	broker *Broker
	filter Filter
	ch     chan []registry.PatientRecord
	closed bool
}

// Updates streams full matching sets, ascending by token number.
func (v *Viewer) Updates() <-chan []registry.PatientRecord {
	return v.ch
}

// SetFilter retargets the viewer and re-delivers from the latest snapshot,
// so a filter change takes effect without waiting for a queue change.
func (v *Viewer) SetFilter(filter Filter) {
	v.broker.mu.Lock()
	defer v.broker.mu.Unlock()
	if v.closed {
		return
	}
	v.filter = filter
	v.send(filter.Apply(v.broker.latest))
}

// Close unregisters the viewer and releases its channel.
func (v *Viewer) Close() {
	v.broker.mu.Lock()
	defer v.broker.mu.Unlock()
	if v.closed {
		return
	}
	delete(v.broker.viewers, v)
	v.closeLocked()
}

func (v *Viewer) closeLocked() {
	v.closed = true
	close(v.ch)
	metrics.LiveViewers.Dec()
}

// send never blocks; when the viewer lags the oldest queued set is evicted
// in favor of the newest.
func (v *Viewer) send(records []registry.PatientRecord) {
	for {
		select {
		case v.ch <- records:
			return
		default:
			select {
			case <-v.ch:
			default:
			}
		}
	}
}
