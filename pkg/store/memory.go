package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

const snapshotBuffer = 64

// MemoryStore keeps all collections in process memory. Used in tests and
// single-node deployments where redis is not available.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
	subs        map[string]map[*memorySubscription]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string][]byte),
		subs:        make(map[string]map[*memorySubscription]struct{}),
	}
}

func (m *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	collection, child, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.collections[collection][child]
	if !ok {
		return nil, ErrAbsent
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, path string, value interface{}) error {
	return m.Update(ctx, map[string]interface{}{path: value})
}

func (m *MemoryStore) Update(ctx context.Context, updates map[string]interface{}) error {
	now := time.Now().UTC()

	type write struct {
		collection string
		child      string
		value      []byte // nil means delete
	}
	writes := make([]write, 0, len(updates))
	for path, value := range updates {
		collection, child, err := splitPath(path)
		if err != nil {
			return err
		}
		w := write{collection: collection, child: child}
		if value != nil {
			data, err := marshalValue(value, now)
			if err != nil {
				return err
			}
			w.value = data
		}
		writes = append(writes, w)
	}

	m.mu.Lock()
	touched := make(map[string]struct{})
	for _, w := range writes {
		if w.value == nil {
			delete(m.collections[w.collection], w.child)
		} else {
			if m.collections[w.collection] == nil {
				m.collections[w.collection] = make(map[string][]byte)
			}
			m.collections[w.collection][w.child] = w.value
		}
		touched[w.collection] = struct{}{}
	}
	m.mu.Unlock()

	for collection := range touched {
		m.notify(collection)
	}
	return nil
}

func (m *MemoryStore) ConditionalUpdate(ctx context.Context, path string, fn UpdateFn) (CommitResult, error) {
	collection, child, err := splitPath(path)
	if err != nil {
		return CommitResult{}, err
	}

	m.mu.Lock()
	current := m.collections[collection][child]
	proposed, err := fn(current)
	if err != nil {
		m.mu.Unlock()
		return CommitResult{}, err
	}
	data, err := marshalValue(proposed, time.Now().UTC())
	if err != nil {
		m.mu.Unlock()
		return CommitResult{}, err
	}
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string][]byte)
	}
	m.collections[collection][child] = data
	m.mu.Unlock()

	m.notify(collection)
	return CommitResult{Committed: true, Value: data}, nil
}

func (m *MemoryStore) Push(ctx context.Context, path string) (string, error) {
	return pushKey(), nil
}

func (m *MemoryStore) List(ctx context.Context, path string) ([]Document, error) {
	collection := trimSlashes(path)

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(collection), nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, path string) (Subscription, error) {
	collection := trimSlashes(path)

	sub := &memorySubscription{
		store:      m,
		collection: collection,
		ch:         make(chan []Document, snapshotBuffer),
	}

	m.mu.Lock()
	if m.subs[collection] == nil {
		m.subs[collection] = make(map[*memorySubscription]struct{})
	}
	m.subs[collection][sub] = struct{}{}
	initial := m.snapshotLocked(collection)
	m.mu.Unlock()

	deliver(sub.ch, initial)
	return sub, nil
}

func (m *MemoryStore) ServerTimestamp() interface{} {
	return Timestamp
}

func (m *MemoryStore) snapshotLocked(collection string) []Document {
	children := m.collections[collection]
	docs := make([]Document, 0, len(children))
	for key, value := range children {
		out := make([]byte, len(value))
		copy(out, value)
		docs = append(docs, Document{Key: key, Value: out})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs
}

func (m *MemoryStore) notify(collection string) {
	// Delivery stays under the read lock: deliver never blocks, and Close
	// needs the write lock, so a snapshot can never race a channel close.
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := m.snapshotLocked(collection)
	for sub := range m.subs[collection] {
		deliver(sub.ch, snapshot)
	}
}

type memorySubscription struct {
	store      *MemoryStore
	collection string
	ch         chan []Document
	closeOnce  sync.Once
}

func (s *memorySubscription) Snapshots() <-chan []Document { return s.ch }

func (s *memorySubscription) Close() {
	s.closeOnce.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs[s.collection], s)
		s.store.mu.Unlock()
		close(s.ch)
	})
}

// deliver sends a snapshot without blocking, evicting the oldest queued
// snapshot when the subscriber lags. The newest state always gets through.
func deliver(ch chan []Document, snapshot []Document) {
	for {
		select {
		case ch <- snapshot:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func trimSlashes(path string) string {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	for len(path) > 0 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
