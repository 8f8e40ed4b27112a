// Package store defines the document store the queue core runs against:
// JSON values addressed by slash-separated paths, a conditional-write
// primitive for counters, push-generated child keys, and full-collection
// change subscriptions. Backends: memory.go and redis.go.
package store

import (
	"context"
	"errors"
)

var (
	// ErrAbsent is returned by Get when no value exists at the path.
	ErrAbsent = errors.New("store: value absent")

	// ErrUnavailable is returned when the backend cannot be reached.
	// Callers must surface it, never collapse it into an empty result.
	ErrUnavailable = errors.New("store: unavailable")

	// ErrAborted is returned when a conditional update is discarded
	// non-committally by the backend.
	ErrAborted = errors.New("store: conditional update aborted")
)

// Document is one child of a collection.
type Document struct {
	Key   string
	Value []byte
}

// UpdateFn computes the proposed value from the current one. current is nil
// when the path is absent.
type UpdateFn func(current []byte) (interface{}, error)

// CommitResult reports the outcome of a single conditional-update attempt.
// Committed is false when the value changed underneath the attempt; callers
// re-read and retry at their own policy.
type CommitResult struct {
	Committed bool
	Value     []byte
}

// Subscription streams full-collection snapshots: one on registration, then
// one after every change to the collection. Close releases all resources
// held for the subscriber.
type Subscription interface {
	Snapshots() <-chan []Document
	Close()
}

// Store is the abstract document store. Paths are slash separated; the last
// segment addresses a child within its parent collection.
type Store interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Set(ctx context.Context, path string, value interface{}) error

	// Update applies every path write in one atomic call. A nil value
	// deletes the path.
	Update(ctx context.Context, updates map[string]interface{}) error

	ConditionalUpdate(ctx context.Context, path string, fn UpdateFn) (CommitResult, error)

	// Push returns a new unique, time-ordered child key for the collection.
	Push(ctx context.Context, path string) (string, error)

	// List returns the collection's children sorted by key.
	List(ctx context.Context, path string) ([]Document, error)

	Subscribe(ctx context.Context, path string) (Subscription, error)

	// ServerTimestamp returns a placeholder resolved to epoch milliseconds
	// at commit time.
	ServerTimestamp() interface{}
}
