// Package tokens issues the sequential visit tokens that order the queue.
// Allocation is an optimistic compare-and-retry loop over the store's
// conditional-write primitive; no lock service is involved, so any number
// of stations can allocate concurrently.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opdflow/platform/pkg/common/config"
	"github.com/opdflow/platform/pkg/observability/metrics"
	"github.com/opdflow/platform/pkg/store"
)

const counterPath = "meta/lastToken"

// ErrAllocationAborted means the conditional write was discarded
// non-committally by the store. The caller must not create a patient
// record for this attempt.
var ErrAllocationAborted = errors.New("tokens: allocation aborted")

type Allocator struct {
	store    store.Store
	prefix   string
	padWidth int
}

func NewAllocator(s store.Store, settings config.QueueSettings) *Allocator {
	prefix := settings.TokenPrefix
	if prefix == "" {
		prefix = "T-"
	}
	width := settings.TokenPadWidth
	if width <= 0 {
		width = 3
	}
	return &Allocator{store: s, prefix: prefix, padWidth: width}
}

// Allocate returns the next token number. Retries on contention are
// unbounded; deployments bound the loop through ctx.
func (a *Allocator) Allocate(ctx context.Context) (int64, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		result, err := a.store.ConditionalUpdate(ctx, counterPath, nextToken)
		if errors.Is(err, store.ErrAborted) {
			return 0, fmt.Errorf("%w: %v", ErrAllocationAborted, err)
		}
		if err != nil {
			return 0, err
		}
		if !result.Committed {
			metrics.AllocationConflicts.Inc()
			continue
		}

		var token int64
		if err := json.Unmarshal(result.Value, &token); err != nil {
			return 0, fmt.Errorf("decoding committed token: %w", err)
		}
		metrics.TokensAllocated.Inc()
		return token, nil
	}
}

// nextToken treats an absent counter as zero and increments by exactly one.
func nextToken(current []byte) (interface{}, error) {
	var last int64
	if len(current) > 0 {
		if err := json.Unmarshal(current, &last); err != nil {
			return nil, fmt.Errorf("decoding token counter: %w", err)
		}
	}
	return last + 1, nil
}

// FormatLabel renders the display label for a token number, zero padded to
// the configured minimum width. Wider numbers are never truncated.
func (a *Allocator) FormatLabel(token int64) string {
	return fmt.Sprintf("%s%0*d", a.prefix, a.padWidth, token)
}
