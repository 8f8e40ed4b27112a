// Package history keeps the append-only clinical ledger. Entries are
// immutable copies of prescription payloads; they are never rewritten or
// deleted once stored.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/opdflow/platform/pkg/store"
)

const recordsPath = "records"

// Prescription is the payload captured at write time.
type Prescription struct {
	Medicine     string `json:"medicine"`
	Notes        string `json:"notes"`
	PrescribedBy string `json:"prescribedBy"`
	TS           int64  `json:"ts"`
}

// Entry is one ledger row for a patient.
type Entry struct {
	Key          string       `json:"key"`
	Prescription Prescription `json:"prescription"`
}

// CollectionPath returns the store collection holding a patient's ledger.
func CollectionPath(patientKey string) string {
	return recordsPath + "/" + patientKey
}

// EntryPath returns the store path of one ledger entry.
func EntryPath(patientKey, entryKey string) string {
	return CollectionPath(patientKey) + "/" + entryKey
}

// EntryValue builds the stored entry payload. ts is normally the store's
// server-timestamp placeholder so the entry and the record snapshot it
// mirrors resolve to the same clock value.
func EntryValue(medicine, notes, prescribedBy string, ts interface{}) map[string]interface{} {
	return map[string]interface{}{
		"prescription": map[string]interface{}{
			"medicine":     medicine,
			"notes":        notes,
			"prescribedBy": prescribedBy,
			"ts":           ts,
		},
	}
}

type Log struct {
	store store.Store
}

func NewLog(s store.Store) *Log {
	return &Log{store: s}
}

// NewEntryKey reserves a fresh, never-reused key in the patient's ledger.
func (l *Log) NewEntryKey(ctx context.Context, patientKey string) (string, error) {
	return l.store.Push(ctx, CollectionPath(patientKey))
}

// Append writes a new ledger entry. Every call creates a new entry key, so
// retries can only add rows, never overwrite them.
func (l *Log) Append(ctx context.Context, patientKey, medicine, notes, prescribedBy string) (string, error) {
	entryKey, err := l.NewEntryKey(ctx, patientKey)
	if err != nil {
		return "", fmt.Errorf("reserving history entry key: %w", err)
	}

	value := EntryValue(medicine, notes, prescribedBy, l.store.ServerTimestamp())
	if err := l.store.Set(ctx, EntryPath(patientKey, entryKey), value); err != nil {
		return "", fmt.Errorf("appending history entry: %w", err)
	}
	return entryKey, nil
}

// ListFor returns the patient's ledger ordered by prescription timestamp
// descending, ties broken by entry key descending (latest append first).
// A store outage surfaces as store.ErrUnavailable, never an empty list.
func (l *Log) ListFor(ctx context.Context, patientKey string) ([]Entry, error) {
	docs, err := l.store.List(ctx, CollectionPath(patientKey))
	if err != nil {
		return nil, fmt.Errorf("loading history for %s: %w", patientKey, err)
	}

	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		var entry Entry
		if err := json.Unmarshal(doc.Value, &entry); err != nil {
			return nil, fmt.Errorf("decoding history entry %s: %w", doc.Key, err)
		}
		entry.Key = doc.Key
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Prescription.TS != entries[j].Prescription.TS {
			return entries[i].Prescription.TS > entries[j].Prescription.TS
		}
		return entries[i].Key > entries[j].Key
	})
	return entries, nil
}
