package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/opdflow/platform/pkg/store"
)

// PatientsPath is the store collection holding the active set.
const PatientsPath = "patients"

var ErrNotFound = errors.New("registry: patient not found")

// Repository reads and writes patient records under patients/<key>.
// Writes are whole-record: concurrent field updates resolve last-writer-wins
// with no merge.
type Repository struct {
	store store.Store
}

func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

func recordPath(key string) string {
	return PatientsPath + "/" + key
}

func (r *Repository) NewKey(ctx context.Context) (string, error) {
	return r.store.Push(ctx, PatientsPath)
}

func (r *Repository) Get(ctx context.Context, key string) (*PatientRecord, error) {
	data, err := r.store.Get(ctx, recordPath(key))
	if errors.Is(err, store.ErrAbsent) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading patient %s: %w", key, err)
	}

	var rec PatientRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding patient %s: %w", key, err)
	}
	rec.Key = key
	return &rec, nil
}

// GetMap returns the raw record document for read-modify-write mutations.
func (r *Repository) GetMap(ctx context.Context, key string) (map[string]interface{}, error) {
	data, err := r.store.Get(ctx, recordPath(key))
	if errors.Is(err, store.ErrAbsent) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading patient %s: %w", key, err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding patient %s: %w", key, err)
	}
	return doc, nil
}

func (r *Repository) Put(ctx context.Context, key string, doc map[string]interface{}) error {
	return r.store.Set(ctx, recordPath(key), doc)
}

func (r *Repository) Delete(ctx context.Context, key string) error {
	return r.store.Update(ctx, map[string]interface{}{recordPath(key): nil})
}

// List returns the active set ascending by token number.
func (r *Repository) List(ctx context.Context) ([]PatientRecord, error) {
	docs, err := r.store.List(ctx, PatientsPath)
	if err != nil {
		return nil, fmt.Errorf("listing patients: %w", err)
	}
	return DecodeRecords(docs)
}

// DecodeRecords turns a collection snapshot into records sorted ascending
// by token number.
func DecodeRecords(docs []store.Document) ([]PatientRecord, error) {
	records := make([]PatientRecord, 0, len(docs))
	for _, doc := range docs {
		var rec PatientRecord
		if err := json.Unmarshal(doc.Value, &rec); err != nil {
			return nil, fmt.Errorf("decoding patient %s: %w", doc.Key, err)
		}
		rec.Key = doc.Key
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].TokenNumber < records[j].TokenNumber
	})
	return records, nil
}
