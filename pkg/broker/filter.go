package broker

import (
	"strconv"
	"strings"

	"github.com/opdflow/platform/pkg/registry"
)

// StatusAll matches every active status.
const StatusAll = "all"

// Filter is a viewer-supplied predicate. Status narrows by queue state;
// Query is matched case-insensitively against name, token label, and the
// bare token number, so "t-002" and "2" both find token 2.
type Filter struct {
	Status string `json:"status"`
	Query  string `json:"query"`
}

func (f Filter) Matches(rec registry.PatientRecord) bool {
	if f.Status != "" && f.Status != StatusAll && f.Status != string(rec.Status) {
		return false
	}

	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}

	return strings.Contains(strings.ToLower(rec.Name), q) ||
		strings.Contains(strings.ToLower(rec.TokenLabel), q) ||
		strings.Contains(strconv.FormatInt(rec.TokenNumber, 10), q)
}

// Apply filters a token-ordered candidate list, preserving order.
func (f Filter) Apply(records []registry.PatientRecord) []registry.PatientRecord {
	matched := make([]registry.PatientRecord, 0, len(records))
	for _, rec := range records {
		if f.Matches(rec) {
			matched = append(matched, rec)
		}
	}
	return matched
}
