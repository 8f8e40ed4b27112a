package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timestampSentinel marks a field to be stamped with the write-time clock.
type timestampSentinel struct{}

// Timestamp is the placeholder value returned by Store.ServerTimestamp.
var Timestamp = timestampSentinel{}

// marshalValue resolves timestamp placeholders against now and encodes the
// value as JSON.
func marshalValue(value interface{}, now time.Time) ([]byte, error) {
	resolved := resolveTimestamps(value, now.UnixMilli())
	data, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("encoding store value: %w", err)
	}
	return data, nil
}

func resolveTimestamps(value interface{}, millis int64) interface{} {
	switch v := value.(type) {
	case timestampSentinel:
		return millis
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			out[k] = resolveTimestamps(child, millis)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = resolveTimestamps(child, millis)
		}
		return out
	default:
		return v
	}
}

// splitPath separates a path into its parent collection and child key.
func splitPath(path string) (collection, child string, err error) {
	trimmed := strings.Trim(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx <= 0 || idx == len(trimmed)-1 {
		return "", "", fmt.Errorf("store: path %q must name a collection child", path)
	}
	return trimmed[:idx], trimmed[idx+1:], nil
}

// pushKey generates time-ordered unique child keys. UUIDv7 keys sort
// lexicographically by creation time, which gives history entries a stable
// tie-break order.
func pushKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
