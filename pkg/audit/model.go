package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Entry is one row of the operational audit trail, built from a queue
// event. EventID carries the producer's id so redelivered events collapse
// into a single row.
type Entry struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	EventID    string            `gorm:"size:64;uniqueIndex" json:"event_id"`
	EventType  string            `gorm:"size:64;index" json:"event_type"`
	PatientKey string            `gorm:"size:64;index" json:"patient_key"`
	Actor      string            `gorm:"size:128" json:"actor,omitempty"`
	Payload    datatypes.JSONMap `json:"payload,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (Entry) TableName() string { return "audit_entries" }
