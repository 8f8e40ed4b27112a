package models

import "time"

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // patient.created, patient.status_changed, prescription.saved, patient.archived
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Queue event types published on every successful registry mutation.
const (
	EventPatientCreated    = "patient.created"
	EventStatusChanged     = "patient.status_changed"
	EventPrescriptionSaved = "prescription.saved"
	EventPatientArchived   = "patient.archived"
)
