package registry

// Status tracks where a patient sits in the visit flow. Transitions between
// active statuses are deliberately permissive: clinics re-mark checked
// patients back to waiting when a correction is needed. The only terminal
// move is archival, which removes the record from the active set entirely.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusCalled  Status = "called"
	StatusChecked Status = "checked"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusCalled, StatusChecked:
		return true
	}
	return false
}

// Prescription is the latest snapshot carried on the record. The full
// trail lives in the history ledger.
type Prescription struct {
	Medicine     string `json:"medicine"`
	Notes        string `json:"notes"`
	PrescribedBy string `json:"prescribedBy"`
	TS           int64  `json:"ts"`
}

// PatientRecord is one active queue entry. Key, TokenNumber, TokenLabel and
// CreatedAt are immutable after creation.
type PatientRecord struct {
	Key          string        `json:"key,omitempty"`
	TokenNumber  int64         `json:"tokenNumber"`
	TokenLabel   string        `json:"tokenLabel"`
	Name         string        `json:"name"`
	Age          int           `json:"age,omitempty"`
	Gender       string        `json:"gender,omitempty"`
	Contact      string        `json:"contact,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Status       Status        `json:"status"`
	Prescription *Prescription `json:"prescription,omitempty"`
	CreatedAt    int64         `json:"createdAt"`
	LastUpdated  int64         `json:"lastUpdated,omitempty"`
}
