package audit

import (
	"context"

	"github.com/opdflow/platform/pkg/common/logger"
	"github.com/opdflow/platform/pkg/common/models"
)

// Worker turns queue events into audit rows.
type Worker struct {
	repo *Repository
}

func NewWorker(repo *Repository) *Worker {
	return &Worker{repo: repo}
}

// Handle is the kafka consumer callback. Returning an error leaves the
// message uncommitted for redelivery; Record's duplicate handling keeps
// redelivery idempotent.
func (w *Worker) Handle(ctx context.Context, event models.Event) error {
	entry := Entry{
		EventID:    event.ID,
		EventType:  event.Type,
		PatientKey: stringField(event.Data, "patientKey"),
		Actor:      stringField(event.Data, "actor"),
		Payload:    event.Data,
		OccurredAt: event.Timestamp,
	}

	if err := w.repo.Record(ctx, entry); err != nil {
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"event_id":    event.ID,
		"event_type":  event.Type,
		"patient_key": entry.PatientKey,
	}).Debug("audit entry recorded")
	return nil
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
