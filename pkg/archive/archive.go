// Package archive is the terminal destination for patient records removed
// from the active queue. It is decoupled from the live store: archived
// copies are durable rows, written idempotently so a crashed archival can
// simply be re-run.
package archive

import (
	"context"
	"time"

	"gorm.io/datatypes"
)

type ArchivedPatient struct {
	Key         string            `gorm:"primaryKey;size:64" json:"key"`
	TokenNumber int64             `gorm:"index" json:"tokenNumber"`
	Payload     datatypes.JSONMap `json:"payload"`
	ArchivedAt  time.Time         `json:"archivedAt"`
}

func (ArchivedPatient) TableName() string { return "archived_patients" }

// Store persists archived copies. Save keeps the first copy when the same
// key is archived twice.
type Store interface {
	Save(ctx context.Context, patient ArchivedPatient) error
	Get(ctx context.Context, key string) (*ArchivedPatient, error)
	Count(ctx context.Context) (int64, error)
}
