package archive

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("archive: patient not found")

type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) AutoMigrate() error {
	return s.db.AutoMigrate(&ArchivedPatient{})
}

func (s *PostgresStore) Save(ctx context.Context, patient ArchivedPatient) error {
	// First archived copy wins; re-running an interrupted archival must not
	// produce a second row or move the archivedAt stamp.
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&patient).Error
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*ArchivedPatient, error) {
	var patient ArchivedPatient
	result := s.db.WithContext(ctx).First(&patient, "key = ?", key)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &patient, result.Error
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ArchivedPatient{}).Count(&count).Error
	return count, err
}
