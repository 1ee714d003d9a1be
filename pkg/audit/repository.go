// Package audit keeps an append-only log of triage lifecycle events.
package audit

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is one consumed event. EventID is unique, so redelivered events are
// stored once.
type Entry struct {
	EventID    string            `gorm:"primaryKey" json:"event_id"`
	Type       string            `gorm:"index" json:"type"`
	Source     string            `json:"source"`
	PatientID  string            `gorm:"index" json:"patient_id,omitempty"`
	Payload    datatypes.JSONMap `json:"payload"`
	OccurredAt time.Time         `json:"occurred_at"`
	RecordedAt time.Time         `json:"recorded_at"`
}

func (Entry) TableName() string {
	return "triage_audit_log"
}

type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Entry{})
}

// Append stores entry unless an entry with the same event id exists. It
// reports whether a row was written.
func (r *Repository) Append(ctx context.Context, entry Entry) (bool, error) {
	entry.RecordedAt = r.now().UTC()
	if entry.Payload == nil {
		entry.Payload = datatypes.JSONMap{}
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListByPatient returns the newest entries for one patient first.
func (r *Repository) ListByPatient(ctx context.Context, patientID string, limit int) ([]Entry, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 200:
		limit = 200
	}
	var entries []Entry
	err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
