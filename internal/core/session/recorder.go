package session

import (
	"context"

	"gorm.io/gorm"

	"github.com/dcrodman/gatehouse/internal/core/data"
)

// Recorder persists session records.
type Recorder interface {
	CreateRecord(ctx context.Context, record *data.SessionRecord) error
	// FindRecord returns nil, nil if the record doesn't exist.
	FindRecord(ctx context.Context, id uint64) (*data.SessionRecord, error)
	UpdateStatus(ctx context.Context, record *data.SessionRecord, status string) error
	AssignAccount(ctx context.Context, record *data.SessionRecord, accountID uint64) error
}

// DatabaseRecorder is a Recorder backed by the sessions table.
type DatabaseRecorder struct {
	DB *gorm.DB
}

func (r *DatabaseRecorder) CreateRecord(ctx context.Context, record *data.SessionRecord) error {
	return data.CreateSessionRecord(r.DB.WithContext(ctx), record)
}

func (r *DatabaseRecorder) FindRecord(ctx context.Context, id uint64) (*data.SessionRecord, error) {
	return data.FindSessionRecord(r.DB.WithContext(ctx), id)
}

func (r *DatabaseRecorder) UpdateStatus(ctx context.Context, record *data.SessionRecord, status string) error {
	return data.UpdateSessionStatus(r.DB.WithContext(ctx), record, status)
}

func (r *DatabaseRecorder) AssignAccount(ctx context.Context, record *data.SessionRecord, accountID uint64) error {
	return data.AssignSessionAccount(r.DB.WithContext(ctx), record, accountID)
}
