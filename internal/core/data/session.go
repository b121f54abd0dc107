package data

import (
	"time"

	"gorm.io/gorm"
)

// Values stored in SessionRecord.Status.
const (
	SessionActive   = "active"
	SessionInactive = "inactive"
)

// SessionRecord is the persisted mirror of a live client session. Records
// outlive their connections; a closed session is marked inactive rather
// than deleted.
type SessionRecord struct {
	ID            uint64 `gorm:"primaryKey"`
	AccountID     uint64 `gorm:"index"`
	GameID        uint
	Status        string `gorm:"index; not null"`
	ClientAddress string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (SessionRecord) TableName() string { return "sessions" }

// CreateSessionRecord persists record, assigning its ID.
func CreateSessionRecord(db *gorm.DB, record *SessionRecord) error {
	return db.Create(record).Error
}

// FindSessionRecord returns the record with the given ID or nil if there is
// no such record.
func FindSessionRecord(db *gorm.DB, id uint64) (*SessionRecord, error) {
	return first[SessionRecord](db, id)
}

// FindSessionRecordsByStatus returns every record with the given status,
// oldest first.
func FindSessionRecordsByStatus(db *gorm.DB, status string) ([]SessionRecord, error) {
	var records []SessionRecord
	err := db.Where("status = ?", status).Order("id").Find(&records).Error
	return records, err
}

// UpdateSessionStatus changes the status of record.
func UpdateSessionStatus(db *gorm.DB, record *SessionRecord, status string) error {
	record.Status = status
	return db.Model(record).Update("status", status).Error
}

// AssignSessionAccount links record to the account that logged in over it.
func AssignSessionAccount(db *gorm.DB, record *SessionRecord, accountID uint64) error {
	record.AccountID = accountID
	return db.Model(record).Update("account_id", accountID).Error
}

// DeactivateStaleSessions marks every record still flagged active as
// inactive and returns how many were changed. Intended to run at startup,
// before any connection is accepted, to clean up after an unclean shutdown.
func DeactivateStaleSessions(db *gorm.DB) (int64, error) {
	result := db.Model(&SessionRecord{}).
		Where("status = ?", SessionActive).
		Update("status", SessionInactive)
	return result.RowsAffected, result.Error
}
