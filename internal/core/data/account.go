package data

import (
	"time"

	"gorm.io/gorm"
)

// Account contains the login information specific to each registered user.
type Account struct {
	ID               uint64 `gorm:"primaryKey"`
	Username         string `gorm:"unique; not null"`
	Password         string `gorm:"not null"`
	Email            string
	RegistrationDate time.Time
	LastLogin        *time.Time
	LastIP           string
	Banned           bool `gorm:"default:false"`
	DeletedAt        gorm.DeletedAt
}

// FindAccountByUsername returns the account registered as username, or nil
// if there is none. Soft deleted accounts are not matched.
func FindAccountByUsername(db *gorm.DB, username string) (*Account, error) {
	return first[Account](db.Where("username = ?", username))
}

// FindUnscopedAccount is FindAccountByUsername including soft deleted
// accounts, so that a deleted username can't be registered again.
func FindUnscopedAccount(db *gorm.DB, username string) (*Account, error) {
	return first[Account](db.Unscoped().Where("username = ?", username))
}

// CreateAccount persists the Account record to the database.
func CreateAccount(db *gorm.DB, account *Account) error {
	if account.RegistrationDate.IsZero() {
		account.RegistrationDate = time.Now()
	}
	return db.Create(account).Error
}

// UpdateAccount saves every field of account.
func UpdateAccount(db *gorm.DB, account *Account) error {
	return db.Save(account).Error
}

// RecordLogin stamps the time and address of a successful login on the account.
func RecordLogin(db *gorm.DB, account *Account, ipAddr string, at time.Time) error {
	account.LastLogin = &at
	account.LastIP = ipAddr
	return db.Model(account).Updates(map[string]interface{}{
		"last_login": at,
		"last_ip":    ipAddr,
	}).Error
}

// DeleteAccount soft-deletes an Account record from the database.
func DeleteAccount(db *gorm.DB, account *Account) error {
	return db.Delete(account).Error
}

// PermanentlyDeleteAccount permanently deletes an Account record from the database.
func PermanentlyDeleteAccount(db *gorm.DB, account *Account) error {
	return db.Unscoped().Delete(account).Error
}
