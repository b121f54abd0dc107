// Package auth verifies account credentials and manages account records.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/dcrodman/gatehouse/internal/core/data"
)

var (
	ErrUnknown            = errors.New("an unexpected error occurred, please contact the server administrator")
	ErrInvalidCredentials = errors.New("username/password combination not found")
	ErrAccountBanned      = errors.New("this account has been suspended")
	ErrAccountExists      = errors.New("an account with that username already exists")
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmptyCredentials   = errors.New("username and password are required")
)

// Indirection for the data layer so that tests can stub out the database.
var (
	findAccount              = data.FindAccountByUsername
	findUnscopedAccount      = data.FindUnscopedAccount
	createAccount            = data.CreateAccount
	updateAccount            = data.UpdateAccount
	recordLogin              = data.RecordLogin
	softDeleteAccount        = data.DeleteAccount
	permanentlyDeleteAccount = data.PermanentlyDeleteAccount
)

// normalizeUsername strips the whitespace clients tend to leave around the
// username field.
func normalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// VerifyAccount checks the Accounts table for the specified credentials
// combination and validates that the account is accessible.
func VerifyAccount(db *gorm.DB, username, password string) (*data.Account, error) {
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := findAccount(db, username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknown, err)
	}

	if account == nil || !passwordMatches(account.Password, password) {
		return nil, ErrInvalidCredentials
	} else if account.Banned {
		return nil, ErrAccountBanned
	}

	return account, nil
}

// CreateAccount takes the specified credentials and creates a new record in
// the database, returning either the result or any errors encountered.
func CreateAccount(db *gorm.DB, username, password, email string) (*data.Account, error) {
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return nil, ErrEmptyCredentials
	}

	existing, err := findUnscopedAccount(db, username)
	if err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrAccountExists
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	account := &data.Account{
		Username:         username,
		Password:         hashed,
		Email:            email,
		RegistrationDate: time.Now(),
	}

	if err := createAccount(db, account); err != nil {
		return nil, err
	}

	return account, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}
	return string(hashed), nil
}

func passwordMatches(hashed, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}

// SetBanned bans or unbans the account with the given username.
func SetBanned(db *gorm.DB, username string, banned bool) error {
	account, err := findAccount(db, normalizeUsername(username))
	if err != nil {
		return err
	} else if account == nil {
		return ErrAccountNotFound
	}

	account.Banned = banned
	return updateAccount(db, account)
}

// DeleteAccount soft-deletes the account, which can no longer log in but
// keeps its username reserved.
func DeleteAccount(db *gorm.DB, username string) error {
	account, err := findAccount(db, normalizeUsername(username))
	if err != nil {
		return err
	} else if account == nil {
		return ErrAccountNotFound
	}
	return softDeleteAccount(db, account)
}

// PermanentlyDeleteAccount removes the account record entirely, including
// accounts that were previously soft-deleted.
func PermanentlyDeleteAccount(db *gorm.DB, username string) error {
	account, err := findUnscopedAccount(db, normalizeUsername(username))
	if err != nil {
		return err
	} else if account == nil {
		return ErrAccountNotFound
	}
	return permanentlyDeleteAccount(db, account)
}

// Verifier authenticates login attempts against the account database.
type Verifier struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

// Authenticate checks the credentials and, on success, stamps the login
// time and address on the account.
func (v *Verifier) Authenticate(ctx context.Context, username, password, ipAddr string) (*data.Account, error) {
	db := v.DB.WithContext(ctx)

	account, err := VerifyAccount(db, username, password)
	if err != nil {
		return nil, err
	}

	if err := recordLogin(db, account, ipAddr, time.Now()); err != nil {
		// The login stands even if the stamp can't be written.
		v.Logger.Warnf("error recording login for %s: %v", account.Username, err)
	}
	return account, nil
}
