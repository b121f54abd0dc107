package auth

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/gatehouse/internal/core/data"
)

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hashed, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() returned an unexpected error: %v", err)
	}
	return hashed
}

func TestCreateAccount(t *testing.T) {
	type args struct {
		username string
		password string
		email    string
	}
	tests := map[string]struct {
		dbFindFn   func(db *gorm.DB, username string) (*data.Account, error)
		dbCreateFn func(db *gorm.DB, account *data.Account) error
		args       args
		wantedErr  error
	}{
		"database_error": {
			dbFindFn:   func(*gorm.DB, string) (*data.Account, error) { return nil, nil },
			dbCreateFn: func(*gorm.DB, *data.Account) error { return fmt.Errorf("database error") },
			args:       args{username: "test", password: "test", email: "test"},
			wantedErr:  fmt.Errorf("database error"),
		},
		"already_exists": {
			dbFindFn:   func(*gorm.DB, string) (*data.Account, error) { return &data.Account{}, nil },
			dbCreateFn: func(*gorm.DB, *data.Account) error { return nil },
			args:       args{username: "test", password: "test"},
			wantedErr:  ErrAccountExists,
		},
		"empty_username": {
			dbFindFn:   func(*gorm.DB, string) (*data.Account, error) { return nil, nil },
			dbCreateFn: func(*gorm.DB, *data.Account) error { return nil },
			args:       args{username: "   ", password: "test"},
			wantedErr:  ErrEmptyCredentials,
		},
		"happy_path": {
			dbFindFn:   func(*gorm.DB, string) (*data.Account, error) { return nil, nil },
			dbCreateFn: func(*gorm.DB, *data.Account) error { return nil },
			args:       args{username: " test ", password: "test", email: "a@b.c"},
			wantedErr:  nil,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			originalFind, originalCreate := findUnscopedAccount, createAccount
			defer func() {
				findUnscopedAccount, createAccount = originalFind, originalCreate
			}()
			findUnscopedAccount, createAccount = tt.dbFindFn, tt.dbCreateFn

			account, err := CreateAccount(nil, tt.args.username, tt.args.password, tt.args.email)
			if tt.wantedErr != nil {
				if err == nil || err.Error() != tt.wantedErr.Error() {
					t.Fatalf("expected error to = %v, got = %v", tt.wantedErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateAccount() returned an unexpected error: %v", err)
			}

			if account.Username != "test" {
				t.Errorf("expected account username = test, got = %s", account.Username)
			}
			if !passwordMatches(account.Password, tt.args.password) {
				t.Error("expected account password to be the hash of the password")
			}
			if account.Email != tt.args.email {
				t.Errorf("expected account email = %s, got = %s", tt.args.email, account.Email)
			}
		})
	}
}

func TestHashPassword(t *testing.T) {
	password := "password"
	hashed := mustHash(t, password)

	if password == hashed {
		t.Fatalf("expected hashed password not to equal password")
	}
	if !passwordMatches(hashed, password) {
		t.Error("expected hashed password to match the original")
	}
	if passwordMatches(hashed, "Password") {
		t.Error("expected hashed password not to match a different password")
	}
	// Hashes are salted.
	if other := mustHash(t, password); other == hashed {
		t.Error("expected two hashes of the same password to differ")
	}
}

func TestVerifyAccount(t *testing.T) {
	type context struct {
		account *data.Account
		err     error
	}
	type args struct {
		username string
		password string
	}

	hashed := mustHash(t, "test")
	happyPathAccount := &data.Account{Username: "test", Password: hashed}

	tests := map[string]struct {
		context context
		args    args
		wantErr error
	}{
		"database_error": {
			context{account: nil, err: fmt.Errorf("something exploded")},
			args{username: "test", password: "test"},
			ErrUnknown,
		},
		"no_account": {
			context{account: nil, err: nil},
			args{username: "test", password: "test"},
			ErrInvalidCredentials,
		},
		"invalid_password": {
			context{account: &data.Account{Username: "test", Password: hashed}, err: nil},
			args{username: "test", password: "nope"},
			ErrInvalidCredentials,
		},
		"empty_password": {
			context{account: happyPathAccount, err: nil},
			args{username: "test", password: ""},
			ErrInvalidCredentials,
		},
		"banned": {
			context{account: &data.Account{Username: "test", Password: hashed, Banned: true}, err: nil},
			args{username: "test", password: "test"},
			ErrAccountBanned,
		},
		"happy": {
			context{account: happyPathAccount, err: nil},
			args{username: "test", password: "test"},
			nil,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			originalFindAccount := findAccount
			defer func() { findAccount = originalFindAccount }()

			findAccount = func(*gorm.DB, string) (*data.Account, error) {
				return tt.context.account, tt.context.err
			}

			account, err := VerifyAccount(nil, tt.args.username, tt.args.password)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected wantedErr = %v, got = %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && account != tt.context.account {
				t.Errorf("expected VerifyAccount() to return the stored account")
			}
		})
	}
}

func TestDeleteAccount(t *testing.T) {
	tests := map[string]struct {
		account      *data.Account
		dbDeleteFunc func(*gorm.DB, *data.Account) error
		wantedErr    error
	}{
		"not_found": {
			account:      nil,
			dbDeleteFunc: func(*gorm.DB, *data.Account) error { return nil },
			wantedErr:    ErrAccountNotFound,
		},
		"database_error": {
			account:      &data.Account{Username: "test"},
			dbDeleteFunc: func(*gorm.DB, *data.Account) error { return fmt.Errorf("database error") },
			wantedErr:    fmt.Errorf("database error"),
		},
		"happy_path": {
			account:      &data.Account{Username: "test"},
			dbDeleteFunc: func(*gorm.DB, *data.Account) error { return nil },
			wantedErr:    nil,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			originalFind, originalUnscoped := findAccount, findUnscopedAccount
			originalSoft, originalPerm := softDeleteAccount, permanentlyDeleteAccount
			defer func() {
				findAccount, findUnscopedAccount = originalFind, originalUnscoped
				softDeleteAccount, permanentlyDeleteAccount = originalSoft, originalPerm
			}()

			find := func(*gorm.DB, string) (*data.Account, error) { return tt.account, nil }
			findAccount, findUnscopedAccount = find, find
			softDeleteAccount, permanentlyDeleteAccount = tt.dbDeleteFunc, tt.dbDeleteFunc

			for _, fn := range []func(*gorm.DB, string) error{DeleteAccount, PermanentlyDeleteAccount} {
				err := fn(nil, "test")
				if (err == nil) != (tt.wantedErr == nil) || (err != nil && err.Error() != tt.wantedErr.Error()) {
					t.Errorf("expected error to = %v, got = %v", tt.wantedErr, err)
				}
			}
		})
	}
}

func setUpDatabase(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("error initializing test database: %s", err)
	}
	if err := data.Migrate(db); err != nil {
		t.Fatalf("error auto migrating db: %s", err)
	}
	return db
}

func TestVerifier_Authenticate(t *testing.T) {
	db := setUpDatabase(t)
	if _, err := CreateAccount(db, "alice", "s3cret", "alice@example.com"); err != nil {
		t.Fatalf("CreateAccount() returned an unexpected error: %v", err)
	}
	if _, err := CreateAccount(db, "mallory", "s3cret", ""); err != nil {
		t.Fatalf("CreateAccount() returned an unexpected error: %v", err)
	}
	if err := SetBanned(db, "mallory", true); err != nil {
		t.Fatalf("SetBanned() returned an unexpected error: %v", err)
	}

	v := &Verifier{DB: db, Logger: logrus.New()}

	if _, err := v.Authenticate(context.Background(), "alice", "wrong", "10.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected %v for a bad password, got %v", ErrInvalidCredentials, err)
	}
	if _, err := v.Authenticate(context.Background(), "mallory", "s3cret", "10.0.0.1"); !errors.Is(err, ErrAccountBanned) {
		t.Errorf("expected %v for a banned account, got %v", ErrAccountBanned, err)
	}

	before := time.Now()
	account, err := v.Authenticate(context.Background(), "alice", "s3cret", "10.0.0.1")
	if err != nil {
		t.Fatalf("Authenticate() returned an unexpected error: %v", err)
	}

	stored, err := data.FindAccountByUsername(db, account.Username)
	if err != nil || stored == nil {
		t.Fatalf("FindAccountByUsername() = %v, %v", stored, err)
	}
	if stored.LastIP != "10.0.0.1" {
		t.Errorf("expected LastIP = 10.0.0.1, got = %s", stored.LastIP)
	}
	if stored.LastLogin == nil || stored.LastLogin.Before(before.Add(-time.Second)) {
		t.Errorf("expected LastLogin to be updated, got = %v", stored.LastLogin)
	}
}
