// Package session tracks the server-side state of every live connection and
// mirrors each session's lifecycle into a persisted record.
package session

import (
	"sync"
	"time"
)

// KeySize is the length of a session's symmetric key.
const KeySize = 32

// Session is the per-connection state. Fields are only reachable through
// methods so that the connection goroutine and observers such as debug
// endpoints never race.
type Session struct {
	id            uint64
	clientAddress string
	createdAt     time.Time

	mu                 sync.RWMutex
	loggedIn           bool
	handshakeCompleted bool
	encryptionKey      [KeySize]byte
	recordID           uint64
	accountID          uint64
	username           string
}

func newSession(id uint64, clientAddress string) *Session {
	return &Session{id: id, clientAddress: clientAddress, createdAt: time.Now()}
}

func (s *Session) ID() uint64            { return s.id }
func (s *Session) ClientAddress() string { return s.clientAddress }
func (s *Session) CreatedAt() time.Time  { return s.createdAt }

func (s *Session) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

func (s *Session) HandshakeCompleted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handshakeCompleted
}

// EncryptionKey returns a copy of the session key. It is all zeroes until a
// handshake completes.
func (s *Session) EncryptionKey() [KeySize]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encryptionKey
}

// CompleteHandshake installs key and marks the handshake done. It returns
// false, leaving the existing key in place, if a handshake already completed.
func (s *Session) CompleteHandshake(key [KeySize]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handshakeCompleted {
		return false
	}
	s.encryptionKey = key
	s.handshakeCompleted = true
	return true
}

// RecordID is the id of the persisted record, or 0 if none could be created.
func (s *Session) RecordID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordID
}

func (s *Session) AccountID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountID
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) markLoggedIn(accountID uint64, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = true
	s.accountID = accountID
	s.username = username
}

func (s *Session) setRecordID(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordID = id
}

// Snapshot returns a point-in-time copy of the session's state.
func (s *Session) Snapshot() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Record{
		SessionID:          s.id,
		RecordID:           s.recordID,
		AccountID:          s.accountID,
		Username:           s.username,
		ClientAddress:      s.clientAddress,
		LoggedIn:           s.loggedIn,
		HandshakeCompleted: s.handshakeCompleted,
		CreatedAt:          s.createdAt,
	}
}

// Record is a copy of a Session's state, safe to hand to other goroutines.
// It never carries the encryption key.
type Record struct {
	SessionID          uint64    `json:"session_id"`
	RecordID           uint64    `json:"record_id"`
	AccountID          uint64    `json:"account_id,omitempty"`
	Username           string    `json:"username,omitempty"`
	ClientAddress      string    `json:"client_address"`
	LoggedIn           bool      `json:"logged_in"`
	HandshakeCompleted bool      `json:"handshake_completed"`
	CreatedAt          time.Time `json:"created_at"`
}
