package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/gatehouse/internal/core/data"
)

var ErrPersistenceUnavailable = errors.New("session persistence unavailable")

// Handle identifies a connection. Sessions are keyed by the handle itself,
// never by anything the client sends, so implementations must be comparable
// (in practice, a pointer).
type Handle interface {
	IPAddr() string
}

// Store is the registry of live sessions. It is the only state shared
// between connection goroutines.
type Store struct {
	recorder Recorder
	logger   *logrus.Logger
	gameID   uint

	mu       sync.RWMutex
	sessions map[Handle]*Session
	lastID   atomic.Uint64
}

// NewStore creates an empty Store. Records are created with gameID; a nil
// recorder disables persistence entirely.
func NewStore(recorder Recorder, logger *logrus.Logger, gameID uint) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		recorder: recorder,
		logger:   logger,
		gameID:   gameID,
		sessions: make(map[Handle]*Session),
	}
}

// Resolve returns the session for h, creating it if this is the first time
// h has been seen. A new session's persisted record is created before the
// session becomes visible to other callers. A persistence failure is logged
// and the session is still created, with a RecordID of 0.
func (s *Store) Resolve(ctx context.Context, h Handle) *Session {
	if sess := s.Get(h); sess != nil {
		return sess
	}

	sess := newSession(s.lastID.Add(1), h.IPAddr())
	record := &data.SessionRecord{
		GameID:        s.gameID,
		Status:        data.SessionActive,
		ClientAddress: sess.clientAddress,
	}
	if s.recorder != nil {
		if err := s.recorder.CreateRecord(ctx, record); err != nil {
			s.sessionLogger(sess).Errorf("%v: error creating session record: %v", ErrPersistenceUnavailable, err)
		} else {
			sess.setRecordID(record.ID)
		}
	}

	s.mu.Lock()
	if existing, ok := s.sessions[h]; ok {
		s.mu.Unlock()
		// Another caller resolved the same handle first; retire our record.
		s.deactivate(ctx, sess)
		return existing
	}
	s.sessions[h] = sess
	s.mu.Unlock()

	s.sessionLogger(sess).WithField("record_id", sess.RecordID()).Info("session created")
	return sess
}

// Get returns the session for h or nil if there isn't one.
func (s *Store) Get(h Handle) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[h]
}

// Remove discards the session for h and marks its record inactive. The
// in-memory entry is always removed even if the record can't be updated.
// Returns false if h had no session.
func (s *Store) Remove(ctx context.Context, h Handle) bool {
	s.mu.Lock()
	sess, ok := s.sessions[h]
	delete(s.sessions, h)
	s.mu.Unlock()

	if !ok {
		return false
	}

	s.deactivate(ctx, sess)
	s.sessionLogger(sess).Info("session removed")
	return true
}

func (s *Store) deactivate(ctx context.Context, sess *Session) {
	if s.recorder == nil {
		return
	}
	log := s.sessionLogger(sess)

	recordID := sess.RecordID()
	if recordID == 0 {
		log.Error("session has no persisted record to deactivate")
		return
	}

	record, err := s.recorder.FindRecord(ctx, recordID)
	if err != nil {
		log.Errorf("%v: error looking up session record %d: %v", ErrPersistenceUnavailable, recordID, err)
		return
	} else if record == nil {
		log.Errorf("session record %d not found", recordID)
		return
	}

	if err := s.recorder.UpdateStatus(ctx, record, data.SessionInactive); err != nil {
		log.Errorf("%v: error deactivating session record %d: %v", ErrPersistenceUnavailable, recordID, err)
	}
}

// AttachAccount marks sess as logged in to the account and links the
// account to the session's record. The session is logged in even if the
// record can't be updated, in which case the returned error wraps
// ErrPersistenceUnavailable.
func (s *Store) AttachAccount(ctx context.Context, sess *Session, accountID uint64, username string) error {
	sess.markLoggedIn(accountID, username)

	if s.recorder == nil {
		return nil
	}
	recordID := sess.RecordID()
	if recordID == 0 {
		return fmt.Errorf("%w: session %d has no record", ErrPersistenceUnavailable, sess.ID())
	}

	record, err := s.recorder.FindRecord(ctx, recordID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	} else if record == nil {
		return fmt.Errorf("%w: session record %d not found", ErrPersistenceUnavailable, recordID)
	}
	if err := s.recorder.AssignAccount(ctx, record, accountID); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Snapshot returns a copy of every live session ordered by session id.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	records := make([]Record, 0, len(s.sessions))
	for _, sess := range s.sessions {
		records = append(records, sess.Snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].SessionID < records[j].SessionID })
	return records
}

func (s *Store) sessionLogger(sess *Session) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"session_id": sess.ID(),
		"client":     sess.ClientAddress(),
	})
}
