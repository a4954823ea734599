// internal/state/session.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/carechat/internal/types"
)

// SessionStore is a JSON-file-backed versioned session store.
// It stores session records in sessions/sessions.json and creates
// per-session directories at sessions/<sessionID>/ for the message log.
//
// Every record carries a revision counter; Update is a compare-and-swap
// keyed on it, so concurrent writers detect each other instead of losing
// updates.
type SessionStore struct {
	root string
	mu   sync.RWMutex
}

// NewSessionStore creates a file-backed SessionStore rooted at the given directory.
func NewSessionStore(root string) *SessionStore {
	return &SessionStore{root: root}
}

func (s *SessionStore) indexPath() string {
	return filepath.Join(s.root, "sessions", "sessions.json")
}

func (s *SessionStore) sessionsDir() string {
	return filepath.Join(s.root, "sessions")
}

func (s *SessionStore) sessionDir(id types.SessionID) string {
	return filepath.Join(s.root, "sessions", string(id))
}

// loadIndex reads sessions.json and returns a map keyed by SessionID.
func (s *SessionStore) loadIndex() (map[types.SessionID]*types.Session, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.SessionID]*types.Session), nil
		}
		return nil, fmt.Errorf("read session index: %w", err)
	}

	var sessions []*types.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("unmarshal session index: %w", err)
	}

	index := make(map[types.SessionID]*types.Session, len(sessions))
	for _, sess := range sessions {
		index[sess.ID] = sess
	}
	return index, nil
}

// saveIndex converts the map to a slice, marshals with indentation, and writes atomically.
func (s *SessionStore) saveIndex(index map[types.SessionID]*types.Session) error {
	sessions := make([]*types.Session, 0, len(index))
	for _, sess := range index {
		sessions = append(sessions, sess)
	}

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}

	dir := s.sessionsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp index: %w", err)
	}
	return nil
}

// Create persists a new session record at version 1 and creates its log
// directory. Fails with ErrConflict if the ID is already taken.
func (s *SessionStore) Create(_ context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	if _, ok := index[session.ID]; ok {
		return fmt.Errorf("session %s exists: %w", session.ID, types.ErrConflict)
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.Version = 1
	index[session.ID] = session

	if err := s.saveIndex(index); err != nil {
		return err
	}

	if err := os.MkdirAll(s.sessionDir(session.ID), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return nil
}

// Get returns a copy of the session with the given ID.
func (s *SessionStore) Get(_ context.Context, id types.SessionID) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	sess, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	return sess.Clone(), nil
}

// List returns all sessions.
func (s *SessionStore) List(_ context.Context) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	sessions := make([]*types.Session, 0, len(index))
	for _, sess := range index {
		sessions = append(sessions, sess.Clone())
	}
	return sessions, nil
}

// Update persists the session if the stored record is still at
// expectedVersion, bumping the version and UpdatedAt. A version mismatch
// means another writer got there first; the caller gets ErrConflict and
// must re-read and retry.
func (s *SessionStore) Update(_ context.Context, session *types.Session, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	stored, ok := index[session.ID]
	if !ok {
		return fmt.Errorf("session %s: %w", session.ID, types.ErrNotFound)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("session %s at version %d, expected %d: %w",
			session.ID, stored.Version, expectedVersion, types.ErrConflict)
	}

	session.Version = expectedVersion + 1
	session.UpdatedAt = time.Now()
	index[session.ID] = session.Clone()

	return s.saveIndex(index)
}
