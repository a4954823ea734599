// internal/registry/registry.go
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/carechat/internal/types"
)

// maxCASRetries bounds the internal retry loop on version conflicts before
// ErrConflict is surfaced to the caller. Conflicts here indicate a real
// concurrent-write race, not a caller error.
const maxCASRetries = 3

// Registry owns all mutations of session aggregate fields (message_count,
// last_intent, topics, primary_language, context_summary). Every mutation
// is a read-modify-CAS cycle against the versioned session store, so
// concurrent turns for the same session never lose updates.
type Registry struct {
	store types.SessionStore
}

// New creates a Registry backed by the given session store.
func New(store types.SessionStore) *Registry {
	return &Registry{store: store}
}

// GetOrCreate returns the session with the given ID, creating it for the
// user if it does not exist yet. Safe under concurrent callers: a create
// race is resolved by re-reading the winner's record.
func (r *Registry) GetOrCreate(ctx context.Context, id types.SessionID, userID types.UserID) (*types.Session, error) {
	sess, err := r.store.Get(ctx, id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	sess = &types.Session{
		ID:        id,
		UserID:    userID,
		Status:    types.StatusActive,
		CreatedAt: time.Now(),
	}
	if err := r.store.Create(ctx, sess); err != nil {
		if errors.Is(err, types.ErrConflict) {
			// Lost the create race; the other writer's record wins.
			return r.store.Get(ctx, id)
		}
		return nil, err
	}
	return sess, nil
}

// Get returns the session with the given ID.
func (r *Registry) Get(ctx context.Context, id types.SessionID) (*types.Session, error) {
	return r.store.Get(ctx, id)
}

// List returns all sessions.
func (r *Registry) List(ctx context.Context) ([]*types.Session, error) {
	return r.store.List(ctx)
}

// RecordTurn folds one appended message into the session aggregate:
// message_count increments, last_intent follows the user's intent label,
// the intent joins the topic set, and primary_language tracks the last
// detected language from the turn metadata. A turn arriving for an
// archived session reactivates it.
func (r *Registry) RecordTurn(ctx context.Context, id types.SessionID, role types.Role, intent string, metadata map[string]string) (*types.Session, error) {
	return r.mutate(ctx, id, func(sess *types.Session) {
		sess.MessageCount++
		if sess.Status == types.StatusArchived {
			sess.Status = types.StatusActive
		}
		if role == types.RoleUser && intent != "" {
			sess.LastIntent = intent
			if !sess.HasTopic(intent) {
				sess.Topics = append(sess.Topics, intent)
			}
		}
		// Last-detected-language wins when the user switches mid-conversation.
		if lang, ok := metadata["language"]; ok && lang != "" {
			sess.PrimaryLanguage = lang
		}
	})
}

// ApplySummary merges a completed summarization result into the session.
// The merge is monotonic on throughSeq: a result covering less than (or the
// same as) what is already stored is a silent no-op, so a slow, stale
// summarization response can never overwrite a newer one. Ordering is by
// sequence, never by wall-clock arrival.
func (r *Registry) ApplySummary(ctx context.Context, id types.SessionID, summary string, throughSeq int64) error {
	_, err := r.mutateIf(ctx, id,
		func(sess *types.Session) bool { return throughSeq > sess.SummaryThroughSequence },
		func(sess *types.Session) {
			sess.ContextSummary = summary
			sess.SummaryThroughSequence = throughSeq
		})
	return err
}

// SetStatus transitions the session to the given status.
func (r *Registry) SetStatus(ctx context.Context, id types.SessionID, status string) error {
	_, err := r.mutate(ctx, id, func(sess *types.Session) {
		sess.Status = status
	})
	return err
}

// Summary returns the consumer-facing read-only projection of the session.
func (r *Registry) Summary(ctx context.Context, id types.SessionID) (*types.SessionSummary, error) {
	sess, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &types.SessionSummary{
		SessionID:       sess.ID,
		MessageCount:    sess.MessageCount,
		PrimaryLanguage: sess.PrimaryLanguage,
		Topics:          sess.Topics,
		LastIntent:      sess.LastIntent,
		ContextSummary:  sess.ContextSummary,
	}, nil
}

// mutate applies fn to a fresh copy of the session and writes it back with
// compare-and-swap, retrying on version conflicts up to maxCASRetries.
func (r *Registry) mutate(ctx context.Context, id types.SessionID, fn func(*types.Session)) (*types.Session, error) {
	return r.mutateIf(ctx, id, nil, fn)
}

// mutateIf is mutate with an optional guard; when the guard returns false
// the stored session is returned unchanged without a write.
func (r *Registry) mutateIf(ctx context.Context, id types.SessionID, guard func(*types.Session) bool, fn func(*types.Session)) (*types.Session, error) {
	var lastErr error
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		sess, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if guard != nil && !guard(sess) {
			return sess, nil
		}

		expected := sess.Version
		fn(sess)
		if err := r.store.Update(ctx, sess, expected); err != nil {
			if errors.Is(err, types.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return sess, nil
	}
	return nil, fmt.Errorf("session %s update contended after %d attempts: %w", id, maxCASRetries, lastErr)
}
