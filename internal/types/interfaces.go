// internal/types/interfaces.go
package types

import "context"

// MessageLog is the append-only, per-session ordered record of turns.
// Append assigns the sequence number; two concurrent appends to the same
// session never receive the same value and the log stays gapless.
type MessageLog interface {
	Append(ctx context.Context, msg *Message) (int64, error)
	ReadRange(ctx context.Context, sessionID SessionID, fromSeq, toSeq int64) ([]*Message, error)
	ReadLastN(ctx context.Context, sessionID SessionID, n int) ([]*Message, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
}

// SessionStore is the versioned persistence layer for Session records.
// Update succeeds only when expectedVersion matches the stored record,
// otherwise it returns ErrConflict.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id SessionID) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	Update(ctx context.Context, session *Session, expectedVersion int64) error
}
