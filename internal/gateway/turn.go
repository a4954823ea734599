package gateway

import (
	"context"
	"time"

	"github.com/user/carechat/internal/types"
)

// TurnStatus represents the lifecycle state of a Turn.
type TurnStatus string

const (
	TurnStatusQueued   TurnStatus = "queued"
	TurnStatusRunning  TurnStatus = "running"
	TurnStatusComplete TurnStatus = "complete"
	TurnStatusFailed   TurnStatus = "failed"
)

// Turn tracks a single processing attempt of an inbound user turn against
// a session.
type Turn struct {
	ID         types.TurnID
	SessionID  types.SessionID
	Inbound    *types.InboundTurn
	Status     TurnStatus
	Attempts   int
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	Ctx        context.Context
	Error      error
	OnComplete func(reply string, err error)
}

// NewTurn creates a Turn in the Queued state for the given session and
// inbound payload.
func NewTurn(sessionID types.SessionID, inbound *types.InboundTurn) *Turn {
	return &Turn{
		ID:        types.NewTurnID(),
		SessionID: sessionID,
		Inbound:   inbound,
		Status:    TurnStatusQueued,
		Attempts:  0,
		CreatedAt: time.Now(),
	}
}
