package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/carechat/internal/registry"
	"github.com/user/carechat/internal/types"
)

// Gateway orchestrates inbound user turns. It resolves (or creates)
// sessions, wraps each turn in a Turn record, and enqueues it for
// processing on the session's lane.
type Gateway struct {
	registry *registry.Registry
	Queue    *Queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Gateway wired to the session registry with the given
// concurrency limit for simultaneous turn processing.
func New(reg *registry.Registry, maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	return &Gateway{
		registry: reg,
		Queue:    NewQueue(concurrency),
	}
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for any
// outstanding work to finish.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
	g.wg.Wait()
}

// TurnOption configures optional behavior on a Turn.
type TurnOption func(*Turn)

// WithOnComplete sets a callback invoked when the turn produces a final
// response or fails.
func WithOnComplete(fn func(reply string, err error)) TurnOption {
	return func(t *Turn) { t.OnComplete = fn }
}

// HandleInbound resolves or creates the session for the turn, wraps it in a
// Turn, and enqueues it for processing. A missing session ID gets a fresh
// one, returned through the Turn's SessionID.
func (g *Gateway) HandleInbound(ctx context.Context, inbound *types.InboundTurn, opts ...TurnOption) (*Turn, error) {
	if inbound.SessionID == "" {
		inbound.SessionID = types.NewSessionID()
	}
	if _, err := g.registry.GetOrCreate(ctx, inbound.SessionID, inbound.UserID); err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	turn := NewTurn(inbound.SessionID, inbound)
	for _, opt := range opts {
		opt(turn)
	}
	if err := g.Queue.Enqueue(turn); err != nil {
		return nil, err
	}
	return turn, nil
}
