// internal/summarizer/trigger.go
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ctxengine "github.com/user/carechat/internal/context"
	"github.com/user/carechat/internal/registry"
	"github.com/user/carechat/internal/types"
	"github.com/user/carechat/pkg/llm"
)

// State describes where a session sits in the summarization lifecycle.
type State string

const (
	// NoSummaryNeeded: the whole history fits in the verbatim window.
	NoSummaryNeeded State = "no_summary_needed"
	// SummaryStale: messages older than the window are not yet covered.
	SummaryStale State = "summary_stale"
	// SummaryFresh: the stored summary covers everything outside the window.
	SummaryFresh State = "summary_fresh"
)

// StateOf derives the summarization state from the session aggregate.
func StateOf(session *types.Session) State {
	boundary := session.MessageCount - ctxengine.WindowSize
	if boundary <= 0 {
		return NoSummaryNeeded
	}
	if session.SummaryThroughSequence < boundary {
		return SummaryStale
	}
	return SummaryFresh
}

// Trigger decides when to invoke the external summarization collaborator
// and merges results back through the registry's monotonic merge. At most
// one attempt is in flight per session; the in-progress marker is a lease
// with a bounded TTL so a crashed attempt cannot lock a session out
// permanently.
type Trigger struct {
	log      types.MessageLog
	registry *registry.Registry
	provider llm.Provider

	mu     sync.Mutex
	leases map[types.SessionID]time.Time

	leaseTTL time.Duration
}

// New creates a Trigger. leaseTTL bounds how long an in-flight attempt
// suppresses new ones.
func New(log types.MessageLog, reg *registry.Registry, provider llm.Provider, leaseTTL time.Duration) *Trigger {
	return &Trigger{
		log:      log,
		registry: reg,
		provider: provider,
		leases:   make(map[types.SessionID]time.Time),
		leaseTTL: leaseTTL,
	}
}

// MaybeSummarize runs one summarization attempt for the session if it is
// stale and no attempt is already in flight. Failures leave the session
// stale; the next triggering turn retries. The conversation never depends
// on this succeeding: the summary is an optimization, not a correctness
// requirement.
func (t *Trigger) MaybeSummarize(ctx context.Context, sessionID types.SessionID) error {
	session, err := t.registry.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if StateOf(session) != SummaryStale {
		return nil
	}

	if !t.acquireLease(sessionID) {
		slog.Debug("summarization already in flight", "session_id", sessionID)
		return nil
	}
	defer t.releaseLease(sessionID)

	// Boundary at call time. The count may advance while the external call
	// runs; the monotonic merge in ApplySummary handles that.
	boundary := session.MessageCount - ctxengine.WindowSize
	fromSeq := session.SummaryThroughSequence + 1

	uncovered, err := t.log.ReadRange(ctx, sessionID, fromSeq, boundary)
	if err != nil {
		return fmt.Errorf("load uncovered messages: %w", err)
	}
	if len(uncovered) == 0 {
		return nil
	}

	turns := make([]llm.Message, 0, len(uncovered))
	for _, msg := range uncovered {
		turns = append(turns, llm.Message{Role: string(msg.Role), Content: msg.Content})
	}

	summary, err := t.provider.Summarize(ctx, session.ContextSummary, turns)
	if err != nil {
		slog.Warn("summarization failed, session stays stale",
			"session_id", sessionID, "from_seq", fromSeq, "boundary", boundary, "error", err)
		return fmt.Errorf("summarize: %w", err)
	}

	if err := t.registry.ApplySummary(ctx, sessionID, summary, boundary); err != nil {
		return fmt.Errorf("apply summary: %w", err)
	}

	slog.Info("summary merged", "session_id", sessionID, "through_seq", boundary)
	return nil
}

// acquireLease marks the session as having an in-flight attempt. Returns
// false if an unexpired lease is already held.
func (t *Trigger) acquireLease(sessionID types.SessionID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if expiry, ok := t.leases[sessionID]; ok && time.Now().Before(expiry) {
		return false
	}
	t.leases[sessionID] = time.Now().Add(t.leaseTTL)
	return true
}

func (t *Trigger) releaseLease(sessionID types.SessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.leases, sessionID)
}

// SweepLeases drops expired lease entries. Called periodically by the
// maintenance scheduler; correctness doesn't depend on it (acquireLease
// checks expiry), it just keeps the map from accumulating dead sessions.
func (t *Trigger) SweepLeases() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	swept := 0
	for id, expiry := range t.leases {
		if now.After(expiry) {
			delete(t.leases, id)
			swept++
		}
	}
	return swept
}
