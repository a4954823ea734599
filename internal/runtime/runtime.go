package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ctxengine "github.com/user/carechat/internal/context"
	"github.com/user/carechat/internal/gateway"
	"github.com/user/carechat/internal/registry"
	"github.com/user/carechat/internal/summarizer"
	"github.com/user/carechat/internal/types"
	"github.com/user/carechat/pkg/llm"
)

// Runtime implements the turn pipeline: persist the user turn, assemble
// context, invoke the model, persist the assistant turn, and kick off
// summarization in the background.
type Runtime struct {
	provider  llm.Provider
	assembler *ctxengine.Assembler
	log       types.MessageLog
	registry  *registry.Registry
	trigger   *summarizer.Trigger
	retry     *gateway.RetryPolicy

	summarizeTimeout time.Duration
}

// New creates a Runtime with the given dependencies.
func New(
	provider llm.Provider,
	assembler *ctxengine.Assembler,
	log types.MessageLog,
	reg *registry.Registry,
	trigger *summarizer.Trigger,
	summarizeTimeout time.Duration,
) *Runtime {
	return &Runtime{
		provider:         provider,
		assembler:        assembler,
		log:              log,
		registry:         reg,
		trigger:          trigger,
		retry:            gateway.DefaultRetryPolicy(),
		summarizeTimeout: summarizeTimeout,
	}
}

// ProcessTurn executes the pipeline for a single inbound turn.
// This is the function passed to Queue.SetProcessor.
//
// The user message is persisted before the model call and is never rolled
// back: if the caller disconnects mid-request, only the pending assistant
// turn is abandoned. At most one assistant message is appended per attempt.
func (rt *Runtime) ProcessTurn(turn *gateway.Turn) error {
	ctx := turn.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	inbound := turn.Inbound
	if strings.TrimSpace(inbound.Text) == "" {
		return fmt.Errorf("empty turn text: %w", types.ErrInvalidRequest)
	}

	// 1. Persist the user turn.
	userMsg := &types.Message{
		ID:        types.NewMessageID(),
		SessionID: turn.SessionID,
		UserID:    inbound.UserID,
		Role:      types.RoleUser,
		Content:   inbound.Text,
		CreatedAt: time.Now(),
		Intent:    inbound.Intent,
		Metadata:  inbound.Metadata,
	}
	userSeq, err := rt.log.Append(ctx, userMsg)
	if err != nil {
		return fmt.Errorf("record user message: %w", err)
	}

	// 2. Fold it into the session aggregate.
	if _, err := rt.registry.RecordTurn(ctx, turn.SessionID, types.RoleUser, inbound.Intent, inbound.Metadata); err != nil {
		return fmt.Errorf("record user turn: %w", err)
	}

	// 3. Assemble context and invoke the model.
	resp, err := rt.generate(ctx, turn, userSeq)
	if err != nil {
		return err
	}

	// 4. Persist the assistant turn with the provider's metadata.
	assistantMsg := &types.Message{
		ID:             types.NewMessageID(),
		SessionID:      turn.SessionID,
		UserID:         inbound.UserID,
		Role:           types.RoleAssistant,
		Content:        resp.Text,
		CreatedAt:      time.Now(),
		TokenCount:     resp.TokenCount,
		ResponseTimeMs: resp.ResponseTimeMs,
		ModelUsed:      resp.ModelUsed,
		Citations:      resp.Citations,
	}
	if _, err := rt.log.Append(ctx, assistantMsg); err != nil {
		return fmt.Errorf("record assistant message: %w", err)
	}
	if _, err := rt.registry.RecordTurn(ctx, turn.SessionID, types.RoleAssistant, "", nil); err != nil {
		return fmt.Errorf("record assistant turn: %w", err)
	}

	// 5. Summarize in the background. Never blocks or fails the turn.
	go rt.summarize(turn.SessionID)

	if turn.OnComplete != nil {
		turn.OnComplete(resp.Text, nil)
	}
	return nil
}

// generate builds the context package for the persisted user message at
// querySeq and calls the model with retry and backoff. When the full package
// keeps failing and it contained a summary block, one degraded attempt is
// made with a window-only package before giving up.
func (rt *Runtime) generate(ctx context.Context, turn *gateway.Turn, querySeq int64) (*llm.Response, error) {
	pkg, err := rt.assembler.BuildContext(ctx, turn.SessionID, turn.Inbound.Profile, turn.Inbound.Text, querySeq)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}
	if pkg.TrimmedTurns > 0 {
		slog.Debug("window trimmed for budget", "session_id", turn.SessionID, "trimmed", pkg.TrimmedTurns)
	}

	var resp *llm.Response
	err = rt.retry.Execute(func() error {
		var callErr error
		resp, callErr = rt.provider.Generate(ctx, pkg.Messages)
		return callErr
	})
	if err == nil {
		return resp, nil
	}
	if !pkg.SummaryIncluded {
		return nil, fmt.Errorf("model call: %w", err)
	}

	// Degraded path: retry once on the verbatim window alone.
	slog.Warn("model call failed with full context, retrying window-only",
		"session_id", turn.SessionID, "error", err)
	pkg, buildErr := rt.assembler.BuildContext(ctx, turn.SessionID, turn.Inbound.Profile, turn.Inbound.Text, querySeq, ctxengine.WithoutSummary())
	if buildErr != nil {
		return nil, fmt.Errorf("build degraded context: %w", buildErr)
	}
	resp, degradedErr := rt.provider.Generate(ctx, pkg.Messages)
	if degradedErr != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	return resp, nil
}

// summarize runs a detached summarization attempt for the session. It uses
// its own context so a finished or cancelled turn cannot abort the merge.
func (rt *Runtime) summarize(sessionID types.SessionID) {
	ctx, cancel := context.WithTimeout(context.Background(), rt.summarizeTimeout)
	defer cancel()

	if err := rt.trigger.MaybeSummarize(ctx, sessionID); err != nil {
		if errors.Is(err, types.ErrUpstream) {
			return // already logged by the trigger; next turn retries
		}
		slog.Error("summarization attempt failed", "session_id", sessionID, "error", err)
	}
}
