// internal/context/assembler.go
package context

import (
	"context"
	"fmt"
	"time"

	"github.com/user/carechat/internal/tokens"
	"github.com/user/carechat/internal/types"
	"github.com/user/carechat/pkg/llm"
)

// WindowSize is the number of most recent turns included verbatim in every
// context package. Anything older is represented only through the session's
// running summary.
const WindowSize = 10

// Package is the assembled, ordered input handed to the model-invocation
// collaborator. It is transient: never persisted, reconstructed per request.
type Package struct {
	SessionID       types.SessionID
	Messages        []llm.Message
	EstimatedTokens int
	SummaryIncluded bool
	TrimmedTurns    int
}

// Assembler builds token-budgeted context packages from persisted session
// state. Building is read-only: given unchanged inputs it produces the same
// package.
type Assembler struct {
	sessions  types.SessionStore
	log       types.MessageLog
	estimator *tokens.Estimator
	maxTokens int
}

// New creates an Assembler with the given token ceiling for assembled
// packages.
func New(sessions types.SessionStore, log types.MessageLog, estimator *tokens.Estimator, maxTokens int) *Assembler {
	return &Assembler{
		sessions:  sessions,
		log:       log,
		estimator: estimator,
		maxTokens: maxTokens,
	}
}

// Option configures a single BuildContext call.
type Option func(*buildOptions)

type buildOptions struct {
	withoutSummary bool
}

// WithoutSummary omits the summary block. Used for the degraded, window-only
// retry after the upstream rejects or repeatedly fails a full package.
func WithoutSummary() Option {
	return func(o *buildOptions) { o.withoutSummary = true }
}

// BuildContext assembles the ordered prompt payload for the user query at
// querySeq: system preamble, profile block, summary block (when one exists),
// the verbatim window of recent turns oldest-first, and finally the query
// itself. The window is the WindowSize messages strictly preceding querySeq,
// so a query already persisted to the log is carried only as the final turn,
// never a second time inside the window. When the estimated total exceeds
// the token ceiling, verbatim turns are trimmed from the oldest end first;
// the summary and the current query are never dropped.
func (a *Assembler) BuildContext(ctx context.Context, sessionID types.SessionID, profileBlock, query string, querySeq int64, opts ...Option) (*Package, error) {
	var options buildOptions
	for _, opt := range opts {
		opt(&options)
	}

	session, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	fromSeq := querySeq - WindowSize
	if fromSeq < 1 {
		fromSeq = 1
	}
	window, err := a.log.ReadRange(ctx, sessionID, fromSeq, querySeq-1)
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}

	var fixed []llm.Message
	fixed = append(fixed, llm.Message{Role: "system", Content: buildPreamble(session)})
	if profileBlock != "" {
		fixed = append(fixed, llm.Message{Role: "system", Content: profileBlock})
	}

	summaryIncluded := false
	if session.ContextSummary != "" && !options.withoutSummary {
		fixed = append(fixed, llm.Message{Role: "system", Content: summaryBlock(session.ContextSummary)})
		summaryIncluded = true
	}

	queryMsg := llm.Message{Role: "user", Content: query}

	fixedTokens := a.countMessages(fixed) + a.countMessage(queryMsg)

	windowMsgs := make([]llm.Message, 0, len(window))
	windowTokens := 0
	for _, msg := range window {
		m := messageToLLM(msg)
		windowMsgs = append(windowMsgs, m)
		windowTokens += a.countMessage(m)
	}

	// Trim oldest verbatim turns until the package fits. The summary and
	// the current query always survive, even when only the query remains.
	trimmed := 0
	for len(windowMsgs) > 0 && fixedTokens+windowTokens > a.maxTokens {
		windowTokens -= a.countMessage(windowMsgs[0])
		windowMsgs = windowMsgs[1:]
		trimmed++
	}

	messages := make([]llm.Message, 0, len(fixed)+len(windowMsgs)+1)
	messages = append(messages, fixed...)
	messages = append(messages, windowMsgs...)
	messages = append(messages, queryMsg)

	return &Package{
		SessionID:       sessionID,
		Messages:        messages,
		EstimatedTokens: fixedTokens + windowTokens,
		SummaryIncluded: summaryIncluded,
		TrimmedTurns:    trimmed,
	}, nil
}

func (a *Assembler) countMessage(msg llm.Message) int {
	return a.estimator.Estimate(msg.Content)
}

func (a *Assembler) countMessages(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += a.countMessage(m)
	}
	return total
}

func buildPreamble(session *types.Session) string {
	preamble := fmt.Sprintf(
		"You are a healthcare assistant helping a patient understand their care. Current time: %s. Session: %s.",
		time.Now().Format(time.RFC3339),
		string(session.ID),
	)
	if session.PrimaryLanguage != "" {
		preamble += fmt.Sprintf(" Respond in the user's language (%s) unless asked otherwise.", session.PrimaryLanguage)
	}
	return preamble
}

func summaryBlock(summary string) string {
	return "Summary of the conversation so far:\n" + summary
}

func messageToLLM(msg *types.Message) llm.Message {
	return llm.Message{
		Role:    string(msg.Role),
		Content: msg.Content,
	}
}
