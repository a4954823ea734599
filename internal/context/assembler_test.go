// internal/context/assembler_test.go
package context

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/user/carechat/internal/state"
	"github.com/user/carechat/internal/tokens"
	"github.com/user/carechat/internal/types"
)

type fixture struct {
	sessions  *state.SessionStore
	log       *state.MessageLog
	sessionID types.SessionID
}

// newFixture creates a session and appends n alternating user/assistant
// messages, numbered "turn 1" .. "turn n".
func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		sessions:  state.NewSessionStore(dir),
		log:       state.NewMessageLog(dir),
		sessionID: types.NewSessionID(),
	}
	ctx := context.Background()
	if err := f.sessions.Create(ctx, &types.Session{ID: f.sessionID, UserID: "user1", Status: types.StatusActive}); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= n; i++ {
		role := types.RoleUser
		if i%2 == 0 {
			role = types.RoleAssistant
		}
		msg := &types.Message{
			ID:        types.NewMessageID(),
			SessionID: f.sessionID,
			Role:      role,
			Content:   fmt.Sprintf("turn %d", i),
		}
		if _, err := f.log.Append(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func (f *fixture) setSummary(t *testing.T, summary string, through int64) {
	t.Helper()
	ctx := context.Background()
	sess, err := f.sessions.Get(ctx, f.sessionID)
	if err != nil {
		t.Fatal(err)
	}
	sess.ContextSummary = summary
	sess.SummaryThroughSequence = through
	if err := f.sessions.Update(ctx, sess, sess.Version); err != nil {
		t.Fatal(err)
	}
}

func newAssembler(t *testing.T, f *fixture, budget int) *Assembler {
	t.Helper()
	est, err := tokens.New("gpt-4")
	if err != nil {
		t.Fatal(err)
	}
	return New(f.sessions, f.log, est, budget)
}

func TestBuildContextShortSessionNoSummary(t *testing.T) {
	f := newFixture(t, 6)
	a := newAssembler(t, f, 100000)

	pkg, err := a.BuildContext(context.Background(), f.sessionID, "", "what next?", 7)
	if err != nil {
		t.Fatal(err)
	}

	if pkg.SummaryIncluded {
		t.Error("short session must not include a summary block")
	}
	// system preamble + 6 verbatim turns + query
	if len(pkg.Messages) != 8 {
		t.Fatalf("expected 8 messages, got %d", len(pkg.Messages))
	}
	if pkg.Messages[0].Role != "system" {
		t.Errorf("expected system preamble first, got %q", pkg.Messages[0].Role)
	}
	for i := 1; i <= 6; i++ {
		want := fmt.Sprintf("turn %d", i)
		if pkg.Messages[i].Content != want {
			t.Errorf("expected %q at position %d, got %q", want, i, pkg.Messages[i].Content)
		}
	}
	last := pkg.Messages[len(pkg.Messages)-1]
	if last.Role != "user" || last.Content != "what next?" {
		t.Errorf("expected current query last, got %+v", last)
	}
}

func TestBuildContextWindowAndSummary(t *testing.T) {
	f := newFixture(t, 23)
	f.setSummary(t, "earlier discussion summary", 13)
	a := newAssembler(t, f, 100000)

	pkg, err := a.BuildContext(context.Background(), f.sessionID, "", "current question", 24)
	if err != nil {
		t.Fatal(err)
	}

	if !pkg.SummaryIncluded {
		t.Fatal("expected summary block")
	}
	// preamble + summary + 10 window turns + query
	if len(pkg.Messages) != 13 {
		t.Fatalf("expected 13 messages, got %d", len(pkg.Messages))
	}
	if !strings.Contains(pkg.Messages[1].Content, "earlier discussion summary") {
		t.Errorf("expected summary block second, got %q", pkg.Messages[1].Content)
	}
	// Window is messages 14..23, oldest first.
	for i := 0; i < 10; i++ {
		want := fmt.Sprintf("turn %d", 14+i)
		if pkg.Messages[2+i].Content != want {
			t.Errorf("expected %q at window position %d, got %q", want, i, pkg.Messages[2+i].Content)
		}
	}
	last := pkg.Messages[len(pkg.Messages)-1]
	if last.Content != "current question" {
		t.Errorf("expected current query last, got %q", last.Content)
	}
}

func TestBuildContextProfileBlock(t *testing.T) {
	f := newFixture(t, 2)
	a := newAssembler(t, f, 100000)

	profile := "Patient: 64yo, allergies: penicillin"
	pkg, err := a.BuildContext(context.Background(), f.sessionID, profile, "q", 3)
	if err != nil {
		t.Fatal(err)
	}

	if pkg.Messages[1].Role != "system" || pkg.Messages[1].Content != profile {
		t.Errorf("expected verbatim profile block second, got %+v", pkg.Messages[1])
	}
}

func TestBuildContextTrimsOldestFirst(t *testing.T) {
	f := newFixture(t, 23)
	f.setSummary(t, "summary of turns one through thirteen", 13)

	// Budget low enough that the full 10-turn window cannot fit.
	a := newAssembler(t, f, 60)

	pkg, err := a.BuildContext(context.Background(), f.sessionID, "", "current question", 24)
	if err != nil {
		t.Fatal(err)
	}

	if !pkg.SummaryIncluded {
		t.Error("trimming must never drop the summary block")
	}
	if pkg.TrimmedTurns == 0 {
		t.Fatal("expected trimming under a low budget")
	}
	last := pkg.Messages[len(pkg.Messages)-1]
	if last.Role != "user" || last.Content != "current question" {
		t.Error("trimming must never drop the current query")
	}

	// Surviving window turns are the newest ones, still oldest-first.
	var window []string
	for _, m := range pkg.Messages[2 : len(pkg.Messages)-1] {
		window = append(window, m.Content)
	}
	for i, content := range window {
		want := fmt.Sprintf("turn %d", 23-len(window)+1+i)
		if content != want {
			t.Errorf("expected %q at position %d after trim, got %q", want, i, content)
		}
	}
}

func TestBuildContextBudgetBelowEverything(t *testing.T) {
	f := newFixture(t, 23)
	f.setSummary(t, "summary text", 13)
	a := newAssembler(t, f, 1)

	pkg, err := a.BuildContext(context.Background(), f.sessionID, "", "q", 24)
	if err != nil {
		t.Fatal(err)
	}
	if pkg.TrimmedTurns != 10 {
		t.Errorf("expected whole window trimmed, got %d", pkg.TrimmedTurns)
	}
	if !pkg.SummaryIncluded {
		t.Error("summary survives even when the budget is hopeless")
	}
	last := pkg.Messages[len(pkg.Messages)-1]
	if last.Content != "q" {
		t.Error("query survives even when the budget is hopeless")
	}
}

func TestBuildContextWithoutSummary(t *testing.T) {
	f := newFixture(t, 23)
	f.setSummary(t, "summary text", 13)
	a := newAssembler(t, f, 100000)

	pkg, err := a.BuildContext(context.Background(), f.sessionID, "", "q", 24, WithoutSummary())
	if err != nil {
		t.Fatal(err)
	}
	if pkg.SummaryIncluded {
		t.Error("WithoutSummary still included the summary block")
	}
	for _, m := range pkg.Messages {
		if strings.Contains(m.Content, "summary text") {
			t.Error("summary content leaked into degraded package")
		}
	}
}

func TestBuildContextPersistedQueryNotDuplicated(t *testing.T) {
	f := newFixture(t, 23)
	f.setSummary(t, "earlier discussion summary", 13)
	a := newAssembler(t, f, 100000)

	// The turn pipeline persists the query before assembling, so it is
	// already in the log as the newest message.
	ctx := context.Background()
	query := "current question"
	msg := &types.Message{
		ID:        types.NewMessageID(),
		SessionID: f.sessionID,
		Role:      types.RoleUser,
		Content:   query,
	}
	querySeq, err := f.log.Append(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}

	pkg, err := a.BuildContext(ctx, f.sessionID, "", query, querySeq)
	if err != nil {
		t.Fatal(err)
	}

	occurrences := 0
	for _, m := range pkg.Messages {
		if m.Content == query {
			occurrences++
		}
	}
	if occurrences != 1 {
		t.Fatalf("query appears %d times in the package, want exactly 1", occurrences)
	}
	// Window is still messages 14..23; the persisted query stays out of it.
	for i := 0; i < 10; i++ {
		want := fmt.Sprintf("turn %d", 14+i)
		if pkg.Messages[2+i].Content != want {
			t.Errorf("expected %q at window position %d, got %q", want, i, pkg.Messages[2+i].Content)
		}
	}
	last := pkg.Messages[len(pkg.Messages)-1]
	if last.Role != "user" || last.Content != query {
		t.Errorf("expected the query as the final turn, got %+v", last)
	}
}

func TestBuildContextUnknownSession(t *testing.T) {
	f := newFixture(t, 1)
	a := newAssembler(t, f, 100000)

	_, err := a.BuildContext(context.Background(), "missing", "", "q", 1)
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
}
