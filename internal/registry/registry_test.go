// internal/registry/registry_test.go
package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/user/carechat/internal/state"
	"github.com/user/carechat/internal/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(state.NewSessionStore(t.TempDir()))
}

func TestGetOrCreate(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id := types.NewSessionID()
	sess, err := reg.GetOrCreate(ctx, id, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != types.StatusActive {
		t.Errorf("expected active, got %q", sess.Status)
	}

	again, err := reg.GetOrCreate(ctx, id, "user2")
	if err != nil {
		t.Fatal(err)
	}
	if again.UserID != "user1" {
		t.Errorf("expected original user1, got %q", again.UserID)
	}
}

func TestRecordTurnAggregates(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id := types.NewSessionID()
	if _, err := reg.GetOrCreate(ctx, id, "user1"); err != nil {
		t.Fatal(err)
	}

	sess, err := reg.RecordTurn(ctx, id, types.RoleUser, types.IntentSymptomChecker, map[string]string{"language": "es"})
	if err != nil {
		t.Fatal(err)
	}
	if sess.MessageCount != 1 {
		t.Errorf("expected message_count 1, got %d", sess.MessageCount)
	}
	if sess.LastIntent != types.IntentSymptomChecker {
		t.Errorf("expected last_intent %q, got %q", types.IntentSymptomChecker, sess.LastIntent)
	}
	if !sess.HasTopic(types.IntentSymptomChecker) {
		t.Errorf("expected intent in topics, got %v", sess.Topics)
	}
	if sess.PrimaryLanguage != "es" {
		t.Errorf("expected primary_language es, got %q", sess.PrimaryLanguage)
	}

	// Assistant turns count but never move intent or topics.
	sess, err = reg.RecordTurn(ctx, id, types.RoleAssistant, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if sess.MessageCount != 2 {
		t.Errorf("expected message_count 2, got %d", sess.MessageCount)
	}
	if sess.LastIntent != types.IntentSymptomChecker {
		t.Errorf("assistant turn moved last_intent to %q", sess.LastIntent)
	}

	// Language switches mid-conversation: last detected wins.
	sess, err = reg.RecordTurn(ctx, id, types.RoleUser, types.IntentGeneralConversation, map[string]string{"language": "en"})
	if err != nil {
		t.Fatal(err)
	}
	if sess.PrimaryLanguage != "en" {
		t.Errorf("expected primary_language en, got %q", sess.PrimaryLanguage)
	}
	if len(sess.Topics) != 2 {
		t.Errorf("expected 2 topics, got %v", sess.Topics)
	}
}

func TestRecordTurnConcurrentNoLostUpdates(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id := types.NewSessionID()
	if _, err := reg.GetOrCreate(ctx, id, "user1"); err != nil {
		t.Fatal(err)
	}

	// More than maxCASRetries writers can contend at once, so allow the
	// bounded-retry error and only count successful turns.
	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	recorded := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.RecordTurn(ctx, id, types.RoleUser, "", nil); err == nil {
				mu.Lock()
				recorded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sess, err := reg.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if sess.MessageCount != int64(recorded) {
		t.Errorf("lost update: %d turns recorded but message_count = %d", recorded, sess.MessageCount)
	}
}

func TestApplySummaryMonotonic(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id := types.NewSessionID()
	if _, err := reg.GetOrCreate(ctx, id, "user1"); err != nil {
		t.Fatal(err)
	}

	if err := reg.ApplySummary(ctx, id, "summary through 12", 12); err != nil {
		t.Fatal(err)
	}

	// A slow, stale response arriving later must be a silent no-op.
	if err := reg.ApplySummary(ctx, id, "stale summary through 8", 8); err != nil {
		t.Fatal(err)
	}

	sess, err := reg.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if sess.SummaryThroughSequence != 12 {
		t.Errorf("summary boundary went backward: %d", sess.SummaryThroughSequence)
	}
	if sess.ContextSummary != "summary through 12" {
		t.Errorf("stale summary overwrote newer one: %q", sess.ContextSummary)
	}

	// Equal boundary is also a no-op.
	if err := reg.ApplySummary(ctx, id, "duplicate through 12", 12); err != nil {
		t.Fatal(err)
	}
	sess, _ = reg.Get(ctx, id)
	if sess.ContextSummary != "summary through 12" {
		t.Errorf("equal-boundary merge overwrote summary: %q", sess.ContextSummary)
	}

	// A newer boundary advances.
	if err := reg.ApplySummary(ctx, id, "summary through 20", 20); err != nil {
		t.Fatal(err)
	}
	sess, _ = reg.Get(ctx, id)
	if sess.SummaryThroughSequence != 20 {
		t.Errorf("expected boundary 20, got %d", sess.SummaryThroughSequence)
	}
}

func TestRecordTurnReactivatesArchived(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id := types.NewSessionID()
	if _, err := reg.GetOrCreate(ctx, id, "user1"); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetStatus(ctx, id, types.StatusArchived); err != nil {
		t.Fatal(err)
	}

	sess, err := reg.RecordTurn(ctx, id, types.RoleUser, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != types.StatusActive {
		t.Errorf("expected reactivated session, got %q", sess.Status)
	}
}

func TestSummaryProjection(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	id := types.NewSessionID()
	if _, err := reg.GetOrCreate(ctx, id, "user1"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.RecordTurn(ctx, id, types.RoleUser, types.IntentDischargeSimplification, map[string]string{"language": "en"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.ApplySummary(ctx, id, "patient asked about meds", 1); err != nil {
		t.Fatal(err)
	}

	summary, err := reg.Summary(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if summary.MessageCount != 1 {
		t.Errorf("expected message_count 1, got %d", summary.MessageCount)
	}
	if summary.LastIntent != types.IntentDischargeSimplification {
		t.Errorf("unexpected last_intent %q", summary.LastIntent)
	}
	if summary.ContextSummary != "patient asked about meds" {
		t.Errorf("unexpected summary %q", summary.ContextSummary)
	}
}
