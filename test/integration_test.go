//go:build integration

package test

import (
	"context"
	"fmt"
	"testing"
	"time"

	ctxengine "github.com/user/carechat/internal/context"
	"github.com/user/carechat/internal/gateway"
	"github.com/user/carechat/internal/registry"
	"github.com/user/carechat/internal/runtime"
	"github.com/user/carechat/internal/state"
	"github.com/user/carechat/internal/summarizer"
	"github.com/user/carechat/internal/tokens"
	"github.com/user/carechat/internal/types"
	"github.com/user/carechat/pkg/llm"
)

// mockProvider is a test double that returns a canned model response.
type mockProvider struct {
	response *llm.Response
}

func (m *mockProvider) Generate(_ context.Context, _ []llm.Message) (*llm.Response, error) {
	resp := *m.response
	return &resp, nil
}

func (m *mockProvider) Summarize(_ context.Context, _ string, _ []llm.Message) (string, error) {
	return "conversation summary", nil
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()

	sessions := state.NewSessionStore(dir)
	log := state.NewMessageLog(dir)
	reg := registry.New(sessions)

	gw := gateway.New(reg)

	ctx := context.Background()
	gw.Start(ctx)
	defer gw.Stop()

	// Record an assistant message per processed turn.
	gw.Queue.SetProcessor(func(turn *gateway.Turn) error {
		time.Sleep(10 * time.Millisecond)

		msg := &types.Message{
			ID:        types.NewMessageID(),
			SessionID: turn.SessionID,
			Role:      types.RoleAssistant,
			Content:   "ack",
			CreatedAt: time.Now(),
		}
		if _, err := log.Append(ctx, msg); err != nil {
			return err
		}
		_, err := reg.RecordTurn(ctx, turn.SessionID, types.RoleAssistant, "", nil)
		return err
	})

	// Send multiple messages on the same session
	sessionID := types.SessionID("it-session")
	for i := 0; i < 3; i++ {
		inbound := &types.InboundTurn{
			Source:    "test",
			SessionID: sessionID,
			UserID:    "user1",
			Text:      fmt.Sprintf("message %d", i),
		}

		if _, err := gw.HandleInbound(ctx, inbound); err != nil {
			t.Fatal(err)
		}
	}

	// Wait for processing
	time.Sleep(200 * time.Millisecond)

	// Verify session was created
	sessionList, err := sessions.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessionList) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessionList))
	}

	// Verify messages were recorded in FIFO order with gapless sequences
	messages, err := log.ReadLastN(ctx, sessionID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 3 {
		t.Errorf("expected 3 messages, got %d", len(messages))
	}
	for i, msg := range messages {
		if msg.Seq != int64(i+1) {
			t.Errorf("expected seq %d, got %d", i+1, msg.Seq)
		}
	}
}

func TestEndToEndWithRuntime(t *testing.T) {
	dir := t.TempDir()

	sessions := state.NewSessionStore(dir)
	log := state.NewMessageLog(dir)
	reg := registry.New(sessions)

	provider := &mockProvider{
		response: &llm.Response{Text: "Hello from the model!", ModelUsed: "gpt-4o-mini"},
	}

	estimator, err := tokens.New("gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	assembler := ctxengine.New(sessions, log, estimator, 8000)
	trigger := summarizer.New(log, reg, provider, time.Minute)
	rt := runtime.New(provider, assembler, log, reg, trigger, 5*time.Second)

	gw := gateway.New(reg)
	gw.Queue.SetProcessor(rt.ProcessTurn)

	ctx := context.Background()
	gw.Start(ctx)
	defer gw.Stop()

	var response string
	done := make(chan struct{})

	inbound := &types.InboundTurn{
		Source: "test",
		UserID: "user1",
		Text:   "hello",
	}

	turn, err := gw.HandleInbound(ctx, inbound, gateway.WithOnComplete(func(reply string, err error) {
		if err != nil {
			t.Errorf("turn failed: %v", err)
		}
		response = reply
		close(done)
	}))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for response")
	}

	if response != "Hello from the model!" {
		t.Errorf("expected 'Hello from the model!', got %q", response)
	}

	count, err := log.Count(ctx, turn.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected user + assistant message, got %d", count)
	}

	sess, err := reg.Get(ctx, turn.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.MessageCount != 2 {
		t.Errorf("expected message_count 2, got %d", sess.MessageCount)
	}
}
