// internal/state/message.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/carechat/internal/types"
)

// MessageLog is a JSONL-backed append-only message log.
// Messages are stored per-session in sessions/<sessionID>/messages.jsonl.
// Sequence numbers are assigned here, never by callers: the per-session
// lock makes assignment atomic, so the log is gapless starting at 1.
type MessageLog struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sessionLane
}

// sessionLane holds a session's lock and its cached last sequence number.
// lastSeq is -1 until the log file has been scanned once.
type sessionLane struct {
	mu      sync.Mutex
	lastSeq int64
}

// NewMessageLog creates a file-backed MessageLog rooted at the given directory.
func NewMessageLog(root string) *MessageLog {
	return &MessageLog{
		root:  root,
		locks: make(map[types.SessionID]*sessionLane),
	}
}

// lane returns the per-session lane, creating one if it doesn't exist.
// Different sessions use different lanes so their appends never contend.
func (l *MessageLog) lane(sessionID types.SessionID) *sessionLane {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lane, ok := l.locks[sessionID]; ok {
		return lane
	}
	lane := &sessionLane{lastSeq: -1}
	l.locks[sessionID] = lane
	return lane
}

func (l *MessageLog) sessionDir(sessionID types.SessionID) string {
	return filepath.Join(l.root, "sessions", string(sessionID))
}

func (l *MessageLog) messagesPath(sessionID types.SessionID) string {
	return filepath.Join(l.sessionDir(sessionID), "messages.jsonl")
}

// scanLastSeq reads the log file and returns the highest sequence number.
// Caller must hold the session lane lock.
func (l *MessageLog) scanLastSeq(sessionID types.SessionID) (int64, error) {
	f, err := os.Open(l.messagesPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	var last int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		last++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan messages file: %w", err)
	}
	return last, nil
}

// Append adds a message to the session's log with an auto-assigned sequence
// number. The session must already exist (its directory is created by the
// session registry); unknown sessions fail with ErrNotFound. A caller that
// supplies its own sequence number fails with ErrConflict: the log owns
// sequence assignment.
func (l *MessageLog) Append(_ context.Context, msg *types.Message) (int64, error) {
	if msg.Seq != 0 {
		return 0, fmt.Errorf("sequence %d is log-assigned: %w", msg.Seq, types.ErrConflict)
	}

	lane := l.lane(msg.SessionID)
	lane.mu.Lock()
	defer lane.mu.Unlock()

	if _, err := os.Stat(l.sessionDir(msg.SessionID)); err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("session %s: %w", msg.SessionID, types.ErrNotFound)
		}
		return 0, fmt.Errorf("stat session dir: %w", err)
	}

	if lane.lastSeq < 0 {
		last, err := l.scanLastSeq(msg.SessionID)
		if err != nil {
			return 0, err
		}
		lane.lastSeq = last
	}

	msg.Seq = lane.lastSeq + 1

	data, err := json.Marshal(msg)
	if err != nil {
		msg.Seq = 0
		return 0, fmt.Errorf("marshal message: %w", err)
	}

	f, err := os.OpenFile(l.messagesPath(msg.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		msg.Seq = 0
		return 0, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		msg.Seq = 0
		return 0, fmt.Errorf("write message: %w", err)
	}

	lane.lastSeq = msg.Seq
	return msg.Seq, nil
}

// readAll loads every message for the session, oldest first.
// Caller must hold the session lane lock.
func (l *MessageLog) readAll(sessionID types.SessionID) ([]*types.Message, error) {
	f, err := os.Open(l.messagesPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			if _, statErr := os.Stat(l.sessionDir(sessionID)); os.IsNotExist(statErr) {
				return nil, fmt.Errorf("session %s: %w", sessionID, types.ErrNotFound)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	var messages []*types.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg types.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan messages file: %w", err)
	}
	return messages, nil
}

// ReadRange returns messages with fromSeq <= seq <= toSeq, oldest first.
func (l *MessageLog) ReadRange(_ context.Context, sessionID types.SessionID, fromSeq, toSeq int64) ([]*types.Message, error) {
	lane := l.lane(sessionID)
	lane.mu.Lock()
	defer lane.mu.Unlock()

	all, err := l.readAll(sessionID)
	if err != nil {
		return nil, err
	}

	var out []*types.Message
	for _, msg := range all {
		if msg.Seq >= fromSeq && msg.Seq <= toSeq {
			out = append(out, msg)
		}
	}
	return out, nil
}

// ReadLastN returns the last n messages for the session, oldest first.
func (l *MessageLog) ReadLastN(_ context.Context, sessionID types.SessionID, n int) ([]*types.Message, error) {
	lane := l.lane(sessionID)
	lane.mu.Lock()
	defer lane.mu.Unlock()

	all, err := l.readAll(sessionID)
	if err != nil {
		return nil, err
	}

	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// Count returns the number of messages for the session.
func (l *MessageLog) Count(_ context.Context, sessionID types.SessionID) (int64, error) {
	lane := l.lane(sessionID)
	lane.mu.Lock()
	defer lane.mu.Unlock()

	if lane.lastSeq >= 0 {
		return lane.lastSeq, nil
	}
	last, err := l.scanLastSeq(sessionID)
	if err != nil {
		return 0, err
	}
	lane.lastSeq = last
	return last, nil
}
