// internal/types/models.go
package types

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Session status values.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Intent labels produced by the upstream classifier. The core stores and
// contextualizes them but never interprets their meaning.
const (
	IntentDischargeSimplification = "discharge_simplification"
	IntentFacilityLocator         = "facility_locator_support"
	IntentGeneralConversation     = "general_conversation"
	IntentSymptomChecker          = "symptom_checker"
)

// Message is one turn in a session's log. Immutable once appended.
// Seq is assigned by the message log, never by the caller.
type Message struct {
	ID             MessageID         `json:"id"`
	SessionID      SessionID         `json:"session_id"`
	UserID         UserID            `json:"user_id"`
	Role           Role              `json:"role"`
	Content        string            `json:"content"`
	Seq            int64             `json:"seq"`
	CreatedAt      time.Time         `json:"created_at"`
	Intent         string            `json:"intent,omitempty"`
	TokenCount     int               `json:"token_count,omitempty"`
	ResponseTimeMs int64             `json:"response_time_ms,omitempty"`
	ModelUsed      string            `json:"model_used,omitempty"`
	Citations      []string          `json:"citations,omitempty"`
	AudioRef       string            `json:"audio_ref,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Session is the aggregate record for one conversation thread.
// Version is a storage revision counter used for compare-and-swap updates;
// it is owned by the session store and bumped on every successful write.
type Session struct {
	ID                     SessionID `json:"id"`
	UserID                 UserID    `json:"user_id"`
	Status                 string    `json:"status"`
	MessageCount           int64     `json:"message_count"`
	PrimaryLanguage        string    `json:"primary_language,omitempty"`
	Topics                 []string  `json:"topics,omitempty"`
	LastIntent             string    `json:"last_intent,omitempty"`
	ContextSummary         string    `json:"context_summary,omitempty"`
	SummaryThroughSequence int64     `json:"summary_through_sequence"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
	Version                int64     `json:"version"`
}

// HasTopic reports whether the session's topic set contains the label.
func (s *Session) HasTopic(label string) bool {
	for _, t := range s.Topics {
		if t == label {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the session, suitable for mutate-then-CAS
// update loops.
func (s *Session) Clone() *Session {
	cp := *s
	if s.Topics != nil {
		cp.Topics = append([]string(nil), s.Topics...)
	}
	return &cp
}

// InboundTurn is a new user turn arriving from a front-end collaborator.
// Profile is an opaque block supplied by the caller and passed through to
// context assembly unmodified.
type InboundTurn struct {
	Source    string            `json:"source"`
	SessionID SessionID         `json:"session_id"`
	UserID    UserID            `json:"user_id"`
	Text      string            `json:"text"`
	Intent    string            `json:"intent,omitempty"`
	Profile   string            `json:"profile,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SessionSummary is the read-only projection of a session exposed to
// consumers.
type SessionSummary struct {
	SessionID       SessionID `json:"session_id"`
	MessageCount    int64     `json:"message_count"`
	PrimaryLanguage string    `json:"primary_language,omitempty"`
	Topics          []string  `json:"topics,omitempty"`
	LastIntent      string    `json:"last_intent,omitempty"`
	ContextSummary  string    `json:"context_summary,omitempty"`
}
