// Package session owns the per-call conversation state machine. One
// orchestrator actor runs per call and is the only writer of the session's
// state; everything else observes it through the bus or the store.
package session

import (
	"fmt"
	"time"
)

// State is the call's position in the conversation loop.
type State int

const (
	StateGreeting State = iota
	StateListening
	StateProcessing
	StateResponding
	StateEscalated
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateGreeting:
		return "greeting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateResponding:
		return "responding"
	case StateEscalated:
		return "escalated"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the call has ended from the conversation's point
// of view. A terminal session still streams its last response.
func (s State) Terminal() bool {
	return s == StateEscalated || s == StateCompleted
}

// Turn is one exchange in the conversation history.
type Turn struct {
	Role      string // "caller" or "agent"
	Text      string
	Timestamp time.Time
}

// CallSession is the mutable state of one call. All fields are owned by the
// orchestrator goroutine; no locking.
type CallSession struct {
	ID       string
	TenantID string
	State    State

	// History is append-only. It feeds the extractor's conversation
	// context.
	History []Turn

	// ActiveIntent is the intent currently collecting entities across
	// turns, empty when none.
	ActiveIntent string

	// PartialEntities accumulates slot values for ActiveIntent with
	// last-write-wins merge semantics.
	PartialEntities map[string]any

	InvalidAttempts int
	Confidence      float64

	// RAGScore is the best knowledge retrieval score of the most recent
	// turn. Zero until the first retrieval.
	RAGScore float64

	BargeInCount int

	Latency LatencyTracker

	StartedAt time.Time
}

// NewCallSession creates a session in the greeting state.
func NewCallSession(callID, tenantID string) *CallSession {
	return &CallSession{
		ID:              callID,
		TenantID:        tenantID,
		State:           StateGreeting,
		PartialEntities: map[string]any{},
		StartedAt:       time.Now(),
	}
}

// AppendTurn records one exchange in the history.
func (s *CallSession) AppendTurn(role, text string) {
	s.History = append(s.History, Turn{Role: role, Text: text, Timestamp: time.Now()})
}

// ContextLines renders the history the way the extractor expects it, oldest
// first, capped at the most recent max turns.
func (s *CallSession) ContextLines(max int) []string {
	turns := s.History
	if max > 0 && len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Text))
	}
	return lines
}

// MergeEntities folds newly extracted slot values into the accumulated set.
// Later values win; existing slots absent from update are kept.
func (s *CallSession) MergeEntities(update map[string]any) {
	if s.PartialEntities == nil {
		s.PartialEntities = map[string]any{}
	}
	for k, v := range update {
		s.PartialEntities[k] = v
	}
}

// ResetIntent clears the multi-turn collection state after an intent
// completes or is abandoned.
func (s *CallSession) ResetIntent() {
	s.ActiveIntent = ""
	s.PartialEntities = map[string]any{}
}
