package websocket

import (
	"encoding/json"
	"time"
)

// Message is the envelope every broadcast and client message shares.
type Message struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func newMessage(msgType string, payload interface{}) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Timestamp: time.Now().UTC(), Data: data}, nil
}

// CycleStartedPayload announces the beginning of a fetch-poll-match cycle.
type CycleStartedPayload struct {
	CycleID     string `json:"cycleId"`
	TriggeredBy string `json:"triggeredBy"`
}

// CyclePhasePayload reports the completion of one phase within a cycle.
type CyclePhasePayload struct {
	CycleID  string        `json:"cycleId"`
	Phase    string        `json:"phase"`
	Succeeded bool         `json:"succeeded"`
	Duration  time.Duration `json:"durationMs"`
	New       int          `json:"new,omitempty"`
	Stored    int          `json:"stored,omitempty"`
	Failed    int          `json:"failed,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// CycleCompletedPayload reports the final outcome of a cycle.
type CycleCompletedPayload struct {
	CycleID  string `json:"cycleId"`
	Status   string `json:"status"`
	Duration time.Duration `json:"durationMs"`
	MatchesDecided int `json:"matchesDecided"`
}

// MatchDecidedPayload announces one match decision as it is persisted.
type MatchDecidedPayload struct {
	CycleID    string  `json:"cycleId"`
	EmailID    string  `json:"emailId"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	Outcome    string  `json:"outcome,omitempty"`
}

// ActionDispatchedPayload announces one post-match action's outcome.
type ActionDispatchedPayload struct {
	MatchID     string `json:"matchId"`
	ActionKind  string `json:"actionKind"`
	Status      string `json:"status"`
	OutcomeLabel string `json:"outcomeLabel,omitempty"`
}

// SystemNotificationPayload carries an operator-facing notice unrelated to
// a specific cycle, e.g. a breaker trip or a configuration reload.
type SystemNotificationPayload struct {
	Level   string `json:"level"` // info, warn, error
	Message string `json:"message"`
}

// NewCycleStartedMessage builds the envelope for a cycle-started event.
func NewCycleStartedMessage(payload CycleStartedPayload) (Message, error) {
	return newMessage("cycle.started", payload)
}

// NewCyclePhaseMessage builds the envelope for a phase-completed event.
func NewCyclePhaseMessage(payload CyclePhasePayload) (Message, error) {
	return newMessage("cycle.phase", payload)
}

// NewCycleCompletedMessage builds the envelope for a cycle-completed event.
func NewCycleCompletedMessage(payload CycleCompletedPayload) (Message, error) {
	return newMessage("cycle.completed", payload)
}

// NewMatchDecidedMessage builds the envelope for a match-decided event.
func NewMatchDecidedMessage(payload MatchDecidedPayload) (Message, error) {
	return newMessage("match.decided", payload)
}

// NewActionDispatchedMessage builds the envelope for an action-dispatched event.
func NewActionDispatchedMessage(payload ActionDispatchedPayload) (Message, error) {
	return newMessage("action.dispatched", payload)
}

// NewSystemNotificationMessage builds the envelope for a system notification.
func NewSystemNotificationMessage(payload SystemNotificationPayload) (Message, error) {
	return newMessage("system.notification", payload)
}
