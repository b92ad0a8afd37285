// Package conversation tracks per-contact conversation state and derived
// context summaries.
package conversation

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// State is the automated-handling state of a conversation.
type State string

const (
	StateNew          State = "NEW"
	StateQualifying   State = "QUALIFYING"
	StateQualified    State = "QUALIFIED"
	StateScheduling   State = "SCHEDULING"
	StateScheduled    State = "SCHEDULED"
	StateFollowUp     State = "FOLLOW_UP"
	StateWaitingHuman State = "WAITING_HUMAN"
	StateClosedWon    State = "CLOSED_WON"
	StateClosedLost   State = "CLOSED_LOST"
)

// Terminal reports whether automated handling stops at this state. Leaving
// a terminal state requires a human or an explicit reactivation.
func (s State) Terminal() bool {
	switch s {
	case StateWaitingHuman, StateClosedWon, StateClosedLost:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateNew, StateQualifying, StateQualified, StateScheduling,
		StateScheduled, StateFollowUp, StateWaitingHuman, StateClosedWon, StateClosedLost:
		return true
	}
	return false
}

// Action is the fixed vocabulary of callable actions a decision can request.
type Action string

const (
	ActionNone                 Action = ""
	ActionScheduleMeeting      Action = "schedule_meeting"
	ActionCreateContactRecord  Action = "create_contact_record"
	ActionUpdateExternalSystem Action = "update_external_system"
	ActionTransferToHuman      Action = "transfer_to_human"
)

// ParseAction maps a provider-requested name onto the action vocabulary.
func ParseAction(name string) (Action, bool) {
	switch Action(name) {
	case ActionScheduleMeeting, ActionCreateContactRecord,
		ActionUpdateExternalSystem, ActionTransferToHuman:
		return Action(name), true
	}
	return ActionNone, false
}

// stateAny matches any non-terminal source state in the transition table.
const stateAny State = "*"

type transitionRule struct {
	from   State
	action Action
	to     State
}

// transitions is the single source of truth for automated state changes.
// Rules are evaluated in order; the first match wins. Actions always derive
// the target state deterministically, free-text replies only advance NEW.
var transitions = []transitionRule{
	{stateAny, ActionTransferToHuman, StateWaitingHuman},
	{stateAny, ActionScheduleMeeting, StateScheduled},
	{StateNew, ActionCreateContactRecord, StateQualifying},
	{StateNew, ActionUpdateExternalSystem, StateQualifying},
	{StateNew, ActionNone, StateQualifying},
}

// Next returns the state after applying the decided action. Terminal states
// never transition; unmatched combinations keep the current state.
func Next(current State, action Action) State {
	if current.Terminal() {
		return current
	}
	for _, r := range transitions {
		if r.action != action {
			continue
		}
		if r.from == stateAny || r.from == current {
			return r.to
		}
	}
	return current
}

// Conversation is the single automated thread for a contact.
type Conversation struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	ContactID      string         `json:"contact_id"`
	State          State          `json:"state"`
	TurnCount      int            `json:"turn_count"`
	Context        map[string]any `json:"context,omitempty"`
	LastActivityAt time.Time      `json:"last_activity_at"`
}

// Summary is the cached derived analysis of recent history.
type Summary struct {
	ConversationID string    `json:"conversation_id"`
	Topic          string    `json:"topic"`
	Sentiment      string    `json:"sentiment"`
	Temperature    int       `json:"temperature"`
	Engagement     int       `json:"engagement"`
	OpenQuestions  []string  `json:"open_questions,omitempty"`
	ComputedAt     time.Time `json:"computed_at"`
}

// Stale reports whether the summary is older than the ttl.
func (s Summary) Stale(ttl time.Duration) bool {
	return time.Since(s.ComputedAt) > ttl
}
