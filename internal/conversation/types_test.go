package conversation

import "testing"

func TestNext(t *testing.T) {
	tests := []struct {
		name    string
		current State
		action  Action
		want    State
	}{
		{"transfer from any state", StateQualifying, ActionTransferToHuman, StateWaitingHuman},
		{"transfer from new", StateNew, ActionTransferToHuman, StateWaitingHuman},
		{"schedule from qualifying", StateQualifying, ActionScheduleMeeting, StateScheduled},
		{"schedule from scheduling", StateScheduling, ActionScheduleMeeting, StateScheduled},
		{"first text reply advances new", StateNew, ActionNone, StateQualifying},
		{"text reply keeps qualified", StateQualified, ActionNone, StateQualified},
		{"crm update advances new", StateNew, ActionUpdateExternalSystem, StateQualifying},
		{"crm update keeps follow_up", StateFollowUp, ActionUpdateExternalSystem, StateFollowUp},
		{"terminal waiting_human sticks", StateWaitingHuman, ActionScheduleMeeting, StateWaitingHuman},
		{"terminal closed_won sticks", StateClosedWon, ActionNone, StateClosedWon},
		{"terminal closed_lost sticks", StateClosedLost, ActionTransferToHuman, StateClosedLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Next(tt.current, tt.action); got != tt.want {
				t.Errorf("Next(%s, %q) = %s, want %s", tt.current, tt.action, got, tt.want)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []State{StateWaitingHuman, StateClosedWon, StateClosedLost} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateNew, StateQualifying, StateQualified, StateScheduling, StateScheduled, StateFollowUp} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestParseAction(t *testing.T) {
	if a, ok := ParseAction("schedule_meeting"); !ok || a != ActionScheduleMeeting {
		t.Errorf("ParseAction(schedule_meeting) = %q, %v", a, ok)
	}
	if _, ok := ParseAction("launch_rocket"); ok {
		t.Error("unknown action should not parse")
	}
}
