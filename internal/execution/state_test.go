package execution

import "testing"

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		event   Event
		want    State
		wantErr bool
	}{
		{"idle evaluates", StateIdle, EventEvaluate, StateEvaluating, false},
		{"evaluation aborts", StateEvaluating, EventAbort, StateIdle, false},
		{"evaluation commits", StateEvaluating, EventCommit, StatePendingEntry, false},
		{"entry fills", StatePendingEntry, EventFilled, StateOpen, false},
		{"entry fails", StatePendingEntry, EventFillFailed, StateIdle, false},
		{"open begins close", StateOpen, EventBeginClose, StateClosing, false},
		{"close confirms", StateClosing, EventCloseConfirmed, StateIdle, false},
		{"close fails reopens", StateClosing, EventCloseFailed, StateOpen, false},

		{"idle cannot commit", StateIdle, EventCommit, StateIdle, true},
		{"idle cannot close", StateIdle, EventBeginClose, StateIdle, true},
		{"open cannot evaluate", StateOpen, EventEvaluate, StateOpen, true},
		{"open cannot fill", StateOpen, EventFilled, StateOpen, true},
		{"pending cannot close", StatePendingEntry, EventBeginClose, StatePendingEntry, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.from, tt.event)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Transition(%s, %s) error = %v, wantErr %v", tt.from, tt.event, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Transition(%s, %s) = %s, want %s", tt.from, tt.event, got, tt.want)
			}
		})
	}
}

func TestFullCycleReturnsToIdle(t *testing.T) {
	state := StateIdle
	for _, e := range []Event{EventEvaluate, EventCommit, EventFilled, EventBeginClose, EventCloseConfirmed} {
		var err error
		state, err = Transition(state, e)
		if err != nil {
			t.Fatalf("cycle broke at %s: %v", e, err)
		}
	}
	if state != StateIdle {
		t.Errorf("full cycle should end idle, got %s", state)
	}
}
