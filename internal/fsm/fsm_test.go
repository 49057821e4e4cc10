package fsm

import "testing"

func TestLegalTransitions(t *testing.T) {
	cases := []struct {
		from State
		evt  Event
		want State
	}{
		{Waiting, EventQuorumReached, Countdown},
		{Countdown, EventCountdownElapsed, Racing},
		{Countdown, EventAbort, Waiting},
		{Racing, EventAllFinished, Finished},
		{Finished, EventReset, Waiting},
	}
	for _, tc := range cases {
		got, ok := Transition(tc.from, tc.evt)
		if !ok {
			t.Fatalf("%s -%s-> expected ok", tc.from, tc.evt)
		}
		if got != tc.want {
			t.Fatalf("%s -%s-> want %s got %s", tc.from, tc.evt, tc.want, got)
		}
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	cases := []struct {
		from State
		evt  Event
	}{
		{Waiting, EventCountdownElapsed},
		{Waiting, EventAllFinished},
		{Waiting, EventReset},
		{Countdown, EventQuorumReached},
		{Countdown, EventAllFinished},
		{Racing, EventQuorumReached},
		{Racing, EventAbort},
		{Racing, EventReset},
		{Finished, EventQuorumReached},
		{Finished, EventCountdownElapsed},
		{Finished, EventAllFinished},
	}
	for _, tc := range cases {
		if _, ok := Transition(tc.from, tc.evt); ok {
			t.Fatalf("%s -%s-> expected rejection", tc.from, tc.evt)
		}
	}
}
