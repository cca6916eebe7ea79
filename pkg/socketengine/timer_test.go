package socketengine

import (
	"testing"
	"time"
)

func TestTimerWheel_FiresAfterPeriod(t *testing.T) {
	w := newTimerWheel()
	base := time.Unix(0, 0)
	w.nowFunc = func() time.Time { return base }

	fired := 0
	w.start(1.0, func() { fired++ })

	w.fireDue(base.Add(500 * time.Millisecond))
	if fired != 0 {
		t.Fatalf("fired before period elapsed: %d", fired)
	}

	w.fireDue(base.Add(1 * time.Second))
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
}

func TestTimerWheel_NoCatchUpBurst(t *testing.T) {
	w := newTimerWheel()
	base := time.Unix(0, 0)
	w.nowFunc = func() time.Time { return base }

	fired := 0
	w.start(1.0, func() { fired++ })

	// Jump far past several missed periods; the timer must fire exactly
	// once, not once per missed period.
	w.fireDue(base.Add(10 * time.Second))
	if fired != 1 {
		t.Fatalf("fired = %d, want exactly 1 (no catch-up bursts)", fired)
	}
}

func TestTimerWheel_StopIsIdempotentAndPreventsFiring(t *testing.T) {
	w := newTimerWheel()
	base := time.Unix(0, 0)
	w.nowFunc = func() time.Time { return base }

	fired := 0
	h := w.start(1.0, func() { fired++ })
	w.stop(h)
	w.stop(h)

	w.fireDue(base.Add(5 * time.Second))
	if fired != 0 {
		t.Fatalf("stopped timer fired %d times", fired)
	}
}

func TestTimerWheel_MultipleTimersFireInDeadlineOrder(t *testing.T) {
	w := newTimerWheel()
	base := time.Unix(0, 0)
	w.nowFunc = func() time.Time { return base }

	var order []string
	w.start(2.0, func() { order = append(order, "slow") })
	w.start(1.0, func() { order = append(order, "fast") })

	w.fireDue(base.Add(2 * time.Second))
	if len(order) != 2 || order[0] != "fast" || order[1] != "slow" {
		t.Fatalf("unexpected fire order: %v", order)
	}
}

func TestTimerWheel_NextDeadlineEmptyWhenNoTimers(t *testing.T) {
	w := newTimerWheel()
	if _, ok := w.nextDeadline(); ok {
		t.Fatal("expected no deadline for empty wheel")
	}
}
