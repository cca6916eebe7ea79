package voice

import "time"

// PaceMode selects how the sender throttles outbound packets to match
// real time (spec §4.4 "Send pacing").
type PaceMode int

const (
	// PaceRecorded sleeps between packets on a high-resolution clock,
	// carrying the sleep remainder forward so long-run rate matches
	// real time even though each individual sleep is imprecise.
	PaceRecorded PaceMode = iota
	// PaceLive applies no pacing at all; packets are released as fast
	// as the UDP socket accepts them.
	PaceLive
	// PaceOverlap sleeps for slightly less than the frame duration and
	// busy-waits the remainder, trading CPU for lower jitter.
	PaceOverlap
)

// overlapBusyWaitBudget is the portion of one frame duration that
// PaceOverlap spends busy-waiting instead of sleeping, to correct for OS
// scheduler jitter on the sleep itself.
const overlapBusyWaitBudget = 2 * time.Millisecond

// pacer releases at most one packet per packet-duration under the
// configured PaceMode (spec §4.4 "Send pacing").
type pacer struct {
	mode      PaceMode
	remainder time.Duration
	lastSend  time.Time
}

func newPacer(mode PaceMode) *pacer {
	return &pacer{mode: mode}
}

// wait blocks, if the pacing mode requires it, until dur has elapsed
// since the previous call's release point.
func (p *pacer) wait(dur time.Duration) {
	switch p.mode {
	case PaceLive:
		return
	case PaceOverlap:
		p.waitOverlap(dur)
	default:
		p.waitRecorded(dur)
	}
}

func (p *pacer) waitRecorded(dur time.Duration) {
	now := time.Now()
	if p.lastSend.IsZero() {
		p.lastSend = now
		return
	}
	target := p.lastSend.Add(dur + p.remainder)
	if target.After(now) {
		time.Sleep(target.Sub(now))
		p.remainder = 0
	} else {
		// we're behind schedule; carry the overshoot forward so the
		// long-term average still matches dur per packet.
		p.remainder = target.Sub(now)
	}
	p.lastSend = time.Now()
}

func (p *pacer) waitOverlap(dur time.Duration) {
	now := time.Now()
	if p.lastSend.IsZero() {
		p.lastSend = now
		return
	}
	target := p.lastSend.Add(dur)
	sleepUntil := target.Add(-overlapBusyWaitBudget)
	if sleepUntil.After(now) {
		time.Sleep(sleepUntil.Sub(now))
	}
	for time.Now().Before(target) {
		// busy-wait the last sliver to land release time precisely.
	}
	p.lastSend = time.Now()
}
