package voice

import (
	"testing"
	"time"
)

func TestPacer_LiveModeDoesNotSleep(t *testing.T) {
	p := newPacer(PaceLive)
	start := time.Now()
	p.wait(50 * time.Millisecond)
	p.wait(50 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > 5*time.Millisecond {
		t.Errorf("PaceLive waited %v, want near-zero", elapsed)
	}
}

func TestPacer_RecordedModePacesAtFrameDuration(t *testing.T) {
	p := newPacer(PaceRecorded)
	const dur = 10 * time.Millisecond

	p.wait(dur) // first call establishes the baseline, no sleep
	start := time.Now()
	p.wait(dur)
	elapsed := time.Since(start)
	if elapsed < dur/2 {
		t.Errorf("PaceRecorded second wait took %v, want at least ~%v", elapsed, dur)
	}
}

func TestPacer_OverlapModePacesNearFrameDuration(t *testing.T) {
	p := newPacer(PaceOverlap)
	const dur = 10 * time.Millisecond

	p.wait(dur)
	start := time.Now()
	p.wait(dur)
	elapsed := time.Since(start)
	if elapsed < dur/2 {
		t.Errorf("PaceOverlap second wait took %v, want at least ~%v", elapsed, dur)
	}
}
