package voice

import "testing"

func TestOutQueue_PushPop(t *testing.T) {
	q := newOutQueue()
	if q.len() != 0 {
		t.Fatalf("new queue length = %d, want 0", q.len())
	}
	q.push([]byte("frame1"), frameDuration)
	q.push([]byte("frame2"), frameDuration)

	e1, ok := q.pop()
	if !ok || string(e1.Payload) != "frame1" {
		t.Fatalf("first pop = %+v, ok=%v", e1, ok)
	}
	e2, ok := q.pop()
	if !ok || string(e2.Payload) != "frame2" {
		t.Fatalf("second pop = %+v, ok=%v", e2, ok)
	}
	if _, ok := q.pop(); ok {
		t.Error("pop on empty queue returned ok=true")
	}
}

func TestOutQueue_TracksRemaining(t *testing.T) {
	q := newOutQueue()
	if got := q.tracksRemaining(); got != 0 {
		t.Fatalf("tracksRemaining on empty queue = %d, want 0", got)
	}

	q.push([]byte("frame1"), frameDuration)
	if got := q.tracksRemaining(); got != 1 {
		t.Errorf("tracksRemaining with no markers = %d, want 1", got)
	}

	q.insertMarker("track-2")
	q.push([]byte("frame2"), frameDuration)
	if got := q.tracksRemaining(); got != 2 {
		t.Errorf("tracksRemaining with one marker = %d, want 2", got)
	}
}

func TestOutQueue_SkipToNextMarker(t *testing.T) {
	q := newOutQueue()
	q.push([]byte("frame1"), frameDuration)
	q.insertMarker("track-2")
	q.push([]byte("frame2"), frameDuration)

	q.skipToNextMarker()

	e, ok := q.pop()
	if !ok || string(e.Payload) != "frame2" {
		t.Fatalf("after skipToNextMarker, pop = %+v, ok=%v, want frame2", e, ok)
	}
	if _, ok := q.pop(); ok {
		t.Error("queue had extra entries after skip and one pop")
	}
}

func TestOutQueue_SkipToNextMarker_EmptiesQueueWhenNoMarker(t *testing.T) {
	q := newOutQueue()
	q.push([]byte("frame1"), frameDuration)
	q.push([]byte("frame2"), frameDuration)

	q.skipToNextMarker()
	if q.len() != 0 {
		t.Errorf("queue length after skip with no marker = %d, want 0", q.len())
	}
}

func TestOutQueue_PushSilence(t *testing.T) {
	q := newOutQueue()
	q.pushSilence(3)
	if q.len() != 3 {
		t.Fatalf("queue length after pushSilence(3) = %d, want 3", q.len())
	}
	e, _ := q.pop()
	if string(e.Payload) != string(opusSilenceFrame) {
		t.Error("pushSilence did not enqueue the silence frame payload")
	}
	if e.Duration != frameDuration {
		t.Errorf("silence frame duration = %v, want %v", e.Duration, frameDuration)
	}
}

func TestIsMarkerPayload(t *testing.T) {
	if !isMarkerPayload(markerSentinel) {
		t.Error("isMarkerPayload(markerSentinel) = false, want true")
	}
	if isMarkerPayload([]byte("frame")) {
		t.Error("isMarkerPayload(regular frame) = true, want false")
	}
	if isMarkerPayload(opusSilenceFrame) {
		t.Error("isMarkerPayload(silence frame) = true, want false")
	}
}

func TestInferOpusDuration(t *testing.T) {
	if got := inferOpusDuration(0); got != frameDuration {
		t.Errorf("inferOpusDuration(0) = %v, want %v", got, frameDuration)
	}
	const explicit = 40 * frameDuration
	if got := inferOpusDuration(explicit); got != explicit {
		t.Errorf("inferOpusDuration(explicit) = %v, want %v", got, explicit)
	}
}
