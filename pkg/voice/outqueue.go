package voice

import (
	"sync"
	"time"
)

// frameDuration is the fixed duration of one Opus frame this pipeline
// emits (spec §4.4 "Timescale").
const frameDuration = 20 * time.Millisecond

// markerSentinel is the distinguished payload value that marks a queue
// entry as a track marker rather than audio (spec §4.4 "Track markers").
// No legitimate Opus packet is ever exactly these two bytes.
var markerSentinel = []byte{0xFF, 0xFE}

func isMarkerPayload(payload []byte) bool {
	return len(payload) == 2 && payload[0] == markerSentinel[0] && payload[1] == markerSentinel[1]
}

// queueEntry is one unit of outbound audio: either an encoded Opus frame
// ready to be sealed and sent, or part of a track boundary. A boundary is
// two entries: one whose Payload is markerSentinel, followed by one that
// carries only the caller-supplied Meta.
type queueEntry struct {
	Payload  []byte
	Duration time.Duration
	Meta     any
}

// outQueue is the per-session outbound audio queue (spec §4.4 "Track
// markers", "Silence"). It is safe for concurrent producers/consumers.
type outQueue struct {
	mu      sync.Mutex
	entries []queueEntry
}

func newOutQueue() *outQueue {
	return &outQueue{}
}

// push appends one audio frame to the queue.
func (q *outQueue) push(payload []byte, dur time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, queueEntry{Payload: payload, Duration: dur})
}

// insertMarker appends a marker sentinel followed by meta (spec §4.4
// "insert_marker(meta) appends both the sentinel and meta").
func (q *outQueue) insertMarker(meta any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, queueEntry{Payload: markerSentinel})
	q.entries = append(q.entries, queueEntry{Meta: meta})
}

// pushSilence enqueues n frames of a fixed Opus silence packet (spec §4.4
// "Silence"). The canonical Opus silence frame is 3 bytes: 0xF8 0xFF 0xFE.
var opusSilenceFrame = []byte{0xF8, 0xFF, 0xFE}

func (q *outQueue) pushSilence(units int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 0; i < units; i++ {
		q.entries = append(q.entries, queueEntry{Payload: opusSilenceFrame, Duration: frameDuration})
	}
}

// pop removes and returns the first entry, or ok=false if the queue is
// empty.
func (q *outQueue) pop() (queueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return queueEntry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

// skipToNextMarker pops entries until the next marker sentinel (inclusive
// of that marker's metadata entry), or empties the queue if none remains
// (spec §4.4 "skip_to_next_marker").
func (q *outQueue) skipToNextMarker() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if isMarkerPayload(e.Payload) {
			// drop the sentinel and its following meta entry too.
			end := i + 2
			if end > len(q.entries) {
				end = len(q.entries)
			}
			q.entries = q.entries[end:]
			return
		}
	}
	q.entries = nil
}

// tracksRemaining returns the marker count plus one when the queue is
// non-empty, else zero (spec §4.4 "get_tracks_remaining").
func (q *outQueue) tracksRemaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return 0
	}
	markers := 0
	for _, e := range q.entries {
		if isMarkerPayload(e.Payload) {
			markers++
		}
	}
	return markers + 1
}

func (q *outQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// inferOpusDuration falls back to the standard 20ms frame duration when a
// caller pushing a raw Opus packet didn't supply one explicitly (spec
// §4.4 "duration is either supplied or inferred (2.5, 5, 10, 20, 40, 60
// ms)"); only the common 20ms case is inferred automatically, the rest
// must be supplied by the caller.
func inferOpusDuration(explicit time.Duration) time.Duration {
	if explicit > 0 {
		return explicit
	}
	return frameDuration
}
