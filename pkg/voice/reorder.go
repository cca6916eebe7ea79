package voice

import "container/heap"

// iterationInterval is the default period at which a parking lot is
// drained in sequence order (spec §4.4 "Every iteration_interval ms
// (default 500 ms)").
const iterationInterval = 500 // ms

// parkedPacket is one received, AEAD-opened, DAVE-unwrapped payload
// waiting for its turn to be decoded and mixed.
type parkedPacket struct {
	seq     uint16
	ts      uint32
	payload []byte
}

// packetHeap implements container/heap.Interface as a min-heap ordered by
// RTP sequence number, the receive-side analogue of glyphoxa's
// priority-ordered segmentHeap: there priority (descending) plus FIFO
// seq broke ties; here sequence number (ascending, wraparound-aware via
// nextExpected) is itself the ordering key.
type packetHeap []parkedPacket

func (h packetHeap) Len() int { return len(h) }

func (h packetHeap) Less(i, j int) bool {
	return seqLess(h[i].seq, h[j].seq)
}

func (h packetHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *packetHeap) Push(x any) {
	*h = append(*h, x.(parkedPacket))
}

func (h *packetHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	*h = old[:n-1]
	return p
}

// seqLess reports whether a precedes b in RTP sequence order, treating
// the 16-bit space as a ring: a difference with its high bit set means a
// is "behind" after wraparound.
func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}

// parkingLot is the per-speaker receive reorder buffer (spec §4.4
// "Insert {seq, timestamp, payload} into the speaker's parking lot.
// Maintain {min_seq, max_seq, min_ts, max_ts}"). One exists per remote
// SSRC and is never shared across decode threads.
type parkingLot struct {
	heap         packetHeap
	nextExpected uint16
	haveNext     bool

	minSeq, maxSeq uint16
	minTS, maxTS   uint32
}

func newParkingLot() *parkingLot {
	return &parkingLot{}
}

// insert adds a received packet to the lot, updating the running
// seq/timestamp extrema.
func (p *parkingLot) insert(seq uint16, ts uint32, payload []byte) {
	if p.heap.Len() == 0 && !p.haveNext {
		p.minSeq, p.maxSeq = seq, seq
		p.minTS, p.maxTS = ts, ts
	} else {
		if seqLess(seq, p.minSeq) {
			p.minSeq = seq
		}
		if seqLess(p.maxSeq, seq) {
			p.maxSeq = seq
		}
		if ts < p.minTS {
			p.minTS = ts
		}
		if ts > p.maxTS {
			p.maxTS = ts
		}
	}
	heap.Push(&p.heap, parkedPacket{seq: seq, ts: ts, payload: payload})
}

// drain pops every packet in strictly increasing sequence order (spec
// §4.4 step 4 "drains each parking lot in RTP sequence order"), dropping
// any packet whose seq is behind the lot's next-expected seq (spec:
// "Payloads with seq < that lot's next-expected seq are dropped").
func (p *parkingLot) drain() []parkedPacket {
	var out []parkedPacket
	for p.heap.Len() > 0 {
		next := p.heap[0]
		if p.haveNext && seqLess(next.seq, p.nextExpected) {
			heap.Pop(&p.heap)
			continue
		}
		heap.Pop(&p.heap)
		out = append(out, next)
		p.nextExpected = next.seq + 1
		p.haveNext = true
	}
	return out
}

func (p *parkingLot) len() int { return p.heap.Len() }

// gainRamp linearly interpolates a per-user gain from currentGain toward
// endGain across calls to step (spec §4.4 "Gain ramp"). set schedules a
// new target; the ramp prevents audible clicks from an instant jump.
type gainRamp struct {
	current, end float64
	steps        int
	stepsLeft    int
}

func newGainRamp(initial float64) *gainRamp {
	return &gainRamp{current: initial, end: initial}
}

// set schedules a new target gain to be reached after the given number
// of ramp steps (one step per voice iteration).
func (g *gainRamp) set(target float64, steps int) {
	if steps <= 0 {
		g.current = target
		g.end = target
		g.steps = 0
		g.stepsLeft = 0
		return
	}
	g.end = target
	g.steps = steps
	g.stepsLeft = steps
}

// step advances the ramp by one iteration and returns the gain to apply
// for that iteration.
func (g *gainRamp) step() float64 {
	if g.stepsLeft <= 0 {
		g.current = g.end
		return g.current
	}
	increment := (g.end - g.current) / float64(g.stepsLeft)
	g.current += increment
	g.stepsLeft--
	return g.current
}

// applyGain scales pcm in place by gain, clamping to the int16 range so
// a gain above 1.0 cannot wrap around instead of clipping.
func applyGain(pcm []byte, gain float64) {
	if gain == 1.0 {
		return
	}
	samples := bytesToInt16s(pcm)
	for i, s := range samples {
		v := float64(s) * gain
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		samples[i] = int16(v)
	}
	copy(pcm, int16sToBytes(samples))
}
