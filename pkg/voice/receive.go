package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ReceivedAudio is delivered to the caller once per drained packet per
// speaker, keyed by that speaker's SSRC. No combined mix of all speakers
// is delivered.
type ReceivedAudio struct {
	SSRC uint32
	PCM  []byte
}

// Receiver owns the per-speaker parking lots and decoders on the receive
// side of the RTP pipeline (spec §4.4 "Receiving").
type Receiver struct {
	log *slog.Logger

	mu      sync.Mutex
	lots    map[uint32]*parkingLot
	decoder map[uint32]*speakerDecoder
	speaker map[uint32]string // ssrc -> user id, set by the control channel's speaking events
	gains   map[string]*gainRamp

	key             sessionKey
	transform       frameTransform
	epoch           uint64
	consecutiveFail int

	onReceive func(ReceivedAudio)
	onFatal   func(error)
}

// NewReceiver constructs a Receiver that delivers decoded frames to
// onReceive and reports an unrecoverable AEAD failure run to onFatal
// (spec §9 Open Questions, AEAD failure threshold).
func NewReceiver(log *slog.Logger, onReceive func(ReceivedAudio), onFatal func(error)) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{
		log:       log,
		lots:      make(map[uint32]*parkingLot),
		decoder:   make(map[uint32]*speakerDecoder),
		speaker:   make(map[uint32]string),
		gains:     make(map[string]*gainRamp),
		onReceive: onReceive,
		onFatal:   onFatal,
	}
}

// MapSpeaker records which user a given SSRC belongs to, so gain control
// and per-user delivery can key off a stable user id instead of the RTP
// stream identifier (spec §4.3 step 3 associates SSRC with a joiner at
// Ready time).
func (r *Receiver) MapSpeaker(ssrc uint32, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speaker[ssrc] = userID
}

func (r *Receiver) userFor(ssrc uint32) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.speaker[ssrc]; ok {
		return id
	}
	return ""
}

// setUserGain schedules a linear gain ramp for userID (spec §4.4 "Gain
// ramp"); called by VoiceClient.SetUserGain.
func (r *Receiver) setUserGain(userID string, target float64, steps int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ramp, ok := r.gains[userID]
	if !ok {
		ramp = newGainRamp(1.0)
		r.gains[userID] = ramp
	}
	ramp.set(target, steps)
}

// stepUserGain advances and returns the current ramped gain for userID,
// defaulting to unity gain for a user with no ramp scheduled.
func (r *Receiver) stepUserGain(userID string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ramp, ok := r.gains[userID]
	if !ok {
		return 1.0
	}
	return ramp.step()
}

func (r *Receiver) SetSessionKey(key [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.key = sessionKey(key)
}

func (r *Receiver) SetEpochKey(epoch uint64, mediaKey [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch = epoch
	r.transform = newMediaKeyTransform(epoch, mediaKey)
}

// HandlePacket processes one received UDP datagram (spec §4.4
// "Receiving" steps 1-3). Packets are parked under their SSRC whether or
// not it has been mapped to a speaker; AEAD failures are dropped with a
// warning and counted toward the failure threshold. The
// sender's packet_nonce travels in the packet itself (see openRTP), so
// Receiver needs no per-sender nonce-tracking state of its own.
func (r *Receiver) HandlePacket(packet []byte) {
	r.mu.Lock()
	key := r.key
	transform := r.transform
	epoch := r.epoch
	r.mu.Unlock()

	hdr, packetNonce, sealed, ok := openRTP(key, packet)
	if !ok {
		r.recordAEADFailure()
		return
	}

	payload := sealed
	if transform != nil {
		opened, err := transform.unprotect(epoch, packetNonce, sealed)
		if err != nil {
			r.recordAEADFailure()
			return
		}
		payload = opened
		r.resetAEADFailures()
	} else {
		r.resetAEADFailures()
	}

	r.lotFor(hdr.SSRC).insert(hdr.Sequence, hdr.Timestamp, payload)
}

func (r *Receiver) lotFor(ssrc uint32) *parkingLot {
	r.mu.Lock()
	defer r.mu.Unlock()
	lot, ok := r.lots[ssrc]
	if !ok {
		lot = newParkingLot()
		r.lots[ssrc] = lot
	}
	return lot
}

func (r *Receiver) decoderFor(ssrc uint32) (*speakerDecoder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dec, ok := r.decoder[ssrc]
	if ok {
		return dec, nil
	}
	dec, err := newSpeakerDecoder()
	if err != nil {
		return nil, err
	}
	r.decoder[ssrc] = dec
	return dec, nil
}

func (r *Receiver) recordAEADFailure() {
	r.mu.Lock()
	r.consecutiveFail++
	n := r.consecutiveFail
	r.mu.Unlock()
	r.log.Warn("voice: rtp aead open failed")
	if n >= maxAEADFailures && r.onFatal != nil {
		r.onFatal(errTooManyAEADFailures)
	}
}

func (r *Receiver) resetAEADFailures() {
	r.mu.Lock()
	r.consecutiveFail = 0
	r.mu.Unlock()
}

// drain runs one courier pass over every parking lot (spec §4.4 step 4):
// decode each lot's in-order packets and deliver a voice_receive event
// per speaker.
func (r *Receiver) drain() {
	r.mu.Lock()
	ssrcs := make([]uint32, 0, len(r.lots))
	for ssrc := range r.lots {
		ssrcs = append(ssrcs, ssrc)
	}
	r.mu.Unlock()

	for _, ssrc := range ssrcs {
		lot := r.lotFor(ssrc)
		packets := lot.drain()
		if len(packets) == 0 {
			continue
		}
		dec, err := r.decoderFor(ssrc)
		if err != nil {
			r.log.Warn("voice: create speaker decoder failed", "ssrc", ssrc, "err", err)
			continue
		}
		userID := r.userFor(ssrc)
		for _, p := range packets {
			pcm, err := dec.decode(p.payload)
			if err != nil {
				r.log.Warn("voice: opus decode failed", "ssrc", ssrc, "err", err)
				continue
			}
			applyGain(pcm, r.stepUserGain(userID))
			if r.onReceive != nil {
				r.onReceive(ReceivedAudio{SSRC: ssrc, PCM: pcm})
			}
		}
	}
}

// RunCourier drains every parking lot every iteration_interval (spec
// §4.4 step 4, default 500ms) until ctx is canceled.
func (r *Receiver) RunCourier(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = iterationInterval * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain()
		}
	}
}

type aeadFailureError string

func (e aeadFailureError) Error() string { return string(e) }

const errTooManyAEADFailures = aeadFailureError("voice: too many consecutive AEAD open failures")
