package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/driftglass/chorus/pkg/dave"
	"github.com/driftglass/chorus/pkg/mls"
)

// ErrEmptyPayload is returned by SendAudioRaw/SendAudioOpus for a 0-byte
// buffer (spec §8 boundary behavior "A 0-byte payload for send_audio_raw
// is rejected").
var ErrEmptyPayload = errors.New("voice: payload must not be empty")

// VoiceClient is the per-call public API over the RTP audio pipeline
// (spec §6.4): encode/seal/enqueue on the send side, plus SetUserGain,
// which it forwards to the attached Receiver that owns the receive-side
// gain/reorder state. Control channel signaling and MLS/DAVE
// wiring happen alongside it through ControlChannel and dave.Session;
// VoiceClient itself only owns the media path.
type VoiceClient struct {
	sock  *udpSocket
	queue *outQueue
	pace  *pacer
	seq   *sequencer
	codec *opusCodec

	mu        sync.Mutex
	key       sessionKey
	transform frameTransform
	epoch     uint64
	paused    bool

	packetNonce uint32

	dave *dave.Session
	recv *Receiver
}

// NewVoiceClient constructs a client bound to an already-discovered UDP
// socket, ready to send under key and ssrc. daveSession may be nil when
// end-to-end voice encryption is not enabled for this call.
func NewVoiceClient(sock *udpSocket, key sessionKey, ssrc uint32, mode PaceMode, daveSession *dave.Session) (*VoiceClient, error) {
	codec, err := newOpusCodec()
	if err != nil {
		return nil, err
	}

	vc := &VoiceClient{
		sock:  sock,
		queue: newOutQueue(),
		pace:  newPacer(mode),
		seq:   &sequencer{ssrc: ssrc},
		codec: codec,
		dave:  daveSession,
	}
	return vc, nil
}

// AttachReceiver wires the call's receive-side pipeline so SetUserGain
// can reach the per-speaker gain ramps it controls.
func (c *VoiceClient) AttachReceiver(r *Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recv = r
}

// SetEpochKey installs the per-epoch DAVE media key (spec §4.5 "media
// frames are additionally wrapped"). Call this from the dave.Session's
// onEpochChange callback.
func (c *VoiceClient) SetEpochKey(epoch uint64, mediaKey [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch = epoch
	c.transform = newMediaKeyTransform(epoch, mediaKey)
}

// SetSessionKey installs the 32-byte secret key negotiated over the
// control channel's session description (spec §4.3 step 6).
func (c *VoiceClient) SetSessionKey(key [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = sessionKey(key)
}

// SendAudioRaw encodes one PCM buffer to Opus and enqueues it (spec §4.4
// "Sending (PCM in)").
func (c *VoiceClient) SendAudioRaw(pcm []byte) error {
	if len(pcm) == 0 {
		return ErrEmptyPayload
	}
	framed := zeroPadToFrame(pcm)
	opus, err := c.codec.encode(framed)
	if err != nil {
		return err
	}
	c.queue.push(opus, frameDuration)
	return nil
}

// SendAudioOpus enqueues an already-Opus-encoded frame (spec §4.4
// "Sending (Opus in)"). dur may be zero to infer the standard 20ms frame.
func (c *VoiceClient) SendAudioOpus(opus []byte, dur time.Duration) error {
	if len(opus) == 0 {
		return ErrEmptyPayload
	}
	c.queue.push(opus, inferOpusDuration(dur))
	return nil
}

// SendSilence enqueues duration worth of the fixed Opus silence frame
// (spec §4.4 "Silence").
func (c *VoiceClient) SendSilence(duration time.Duration) {
	units := int(duration / frameDuration)
	if units <= 0 {
		units = 1
	}
	c.queue.pushSilence(units)
}

// PauseAudio stops the send loop from draining the queue without
// discarding it.
func (c *VoiceClient) PauseAudio() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// StopAudio pauses and discards all queued audio.
func (c *VoiceClient) StopAudio() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	for {
		if _, ok := c.queue.pop(); !ok {
			break
		}
	}
}

// Resume clears the paused flag, letting the send loop drain the queue
// again.
func (c *VoiceClient) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// InsertMarker appends a track boundary to the outbound queue (spec §4.4
// "Track markers").
func (c *VoiceClient) InsertMarker(meta any) {
	c.queue.insertMarker(meta)
}

// SkipToNextMarker discards queued audio up to the next marker (spec
// §4.4 "skip_to_next_marker").
func (c *VoiceClient) SkipToNextMarker() {
	c.queue.skipToNextMarker()
}

// GetTracksRemaining reports marker-delimited tracks left in the queue
// (spec §4.4 "get_tracks_remaining").
func (c *VoiceClient) GetTracksRemaining() int {
	return c.queue.tracksRemaining()
}

// SetUserGain schedules a linear gain ramp for userID toward target over
// steps voice iterations (spec §4.4 "Gain ramp"). Forwarded to the
// attached Receiver, which owns the receive-side mix this gain applies
// to; a no-op if no Receiver has been attached yet.
func (c *VoiceClient) SetUserGain(userID string, target float64, steps int) {
	c.mu.Lock()
	r := c.recv
	c.mu.Unlock()
	if r != nil {
		r.setUserGain(userID, target, steps)
	}
}

// GetPrivacyCode returns this session's own display code: the privacy
// code computed against its own identity, readable locally before any
// peer has compared codes (spec §4.5 "Privacy code"; §6.4
// "get_privacy_code"). Returns "" if DAVE is not active for this call.
func (c *VoiceClient) GetPrivacyCode(ctx context.Context, cb func(code string)) {
	if c.dave == nil {
		cb("")
		return
	}
	c.dave.GetPrivacyCode(ctx, c.dave.LocalSignaturePublicKey(), cb)
}

// GetUserPrivacyCode returns the privacy code shared with a specific
// peer (spec §6.4 "get_user_privacy_code"): both sides derive the same
// string from their two signature keys and the current epoch
// authenticator, so they can be read aloud and compared.
func (c *VoiceClient) GetUserPrivacyCode(ctx context.Context, peerSigPub mls.SignaturePublicKey, cb func(code string)) {
	if c.dave == nil {
		cb("")
		return
	}
	c.dave.GetPrivacyCode(ctx, peerSigPub, cb)
}

// sendNextFrame pops and sends one queue entry, returning false if the
// queue was empty, the client is paused/stopped, or the entry was a track
// marker (consumed together with its metadata entry, nothing sent).
func (c *VoiceClient) sendNextFrame() (time.Duration, bool) {
	c.mu.Lock()
	paused := c.paused
	key := c.key
	transform := c.transform
	epoch := c.epoch
	c.mu.Unlock()
	if paused {
		return 0, false
	}

	e, ok := c.queue.pop()
	if !ok {
		return 0, false
	}
	if isMarkerPayload(e.Payload) {
		c.queue.pop() // the marker's metadata entry
		return 0, false
	}

	nonce := c.nextPacketNonce()

	payload := e.Payload
	if transform != nil {
		var err error
		payload, err = transform.protect(epoch, nonce, payload)
		if err != nil {
			return 0, false
		}
	}

	hdr := c.seq.next(samplesPerChan)
	packet := sealRTP(key, hdr, nonce, payload)
	if err := c.sock.send(packet); err != nil {
		return 0, false
	}
	return e.Duration, true
}

// nextPacketNonce advances the session's single packet_nonce counter
// (spec §8 "packet_nonce is strictly increasing"; §4.4 invariant "Packet
// nonce is never reused"), shared between the optional DAVE frame
// transform and the outer secretbox seal so both layers key off the same
// monotonic value.
func (c *VoiceClient) nextPacketNonce() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packetNonce++
	return c.packetNonce
}

// RunSendLoop drains the outbound queue under the configured pacing
// until ctx is canceled (spec §4.4 "Send pacing"). Intended to run on
// its own goroutine for the lifetime of the call.
func (c *VoiceClient) RunSendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		dur, sent := c.sendNextFrame()
		if !sent {
			// nothing to send; avoid a hot spin while idle.
			time.Sleep(frameDuration)
			continue
		}
		c.pace.wait(dur)
	}
}
