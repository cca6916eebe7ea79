package voice

import (
	"fmt"

	"layeh.com/gopus"
)

// Voice media is always 48 kHz stereo 16-bit PCM; Opus frames are 20 ms
// (spec §4.4 "Timescale").
const (
	sampleRate     = 48000
	channels       = 2
	frameMillis    = 20
	samplesPerChan = sampleRate * frameMillis / 1000 // 960
	bytesPerSample = 2
	// pcmFrameBytes is the exact PCM size of one stereo 20ms frame:
	// 960 samples/channel * 2 channels * 2 bytes/sample = 3840.
	pcmFrameBytes = samplesPerChan * channels * bytesPerSample
)

// opusCodec wraps the send side's one Opus encoder. Decoding uses a
// separate [speakerDecoder] per remote SSRC, held by the Receiver; each
// decoder carries its own state across frames and is never shared across
// speakers (spec §4.4 "decoder is per-speaker, never shared").
type opusCodec struct {
	enc *gopus.Encoder
}

func newOpusCodec() (*opusCodec, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("voice: create opus encoder: %w", err)
	}
	return &opusCodec{enc: enc}, nil
}

// encode turns one full 3840-byte PCM frame into an Opus packet.
func (c *opusCodec) encode(pcm []byte) ([]byte, error) {
	samples := bytesToInt16s(pcm)
	opus, err := c.enc.Encode(samples, samplesPerChan, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("voice: opus encode: %w", err)
	}
	return opus, nil
}

// speakerDecoder is a per-SSRC Opus decoder (spec §4.4 receiving step 5).
type speakerDecoder struct {
	dec *gopus.Decoder
}

func newSpeakerDecoder() (*speakerDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("voice: create opus decoder: %w", err)
	}
	return &speakerDecoder{dec: dec}, nil
}

func (d *speakerDecoder) decode(opus []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(opus, samplesPerChan, false)
	if err != nil {
		return nil, fmt.Errorf("voice: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// zeroPadToFrame zero-pads pcm up to pcmFrameBytes if it is shorter (spec
// §4.4 sending step 2: "If L < 11520, zero-pad to 11520 before encoding").
// Note: 11520 in the source specification's timescale corresponds to this
// package's pcmFrameBytes constant for 48kHz stereo 20ms framing.
func zeroPadToFrame(pcm []byte) []byte {
	if len(pcm) >= pcmFrameBytes {
		return pcm
	}
	padded := make([]byte, pcmFrameBytes)
	copy(padded, pcm)
	return padded
}
