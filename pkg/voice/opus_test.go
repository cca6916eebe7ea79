package voice

import "testing"

func TestOpusCodec_EncodeDecodeRoundTrip(t *testing.T) {
	codec, err := newOpusCodec()
	if err != nil {
		t.Fatalf("newOpusCodec: %v", err)
	}
	dec, err := newSpeakerDecoder()
	if err != nil {
		t.Fatalf("newSpeakerDecoder: %v", err)
	}

	pcm := make([]byte, pcmFrameBytes)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	opus, err := codec.encode(pcm)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(opus) == 0 {
		t.Fatal("encode produced an empty packet")
	}

	out, err := dec.decode(opus)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != pcmFrameBytes {
		t.Errorf("decoded frame length = %d, want %d", len(out), pcmFrameBytes)
	}
}

func TestZeroPadToFrame(t *testing.T) {
	short := []byte{1, 2, 3}
	padded := zeroPadToFrame(short)
	if len(padded) != pcmFrameBytes {
		t.Fatalf("len(padded) = %d, want %d", len(padded), pcmFrameBytes)
	}
	if padded[0] != 1 || padded[1] != 2 || padded[2] != 3 {
		t.Error("zeroPadToFrame altered the leading bytes")
	}
	for _, b := range padded[3:] {
		if b != 0 {
			t.Fatal("zeroPadToFrame left non-zero padding")
		}
	}

	full := make([]byte, pcmFrameBytes)
	if got := zeroPadToFrame(full); len(got) != pcmFrameBytes {
		t.Errorf("zeroPadToFrame changed length of an already-full frame: %d", len(got))
	}
}

func TestInt16ByteRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	b := int16sToBytes(samples)
	back := bytesToInt16s(b)
	if len(back) != len(samples) {
		t.Fatalf("len = %d, want %d", len(back), len(samples))
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, back[i], samples[i])
		}
	}
}
