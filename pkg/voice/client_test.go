package voice

import (
	"context"
	"net"
	"testing"
	"time"
)

func loopbackSockets(t *testing.T) (*udpSocket, *udpSocket) {
	t.Helper()
	a, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP a: %v", err)
	}
	b, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP b: %v", err)
	}
	ac, err := net.DialUDP("udp", nil, b.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP a->b: %v", err)
	}
	bc, err := net.DialUDP("udp", nil, a.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP b->a: %v", err)
	}
	a.Close()
	b.Close()
	return &udpSocket{conn: ac}, &udpSocket{conn: bc}
}

func TestVoiceClient_SendAudioRaw_RejectsEmpty(t *testing.T) {
	sock, other := loopbackSockets(t)
	defer sock.Close()
	defer other.Close()

	vc, err := NewVoiceClient(sock, sessionKey{}, 1, PaceLive, nil)
	if err != nil {
		t.Fatalf("NewVoiceClient: %v", err)
	}
	if err := vc.SendAudioRaw(nil); err != ErrEmptyPayload {
		t.Errorf("SendAudioRaw(nil) = %v, want ErrEmptyPayload", err)
	}
}

func TestVoiceClient_SendAudioRaw_ZeroPadsShortFrame(t *testing.T) {
	sock, other := loopbackSockets(t)
	defer sock.Close()
	defer other.Close()

	vc, err := NewVoiceClient(sock, sessionKey{}, 1, PaceLive, nil)
	if err != nil {
		t.Fatalf("NewVoiceClient: %v", err)
	}
	if err := vc.SendAudioRaw([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SendAudioRaw: %v", err)
	}
	if vc.queue.len() != 1 {
		t.Fatalf("queue length = %d, want 1", vc.queue.len())
	}
}

func TestVoiceClient_SendNextFrame_DeliversOverLoopback(t *testing.T) {
	sock, other := loopbackSockets(t)
	defer sock.Close()
	defer other.Close()

	var key sessionKey
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	vc, err := NewVoiceClient(sock, key, 0xAB, PaceLive, nil)
	if err != nil {
		t.Fatalf("NewVoiceClient: %v", err)
	}
	vc.SetSessionKey([32]byte(key))

	pcm := make([]byte, pcmFrameBytes)
	if err := vc.SendAudioRaw(pcm); err != nil {
		t.Fatalf("SendAudioRaw: %v", err)
	}

	if _, sent := vc.sendNextFrame(); !sent {
		t.Fatal("sendNextFrame reported nothing sent")
	}

	other.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, maxRTPPacketSize)
	n, err := other.recv(buf)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}

	hdr, nonce, payload, ok := openRTP(key, buf[:n])
	if !ok {
		t.Fatal("openRTP failed to authenticate the received packet")
	}
	if hdr.SSRC != 0xAB {
		t.Errorf("received SSRC = %d, want 0xAB", hdr.SSRC)
	}
	if nonce != 1 {
		t.Errorf("received packet nonce = %d, want 1", nonce)
	}
	if len(payload) == 0 {
		t.Error("received an empty opus payload")
	}
}

func TestVoiceClient_PauseStopPreventSend(t *testing.T) {
	sock, other := loopbackSockets(t)
	defer sock.Close()
	defer other.Close()

	vc, err := NewVoiceClient(sock, sessionKey{}, 1, PaceLive, nil)
	if err != nil {
		t.Fatalf("NewVoiceClient: %v", err)
	}
	pcm := make([]byte, pcmFrameBytes)
	if err := vc.SendAudioRaw(pcm); err != nil {
		t.Fatalf("SendAudioRaw: %v", err)
	}

	vc.PauseAudio()
	if _, sent := vc.sendNextFrame(); sent {
		t.Error("sendNextFrame sent a frame while paused")
	}

	vc.Resume()
	if _, sent := vc.sendNextFrame(); !sent {
		t.Error("sendNextFrame did not send after Resume")
	}

	if err := vc.SendAudioRaw(pcm); err != nil {
		t.Fatalf("SendAudioRaw: %v", err)
	}
	vc.StopAudio()
	if vc.queue.len() != 0 {
		t.Errorf("queue length after StopAudio = %d, want 0", vc.queue.len())
	}
}

func TestVoiceClient_MarkersAndTracksRemaining(t *testing.T) {
	sock, other := loopbackSockets(t)
	defer sock.Close()
	defer other.Close()

	vc, err := NewVoiceClient(sock, sessionKey{}, 1, PaceLive, nil)
	if err != nil {
		t.Fatalf("NewVoiceClient: %v", err)
	}
	pcm := make([]byte, pcmFrameBytes)
	vc.SendAudioRaw(pcm)
	vc.InsertMarker("track-2")
	vc.SendAudioRaw(pcm)

	if got := vc.GetTracksRemaining(); got != 2 {
		t.Errorf("GetTracksRemaining = %d, want 2", got)
	}
	vc.SkipToNextMarker()
	if got := vc.GetTracksRemaining(); got != 1 {
		t.Errorf("GetTracksRemaining after skip = %d, want 1", got)
	}
}

func TestVoiceClient_GetPrivacyCode_NilDaveReturnsEmpty(t *testing.T) {
	sock, other := loopbackSockets(t)
	defer sock.Close()
	defer other.Close()

	vc, err := NewVoiceClient(sock, sessionKey{}, 1, PaceLive, nil)
	if err != nil {
		t.Fatalf("NewVoiceClient: %v", err)
	}
	done := make(chan string, 1)
	vc.GetPrivacyCode(context.Background(), func(code string) { done <- code })
	if got := <-done; got != "" {
		t.Errorf("GetPrivacyCode without dave = %q, want empty", got)
	}
}
