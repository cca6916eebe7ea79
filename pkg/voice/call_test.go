package voice

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/driftglass/chorus/pkg/transport"
)

func TestCall_OnHello_StartsHeartbeat(t *testing.T) {
	engine := &fakeEngine{}
	call, err := NewCall(engine, CallOptions{})
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}

	call.onHello(Hello{HeartbeatIntervalMS: 5000})
	if len(engine.started) != 1 || engine.started[0] != 5.0 {
		t.Errorf("heartbeat periods = %v, want [5.0]", engine.started)
	}
}

func TestCall_OnReady_DiscoversUDPAndSendsSelectProtocol(t *testing.T) {
	srv := fakeDiscoveryServer(t, "203.0.113.9", 40099)
	defer srv.Close()
	host, portStr, err := net.SplitHostPort(srv.LocalAddr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port := mustAtoiCall(t, portStr)

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	call, err := NewCall(&fakeEngine{}, CallOptions{})
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}
	conn := transport.New(transport.Config{Role: transport.RoleServer, Handler: call.control})
	call.control.Attach(conn)
	go conn.Accept(context.Background(), serverSide)

	deadline := time.Now().Add(time.Second)
	for conn.State() != transport.StateConnected && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.State() != transport.StateConnected {
		t.Fatal("control connection never reached connected state")
	}

	call.onReady(Ready{SSRC: 0xC0FFEE, UDPHost: host, UDPPort: port, Modes: []string{voiceMode}})

	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := clientSide.Read(buf)
	if err != nil {
		t.Fatalf("read select_protocol frame: %v", err)
	}
	op := Opcode(binary.BigEndian.Uint16(buf[4:6]))
	if op != OpSelectProtocol {
		t.Errorf("opcode = %d, want OpSelectProtocol (%d)", op, OpSelectProtocol)
	}
}

func mustAtoiCall(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			t.Fatalf("not a number: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func TestCall_OnSessionDescription_WiresVoiceClient(t *testing.T) {
	sock, other := loopbackSockets(t)
	defer sock.Close()
	defer other.Close()

	call, err := NewCall(&fakeEngine{}, CallOptions{PaceMode: PaceLive})
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}
	call.mu.Lock()
	call.udp = sock
	call.ssrc = 0xAB
	call.mu.Unlock()

	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	call.onSessionDescription(SessionDescription{Mode: voiceMode, SecretKey: key[:]})
	defer call.Close()

	client := call.Client()
	if client == nil {
		t.Fatal("onSessionDescription did not construct a VoiceClient")
	}

	pcm := make([]byte, pcmFrameBytes)
	if err := client.SendAudioRaw(pcm); err != nil {
		t.Fatalf("SendAudioRaw: %v", err)
	}
	if _, sent := client.sendNextFrame(); !sent {
		t.Fatal("sendNextFrame reported nothing sent")
	}
}

func TestCall_OnSpeaking_MapsSSRCToSpeaker(t *testing.T) {
	call, err := NewCall(&fakeEngine{}, CallOptions{})
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}
	call.onSpeaking(Speaking{SSRC: 77, Speaking: true})
	if got := call.Receiver().userFor(77); got != "77" {
		t.Errorf("userFor(77) = %q, want \"77\"", got)
	}
}

func TestCall_OnInvalidSession_FiresOnFatalOnce(t *testing.T) {
	calls := 0
	call, err := NewCall(&fakeEngine{}, CallOptions{OnFatal: func(error) { calls++ }})
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}
	call.onInvalidSession()
	call.onInvalidSession()
	if calls != 1 {
		t.Errorf("OnFatal fired %d times, want 1", calls)
	}
}
