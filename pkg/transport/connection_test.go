package transport

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects every buffer handed to it, consuming the whole
// buffer each call and echoing nothing.
type recordingHandler struct {
	mu       sync.Mutex
	received bytes.Buffer
	drains   int
	closeOn  []byte
}

func (h *recordingHandler) HandleBuffer(c *Connection, data []byte) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received.Write(data)
	if h.closeOn != nil && bytes.Contains(data, h.closeOn) {
		return len(data), false
	}
	return len(data), true
}

func (h *recordingHandler) OnBufferDrained(c *Connection) {
	h.mu.Lock()
	h.drains++
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.received.String()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestConnection_AcceptPlaintext_ReceivesData(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	handler := &recordingHandler{}
	conn := New(Config{
		Role:    RoleServer,
		Handler: handler,
	})

	go func() {
		if err := conn.Accept(context.Background(), serverSide); err != nil {
			t.Errorf("Accept: %v", err)
		}
	}()

	waitFor(t, time.Second, func() bool { return conn.State() == StateConnected })

	if _, err := clientSide.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, time.Second, func() bool { return handler.snapshot() == "hello" })

	conn.Close(nil)
}

func TestConnection_Send_WritesToPeer(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	conn := New(Config{
		Role:    RoleServer,
		Handler: &recordingHandler{},
	})

	go conn.Accept(context.Background(), serverSide)
	waitFor(t, time.Second, func() bool { return conn.State() == StateConnected })

	if err := conn.Send([]byte("world")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 5)
	clientSide.SetReadDeadline(time.Now().Add(time.Second))
	n, err := clientSide.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "world" {
		t.Fatalf("got %q, want %q", buf[:n], "world")
	}

	conn.Close(nil)
}

func TestConnection_Send_RejectsBeforeConnected(t *testing.T) {
	conn := New(Config{Role: RoleServer})
	if err := conn.Send([]byte("x")); err == nil {
		t.Fatal("expected error sending before connected")
	}
}

func TestConnection_Close_IsIdempotentAndFiresOnDisconnectOnce(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	var fired int
	var mu sync.Mutex
	conn := New(Config{
		Role:    RoleServer,
		Handler: &recordingHandler{},
		OnDisconnect: func(err *Error) {
			mu.Lock()
			fired++
			mu.Unlock()
		},
	})

	go conn.Accept(context.Background(), serverSide)
	waitFor(t, time.Second, func() bool { return conn.State() == StateConnected })

	conn.Close(nil)
	conn.Close(NewError(KindFatal, nil))

	mu.Lock()
	defer mu.Unlock()
	if fired != 1 {
		t.Fatalf("OnDisconnect fired %d times, want 1", fired)
	}
	if conn.State() != StateClosed {
		t.Fatalf("state = %v, want closed", conn.State())
	}
}

func TestConnection_HandleBufferFalse_ClosesConnection(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	handler := &recordingHandler{closeOn: []byte("bye")}
	conn := New(Config{
		Role:    RoleServer,
		Handler: handler,
	})

	go conn.Accept(context.Background(), serverSide)
	waitFor(t, time.Second, func() bool { return conn.State() == StateConnected })

	clientSide.Write([]byte("bye"))

	waitFor(t, time.Second, func() bool { return conn.State() == StateClosed })
}

func TestConnection_Connect_RejectsServerRole(t *testing.T) {
	conn := New(Config{Role: RoleServer})
	if err := conn.Connect(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestConnection_Accept_RejectsClientRole(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	conn := New(Config{Role: RoleClient})
	if err := conn.Accept(context.Background(), serverSide); err == nil {
		t.Fatal("expected error")
	}
}

func TestConnection_Connect_PlaintextLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	resolver := &stubResolver{addr: Address{IP: net.ParseIP(host), Port: mustAtoi(t, portStr)}}
	conn := New(Config{
		Role:       RoleClient,
		RemoteHost: host,
		RemotePort: mustAtoi(t, portStr),
		Resolver:   resolver,
		Handler:    &recordingHandler{},
	})

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close(nil)

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server never accepted")
	}

	if conn.State() != StateConnected {
		t.Fatalf("state = %v, want connected", conn.State())
	}
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			t.Fatalf("not a port number: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n
}
