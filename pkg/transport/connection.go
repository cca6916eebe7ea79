// Package transport implements the TLS/plaintext connection state machine
// (spec §4.2): connect retry, SNI handshake, half-open writes, and graceful
// teardown, usable in both client and server roles.
//
// Go's standard library has no explicit WANT_READ/WANT_WRITE non-blocking
// handshake primitive the way OpenSSL does. Rather than hand-roll one on
// raw fds, each Connection drives its net.Conn/tls.Conn on a dedicated pair
// of read/write goroutines, exposes its lifecycle state through State, and
// reports teardown through the OnDisconnect callback. Connect retry bounds each
// attempt with a context timeout instead of polling a socketengine timer
// directly, which is observably equivalent (same attempt count, same
// per-attempt bound) without forcing a raw-fd dial loop; socketengine.Engine
// remains the right layer for anything that does need raw-fd timer-driven
// scheduling, such as the voice control channel's UDP socket. This is the
// documented replacement for the source's explicit state machine (see
// DESIGN.md).
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftglass/chorus/internal/observe"
	"github.com/driftglass/chorus/pkg/socketengine"
)

// State is one member of the connection lifecycle (spec §3.1, §4.2).
type State int

const (
	StateResolving State = iota
	StateConnecting
	StateHandshaking
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FrameHandler consumes the decrypted byte stream of a Connection (spec
// §3.1 "handle_buffer"). HandleBuffer is called with the full unconsumed
// inbound buffer and returns how many leading bytes it consumed; only a
// prefix need be consumed per call. Returning ok=false closes the
// connection.
type FrameHandler interface {
	HandleBuffer(c *Connection, data []byte) (consumed int, ok bool)

	// OnBufferDrained is called whenever the outbound buffer becomes
	// empty after a write (spec §4.2 "Call on_buffer_drained()").
	OnBufferDrained(c *Connection)
}

// Role distinguishes a client connection (handshake initiator, sets SNI)
// from a server connection (handshake acceptor).
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Config configures a new Connection.
type Config struct {
	RemoteHost string
	RemotePort int
	Role       Role

	// TLSConfig, if non-nil, makes this a TLS connection; otherwise the
	// connection is plaintext (spec §3.1 "a plaintext connection never
	// allocates TLS session state").
	TLSConfig *tls.Config

	// CertFile/KeyFile configure a server-role TLS listener accept path.
	CertFile, KeyFile string

	Engine   socketengine.Engine
	Resolver Resolver

	MaxConnectRetries int // default 3
	ConnectTimeout    time.Duration // default 2s per attempt
	RawTrace          bool

	Handler FrameHandler
	Logger  *slog.Logger
	Metrics *observe.Metrics

	// OnDisconnect is invoked exactly once when the connection reaches
	// StateClosed, carrying the taxonomy error if the close was abnormal.
	OnDisconnect func(err *Error)
}

var connIDCounter uint64

func nextConnID() uint64 { return atomic.AddUint64(&connIDCounter, 1) }

// Connection is a TLS or plaintext connection (spec §3.1); connect retry is
// bounded by context timeouts rather than engine timers.
type Connection struct {
	id     uint64
	cfg    Config
	log    *slog.Logger

	mu    sync.Mutex
	state State
	conn  net.Conn

	outbound bytes.Buffer // mutex-guarded per spec invariant

	inbound   bytes.Buffer
	inboundMu sync.Mutex

	bytesIn, bytesOut uint64

	createdAt time.Time
	lastTick  time.Time

	connectRetries int

	cipherName string

	closeOnce sync.Once
	doneCh    chan struct{}
	writeWake chan struct{}
}

// New constructs a Connection in state resolving. Call Connect to begin
// the connect/handshake sequence.
func New(cfg Config) *Connection {
	if cfg.MaxConnectRetries <= 0 {
		cfg.MaxConnectRetries = 3
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	if cfg.Resolver == nil {
		cfg.Resolver = DefaultResolver
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	id := nextConnID()
	return &Connection{
		id:        id,
		cfg:       cfg,
		log:       log.With("conn_id", id),
		state:     StateResolving,
		createdAt: time.Now(),
		doneCh:    make(chan struct{}),
		writeWake: make(chan struct{}, 1),
	}
}

// ID returns the connection's unique 64-bit identifier.
func (c *Connection) ID() uint64 { return c.id }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// BytesIn and BytesOut report cumulative byte counters.
func (c *Connection) BytesIn() uint64  { return atomic.LoadUint64(&c.bytesIn) }
func (c *Connection) BytesOut() uint64 { return atomic.LoadUint64(&c.bytesOut) }

// Connect resolves the remote host, dials, and (for TLS configs) completes
// the handshake, with up to MaxConnectRetries attempts bounded by
// ConnectTimeout each (spec §4.2 "Connect retry").
func (c *Connection) Connect(ctx context.Context) error {
	if c.cfg.Role != RoleClient {
		return NewError(KindPolicyError, errors.New("transport: Connect is only valid for client-role connections"))
	}

	c.setState(StateResolving)

	addr, err := c.cfg.Resolver.Resolve(ctx, c.cfg.RemoteHost, c.cfg.RemotePort)
	if err != nil {
		return NewError(KindConnectError, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxConnectRetries; attempt++ {
		if attempt > 0 {
			c.connectRetries++
			if m := c.cfg.Metrics; m != nil {
				m.RecordConnectRetry(ctx, fmt.Sprintf("%s:%d", c.cfg.RemoteHost, c.cfg.RemotePort))
			}
			c.log.Warn("connect retry", "attempt", attempt, "remote", c.cfg.RemoteHost)
		}

		c.setState(StateConnecting)
		start := time.Now()

		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		var rawConn net.Conn
		rawConn, lastErr = (&net.Dialer{}).DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", addr.IP.String(), addr.Port))
		cancel()
		if lastErr != nil {
			continue
		}

		if c.cfg.TLSConfig != nil {
			c.setState(StateHandshaking)
			tlsConn := tls.Client(rawConn, c.tlsConfigWithSNI())
			hsCtx, hsCancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
			lastErr = c.handshake(hsCtx, tlsConn)
			hsCancel()
			if lastErr != nil {
				rawConn.Close()
				continue
			}
			c.conn = tlsConn
			c.cipherName = tls.CipherSuiteName(tlsConn.ConnectionState().CipherSuite)
		} else {
			c.conn = rawConn
		}

		if m := c.cfg.Metrics; m != nil {
			m.ConnectDuration.Record(ctx, time.Since(start).Seconds(),
				observe.Attr("remote", c.cfg.RemoteHost))
			m.ActiveConnections.Add(ctx, 1)
		}

		c.setState(StateConnected)
		c.startPumps()
		return nil
	}

	c.setState(StateClosed)
	kind := KindConnectError
	if c.cfg.TLSConfig != nil {
		kind = KindTlsError
	}
	terr := NewError(kind, fmt.Errorf("transport: connect to %s:%d failed after %d attempts: %w", c.cfg.RemoteHost, c.cfg.RemotePort, c.cfg.MaxConnectRetries, lastErr))
	c.fireDisconnect(terr)
	return terr
}

// tlsConfigWithSNI clones the configured tls.Config and sets ServerName for
// SNI, unless the caller already specified one.
func (c *Connection) tlsConfigWithSNI() *tls.Config {
	cfg := c.cfg.TLSConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = c.cfg.RemoteHost
	}
	return cfg
}

// handshake runs Handshake on a dedicated goroutine and waits for it on
// ctx, emulating the WANT_READ/WANT_WRITE dispatch of spec §4.2 via a
// simple done-channel report instead of raw socket readiness polling.
func (c *Connection) handshake(ctx context.Context, conn *tls.Conn) error {
	errCh := make(chan error, 1)
	go func() { errCh <- conn.HandshakeContext(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}
}

// Accept completes a server-role handshake over an already-accepted raw
// connection (spec §4.2 "TLS handshake (server)"). SNI is not set; the
// TLSConfig's certificate is selected by the configured GetCertificate or a
// static cert loaded from CertFile/KeyFile.
func (c *Connection) Accept(ctx context.Context, raw net.Conn) error {
	if c.cfg.Role != RoleServer {
		return NewError(KindPolicyError, errors.New("transport: Accept is only valid for server-role connections"))
	}

	c.setState(StateConnecting)

	if c.cfg.TLSConfig == nil {
		c.conn = raw
		c.setState(StateConnected)
		c.startPumps()
		return nil
	}

	c.setState(StateHandshaking)
	tlsConf := c.cfg.TLSConfig
	if tlsConf.Certificates == nil && c.cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.cfg.CertFile, c.cfg.KeyFile)
		if err != nil {
			return NewError(KindTlsError, fmt.Errorf("transport: load server cert: %w", err))
		}
		cloned := tlsConf.Clone()
		cloned.Certificates = []tls.Certificate{cert}
		tlsConf = cloned
	}

	tlsConn := tls.Server(raw, tlsConf)
	if err := c.handshake(ctx, tlsConn); err != nil {
		raw.Close()
		terr := NewError(KindTlsError, err)
		c.setState(StateClosed)
		c.fireDisconnect(terr)
		return terr
	}

	c.conn = tlsConn
	c.cipherName = tls.CipherSuiteName(tlsConn.ConnectionState().CipherSuite)
	c.setState(StateConnected)
	c.startPumps()
	return nil
}

// Send appends data to the outbound buffer (mutex-guarded per spec §3.1)
// and wakes the write pump.
func (c *Connection) Send(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return NewError(KindPolicyError, errors.New("transport: Send on a non-connected connection"))
	}
	c.outbound.Write(data)
	c.mu.Unlock()
	c.kickWriter()
	return nil
}

func (c *Connection) kickWriter() {
	select {
	case c.writeWake <- struct{}{}:
	default:
	}
}

// startPumps launches the read and write goroutines for an established
// connection. Bytes flow net.Conn -> inbound buffer -> FrameHandler, and
// outbound buffer -> net.Conn.
func (c *Connection) startPumps() {
	go c.readPump()
	go c.writePump()
}

const scratchBufferSize = 65536

func (c *Connection) readPump() {
	buf := make([]byte, scratchBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			atomic.AddUint64(&c.bytesIn, uint64(n))
			if c.cfg.RawTrace {
				c.log.Debug("raw trace: read", "bytes", n)
			}
			c.inboundMu.Lock()
			c.inbound.Write(buf[:n])
			data := c.inbound.Bytes()

			keepGoing := true
			if c.cfg.Handler != nil {
				consumed, ok := c.cfg.Handler.HandleBuffer(c, data)
				if consumed > 0 {
					c.inbound.Next(consumed)
				}
				keepGoing = ok
			} else {
				c.inbound.Reset()
			}
			c.inboundMu.Unlock()

			if !keepGoing {
				c.Close(nil)
				return
			}
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.Close(NewError(KindConnectError, err))
			return
		}
	}
}

func (c *Connection) writePump() {
	for {
		select {
		case <-c.writeWake:
		case <-c.doneCh:
			return
		}

		for {
			c.mu.Lock()
			if c.outbound.Len() == 0 {
				c.mu.Unlock()
				if c.cfg.Handler != nil {
					c.cfg.Handler.OnBufferDrained(c)
				}
				break
			}
			chunk := make([]byte, c.outbound.Len())
			copy(chunk, c.outbound.Bytes())
			c.outbound.Reset()
			c.mu.Unlock()

			if c.cfg.RawTrace {
				c.log.Debug("raw trace: write", "bytes", len(chunk))
			}

			n, err := c.conn.Write(chunk)
			if n > 0 {
				atomic.AddUint64(&c.bytesOut, uint64(n))
			}
			if err != nil {
				c.Close(NewError(KindConnectError, err))
				return
			}
		}
	}
}

// Close tears the connection down, notifying OnDisconnect with terr (which
// may be nil for a clean, caller-initiated close). Idempotent.
func (c *Connection) Close(terr *Error) error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		close(c.doneCh)
		if c.conn != nil {
			err = c.conn.Close()
		}
		if m := c.cfg.Metrics; m != nil {
			m.ActiveConnections.Add(context.Background(), -1)
			if terr != nil {
				m.RecordConnectionError(context.Background(), string(terr.Kind))
			}
		}
		c.setState(StateClosed)
		c.fireDisconnect(terr)
	})
	return err
}

func (c *Connection) fireDisconnect(terr *Error) {
	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect(terr)
	}
}
