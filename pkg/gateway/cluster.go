package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/driftglass/chorus/internal/resilience"
	"github.com/driftglass/chorus/pkg/socketengine"
)

// wsConn is the subset of *websocket.Conn the cluster depends on, so
// Connect's dial path can be exercised against a fake in tests the same
// way arikawa-style packages separate transport from protocol logic.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// ClusterOptions configures one gateway connection (spec §4.7, §6.1).
type ClusterOptions struct {
	URL     string
	Token   string
	Intents int

	// FallbackURLs are additional gateway endpoints (alternate shards or
	// regions) tried in order if URL's dial keeps failing. Each candidate
	// gets its own circuit breaker, so one down shard doesn't count
	// against the others.
	FallbackURLs []string

	Engine socketengine.Engine
	Logger *slog.Logger

	// OnDisconnect fires when the connection is lost or the server sends
	// reconnect/invalid_session (spec §3.4 "a typed disconnect event
	// carrying the error kind"); the cluster itself does not reconnect,
	// leaving that decision to the caller (spec §7 "the cluster decides
	// whether to reconnect").
	OnDisconnect func(err error)
}

// Cluster drives one gateway connection's identify/hello/heartbeat
// handshake and routes dispatch frames to registered handlers (spec §4.7
// "The cluster holds callback lists keyed by event type... routed
// synchronously on the engine thread").
type Cluster struct {
	opts   ClusterOptions
	engine socketengine.Engine
	log    *slog.Logger

	dialGroup *resilience.FallbackGroup[string]

	mu          sync.Mutex
	conn        wsConn
	handlers    map[string][]func(*Event)
	rawHandlers []func(Frame)
	heartbeatID socketengine.TimerHandle
	seq         int64
	sessionID   string
	closed      bool
}

// NewCluster builds a Cluster ready for On/OnRaw registration and
// Connect.
func NewCluster(opts ClusterOptions) *Cluster {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cluster{
		opts:     opts,
		engine:   opts.Engine,
		log:      opts.Logger,
		handlers: make(map[string][]func(*Event)),
		dialGroup: resilience.NewEndpointFallbackGroup(opts.URL, opts.FallbackURLs, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Name: "gateway-dial"},
		}),
	}
}

// HealthCheck reports whether every gateway dial candidate's circuit
// breaker is open, suitable for registration with an
// [internal/health.Checker].
func (c *Cluster) HealthCheck(ctx context.Context) error {
	return c.dialGroup.HealthCheck(ctx)
}

// On registers handler for every dispatch frame whose Type matches
// eventType (spec §6.4 "cluster.on_<event>(handler) for each event
// type"). Handlers run in registration order on the reading goroutine and
// stop early if a prior handler calls Event.Cancel.
func (c *Cluster) On(eventType string, handler func(*Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
}

// OnRaw registers handler for every frame whose dispatch type has no
// registered On handler, plus every frame with an opcode the cluster does
// not handle itself (hello, heartbeat_ack, reconnect and invalid_session
// are consumed internally and never reach OnRaw) (spec §4.7.1
// "cluster.OnRaw(handler) for unrecognized opcodes").
func (c *Cluster) OnRaw(handler func(Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rawHandlers = append(c.rawHandlers, handler)
}

// Connect dials the gateway websocket through the fallback group — the
// primary URL first, then any FallbackURLs in order — so a crash-looping
// reconnect policy upstream doesn't hammer an already-failing endpoint,
// starts the read loop, and sends identify. Use Resume to resume an
// existing session instead.
func (c *Cluster) Connect(ctx context.Context) error {
	var conn *websocket.Conn
	err := c.dialGroup.Execute(func(url string) error {
		var dialErr error
		conn, _, dialErr = websocket.Dial(ctx, url, nil)
		return dialErr
	})
	if err != nil {
		return fmt.Errorf("gateway: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	go c.readLoop(ctx)

	return c.sendIdentify()
}

// Resume reconnects and resumes sessionID instead of sending a fresh
// identify (spec §4.3 "Session resume", mirrored for the gateway
// connection).
func (c *Cluster) Resume(ctx context.Context, sessionID string) error {
	var conn *websocket.Conn
	err := c.dialGroup.Execute(func(url string) error {
		var dialErr error
		conn, _, dialErr = websocket.Dial(ctx, url, nil)
		return dialErr
	})
	if err != nil {
		return fmt.Errorf("gateway: resume dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.sessionID = sessionID
	seq := c.seq
	c.closed = false
	c.mu.Unlock()

	go c.readLoop(ctx)

	return c.sendJSON(OpResume, resumePayload{Token: c.opts.Token, SessionID: sessionID, Seq: seq})
}

// Close stops the heartbeat and closes the underlying connection.
func (c *Cluster) Close() error {
	c.stopHeartbeat()

	c.mu.Lock()
	conn := c.conn
	c.closed = true
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Cluster) sendIdentify() error {
	return c.sendJSON(OpIdentify, identifyPayload{Token: c.opts.Token, Intents: c.opts.Intents})
}

func (c *Cluster) sendJSON(op Opcode, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gateway: encode frame opcode %d: %w", op, err)
	}
	frame, err := json.Marshal(Frame{Op: op, Data: body})
	if err != nil {
		return fmt.Errorf("gateway: encode envelope opcode %d: %w", op, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("gateway: send opcode %d before connect", op)
	}
	return conn.Write(context.Background(), websocket.MessageText, frame)
}

// SendHeartbeat emits a heartbeat carrying nonce, round-tripped in the
// server's heartbeat ack.
func (c *Cluster) SendHeartbeat(nonce int64) error {
	return c.sendJSON(OpHeartbeat, heartbeatPayload{Nonce: nonce})
}

func (c *Cluster) startHeartbeat(intervalMS int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heartbeatID != 0 {
		c.engine.StopTimer(c.heartbeatID)
	}
	var nonce int64
	c.heartbeatID = c.engine.StartTimer(float64(intervalMS)/1000.0, func() {
		nonce++
		if err := c.SendHeartbeat(nonce); err != nil {
			c.log.Warn("gateway: send heartbeat failed", "err", err)
		}
	})
}

func (c *Cluster) stopHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heartbeatID != 0 {
		c.engine.StopTimer(c.heartbeatID)
		c.heartbeatID = 0
	}
}

// readLoop reads one text frame at a time and dispatches it until ctx is
// canceled or the connection errors.
func (c *Cluster) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if conn == nil || closed {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			already := c.closed
			c.mu.Unlock()
			if !already && c.opts.OnDisconnect != nil {
				c.opts.OnDisconnect(fmt.Errorf("gateway: read: %w", err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("gateway: malformed frame", "err", err)
			continue
		}
		c.dispatch(frame)
	}
}

// dispatch routes one decoded frame (spec §4.7). Control opcodes are
// handled internally; dispatch frames fan out to On handlers or, absent
// any, to OnRaw.
func (c *Cluster) dispatch(frame Frame) {
	if frame.Seq != nil {
		c.mu.Lock()
		c.seq = *frame.Seq
		c.mu.Unlock()
	}

	switch frame.Op {
	case OpHello:
		var h helloPayload
		if err := json.Unmarshal(frame.Data, &h); err != nil {
			c.log.Warn("gateway: decode hello", "err", err)
			return
		}
		c.startHeartbeat(h.HeartbeatIntervalMS)
	case OpHeartbeatAck:
		// no bookkeeping beyond staying alive; a production deployment
		// would track round-trip latency here.
	case OpReconnect:
		if c.opts.OnDisconnect != nil {
			c.opts.OnDisconnect(fmt.Errorf("gateway: server requested reconnect"))
		}
	case OpInvalidSession:
		if c.opts.OnDisconnect != nil {
			c.opts.OnDisconnect(fmt.Errorf("gateway: invalid session"))
		}
	case OpDispatch:
		c.dispatchEvent(frame)
	default:
		c.fanOutRaw(frame)
	}
}

func (c *Cluster) dispatchEvent(frame Frame) {
	c.mu.Lock()
	handlers := append([]func(*Event){}, c.handlers[frame.Type]...)
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.fanOutRaw(frame)
		return
	}

	ev := newEvent(frame.Type, frame.Data)
	for _, h := range handlers {
		h(ev)
		if ev.Cancelled() {
			break
		}
	}
}

func (c *Cluster) fanOutRaw(frame Frame) {
	c.mu.Lock()
	raw := append([]func(Frame){}, c.rawHandlers...)
	c.mu.Unlock()
	for _, h := range raw {
		h(frame)
	}
}
