package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/driftglass/chorus/pkg/dave"
	"github.com/driftglass/chorus/pkg/socketengine"
	"github.com/driftglass/chorus/pkg/transport"
)

// voiceMode is the only AEAD mode this package advertises in
// select_protocol (spec §4.3 step 5 "one of the modes Ready offered");
// the platform's other historical modes are out of scope (spec
// Non-goals "exact wire field names").
const voiceMode = "xsalsa20_poly1305"

// CallOptions configures a Call's identity and event delivery (spec §4.3
// step 1 "identify", §4.4 "voice_receive").
type CallOptions struct {
	ClientID  string
	SessionID string
	Token     string

	PaceMode PaceMode

	// EnableDAVE turns on end-to-end voice encryption for this call
	// (spec §4.5). When false, Call never constructs a dave.Session and
	// the control channel's MLS/DAVE opcodes are ignored.
	EnableDAVE bool

	Logger *slog.Logger

	// OnReceive is invoked once per decoded, gain-applied frame per
	// speaker (spec §4.4 step 5).
	OnReceive func(ReceivedAudio)

	// OnFatal is invoked at most once, the first time the call becomes
	// unrecoverable: an invalid_session from the server, too many
	// consecutive AEAD failures, or a transport-level protocol error.
	OnFatal func(error)

	// OnMLSFrame receives every decoded DAVE/MLS control frame verbatim
	// (spec §4.3 "a packed binary header for MLS transport"). Call does
	// not deserialize mls.KeyPackage/Welcome/Commit/Proposal itself (see
	// control.go's mlsHeader doc); the caller is expected to decode
	// header.Payload with pkg/mls and drive the attached dave.Session
	// from there.
	OnMLSFrame func(dave *dave.Session, op Opcode, header mlsHeader)
}

// Call ties the control channel, the RTP send/receive pipeline, and an
// optional DAVE session together into the full connection sequence spec
// §4.3 describes: identify, hello/heartbeat, ready, UDP IP discovery,
// select_protocol, session_description, then the speaking/heartbeat
// steady state.
type Call struct {
	opts   CallOptions
	engine socketengine.Engine

	control *ControlChannel
	recv    *Receiver
	dave    *dave.Session

	mu         sync.Mutex
	conn       *transport.Connection
	client     *VoiceClient
	udp        *udpSocket
	ssrc       uint32
	sendCancel context.CancelFunc
	failed     bool
}

// NewCall builds a Call ready to Dial. engine drives the control channel's
// heartbeat timer; the transport.Connection passed to Dial does not use it.
func NewCall(engine socketengine.Engine, opts CallOptions) (*Call, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Call{opts: opts, engine: engine}
	c.recv = NewReceiver(opts.Logger, opts.OnReceive, c.fail)

	if opts.EnableDAVE {
		sess, err := dave.NewSession(opts.Logger, c.onEpochChange)
		if err != nil {
			return nil, fmt.Errorf("voice: create dave session: %w", err)
		}
		c.dave = sess
	}

	c.control = NewControlChannel(engine, ControlHandlers{
		OnHello:              c.onHello,
		OnReady:              c.onReady,
		OnSessionDescription: c.onSessionDescription,
		OnSpeaking:           c.onSpeaking,
		OnHeartbeatAck:       func() {},
		OnInvalidSession:     c.onInvalidSession,
		OnMLS:                c.onMLS,
		OnUnknown: func(op Opcode) {
			opts.Logger.Warn("voice: unknown control opcode", "opcode", op)
		},
	}, c.onTransportFatal)

	return c, nil
}

// Client returns the call's send-side handle, or nil before the session
// description arrives.
func (c *Call) Client() *VoiceClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Receiver returns the call's receive-side pipeline, always non-nil.
func (c *Call) Receiver() *Receiver { return c.recv }

// Dave returns the call's DAVE session, or nil if EnableDAVE was false.
func (c *Call) Dave() *dave.Session { return c.dave }

// Dial attaches this call's control channel to conn, connects it, and
// sends the initial identify frame (spec §4.3 step 1).
func (c *Call) Dial(ctx context.Context, conn *transport.Connection) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.control.Attach(conn)
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("voice: connect control channel: %w", err)
	}
	return c.control.SendIdentify(Identify{
		ClientID:  c.opts.ClientID,
		SessionID: c.opts.SessionID,
		Token:     c.opts.Token,
	})
}

// Resume re-identifies an existing session after a transport-loss
// reconnect (spec §4.3 "Session resume"), in place of Dial's identify.
func (c *Call) Resume(ctx context.Context, conn *transport.Connection, lastSeq uint64) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.control.Attach(conn)
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("voice: reconnect control channel: %w", err)
	}
	return c.control.SendResume(Resume{SessionID: c.opts.SessionID, LastSeq: lastSeq})
}

// Close tears down the send/receive loops and the underlying connection.
func (c *Call) Close() error {
	c.mu.Lock()
	cancel := c.sendCancel
	conn := c.conn
	udp := c.udp
	c.mu.Unlock()

	c.control.StopHeartbeat()
	if cancel != nil {
		cancel()
	}
	if udp != nil {
		udp.Close()
	}
	if conn != nil {
		return conn.Close(nil)
	}
	return nil
}

func (c *Call) onHello(h Hello) {
	c.control.StartHeartbeat(h.HeartbeatIntervalMS)
}

func (c *Call) onReady(r Ready) {
	c.mu.Lock()
	c.ssrc = r.SSRC
	c.mu.Unlock()
	go c.negotiateUDP(r)
}

// negotiateUDP runs spec §4.3 steps 4-5: dial the advertised UDP endpoint,
// discover our external address through it, then report the chosen mode
// and address back over the control channel.
func (c *Call) negotiateUDP(r Ready) {
	addr := fmt.Sprintf("%s:%d", r.UDPHost, r.UDPPort)
	sock, err := dialUDP(context.Background(), addr)
	if err != nil {
		c.fail(fmt.Errorf("voice: dial udp endpoint: %w", err))
		return
	}

	discovered, err := sock.discoverIP(r.SSRC)
	if err != nil {
		sock.Close()
		c.fail(fmt.Errorf("voice: discover external address: %w", err))
		return
	}

	c.mu.Lock()
	c.udp = sock
	c.mu.Unlock()

	sp := SelectProtocol{Mode: voiceMode}
	sp.Data.Address = discovered.IP
	sp.Data.Port = discovered.Port
	if err := c.control.SendSelectProtocol(sp); err != nil {
		c.fail(fmt.Errorf("voice: send select_protocol: %w", err))
	}
}

// onSessionDescription completes spec §4.3 step 6: the negotiated secret
// key arrives, so the send/receive pipeline can finally start.
func (c *Call) onSessionDescription(sd SessionDescription) {
	var key [32]byte
	copy(key[:], sd.SecretKey)

	c.mu.Lock()
	sock := c.udp
	ssrc := c.ssrc
	c.mu.Unlock()
	if sock == nil {
		c.fail(errors.New("voice: session_description arrived before udp discovery completed"))
		return
	}

	client, err := NewVoiceClient(sock, sessionKey(key), ssrc, c.opts.PaceMode, c.dave)
	if err != nil {
		c.fail(fmt.Errorf("voice: create voice client: %w", err))
		return
	}
	client.SetSessionKey(key)
	client.AttachReceiver(c.recv)
	c.recv.SetSessionKey(key)

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.client = client
	c.sendCancel = cancel
	c.mu.Unlock()

	go client.RunSendLoop(ctx)
	go c.recv.RunCourier(ctx, 0)
	go c.receiveLoop(ctx, sock)
}

// receiveLoop pulls datagrams off sock and hands them to the receiver
// until ctx is canceled (spec §4.4 "Receiving" step 1).
func (c *Call) receiveLoop(ctx context.Context, sock *udpSocket) {
	buf := make([]byte, maxRTPPacketSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := sock.recv(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		packet := append([]byte(nil), buf[:n]...)
		c.recv.HandlePacket(packet)
	}
}

// onSpeaking maps an SSRC to a speaker identity as the server's own voice
// state tells it to us (spec §4.3 step 7). The call has no access to the
// platform's user/entity schema (spec Non-goals), so the speaker key is
// the SSRC's decimal string; callers that need a richer identity should
// re-map it with Receiver.MapSpeaker once they learn it out of band.
func (c *Call) onSpeaking(s Speaking) {
	c.recv.MapSpeaker(s.SSRC, fmt.Sprintf("%d", s.SSRC))
}

func (c *Call) onInvalidSession() {
	c.fail(errors.New("voice: server reported invalid_session"))
}

func (c *Call) onMLS(op Opcode, h mlsHeader) {
	if c.dave == nil {
		return
	}
	if c.opts.OnMLSFrame != nil {
		c.opts.OnMLSFrame(c.dave, op, h)
	}
}

func (c *Call) onEpochChange(epoch uint64, key [32]byte) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client != nil {
		client.SetEpochKey(epoch, key)
	}
	c.recv.SetEpochKey(epoch, key)
}

func (c *Call) onTransportFatal(terr *transport.Error) {
	c.fail(terr)
}

// fail reports an unrecoverable call error to OnFatal exactly once.
func (c *Call) fail(err error) {
	c.mu.Lock()
	if c.failed {
		c.mu.Unlock()
		return
	}
	c.failed = true
	c.mu.Unlock()

	c.opts.Logger.Error("voice: call failed", "err", err)
	if c.opts.OnFatal != nil {
		c.opts.OnFatal(err)
	}
}
