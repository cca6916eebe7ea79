package voice

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/driftglass/chorus/pkg/socketengine"
	"github.com/driftglass/chorus/pkg/transport"
)

// frameLengthPrefix is the byte count of the length prefix this package
// puts in front of every control channel frame, so the underlying
// text-framed (JSON) sub-protocol (spec §4.3) has a message boundary over
// a raw byte stream. opcode follows immediately after the length.
const (
	frameLengthPrefix = 4
	frameOpcodeSize   = 2
	frameHeaderSize   = frameLengthPrefix + frameOpcodeSize
)

// Identify is the client->server handshake payload (spec §4.3 step 1).
type Identify struct {
	ClientID  string `json:"client_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// Hello carries the heartbeat cadence (spec §4.3 step 2).
type Hello struct {
	HeartbeatIntervalMS int `json:"heartbeat_interval_ms"`
}

// Ready advertises the UDP endpoint to discover against (spec §4.3 step 3).
type Ready struct {
	SSRC            uint32   `json:"ssrc"`
	UDPHost         string   `json:"udp_host"`
	UDPPort         int      `json:"udp_port"`
	Modes           []string `json:"modes"`
}

// SelectProtocol tells the server the chosen mode and our discovered
// external address (spec §4.3 step 5).
type SelectProtocol struct {
	Mode string `json:"mode"`
	Data struct {
		Address string `json:"address"`
		Port    uint16 `json:"port"`
	} `json:"data"`
}

// SessionDescription carries the negotiated secret key (spec §4.3 step 6).
type SessionDescription struct {
	Mode      string `json:"mode"`
	SecretKey []byte `json:"secret_key"`
}

// Speaking is emitted on the silence-to-audio transition (spec §4.3
// step 7).
type Speaking struct {
	SSRC     uint32 `json:"ssrc"`
	Speaking bool   `json:"speaking"`
}

// Resume replaces Identify on transport-loss reconnect (spec §4.3
// "Session resume").
type Resume struct {
	SessionID string `json:"session_id"`
	LastSeq   uint64 `json:"last_seq"`
}

// mlsHeader is the packed binary header carried by DAVE/MLS opcodes
// (spec §4.3 "a packed binary header {seq: u16, opcode: u8, payload:
// bytes} for MLS transport"). The mls.KeyPackage/Proposal/Commit/Welcome
// values themselves are not re-serialized here: this package's MLS
// opcodes pass already-encoded bytes supplied by the caller (see
// DESIGN.md for why pkg/mls's RatchetTree keeps its node slice
// unexported and is conveyed out of band instead).
type mlsHeader struct {
	Seq     uint16
	Opcode  byte
	Payload []byte
}

func (h mlsHeader) encode() []byte {
	buf := make([]byte, 3+len(h.Payload))
	binary.BigEndian.PutUint16(buf[0:2], h.Seq)
	buf[2] = h.Opcode
	copy(buf[3:], h.Payload)
	return buf
}

func decodeMLSHeader(b []byte) (mlsHeader, error) {
	if len(b) < 3 {
		return mlsHeader{}, errors.New("voice: mls header too short")
	}
	return mlsHeader{
		Seq:     binary.BigEndian.Uint16(b[0:2]),
		Opcode:  b[2],
		Payload: append([]byte(nil), b[3:]...),
	}, nil
}

// ControlHandlers dispatches decoded control channel frames (spec §4.3
// steady state messages plus the DAVE/MLS opcode set).
type ControlHandlers struct {
	OnHello              func(Hello)
	OnReady              func(Ready)
	OnSessionDescription func(SessionDescription)
	OnSpeaking           func(Speaking)
	OnHeartbeatAck       func()
	OnInvalidSession     func()
	OnMLS                func(op Opcode, header mlsHeader)
	// OnUnknown is invoked for opcodes this channel doesn't recognize
	// (spec §4.3 "Unknown opcodes are ignored with a warning").
	OnUnknown func(op Opcode)
}

// ControlChannel drives the voice control channel state machine over a
// [transport.Connection] (spec §4.3). It implements
// [transport.FrameHandler].
type ControlChannel struct {
	conn     *transport.Connection
	engine   socketengine.Engine
	handlers ControlHandlers

	mu          sync.Mutex
	heartbeatID socketengine.TimerHandle
	lastSeqSent uint64

	onFatal func(*transport.Error)
}

// NewControlChannel wraps an already-configured [transport.Connection].
// The caller is responsible for calling conn.Connect (client) or
// conn.Accept (server) and must set conn's Handler to the returned
// channel before doing so.
func NewControlChannel(engine socketengine.Engine, handlers ControlHandlers, onFatal func(*transport.Error)) *ControlChannel {
	return &ControlChannel{engine: engine, handlers: handlers, onFatal: onFatal}
}

// Attach binds this channel to conn. Must be called before conn.Connect
// or conn.Accept.
func (c *ControlChannel) Attach(conn *transport.Connection) {
	c.conn = conn
}

// sendJSON frames op with the JSON encoding of payload and writes it to
// the connection.
func (c *ControlChannel) sendJSON(op Opcode, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("voice: encode control frame opcode %d: %w", op, err)
	}
	return c.sendFrame(op, body)
}

// SendMLS frames an MLS/DAVE opcode with its packed binary header.
func (c *ControlChannel) SendMLS(op Opcode, payload []byte) error {
	c.mu.Lock()
	c.lastSeqSent++
	seq := c.lastSeqSent
	c.mu.Unlock()

	h := mlsHeader{Seq: uint16(seq), Opcode: byte(op), Payload: payload}
	return c.sendFrame(op, h.encode())
}

func (c *ControlChannel) sendFrame(op Opcode, body []byte) error {
	buf := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(frameOpcodeSize+len(body)))
	binary.BigEndian.PutUint16(buf[4:6], uint16(op))
	copy(buf[frameHeaderSize:], body)
	return c.conn.Send(buf)
}

// SendIdentify sends the initial handshake frame (spec §4.3 step 1).
func (c *ControlChannel) SendIdentify(id Identify) error {
	return c.sendJSON(OpIdentify, id)
}

// SendResume sends a resume frame instead of identify on reconnect (spec
// §4.3 "Session resume").
func (c *ControlChannel) SendResume(r Resume) error {
	return c.sendJSON(OpResume, r)
}

// SendSelectProtocol sends the chosen mode and discovered address (spec
// §4.3 step 5).
func (c *ControlChannel) SendSelectProtocol(sp SelectProtocol) error {
	return c.sendJSON(OpSelectProtocol, sp)
}

// SendSpeaking emits the silence-to-audio transition event (spec §4.3
// step 7).
func (c *ControlChannel) SendSpeaking(s Speaking) error {
	return c.sendJSON(OpSpeaking, s)
}

// SendHeartbeat emits a heartbeat at the advertised cadence (spec §4.3
// step 7). nonce round-trips in the server's heartbeat ack.
func (c *ControlChannel) SendHeartbeat(nonce uint64) error {
	return c.sendJSON(OpHeartbeat, struct {
		Nonce uint64 `json:"nonce"`
	}{Nonce: nonce})
}

// StartHeartbeat schedules periodic heartbeats at the interval the server
// advertised in Hello (spec §4.3 step 7).
func (c *ControlChannel) StartHeartbeat(intervalMS int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heartbeatID != 0 {
		c.engine.StopTimer(c.heartbeatID)
	}
	var nonce uint64
	c.heartbeatID = c.engine.StartTimer(float64(intervalMS)/1000.0, func() {
		nonce++
		_ = c.SendHeartbeat(nonce)
	})
}

// StopHeartbeat cancels the periodic heartbeat timer.
func (c *ControlChannel) StopHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heartbeatID != 0 {
		c.engine.StopTimer(c.heartbeatID)
		c.heartbeatID = 0
	}
}

// HandleBuffer implements [transport.FrameHandler]. It peels complete
// length-prefixed frames off data and dispatches each by opcode.
func (c *ControlChannel) HandleBuffer(conn *transport.Connection, data []byte) (consumed int, ok bool) {
	total := 0
	for {
		rest := data[total:]
		if len(rest) < frameHeaderSize {
			return total, true
		}
		bodyLen := binary.BigEndian.Uint32(rest[0:4])
		frameLen := frameLengthPrefix + int(bodyLen)
		if len(rest) < frameLen {
			return total, true
		}

		op := Opcode(binary.BigEndian.Uint16(rest[4:6]))
		payload := rest[frameHeaderSize:frameLen]
		if err := c.dispatch(op, payload); err != nil {
			if c.onFatal != nil {
				c.onFatal(transport.NewError(transport.KindProtocolError, err))
			}
			return total + frameLen, false
		}

		total += frameLen
	}
}

// OnBufferDrained implements [transport.FrameHandler]; the voice control
// channel has no queued-write bookkeeping beyond what Connection already
// does.
func (c *ControlChannel) OnBufferDrained(conn *transport.Connection) {}

func (c *ControlChannel) dispatch(op Opcode, payload []byte) error {
	if op.usesBinaryFraming() {
		h, err := decodeMLSHeader(payload)
		if err != nil {
			return err
		}
		if c.handlers.OnMLS != nil {
			c.handlers.OnMLS(op, h)
		}
		return nil
	}

	switch op {
	case OpHello:
		var v Hello
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("voice: decode hello: %w", err)
		}
		if c.handlers.OnHello != nil {
			c.handlers.OnHello(v)
		}
	case OpReady:
		var v Ready
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("voice: decode ready: %w", err)
		}
		if c.handlers.OnReady != nil {
			c.handlers.OnReady(v)
		}
	case OpSessionDescription:
		var v SessionDescription
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("voice: decode session description: %w", err)
		}
		if c.handlers.OnSessionDescription != nil {
			c.handlers.OnSessionDescription(v)
		}
	case OpSpeaking:
		var v Speaking
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("voice: decode speaking: %w", err)
		}
		if c.handlers.OnSpeaking != nil {
			c.handlers.OnSpeaking(v)
		}
	case OpHeartbeatAck:
		if c.handlers.OnHeartbeatAck != nil {
			c.handlers.OnHeartbeatAck()
		}
	case OpInvalidSession:
		if c.handlers.OnInvalidSession != nil {
			c.handlers.OnInvalidSession()
		}
	default:
		// Unknown opcodes are ignored with a warning, not a fatal error
		// (spec §4.3 "Failure semantics").
		if c.handlers.OnUnknown != nil {
			c.handlers.OnUnknown(op)
		}
	}
	return nil
}
