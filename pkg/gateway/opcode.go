// Package gateway implements the gateway/command channel client (spec
// §4.7, §6.1): a websocket connection carrying JSON frames, an
// identify/hello/heartbeat handshake, session resume, and typed event
// dispatch to application handlers with per-dispatch cancellation.
package gateway

// Opcode identifies a gateway frame's role (spec §6.1 "Frames are text
// (JSON)... agnostic about which compression is negotiated"; exact
// numeric values are this design's own, not the platform's — spec §1
// Non-goals "bit-exact JSON field names").
type Opcode int

const (
	OpDispatch Opcode = iota
	OpHeartbeat
	OpIdentify
	OpHello
	OpHeartbeatAck
	OpReconnect
	OpResume
	OpInvalidSession
)
