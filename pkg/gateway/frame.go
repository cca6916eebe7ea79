package gateway

import "encoding/json"

// Frame is the JSON envelope every gateway message is wrapped in (spec
// §6.1 "Frames are text (JSON) or binary (compressed JSON)"). This
// package only implements the text path; a binary path can wrap the same
// Frame without changing anything downstream of decode.
type Frame struct {
	Op   Opcode          `json:"op"`
	Seq  *int64          `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

// identifyPayload is the client->server handshake body (spec §4.7
// implicitly requires an identify before any dispatch frame flows, the
// same shape as the voice control channel's Identify).
type identifyPayload struct {
	Token    string `json:"token"`
	Intents  int    `json:"intents"`
	Presence any    `json:"presence,omitempty"`
}

// resumePayload replaces identifyPayload on a reconnect (spec §4.3
// "Session resume", mirrored here for the gateway connection).
type resumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// helloPayload carries the heartbeat cadence (spec §4.7 dispatch loop
// needs a heartbeat the same way the voice control channel does).
type helloPayload struct {
	HeartbeatIntervalMS int `json:"heartbeat_interval_ms"`
}

type heartbeatPayload struct {
	Nonce int64 `json:"nonce"`
}
