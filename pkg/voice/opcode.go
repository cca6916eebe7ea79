package voice

// Opcode identifies a voice control channel frame (spec §4.3 "Opcodes").
type Opcode int

const (
	OpIdentify Opcode = iota
	OpSelectProtocol
	OpReady
	OpHeartbeat
	OpSessionDescription
	OpSpeaking
	OpHello
	OpResume
	OpHeartbeatAck
	OpInvalidSession

	// DAVE transition and MLS opcodes (spec §4.3 "Opcodes includes the
	// full opcode set used by DAVE"); their payloads use the packed
	// binary header, not JSON.
	OpDAVEPrepareTransition
	OpDAVEExecuteTransition
	OpDAVETransitionReady
	OpDAVEPrepareEpoch
	OpDAVEMLSExternalSender
	OpDAVEMLSKeyPackage
	OpDAVEMLSProposals
	OpDAVEMLSCommit
	OpDAVEAnnounceCommitTransaction
	OpDAVEMLSWelcome
	OpDAVEInvalidCommitWelcome
)

// mlsOpcodes carries the packed binary header rather than JSON (spec
// §4.3 "a packed binary header {seq: u16, opcode: u8, payload: bytes}
// for MLS transport").
var mlsOpcodes = map[Opcode]bool{
	OpDAVEPrepareTransition:         true,
	OpDAVEExecuteTransition:         true,
	OpDAVETransitionReady:           true,
	OpDAVEPrepareEpoch:              true,
	OpDAVEMLSExternalSender:         true,
	OpDAVEMLSKeyPackage:             true,
	OpDAVEMLSProposals:              true,
	OpDAVEMLSCommit:                 true,
	OpDAVEAnnounceCommitTransaction: true,
	OpDAVEMLSWelcome:                true,
	OpDAVEInvalidCommitWelcome:      true,
}

func (o Opcode) usesBinaryFraming() bool { return mlsOpcodes[o] }
