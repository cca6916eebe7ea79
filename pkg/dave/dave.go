// Package dave implements the end-to-end voice encryption scheme layered
// on MLS (spec §4.5): the epoch-transition state machine negotiated over
// the voice control channel, per-epoch media key export, and the
// scrypt-derived privacy code.
//
// Grounded on the voice-control state machine shape in
// original_source/include/dpp/discordvoiceclient.h (the same cluster the
// gateway and RTP packages are grounded on) combined with the MLS
// machinery in pkg/mls; DAVE itself has no direct analogue in the D++
// teacher (D++ predates DAVE), so its transition bookkeeping is modeled
// after the same event-driven, single-owner-goroutine style the teacher
// uses for its voice and gateway clients.
package dave

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/scrypt"

	"github.com/driftglass/chorus/pkg/mls"
)

// Version identifies the DAVE protocol version advertised on the voice
// control channel (spec §3.2 "DAVE version ∈ {none, v1}").
type Version int

const (
	VersionNone Version = iota
	VersionV1
)

// TransitionState is the epoch-transition state machine's current phase
// (spec §4.5 "Group lifecycle").
type TransitionState int

const (
	TransitionIdle TransitionState = iota
	TransitionPreparing
	TransitionProposalsSent
	TransitionCommitSent
	TransitionReady
	TransitionExecuted
)

func (s TransitionState) String() string {
	switch s {
	case TransitionIdle:
		return "idle"
	case TransitionPreparing:
		return "preparing"
	case TransitionProposalsSent:
		return "proposals_sent"
	case TransitionCommitSent:
		return "commit_sent"
	case TransitionReady:
		return "ready"
	case TransitionExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

// ErrNoActiveGroup is returned by operations that need an established MLS
// group before the first epoch transition has executed.
var ErrNoActiveGroup = errors.New("dave: no active group (no epoch executed yet)")

// mediaKeyLabel is the fixed export label the RTP AEAD key is derived
// under (spec §4.5 "Key derivation").
const mediaKeyLabel = "discord_dave_media_key"

// Session owns one voice call's MLS group and epoch-transition state
// machine. It is single-threaded by contract: callers serialize access to
// it the same way the voice control channel serializes opcode handling
// (spec §5 "MLS state: single-threaded").
type Session struct {
	log   *slog.Logger
	suite mls.Suite

	mu              sync.Mutex
	group           *mls.GroupState
	transitionState TransitionState
	transitionID    uint32
	targetEpoch     uint64

	pendingProposals []mls.Proposal
	committerLeaf    mls.LeafIndex
	isCommitter      bool

	// pendingCommit is the state produced by this session's own Commit,
	// applied when that commit comes back through HandleCommit.
	pendingCommit    *mls.GroupState
	pendingCommitSig []byte

	sigPriv mls.SignaturePrivateKey
	sigPub  mls.SignaturePublicKey

	onEpochChange func(epoch uint64, key [32]byte)
}

// NewSession creates a DAVE session around a freshly-generated signature
// identity. Callers provide onEpochChange to receive the new RTP AEAD key
// every time an epoch transition executes (spec §4.5 "Rotation happens
// atomically on execute_transition").
func NewSession(log *slog.Logger, onEpochChange func(epoch uint64, key [32]byte)) (*Session, error) {
	pub, priv, err := mls.GenerateSignatureKeyPair()
	if err != nil {
		return nil, fmt.Errorf("dave: generate signature key: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		log:           log,
		suite:         mls.SuiteX25519Ed25519AES128GCMSHA256,
		sigPriv:       priv,
		sigPub:        pub,
		onEpochChange: onEpochChange,
	}, nil
}

// CreateGroup starts a new group with this session as its sole member
// (used by the first member of a call, spec §8 scenario 1).
func (s *Session) CreateGroup(groupID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred := mls.NewBasicCredential([]byte(hex.EncodeToString(s.sigPub)))
	g, err := mls.NewGroup(s.suite, groupID, cred, s.sigPub, s.sigPriv)
	if err != nil {
		return err
	}
	s.group = g
	s.transitionState = TransitionExecuted
	s.targetEpoch = g.Epoch
	s.fireEpochChange()
	return nil
}

// NewKeyPackage produces a fresh MLS key package this member can advertise
// via the voice control channel's mls_key_package opcode.
func (s *Session) NewKeyPackage() (*mls.KeyPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred := mls.NewBasicCredential([]byte(hex.EncodeToString(s.sigPub)))
	return mls.NewKeyPackage(s.suite, cred, s.sigPriv, s.sigPub)
}

// PrepareEpoch handles the server's prepare_epoch opcode: the session
// records the target epoch and transition id and moves to "preparing"
// (spec §4.5 step 1).
func (s *Session) PrepareEpoch(transitionID uint32, targetEpoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionID = transitionID
	s.targetEpoch = targetEpoch
	s.transitionState = TransitionPreparing
}

// ContributeUpdate builds this member's own-update proposal for the
// in-flight transition (spec §4.5 step 2).
func (s *Session) ContributeUpdate() (mls.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group == nil {
		return mls.Proposal{}, ErrNoActiveGroup
	}

	cred := mls.NewBasicCredential([]byte(hex.EncodeToString(s.sigPub)))
	ln := &mls.LeafNode{
		SignatureKey: s.sigPub,
		Credential:   cred,
		Source:       mls.LeafNodeSourceUpdate,
	}
	s.transitionState = TransitionProposalsSent
	return mls.Proposal{Type: mls.ProposalUpdate, LeafNode: ln}, nil
}

// ReceiveProposal records a proposal another member contributed to the
// in-flight transition, to be included when this member commits.
func (s *Session) ReceiveProposal(p mls.Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingProposals = append(s.pendingProposals, p)
}

// AsCommitter marks this session as the designated committer for the
// in-flight transition (spec §4.5 step 3: "a designated committer").
func (s *Session) AsCommitter() { s.mu.Lock(); s.isCommitter = true; s.mu.Unlock() }

// Commit produces the mls_commit_message (and any welcome) for the
// in-flight transition, if this session is the designated committer.
func (s *Session) Commit() (*mls.GroupState, mls.AuthenticatedContent, *mls.Welcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group == nil {
		return nil, mls.AuthenticatedContent{}, nil, ErrNoActiveGroup
	}
	if !s.isCommitter {
		return nil, mls.AuthenticatedContent{}, nil, errors.New("dave: commit: session is not the designated committer")
	}
	proposals := s.pendingProposals
	s.pendingProposals = nil

	next, content, welcome, err := s.group.Commit(proposals, true)
	if err != nil {
		return nil, mls.AuthenticatedContent{}, nil, fmt.Errorf("dave: commit: %w", err)
	}
	s.transitionState = TransitionCommitSent
	s.pendingCommit, s.pendingCommitSig = next, content.Signature
	return next, content, welcome, nil
}

// HandleCommit processes a commit received from the designated committer
// (spec §4.5 step 4/5): applies it, advances the group, and moves to
// "ready" once processed cleanly.
func (s *Session) HandleCommit(content mls.AuthenticatedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group == nil {
		return ErrNoActiveGroup
	}
	if s.pendingCommit != nil && bytes.Equal(content.Signature, s.pendingCommitSig) {
		s.group, s.pendingCommit = s.pendingCommit, nil
		s.transitionState = TransitionReady
		return nil
	}
	next, err := s.group.Handle(content)
	if err != nil {
		return fmt.Errorf("dave: handle commit: %w", err)
	}
	s.group = next
	s.transitionState = TransitionReady
	return nil
}

// JoinGroup admits this session into an existing group via a received
// Welcome, given the group's public ratchet tree (see
// [mls.JoinFromWelcome]'s doc comment for why this package threads the
// tree through directly rather than decoding it from the wire).
func (s *Session) JoinGroup(kp *mls.KeyPackage, w *mls.Welcome, tree *mls.RatchetTree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := mls.JoinFromWelcome(s.suite, kp, w, tree, s.sigPriv)
	if err != nil {
		return fmt.Errorf("dave: join from welcome: %w", err)
	}
	s.group = g
	s.transitionState = TransitionReady
	return nil
}

// ExecuteTransition handles the server's execute_transition opcode (spec
// §4.5 step 6): every client swaps to the new epoch's media key
// atomically. Must be called after the local group has already processed
// the commit (group.Epoch == targetEpoch).
func (s *Session) ExecuteTransition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group == nil {
		return ErrNoActiveGroup
	}
	if s.group.Epoch != s.targetEpoch {
		return fmt.Errorf("dave: execute_transition at epoch %d, group is at %d", s.targetEpoch, s.group.Epoch)
	}
	s.transitionState = TransitionExecuted
	s.fireEpochChange()
	return nil
}

func (s *Session) fireEpochChange() {
	if s.onEpochChange == nil {
		return
	}
	var key [32]byte
	exported := s.group.Export(mediaKeyLabel, nil, 32)
	copy(key[:], exported)
	s.onEpochChange(s.group.Epoch, key)
}

// TransitionState reports the current phase of the epoch state machine.
func (s *Session) TransitionState() TransitionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionState
}

// InvalidCommitWelcome handles the server's mls_invalid_commit_welcome
// opcode (spec §4.5 "signals that a welcome failed to verify"): the
// session must rejoin via a fresh key package. The caller is responsible
// for sending the new key package; this just resets local state.
func (s *Session) InvalidCommitWelcome() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.group = nil
	s.transitionState = TransitionIdle
	s.log.Warn("dave: welcome invalid, local group state reset; rejoin required")
}

// LocalSignaturePublicKey returns this session's long-term signature
// public key, the identity GetPrivacyCode compares against a peer's.
func (s *Session) LocalSignaturePublicKey() mls.SignaturePublicKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(mls.SignaturePublicKey(nil), s.sigPub...)
}

// GetPrivacyCode derives the human-verifiable privacy code between this
// member and peerSigPub (spec §4.5 "Privacy code"): scrypt over the
// concatenated long-term signature keys, keyed by the current epoch
// authenticator. Runs scrypt off the caller's goroutine and invokes cb
// with the six-segment string (or "" if no E2EE group is active yet,
// spec's "Absent E2EE or before the first epoch, returns empty").
func (s *Session) GetPrivacyCode(ctx context.Context, peerSigPub mls.SignaturePublicKey, cb func(code string)) {
	s.mu.Lock()
	if s.group == nil {
		s.mu.Unlock()
		cb("")
		return
	}
	authenticator := append([]byte(nil), s.group.EpochAuthenticator()...)
	mine := append([]byte(nil), s.sigPub...)
	s.mu.Unlock()

	go func() {
		code, err := derivePrivacyCode(mine, peerSigPub, authenticator)
		if err != nil {
			cb("")
			return
		}
		select {
		case <-ctx.Done():
		default:
			cb(code)
		}
	}()
}

// derivePrivacyCode implements the scrypt derivation and six-group-of-five
// digit formatting (spec §4.5).
func derivePrivacyCode(a, b, salt []byte) (string, error) {
	lo, hi := a, b
	if string(a) > string(b) {
		lo, hi = b, a
	}
	input := append(append([]byte(nil), lo...), hi...)

	derived, err := scrypt.Key(input, salt, 16384, 8, 1, 30)
	if err != nil {
		return "", err
	}

	// 60 decimal digits are generated; the first 5 of each run of 10 form
	// the 6 groups of 5 that are output.
	digits := make([]byte, 0, 60)
	for _, b := range derived {
		digits = append(digits, []byte(fmt.Sprintf("%03d", b))...)
	}
	for len(digits) < 60 {
		digits = append(digits, '0')
	}
	digits = digits[:60]

	out := make([]byte, 0, 65)
	for i := 0; i < 6; i++ {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, digits[i*10:i*10+5]...)
	}
	return string(out), nil
}
