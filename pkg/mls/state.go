package mls

import (
	"encoding/hex"
	"errors"
)

// Errors surfaced by GroupState operations, mapped to the taxonomy in
// DAVE/gateway callers (spec §7).
var (
	ErrSignatureInvalid      = errors.New("mls: signature verification failed")
	ErrParentHashInvalid     = errors.New("mls: parent hash chain invalid")
	ErrConfirmationMismatch  = errors.New("mls: confirmation tag mismatch")
	ErrWelcomeInvalid        = errors.New("mls: welcome decryption or verification failed")
	ErrCommitMissingPath     = errors.New("mls: commit requires an UpdatePath but none was supplied")
	ErrProposalListInvalid   = errors.New("mls: proposal list violates the active rule set")
)

// GroupState is one member's view of an MLS group (spec §4.6 "State
// machine"). Commit and Handle consume no receiver mutation on error: both
// return a fresh *GroupState on success, leaving the original untouched,
// matching the source's `commit(opts) -> (new_state, ...)` contract.
type GroupState struct {
	suite Suite

	GroupID []byte
	Epoch   uint64

	tree       *RatchetTree
	transcript TranscriptHash
	keys       Epoch

	myLeaf    LeafIndex
	sigPriv   SignaturePrivateKey
	sigPub    SignaturePublicKey
	cred      Credential
	leafPriv  HPKEPrivateKey // encryption private key for myLeaf

	// pathSecrets holds, for each ancestor node this member can derive a
	// private key for, the path secret received either from its own
	// commit or from a Welcome/UpdatePath decapsulation.
	pathSecrets map[NodeIndex][]byte

	sentCommits map[string]*Commit // ref (hex) -> cached outbound commit, spec §4.6 "commit cache"
}

// NewGroup creates a single-member group (spec §8 scenario 1 "Solo group
// creation"), seeded with a random (not derived) init secret.
func NewGroup(suite Suite, groupID []byte, cred Credential, sigPub SignaturePublicKey, sigPriv SignaturePrivateKey) (*GroupState, error) {
	leafEncPub, leafEncPriv, err := GenerateHPKEKeyPair()
	if err != nil {
		return nil, err
	}
	leaf := &LeafNode{
		EncryptionKey: leafEncPub,
		SignatureKey:  sigPub,
		Credential:    cred,
		Capabilities:  defaultCapabilities(),
		Source:        LeafNodeSourceUpdate,
	}
	leaf.Sign(sigPriv, groupID, 0)

	tree := newRatchetTree(suite)
	tree.AddLeaf(leaf)

	gc := GroupContext{Version: 1, Suite: suite, GroupID: groupID, Epoch: 0, TreeHash: tree.TreeHash()}
	initSecret := make([]byte, KeySize)
	if _, err := randRead(initSecret); err != nil {
		return nil, err
	}
	epoch := InitialEpoch(suite, initSecret, gc.Serialize())

	return &GroupState{
		suite:       suite,
		GroupID:     groupID,
		Epoch:       0,
		tree:        tree,
		transcript:  NewTranscriptHash(suite),
		keys:        epoch,
		myLeaf:      0,
		sigPriv:     sigPriv,
		sigPub:      sigPub,
		cred:        cred,
		leafPriv:    leafEncPriv,
		pathSecrets: map[NodeIndex][]byte{},
		sentCommits: map[string]*Commit{},
	}, nil
}

func randRead(b []byte) (int, error) {
	return cryptoRandRead(b)
}

// EpochAuthenticator exposes the current epoch's authenticator (spec §8's
// cross-member equality check).
func (s *GroupState) EpochAuthenticator() []byte { return s.keys.EpochAuthenticator }

// MyLeafIndex returns this member's leaf index in the current tree.
func (s *GroupState) MyLeafIndex() LeafIndex { return s.myLeaf }

// Export derives an application-specific secret from the current epoch
// (spec §3.3 "exporter"), e.g. the voice RTP media key DAVE rotates on
// every epoch transition.
func (s *GroupState) Export(label string, context []byte, length int) []byte {
	return s.keys.Export(label, context, length)
}

// groupContext rebuilds the current authenticated group context.
func (s *GroupState) groupContext() GroupContext {
	return GroupContext{
		Version:                 1,
		Suite:                   s.suite,
		GroupID:                 s.GroupID,
		Epoch:                   s.Epoch,
		TreeHash:                s.tree.TreeHash(),
		ConfirmedTranscriptHash: s.transcript.Confirmed,
	}
}

// clone produces a deep-enough copy to serve as the basis for a new
// post-commit state (tree and maps are copied; the sealed secrets are
// replaced wholesale by the caller).
func (s *GroupState) clone() *GroupState {
	treeCopy := *s.tree
	treeCopy.nodes = append([]treeNode(nil), s.tree.nodes...)
	for i := range treeCopy.nodes {
		if p := treeCopy.nodes[i].parent; p != nil {
			pc := *p
			pc.UnmergedLeaves = append([]LeafIndex(nil), p.UnmergedLeaves...)
			treeCopy.nodes[i].parent = &pc
		}
	}
	pathCopy := make(map[NodeIndex][]byte, len(s.pathSecrets))
	for k, v := range s.pathSecrets {
		pathCopy[k] = v
	}
	commitsCopy := make(map[string]*Commit, len(s.sentCommits))
	for k, v := range s.sentCommits {
		commitsCopy[k] = v
	}
	return &GroupState{
		suite:       s.suite,
		GroupID:     s.GroupID,
		Epoch:       s.Epoch,
		tree:        &treeCopy,
		transcript:  s.transcript,
		keys:        s.keys,
		myLeaf:      s.myLeaf,
		sigPriv:     s.sigPriv,
		sigPub:      s.sigPub,
		cred:        s.cred,
		leafPriv:    s.leafPriv,
		pathSecrets: pathCopy,
		sentCommits: commitsCopy,
	}
}

// applyProposals applies updates -> removes -> adds -> group-context
// extensions, in that order (spec §4.6 "Commit processing"), returning
// the set of leaves added/removed this commit (for parent-hash filtering)
// and an error if the list violates the normal rule set (e.g. self-remove,
// duplicate target).
func (s *GroupState) applyProposals(next *GroupState, proposals []Proposal, sender LeafIndex) (touched map[LeafIndex]bool, err error) {
	touched = map[LeafIndex]bool{}
	seenRemove := map[LeafIndex]bool{}

	for _, p := range proposals {
		if p.Type != ProposalUpdate {
			continue
		}
		if p.LeafNode == nil {
			return nil, ErrProposalListInvalid
		}
		next.tree.SetLeaf(sender, p.LeafNode)
		touched[sender] = true
	}

	for _, p := range proposals {
		if p.Type != ProposalRemove {
			continue
		}
		if p.Removed == sender && len(proposals) == 1 {
			return nil, ErrProposalListInvalid // forbid pure self-remove by normal rules
		}
		if seenRemove[p.Removed] {
			return nil, ErrProposalListInvalid
		}
		seenRemove[p.Removed] = true
		next.tree.SetLeaf(p.Removed, nil)
		next.tree.BlankPath(p.Removed)
		touched[p.Removed] = true
	}

	for _, p := range proposals {
		if p.Type != ProposalAdd {
			continue
		}
		if p.KeyPackage == nil || !p.KeyPackage.Verify() {
			return nil, ErrSignatureInvalid
		}
		idx := next.tree.AddLeaf(&p.KeyPackage.LeafNode)
		touched[idx] = true
	}

	for _, p := range proposals {
		if p.Type != ProposalGroupContextExtensions {
			continue
		}
		// Extensions are advisory in this package; nothing to enforce.
	}

	return touched, nil
}

// Commit applies proposals (and, when forcePath is set or a proposal
// requires one, a fresh UpdatePath over the committer's direct path) and
// advances the epoch by exactly one
// (spec §3.3 invariant, §4.6 "Commit processing"). Returns the resulting
// state, the authenticated commit to send, and a Welcome if any Add
// proposals were included.
func (s *GroupState) Commit(proposals []Proposal, forcePath bool) (*GroupState, AuthenticatedContent, *Welcome, error) {
	next := s.clone()

	hasAdd, hasOtherPathTrigger := false, false
	for _, p := range proposals {
		switch p.Type {
		case ProposalAdd:
			hasAdd = true
		case ProposalUpdate, ProposalRemove, ProposalExternalInit, ProposalGroupContextExtensions:
			hasOtherPathTrigger = true
		}
	}
	needsPath := forcePath || hasOtherPathTrigger || len(proposals) == 0

	touched, err := s.applyProposals(next, proposals, s.myLeaf)
	if err != nil {
		return nil, AuthenticatedContent{}, nil, err
	}

	var commitSecret []byte
	var path *UpdatePath
	var addedSecrets map[LeafIndex][]byte // leaf -> its path secret, for Welcome

	if needsPath {
		var err error
		path, commitSecret, addedSecrets, err = next.encapPath(touched)
		if err != nil {
			return nil, AuthenticatedContent{}, nil, err
		}
	} else {
		commitSecret = make([]byte, KeySize)
	}

	next.Epoch = s.Epoch + 1

	commit := Commit{Path: path}
	for _, p := range proposals {
		pCopy := p
		commit.Proposals = append(commit.Proposals, ProposalOrRef{Inline: &pCopy})
	}

	content := FramedContent{
		GroupID:     next.GroupID,
		Epoch:       s.Epoch,
		SenderLeaf:  s.myLeaf,
		ContentType: ContentCommit,
		Commit:      &commit,
	}
	authContent := AuthenticatedContent{Content: content}
	authContent.Sign(s.sigPriv, s.groupContext().Serialize())

	next.transcript.UpdateConfirmed(authContent.Content.signingInput(s.groupContext().Serialize()))

	gc := next.groupContext()
	next.keys = s.keys.NextEpoch(commitSecret, nil, gc.Serialize())

	confirmationTag := next.keys.ConfirmationTag(next.transcript.Confirmed)
	authContent.ConfirmationTag = confirmationTag
	next.transcript.UpdateInterim(confirmationTag)

	ref := authContent.refHex()
	next.sentCommits[ref] = &commit

	var welcome *Welcome
	if hasAdd {
		welcome, err = next.buildWelcome(addedSecrets, proposals)
		if err != nil {
			return nil, AuthenticatedContent{}, nil, err
		}
	}

	return next, authContent, welcome, nil
}

func (a AuthenticatedContent) refHex() string {
	return hex.EncodeToString(refHash("MLS 1.0 Commit Reference", a.Content.signingInput(nil)))
}

// encapPath generates a fresh HPKE key pair for every node on the
// committer's direct path, seals a fresh path secret to each copath
// resolution, installs the new public keys and the parent-hash chain, and
// returns the resulting commit_secret plus (for any newly added leaves)
// the path secret they would need -- used to build the Welcome.
func (s *GroupState) encapPath(touchedLeaves map[LeafIndex]bool) (*UpdatePath, []byte, map[LeafIndex][]byte, error) {
	excl := map[LeafIndex]bool{s.myLeaf: true}
	for l := range touchedLeaves {
		excl[l] = true
	}

	base := *s.tree.Leaf(s.myLeaf)
	path, commitSecret, pathSecretsByNode, leafPriv, err := buildExternalPath(s.tree, s.myLeaf, base, s.sigPriv, s.GroupID, excl)
	if err != nil {
		return nil, nil, nil, err
	}
	s.leafPriv = leafPriv
	for n, secret := range pathSecretsByNode {
		s.pathSecrets[n] = secret
	}

	// Newly added/updated leaves need the path secret at their lowest
	// shared ancestor with the committer, to seed their own pathSecrets
	// once they join (threaded into the Welcome for Adds).
	added := map[LeafIndex][]byte{}
	for l := range touchedLeaves {
		if s.tree.Leaf(l) != nil && l != s.myLeaf {
			anc := ancestor(s.myLeaf, l, s.tree.LeafCount())
			if secret, ok := pathSecretsByNode[anc]; ok {
				added[l] = secret
			}
		}
	}

	return path, commitSecret, added, nil
}


// leavesUnder returns every leaf index in the subtree rooted at n.
func leavesUnder(t *RatchetTree, n NodeIndex) []LeafIndex {
	if n.isLeaf() {
		return []LeafIndex{nodeToLeaf(n)}
	}
	size := t.LeafCount()
	var out []LeafIndex
	out = append(out, leavesUnder(t, leftWithin(n, size))...)
	out = append(out, leavesUnder(t, rightWithin(n, size))...)
	return out
}

func (s *GroupState) buildWelcome(addedSecrets map[LeafIndex][]byte, proposals []Proposal) (*Welcome, error) {
	ws := WelcomeSecret(s.suite, s.keys.JoinerSecret, nil)
	gi := GroupInfo{
		GroupContext:    s.groupContext(),
		ConfirmationTag: s.keys.ConfirmationTag(s.transcript.Confirmed),
		SignerLeaf:      s.myLeaf,
	}
	gi.Sign(s.sigPriv)

	w := &Welcome{
		EncryptedGroupInfo: sealWS(ws, gi.Encode()),
		Secrets:            map[string][]byte{},
	}

	for _, p := range proposals {
		if p.Type != ProposalAdd || p.KeyPackage == nil {
			continue
		}
		idx := findLeaf(s.tree, p.KeyPackage)
		pathSecret := addedSecrets[idx]
		gs := GroupSecrets{JoinerSecret: s.keys.JoinerSecret, PathSecret: pathSecret}
		ct, err := HPKESeal(p.KeyPackage.InitKey, gs.encode())
		if err != nil {
			return nil, err
		}
		w.Secrets[hex.EncodeToString(p.KeyPackage.Ref())] = ct
	}

	return w, nil
}

func findLeaf(t *RatchetTree, kp *KeyPackage) LeafIndex {
	for l := LeafIndex(0); uint32(l) < uint32(t.LeafCount()); l++ {
		ln := t.Leaf(l)
		if ln != nil && ln.EncryptionKey == kp.LeafNode.EncryptionKey {
			return l
		}
	}
	return 0
}

// Handle processes an incoming authenticated commit, verifying its
// signature and confirmation tag and applying the same proposal/path
// processing a committer performs locally (spec §4.6 "State machine").
func (s *GroupState) Handle(authContent AuthenticatedContent) (*GroupState, error) {
	if authContent.Content.ContentType != ContentCommit || authContent.Content.Commit == nil {
		return nil, ErrProposalListInvalid
	}
	commit := authContent.Content.Commit

	var proposals []Proposal
	var externalInitProposal *Proposal
	for _, por := range commit.Proposals {
		if por.Inline == nil {
			// Reference-only proposals would be resolved from a local
			// cache in a full implementation; DAVE always sends inline
			// proposals.
			continue
		}
		proposals = append(proposals, *por.Inline)
		if por.Inline.Type == ProposalExternalInit {
			externalInitProposal = por.Inline
		}
	}

	// An external commit introduces a sender not yet present in this
	// member's tree, so its signature must be checked against the leaf
	// node the commit's own path carries rather than a tree lookup (spec
	// §4.6 "External commit").
	var signerKey SignaturePublicKey
	if externalInitProposal != nil {
		if commit.Path == nil {
			return nil, ErrCommitMissingPath
		}
		signerKey = commit.Path.LeafNode.SignatureKey
	} else {
		senderLeaf := s.tree.Leaf(authContent.Content.SenderLeaf)
		if senderLeaf == nil {
			return nil, ErrSignatureInvalid
		}
		signerKey = senderLeaf.SignatureKey
	}
	if !authContent.Verify(signerKey, s.groupContext().Serialize()) {
		return nil, ErrSignatureInvalid
	}

	next := s.clone()
	touched, err := s.applyProposals(next, proposals, authContent.Content.SenderLeaf)
	if err != nil {
		return nil, err
	}

	var commitSecret []byte
	if commit.Path != nil {
		commitSecret, err = next.decapPath(authContent.Content.SenderLeaf, commit.Path, touched)
		if err != nil {
			return nil, err
		}
	} else {
		if requiresPath(proposals) {
			return nil, ErrCommitMissingPath
		}
		commitSecret = make([]byte, KeySize)
	}

	next.Epoch = s.Epoch + 1
	next.transcript.UpdateConfirmed(authContent.Content.signingInput(s.groupContext().Serialize()))

	gc := next.groupContext()
	if externalInitProposal != nil {
		// The external-init KEM output, decrypted under this epoch's
		// shared external key pair, replaces init_secret for the key
		// schedule derivation (spec §4.6 "External commit").
		newInitSecret, err := decryptExternalInit(s.keys, externalInitProposal.KEMOutput)
		if err != nil {
			return nil, err
		}
		next.keys = deriveEpoch(s.suite, newInitSecret, commitSecret, make([]byte, KeySize), gc.Serialize())
	} else {
		next.keys = s.keys.NextEpoch(commitSecret, nil, gc.Serialize())
	}

	expectedTag := next.keys.ConfirmationTag(next.transcript.Confirmed)
	if !bytesEqual(expectedTag, authContent.ConfirmationTag) {
		return nil, ErrConfirmationMismatch
	}
	next.transcript.UpdateInterim(authContent.ConfirmationTag)

	return next, nil
}

// decryptExternalInit reverses [externalInit]: every member derives the
// same ExternalPub/ExternalPriv pair from the epoch's shared
// ExternalSecret, so any member can open the KEM output a joiner sealed
// to ExternalPub and recover the replacement init_secret.
func decryptExternalInit(e Epoch, kemOutput []byte) ([]byte, error) {
	raw, err := HPKEOpen(e.ExternalPub, e.ExternalPriv, kemOutput)
	if err != nil {
		return nil, ErrCryptoFailed
	}
	return deriveSecret(raw, "external init"), nil
}

func requiresPath(proposals []Proposal) bool {
	if len(proposals) == 0 {
		return true
	}
	for _, p := range proposals {
		switch p.Type {
		case ProposalUpdate, ProposalRemove, ProposalExternalInit, ProposalGroupContextExtensions:
			return true
		}
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// decapPath verifies the sender's parent-hash chain and, if myLeaf is in
// the copath resolution of some node on the sender's path, decrypts the
// corresponding path secret to re-derive every ancestor up to the root,
// producing the commit_secret.
func (s *GroupState) decapPath(sender LeafIndex, path *UpdatePath, touched map[LeafIndex]bool) ([]byte, error) {
	newLeaf := path.LeafNode
	s.tree.SetLeaf(sender, &newLeaf)

	dp := dirpath(sender, s.tree.LeafCount())
	if len(dp) != len(path.Nodes) {
		return nil, ErrProposalListInvalid
	}

	pubKeys := make([]HPKEPublicKey, len(dp))
	for i := range dp {
		pubKeys[i] = path.Nodes[i].PublicKey
	}
	excl := map[LeafIndex]bool{sender: true}
	for l := range touched {
		excl[l] = true
	}
	s.tree.setParentHashChain(sender, pubKeys, excl)
	if !s.tree.VerifyParentHashChain(sender) {
		return nil, ErrParentHashInvalid
	}

	// Find the lowest node on the sender's path this member can decrypt.
	// path.Nodes[i]'s ciphertexts are sealed to the copath resolution one
	// level below dp[i] (the sibling of the node the walk is at before
	// climbing to dp[i]), matching how encapPath/buildExternalPath encrypt
	// them -- not the sibling of dp[i] itself.
	var pathSecret []byte
	startIdx := -1
	nodeCur := leafToNode(sender)
	for i, n := range dp {
		sib := sibling(nodeCur, s.tree.LeafCount())
		nodeCur = n
		if leafInSubtree(sib, s.myLeaf, s.tree) {
			for j, recipient := range leavesUnder(s.tree, sib) {
				if recipient != s.myLeaf {
					continue
				}
				if j < len(path.Nodes[i].EncryptedPathSecret) {
					pt, err := HPKEOpen(s.tree.Leaf(s.myLeaf).EncryptionKey, s.leafPriv, path.Nodes[i].EncryptedPathSecret[j])
					if err != nil {
						return nil, ErrCryptoFailed
					}
					pathSecret = pt
					startIdx = i
				}
			}
			if startIdx >= 0 {
				break
			}
		}
	}

	if startIdx < 0 {
		// This member's leaf wasn't in any resolution (e.g. it is the
		// sender itself handling its own commit echoed back, or path
		// doesn't reach it); nothing further to derive locally.
		return make([]byte, KeySize), nil
	}

	// Walk forward from the recovered secret to the root-level one (the
	// last dirpath entry), matching how encapPath/buildExternalPath derive
	// commit_secret from that same root-level value.
	cur := pathSecret
	for i := startIdx; i < len(dp); i++ {
		s.pathSecrets[dp[i]] = cur
		if i < len(dp)-1 {
			cur = deriveSecret(cur, "path")
		}
	}
	return deriveSecret(cur, "commit"), nil
}

func leafInSubtree(n NodeIndex, l LeafIndex, t *RatchetTree) bool {
	for _, ll := range leavesUnder(t, n) {
		if ll == l {
			return true
		}
	}
	return false
}

// JoinFromWelcome admits a new member using a Welcome produced by
// [GroupState.Commit] and the joiner's own key package (with its private
// init key retained). tree is the group's current public ratchet tree,
// conveyed out-of-band alongside the Welcome (spec §3.3's welcome
// mechanism assumes the joiner can resolve the tree; this package requires
// the caller -- the DAVE transition state machine -- to supply it directly
// rather than decoding a wire `ratchet_tree` extension).
func JoinFromWelcome(suite Suite, kp *KeyPackage, w *Welcome, tree *RatchetTree, sigPriv SignaturePrivateKey) (*GroupState, error) {
	ref := hex.EncodeToString(kp.Ref())
	sealedSecrets, ok := w.Secrets[ref]
	if !ok {
		return nil, ErrWelcomeInvalid
	}
	plain, err := HPKEOpen(kp.InitKey, kp.InitPriv, sealedSecrets)
	if err != nil {
		return nil, ErrWelcomeInvalid
	}
	gs, err := decodeGroupSecrets(plain)
	if err != nil {
		return nil, ErrWelcomeInvalid
	}

	myLeaf := findLeafByEncKey(tree, kp.LeafNode.EncryptionKey)

	treeCopy := *tree
	treeCopy.nodes = append([]treeNode(nil), tree.nodes...)

	ws := WelcomeSecret(suite, gs.JoinerSecret, nil)
	giBytes, err := openWS(ws, w.EncryptedGroupInfo)
	if err != nil {
		return nil, ErrWelcomeInvalid
	}
	gi, err := DecodeGroupInfo(giBytes)
	if err != nil {
		return nil, ErrWelcomeInvalid
	}
	if !gi.Verify(&treeCopy) {
		return nil, ErrWelcomeInvalid
	}
	gc := gi.GroupContext
	joinerEpoch := JoinerEpoch(suite, gs.JoinerSecret, nil, gc.Serialize())

	confirmedTag := joinerEpoch.ConfirmationTag(gc.ConfirmedTranscriptHash)
	if !bytesEqual(confirmedTag, gi.ConfirmationTag) {
		return nil, ErrConfirmationMismatch
	}

	state := &GroupState{
		suite:       suite,
		GroupID:     gc.GroupID,
		Epoch:       gc.Epoch,
		tree:        &treeCopy,
		transcript:  TranscriptHash{suite: suite, Confirmed: gc.ConfirmedTranscriptHash, Interim: deriveInterimFromConfirmed(suite, gc.ConfirmedTranscriptHash, gi.ConfirmationTag)},
		keys:        joinerEpoch,
		myLeaf:      myLeaf,
		sigPriv:     sigPriv,
		sigPub:      kp.LeafNode.SignatureKey,
		cred:        kp.LeafNode.Credential,
		leafPriv:    deriveLeafPrivFromInit(kp.InitPriv),
		pathSecrets: map[NodeIndex][]byte{},
		sentCommits: map[string]*Commit{},
	}

	if gs.PathSecret != nil {
		// anc is the lowest common ancestor of the joiner and the committer,
		// so it lies on the joiner's own direct path too. Walk forward from
		// it to the root the same way decapPath does, deriving each
		// ancestor's secret via the "path" label.
		anc := ancestor(myLeaf, gi.SignerLeaf, treeCopy.LeafCount())
		myDirpath := dirpath(myLeaf, treeCopy.LeafCount())
		ancIdx := -1
		for i, n := range myDirpath {
			if n == anc {
				ancIdx = i
				break
			}
		}
		if ancIdx >= 0 {
			cur := gs.PathSecret
			for i := ancIdx; i < len(myDirpath); i++ {
				state.pathSecrets[myDirpath[i]] = cur
				if i < len(myDirpath)-1 {
					cur = deriveSecret(cur, "path")
				}
			}
		}
	}

	return state, nil
}

func deriveLeafPrivFromInit(initPriv HPKEPrivateKey) HPKEPrivateKey {
	// The joiner's leaf encryption key is independent of its init key in
	// full MLS; this package's NewKeyPackage uses the init key pair as the
	// leaf encryption key pair too, so the leaf private key is InitPriv.
	// That keeps the join self-contained without threading a second
	// private key through the Welcome path; documented simplification (see
	// DESIGN.md).
	return initPriv
}

func findLeafByEncKey(t *RatchetTree, key HPKEPublicKey) LeafIndex {
	for l := LeafIndex(0); uint32(l) < uint32(t.LeafCount()); l++ {
		ln := t.Leaf(l)
		if ln != nil && ln.EncryptionKey == key {
			return l
		}
	}
	return 0
}

func deriveInterimFromConfirmed(suite Suite, confirmed, tag []byte) []byte {
	h := suite.NewHash()
	h.Write(confirmed)
	h.Write(tag)
	return h.Sum(nil)
}

// ExternalJoin lets a non-member join by submitting a commit whose sole
// proposal is ExternalInit (spec §4.6 "External commit"). tree, groupID,
// epoch and confirmedTranscript describe the group's current public state
// (conveyed out-of-band, same caveat as [JoinFromWelcome]); externalPub is
// the epoch's external public key (spec's "external_secret"-derived key
// pair, exposed by the committer side via [Epoch.ExternalPub]).
//
// It returns the new member's state (at the next epoch, leaf index
// assigned to the first empty slot) and the authenticated commit to
// broadcast; other members apply it via the ordinary [GroupState.Handle]
// path.
func ExternalJoin(suite Suite, tree *RatchetTree, groupID []byte, epoch uint64, confirmedTranscript []byte, externalPub HPKEPublicKey, kp *KeyPackage, sigPriv SignaturePrivateKey) (*GroupState, AuthenticatedContent, error) {
	kemOutput, initSecret, err := externalInit(externalPub)
	if err != nil {
		return nil, AuthenticatedContent{}, err
	}

	treeCopy := *tree
	treeCopy.nodes = append([]treeNode(nil), tree.nodes...)

	myLeaf := treeCopy.FirstEmptyLeaf()
	path, commitSecret, pathSecrets, leafPriv, err := buildExternalPath(&treeCopy, myLeaf, kp.LeafNode, sigPriv, groupID, map[LeafIndex]bool{myLeaf: true})
	if err != nil {
		return nil, AuthenticatedContent{}, err
	}

	proposal := Proposal{Type: ProposalExternalInit, KEMOutput: kemOutput}
	commit := Commit{Proposals: []ProposalOrRef{{Inline: &proposal}}, Path: path}

	// The signed group context must reflect the pre-commit tree -- the
	// same view every existing member verifies against in Handle -- not
	// treeCopy's state after the joiner's path has already been applied.
	gc := GroupContext{Version: 1, Suite: suite, GroupID: groupID, Epoch: epoch, TreeHash: tree.TreeHash(), ConfirmedTranscriptHash: confirmedTranscript}

	content := FramedContent{GroupID: groupID, Epoch: epoch, SenderLeaf: myLeaf, ContentType: ContentCommit, Commit: &commit}
	authContent := AuthenticatedContent{Content: content}
	authContent.Sign(sigPriv, gc.Serialize())

	transcript := TranscriptHash{suite: suite, Confirmed: confirmedTranscript}
	transcript.UpdateConfirmed(authContent.Content.signingInput(gc.Serialize()))

	gc2 := GroupContext{Version: 1, Suite: suite, GroupID: groupID, Epoch: epoch + 1, TreeHash: treeCopy.TreeHash(), ConfirmedTranscriptHash: transcript.Confirmed}
	keys := deriveEpoch(suite, initSecret, commitSecret, make([]byte, KeySize), gc2.Serialize())

	confirmationTag := keys.ConfirmationTag(transcript.Confirmed)
	authContent.ConfirmationTag = confirmationTag
	transcript.UpdateInterim(confirmationTag)

	state := &GroupState{
		suite:       suite,
		GroupID:     groupID,
		Epoch:       epoch + 1,
		tree:        &treeCopy,
		transcript:  transcript,
		keys:        keys,
		myLeaf:      myLeaf,
		sigPriv:     sigPriv,
		sigPub:      kp.LeafNode.SignatureKey,
		cred:        kp.LeafNode.Credential,
		leafPriv:    leafPriv,
		pathSecrets: pathSecrets,
		sentCommits: map[string]*Commit{},
	}

	return state, authContent, nil
}

// buildExternalPath generates a fresh direct-path encryption for a joining
// leaf exactly as [GroupState.encapPath] does for an existing member's
// commit, sealing the new leaf's path secrets to the current copath
// members so they can derive the same commit_secret via decapPath. Unlike
// encapPath it operates on a bare tree rather than an established
// GroupState, since the joiner has no GroupState until the join completes.
func buildExternalPath(tree *RatchetTree, myLeaf LeafIndex, base LeafNode, sigPriv SignaturePrivateKey, groupID []byte, excludeLeaves map[LeafIndex]bool) (*UpdatePath, []byte, map[NodeIndex][]byte, HPKEPrivateKey, error) {
	// Ensure myLeaf's slot exists before walking its direct path: callers
	// pass the tree's first empty/append position, which may still be
	// outside the tree's current array bounds.
	if tree.Leaf(myLeaf) == nil {
		tree.SetLeaf(myLeaf, nil)
	}
	dp := dirpath(myLeaf, tree.LeafCount())

	leafSecret := make([]byte, KeySize)
	if _, err := randRead(leafSecret); err != nil {
		return nil, nil, nil, HPKEPrivateKey{}, err
	}

	pathPubKeys := make([]HPKEPublicKey, len(dp))
	secrets := make([][]byte, len(dp))
	secretCur := leafSecret
	for i := range dp {
		secretCur = deriveSecret(secretCur, "path")
		secrets[i] = secretCur
		var priv HPKEPrivateKey
		copy(priv[:], deriveSecret(secretCur, "node"))
		pub, _, err := deriveHPKEPublic(priv)
		if err != nil {
			return nil, nil, nil, HPKEPrivateKey{}, err
		}
		pathPubKeys[i] = pub
	}

	// Path node i's secret must be sealed to the copath resolution one
	// level below dp[i] -- the sibling of the node the walk is AT before
	// climbing to dp[i], not the sibling of dp[i] itself (which would be
	// one level too high and include the committer's own new leaf).
	nodes := make([]UpdatePathNode, len(dp))
	nodeCur := leafToNode(myLeaf)
	for i, n := range dp {
		sib := sibling(nodeCur, tree.LeafCount())
		var ciphertexts [][]byte
		for _, recipientLeaf := range leavesUnder(tree, sib) {
			ln := tree.Leaf(recipientLeaf)
			if ln == nil {
				continue
			}
			ct, err := HPKESeal(ln.EncryptionKey, secrets[i])
			if err != nil {
				return nil, nil, nil, HPKEPrivateKey{}, err
			}
			ciphertexts = append(ciphertexts, ct)
		}
		nodes[i] = UpdatePathNode{PublicKey: pathPubKeys[i], EncryptedPathSecret: ciphertexts}
		nodeCur = n
	}

	newLeaf := base
	newLeaf.Source = LeafNodeSourceCommit

	var leafPriv HPKEPrivateKey
	copy(leafPriv[:], deriveSecret(leafSecret, "node"))
	leafPub, _, _ := deriveHPKEPublic(leafPriv)
	newLeaf.EncryptionKey = leafPub

	tree.SetLeaf(myLeaf, &newLeaf)
	finalPH := tree.setParentHashChain(myLeaf, pathPubKeys, excludeLeaves)
	newLeaf.ParentHash = finalPH
	newLeaf.Sign(sigPriv, groupID, myLeaf)
	tree.SetLeaf(myLeaf, &newLeaf)

	pathSecretsByNode := make(map[NodeIndex][]byte, len(dp))
	for i, n := range dp {
		pathSecretsByNode[n] = secrets[i]
	}

	// commit_secret derives from the root-level path secret (the last
	// entry in the chain) so that any member who recovers secrets[i] for
	// some i can walk forward to the same value decapPath does; a
	// single-leaf tree has no ancestors at all, so it falls back to the
	// seed directly.
	var commitSecret []byte
	if len(secrets) > 0 {
		commitSecret = deriveSecret(secrets[len(secrets)-1], "commit")
	} else {
		commitSecret = deriveSecret(leafSecret, "commit")
	}
	return &UpdatePath{LeafNode: newLeaf, Nodes: nodes}, commitSecret, pathSecretsByNode, leafPriv, nil
}

// externalInit performs the KEM step of an external commit: seal a fresh
// random value to the group's external public key, and derive the
// replacement init_secret from it (spec §4.6 "the external-init KEM
// output, combined with the group's external_secret, replaces the
// init_secret").
func externalInit(externalPub HPKEPublicKey) (kemOutput, initSecret []byte, err error) {
	raw := make([]byte, KeySize)
	if _, err := randRead(raw); err != nil {
		return nil, nil, err
	}
	kemOutput, err = HPKESeal(externalPub, raw)
	if err != nil {
		return nil, nil, err
	}
	initSecret = deriveSecret(raw, "external init")
	return kemOutput, initSecret, nil
}
