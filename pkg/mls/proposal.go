package mls

// ProposalType tags the union in [Proposal] (spec §3.3 "Proposal").
type ProposalType uint8

const (
	ProposalAdd ProposalType = iota
	ProposalUpdate
	ProposalRemove
	ProposalPreSharedKey
	ProposalReInit
	ProposalExternalInit
	ProposalGroupContextExtensions
)

// Proposal is one item a Commit applies. Only the fields relevant to the
// proposal's Type are meaningful.
type Proposal struct {
	Type ProposalType

	// Add
	KeyPackage *KeyPackage

	// Update
	LeafNode *LeafNode

	// Remove
	Removed LeafIndex

	// ExternalInit
	KEMOutput []byte

	// GroupContextExtensions
	Extensions []uint16
}

// Ref returns the proposal's reference hash, used when a Commit refers to
// a previously-sent proposal by reference rather than inline.
func (p Proposal) Ref(encoded []byte) []byte {
	return refHash("MLS 1.0 Proposal Reference", encoded)
}

// ProposalOrRef is an item in a Commit's proposal list: either an inline
// Proposal or a reference to one already seen (spec §3.3 "Commit").
type ProposalOrRef struct {
	Inline *Proposal
	Ref    []byte
}

// UpdatePath carries a fresh direct-path encryption, one ciphertext per
// copath node, used by commits that change the committer's leaf keys.
type UpdatePath struct {
	LeafNode LeafNode
	Nodes    []UpdatePathNode
}

// UpdatePathNode is one node on the committer's filtered direct path: its
// new public key, plus the path secret encrypted to each resolution node
// in the corresponding copath subtree.
type UpdatePathNode struct {
	PublicKey           HPKEPublicKey
	EncryptedPathSecret [][]byte // one ciphertext per recipient in the copath resolution
}

// Commit applies a batch of proposals and optionally rotates the
// committer's path (spec §3.3 "Commit").
type Commit struct {
	Proposals  []ProposalOrRef
	Path       *UpdatePath
}
