package mls

import (
	"bytes"
	"encoding/binary"
)

// RatchetTree is a left-complete binary tree of optional nodes (spec §3.3
// "Ratchet tree"). Index i holds a leaf if i is even, a parent if i is
// odd; a nil entry is blank.
type RatchetTree struct {
	suite Suite
	nodes []treeNode // len == nodeWidth(leafCount); nil entries are blank
}

type treeNode struct {
	leaf   *LeafNode
	parent *ParentNode
}

func newRatchetTree(suite Suite) *RatchetTree {
	return &RatchetTree{suite: suite}
}

// LeafCount returns the tree's current (untruncated) leaf count.
func (t *RatchetTree) LeafCount() LeafCount {
	if len(t.nodes) == 0 {
		return 0
	}
	return LeafCount((len(t.nodes) + 1) / 2)
}

func (t *RatchetTree) ensureSize(size LeafCount) {
	w := int(nodeWidth(size))
	for len(t.nodes) < w {
		t.nodes = append(t.nodes, treeNode{})
	}
}

// Leaf returns the leaf node at index l, or nil if blank.
func (t *RatchetTree) Leaf(l LeafIndex) *LeafNode {
	n := leafToNode(l)
	if int(n) >= len(t.nodes) {
		return nil
	}
	return t.nodes[n].leaf
}

// SetLeaf installs (or blanks, if ln == nil) the leaf at index l.
func (t *RatchetTree) SetLeaf(l LeafIndex, ln *LeafNode) {
	t.ensureSize(LeafCount(uint32(l) + 1))
	t.nodes[leafToNode(l)].leaf = ln
}

// Parent returns the parent node at node index n, or nil if blank.
func (t *RatchetTree) Parent(n NodeIndex) *ParentNode {
	if int(n) >= len(t.nodes) {
		return nil
	}
	return t.nodes[n].parent
}

func (t *RatchetTree) setParent(n NodeIndex, pn *ParentNode) {
	if int(n) >= len(t.nodes) {
		return
	}
	t.nodes[n].parent = pn
}

// FirstEmptyLeaf returns the first blank leaf index, or the tree's current
// leaf count if the tree is fully populated (append position).
func (t *RatchetTree) FirstEmptyLeaf() LeafIndex {
	n := t.LeafCount()
	for l := LeafIndex(0); uint32(l) < uint32(n); l++ {
		if t.Leaf(l) == nil {
			return l
		}
	}
	return LeafIndex(n)
}

// AddLeaf installs ln at the first empty slot (or appends), growing the
// tree by one blank leaf pair if no blank slot exists, and returns the
// assigned index.
func (t *RatchetTree) AddLeaf(ln *LeafNode) LeafIndex {
	idx := t.FirstEmptyLeaf()
	t.SetLeaf(idx, ln)

	// Record idx in the unmerged-leaves list of every non-blank ancestor on
	// its direct path; blank ancestors are left as they are.
	for _, n := range dirpath(idx, t.LeafCount()) {
		p := t.Parent(n)
		if p == nil {
			continue
		}
		p.UnmergedLeaves = append(p.UnmergedLeaves, idx)
	}
	return idx
}

// BlankPath clears every node on leaf l's direct path (used when applying
// a Remove or before decapsulating a fresh UpdatePath).
func (t *RatchetTree) BlankPath(l LeafIndex) {
	for _, n := range dirpath(l, t.LeafCount()) {
		t.setParent(n, nil)
	}
}

// Truncate drops trailing blank leaves so the tree ends at its last
// populated leaf (spec §3.3 "canonical truncated serialization"); the leaf
// count is not rounded up to a power of two.
func (t *RatchetTree) Truncate() {
	n := t.LeafCount()
	for n > 0 && t.Leaf(LeafIndex(n-1)) == nil {
		n--
	}
	t.nodes = t.nodes[:nodeWidth(n)]
}

// --- Tree hash (spec §4.6 "Tree hash") ---

// TreeHash computes the recursive tree hash over the whole tree.
func (t *RatchetTree) TreeHash() []byte {
	return t.subtreeHash(root(t.LeafCount()))
}

func (t *RatchetTree) subtreeHash(n NodeIndex) []byte {
	h := t.suite.NewHash()
	if n.isLeaf() {
		l := nodeToLeaf(n)
		h.Write([]byte{0x00}) // leaf tag
		h.Write(appendUint32(nil, uint32(l)))
		ln := t.Leaf(l)
		if ln != nil {
			h.Write([]byte{0x01})
			h.Write(ln.EncryptionKey[:])
			h.Write(ln.SignatureKey)
		} else {
			h.Write([]byte{0x00})
		}
		return h.Sum(nil)
	}

	h.Write([]byte{0x01}) // parent tag
	pn := t.Parent(n)
	if pn != nil {
		h.Write([]byte{0x01})
		h.Write(pn.PublicKey[:])
		h.Write(pn.ParentHash)
		for _, ul := range pn.UnmergedLeaves {
			h.Write(appendUint32(nil, uint32(ul)))
		}
	} else {
		h.Write([]byte{0x00})
	}
	size := t.LeafCount()
	h.Write(t.subtreeHash(leftWithin(n, size)))
	h.Write(t.subtreeHash(rightWithin(n, size)))
	return h.Sum(nil)
}

// --- Parent hash (spec §4.6 "Parent hash") ---

// parentHash computes ph = H(public_key || previous_ph || original_sibling_tree_hash)
// for one node on a filtered direct path.
func (t *RatchetTree) parentHash(pub HPKEPublicKey, previousPH []byte, originalSiblingTreeHash []byte) []byte {
	h := t.suite.NewHash()
	h.Write(pub[:])
	h.Write(previousPH)
	h.Write(originalSiblingTreeHash)
	return h.Sum(nil)
}

// setParentHashChain computes and installs the parent-hash chain along
// leaf l's direct path after a fresh UpdatePath has populated the path's
// public keys, returning the parent hash the leaf node itself must embed.
// excludeLeaves lists leaves being added/removed in the same commit, whose
// entries are pruned from each sibling's unmerged-leaves list before
// hashing it (the "original" tree view), per spec §4.6.
func (t *RatchetTree) setParentHashChain(l LeafIndex, pathPubKeys []HPKEPublicKey, excludeLeaves map[LeafIndex]bool) []byte {
	dp := dirpath(l, t.LeafCount())
	previousPH := []byte{}
	for i := len(dp) - 1; i >= 0; i-- {
		n := dp[i]
		sib := sibling(n, t.LeafCount())
		sibHash := t.originalSubtreeHash(sib, excludeLeaves)
		ph := t.parentHash(pathPubKeys[i], previousPH, sibHash)
		t.setParent(n, &ParentNode{PublicKey: pathPubKeys[i], ParentHash: ph})
		previousPH = ph
	}
	return previousPH
}

// originalSubtreeHash is subtreeHash but with excludeLeaves' entries
// removed from every parent node's unmerged-leaves list along the way,
// modeling the "original" (pre-add/remove) tree view spec §4.6 requires
// when hashing a sibling subtree for the parent-hash chain.
func (t *RatchetTree) originalSubtreeHash(n NodeIndex, excludeLeaves map[LeafIndex]bool) []byte {
	if len(excludeLeaves) == 0 {
		return t.subtreeHash(n)
	}
	h := t.suite.NewHash()
	if n.isLeaf() {
		return t.subtreeHash(n)
	}
	h.Write([]byte{0x01})
	pn := t.Parent(n)
	if pn != nil {
		filtered := make([]LeafIndex, 0, len(pn.UnmergedLeaves))
		for _, ul := range pn.UnmergedLeaves {
			if !excludeLeaves[ul] {
				filtered = append(filtered, ul)
			}
		}
		h.Write([]byte{0x01})
		h.Write(pn.PublicKey[:])
		h.Write(pn.ParentHash)
		for _, ul := range filtered {
			h.Write(appendUint32(nil, uint32(ul)))
		}
	} else {
		h.Write([]byte{0x00})
	}
	size := t.LeafCount()
	h.Write(t.originalSubtreeHash(leftWithin(n, size), excludeLeaves))
	h.Write(t.originalSubtreeHash(rightWithin(n, size), excludeLeaves))
	return h.Sum(nil)
}

// VerifyParentHashChain checks that the chain of parent hashes on leaf l's
// direct path ends at the value the leaf declares (spec §4.6's update-path
// validity condition).
func (t *RatchetTree) VerifyParentHashChain(l LeafIndex) bool {
	ln := t.Leaf(l)
	if ln == nil || ln.Source != LeafNodeSourceCommit {
		return true
	}
	dp := dirpath(l, t.LeafCount())
	if len(dp) == 0 {
		return len(ln.ParentHash) == 0
	}
	// The first dirpath ancestor's parent hash must equal the leaf's
	// declared parent hash.
	pn := t.Parent(dp[0])
	if pn == nil {
		return false
	}
	return bytes.Equal(pn.ParentHash, ln.ParentHash)
}

// Serialize produces a canonical byte encoding of the (truncated) tree.
func (t *RatchetTree) Serialize() []byte {
	cp := *t
	cp.nodes = append([]treeNode(nil), t.nodes...)
	cp.Truncate()

	var buf bytes.Buffer
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(cp.nodes)))
	buf.Write(sizeBuf[:])
	for _, n := range cp.nodes {
		if n.leaf != nil {
			buf.WriteByte(1)
			buf.Write(n.leaf.EncryptionKey[:])
			buf.Write(n.leaf.SignatureKey)
		} else if n.parent != nil {
			buf.WriteByte(2)
			buf.Write(n.parent.PublicKey[:])
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}
