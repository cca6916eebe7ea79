package mls

// NodeIndex addresses a node in the flat array representation of the
// ratchet tree: leaves at even indices, parent nodes at odd indices (spec
// §4.6 "Tree arithmetic"). LeafIndex addresses a leaf by its 0-based leaf
// number; NodeIndex(li) = 2*li.
//
// MLS trees are generally partial (leaf count not a power of two), so every
// walk below is bounded by the tree's LeafCount and stops at its root
// rather than the root of the perfect binary tree the raw bit formulas
// describe; this mirrors mlspp's NodeIndex operations restricted to a
// LeafCount bound (original_source/mlspp/include/mls/tree_math.h).
type NodeIndex uint32
type LeafIndex uint32
type LeafCount uint32
type NodeCount uint32

func leafToNode(l LeafIndex) NodeIndex { return NodeIndex(2 * uint32(l)) }

func nodeToLeaf(n NodeIndex) LeafIndex {
	if !n.isLeaf() {
		panic("mls: nodeToLeaf on internal node")
	}
	return LeafIndex(uint32(n) / 2)
}

func (n NodeIndex) isLeaf() bool { return uint32(n)%2 == 0 }

// nodeWidth is the number of array slots (leaves + parents) for n leaves.
func nodeWidth(n LeafCount) NodeCount {
	if n == 0 {
		return 0
	}
	return NodeCount(2*uint32(n) - 1)
}

func log2Floor(x uint32) uint32 {
	k := uint32(0)
	for x > 1 {
		x >>= 1
		k++
	}
	return k
}

// level is the number of trailing 1-bits of x (0 for a leaf).
func level(x NodeIndex) uint32 {
	if x.isLeaf() {
		return 0
	}
	k := uint32(0)
	for (uint32(x)>>k)&0x01 == 1 {
		k++
	}
	return k
}

// root returns the root node index of a tree with n leaves.
func root(n LeafCount) NodeIndex {
	w := nodeWidth(n)
	if w == 0 {
		return 0
	}
	return NodeIndex((uint32(1) << log2Floor(uint32(w))) - 1)
}

// rawParent computes the parent of x in the perfect binary tree per spec
// §4.6's formula: "parent of x at level k is (x | (1<<k)) & ~(1<<(k+1))".
func rawParent(x NodeIndex) NodeIndex {
	k := level(x)
	return NodeIndex((uint32(x) | (1 << k)) &^ (1 << (k + 1)))
}

// rawLeft/rawRight compute the children of an internal node x in the
// perfect binary tree containing it.
func rawLeft(x NodeIndex) NodeIndex {
	k := level(x)
	return NodeIndex(uint32(x) ^ (1 << (k - 1)))
}

func rawRight(x NodeIndex) NodeIndex {
	k := level(x)
	return NodeIndex(uint32(x) ^ (3 << (k - 1)))
}

// parentWithin walks up from x via rawParent until it lands inside the
// tree of the given size (or is already the tree's root).
func parentWithin(x NodeIndex, size LeafCount) NodeIndex {
	r := root(size)
	if x == r {
		return x
	}
	w := uint32(nodeWidth(size))
	p := rawParent(x)
	for uint32(p) >= w {
		p = rawParent(p)
	}
	return p
}

// leftWithin/rightWithin return the left/right child of internal node x,
// walking down into the tree of the given size when the raw right child
// falls outside it (a blank slot past the populated prefix).
func leftWithin(x NodeIndex, size LeafCount) NodeIndex {
	if x.isLeaf() {
		return x
	}
	return rawLeft(x)
}

func rightWithin(x NodeIndex, size LeafCount) NodeIndex {
	if x.isLeaf() {
		return x
	}
	w := uint32(nodeWidth(size))
	r := rawRight(x)
	for uint32(r) >= w {
		r = rawLeft(r)
	}
	return r
}

// sibling returns the other child of x's parent within the given tree.
func sibling(x NodeIndex, size LeafCount) NodeIndex {
	p := parentWithin(x, size)
	if x == p {
		return x // x is the root; no sibling
	}
	if uint32(x) < uint32(p) {
		return rightWithin(p, size)
	}
	return leftWithin(p, size)
}

// dirpath returns the sequence of ancestors from (but not including) leaf l
// up to (and including) the root.
func dirpath(l LeafIndex, size LeafCount) []NodeIndex {
	x := leafToNode(l)
	r := root(size)
	var path []NodeIndex
	for x != r {
		x = parentWithin(x, size)
		path = append(path, x)
	}
	return path
}

// copath returns, for each node on the dirpath of leaf l, its sibling
// within the tree -- the nodes whose secrets are used to encrypt/decrypt
// an UpdatePath addressed to l.
func copath(l LeafIndex, size LeafCount) []NodeIndex {
	x := leafToNode(l)
	r := root(size)
	if x == r {
		return nil
	}
	var path []NodeIndex
	for x != r {
		path = append(path, sibling(x, size))
		x = parentWithin(x, size)
	}
	return path
}

// ancestor returns the lowest common ancestor of two leaves: the first
// node that appears in both leaves' dirpaths (including themselves).
func ancestor(l1, l2 LeafIndex, size LeafCount) NodeIndex {
	p1 := append([]NodeIndex{leafToNode(l1)}, dirpath(l1, size)...)
	p2 := append([]NodeIndex{leafToNode(l2)}, dirpath(l2, size)...)
	seen := make(map[NodeIndex]bool, len(p2))
	for _, n := range p2 {
		seen[n] = true
	}
	for _, n := range p1 {
		if seen[n] {
			return n
		}
	}
	return root(size)
}
