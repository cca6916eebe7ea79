package mls

import "testing"

func newTestLeaf(t *testing.T, identity string) *LeafNode {
	t.Helper()
	pub, priv, err := GenerateHPKEKeyPair()
	if err != nil {
		t.Fatalf("generate hpke key pair: %v", err)
	}
	_ = priv
	sigPub, _, err := GenerateSignatureKeyPair()
	if err != nil {
		t.Fatalf("generate signature key pair: %v", err)
	}
	return &LeafNode{
		EncryptionKey: pub,
		SignatureKey:  sigPub,
		Credential:    NewBasicCredential([]byte(identity)),
		Source:        LeafNodeSourceKeyPackage,
		Lifetime:      &Lifetime{NotBefore: 0, NotAfter: ^uint64(0)},
	}
}

func TestRatchetTree_AddLeaf_AssignsFirstEmptySlot(t *testing.T) {
	tree := newRatchetTree(SuiteX25519Ed25519AES128GCMSHA256)
	l0 := tree.AddLeaf(newTestLeaf(t, "alice"))
	if l0 != 0 {
		t.Fatalf("first AddLeaf = %d, want 0", l0)
	}
	l1 := tree.AddLeaf(newTestLeaf(t, "bob"))
	if l1 != 1 {
		t.Fatalf("second AddLeaf = %d, want 1", l1)
	}
}

func TestRatchetTree_AddLeaf_ReusesBlankSlot(t *testing.T) {
	tree := newRatchetTree(SuiteX25519Ed25519AES128GCMSHA256)
	tree.AddLeaf(newTestLeaf(t, "alice"))
	tree.AddLeaf(newTestLeaf(t, "bob"))
	tree.SetLeaf(0, nil)

	l := tree.AddLeaf(newTestLeaf(t, "carol"))
	if l != 0 {
		t.Errorf("AddLeaf after blanking 0 = %d, want 0 (reuse blank slot)", l)
	}
}

func TestRatchetTree_TreeHash_ChangesWhenLeafChanges(t *testing.T) {
	tree := newRatchetTree(SuiteX25519Ed25519AES128GCMSHA256)
	tree.AddLeaf(newTestLeaf(t, "alice"))
	h1 := tree.TreeHash()

	tree.AddLeaf(newTestLeaf(t, "bob"))
	h2 := tree.TreeHash()

	if bytesEqual(h1, h2) {
		t.Error("tree hash did not change after adding a leaf")
	}
}

func TestRatchetTree_TreeHash_Deterministic(t *testing.T) {
	tree := newRatchetTree(SuiteX25519Ed25519AES128GCMSHA256)
	leaf := newTestLeaf(t, "alice")
	tree.AddLeaf(leaf)

	h1 := tree.TreeHash()
	h2 := tree.TreeHash()
	if !bytesEqual(h1, h2) {
		t.Error("TreeHash is not deterministic across calls with no mutation")
	}
}

func TestRatchetTree_Truncate_DropsTrailingBlanks(t *testing.T) {
	tree := newRatchetTree(SuiteX25519Ed25519AES128GCMSHA256)
	tree.AddLeaf(newTestLeaf(t, "alice"))
	tree.AddLeaf(newTestLeaf(t, "bob"))
	tree.SetLeaf(1, nil)

	tree.Truncate()
	if tree.LeafCount() != 1 {
		t.Errorf("LeafCount after truncate = %d, want 1", tree.LeafCount())
	}
}

func TestRatchetTree_VerifyParentHashChain_VacuouslyTrueForKeyPackageLeaf(t *testing.T) {
	tree := newRatchetTree(SuiteX25519Ed25519AES128GCMSHA256)
	tree.AddLeaf(newTestLeaf(t, "alice"))
	if !tree.VerifyParentHashChain(0) {
		t.Error("VerifyParentHashChain should be vacuously true for a Source=KeyPackage leaf")
	}
}

func TestRatchetTree_FirstEmptyLeaf_OnEmptyTreeIsZero(t *testing.T) {
	tree := newRatchetTree(SuiteX25519Ed25519AES128GCMSHA256)
	if got := tree.FirstEmptyLeaf(); got != 0 {
		t.Errorf("FirstEmptyLeaf on empty tree = %d, want 0", got)
	}
}
