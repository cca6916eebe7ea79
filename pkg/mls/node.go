package mls

import "bytes"

// LeafNodeSource tags why a leaf node was produced (spec §3.3 "Leaf node").
type LeafNodeSource uint8

const (
	LeafNodeSourceKeyPackage LeafNodeSource = iota
	LeafNodeSourceUpdate
	LeafNodeSourceCommit
)

// Capabilities advertises protocol/extension/credential support. Kept
// minimal: this package only ever emits and accepts its own fixed set.
type Capabilities struct {
	Versions     []uint16
	Ciphersuites []Suite
	Extensions   []uint16
	ProposalTypes []uint16
	CredentialTypes []CredentialType
}

func defaultCapabilities() Capabilities {
	return Capabilities{
		Versions:        []uint16{1},
		Ciphersuites:    []Suite{SuiteX25519Ed25519AES128GCMSHA256},
		CredentialTypes: []CredentialType{CredentialBasic, CredentialX509},
	}
}

// Lifetime bounds a key-package leaf node's validity window (unix seconds).
type Lifetime struct {
	NotBefore uint64
	NotAfter  uint64
}

// LeafNode is one member's contribution to the ratchet tree (spec §3.3).
type LeafNode struct {
	EncryptionKey HPKEPublicKey
	SignatureKey  SignaturePublicKey
	Credential    Credential
	Capabilities  Capabilities

	Source     LeafNodeSource
	Lifetime   *Lifetime // only for Source == KeyPackage
	ParentHash []byte    // only for Source == Commit

	Extensions []uint16
	Signature  []byte
}

// signingInput serializes everything the leaf node's signature covers:
// all preceding fields plus a source-dependent binding (spec §3.3).
func (l *LeafNode) signingInput(groupID []byte, leafIndex LeafIndex) []byte {
	var buf bytes.Buffer
	buf.Write(l.EncryptionKey[:])
	buf.Write(l.SignatureKey)
	buf.WriteByte(byte(l.Credential.Type))
	buf.Write(l.Credential.Identity)
	buf.WriteByte(byte(l.Source))
	switch l.Source {
	case LeafNodeSourceKeyPackage:
		if l.Lifetime != nil {
			buf.Write(appendUint64(nil, l.Lifetime.NotBefore))
			buf.Write(appendUint64(nil, l.Lifetime.NotAfter))
		}
	case LeafNodeSourceCommit:
		buf.Write(l.ParentHash)
	case LeafNodeSourceUpdate:
		buf.Write(groupID)
		buf.Write(appendUint32(nil, uint32(leafIndex)))
	}
	for _, e := range l.Extensions {
		buf.Write(appendUint16(nil, e))
	}
	return buf.Bytes()
}

// Sign computes and attaches the leaf node's signature.
func (l *LeafNode) Sign(priv SignaturePrivateKey, groupID []byte, leafIndex LeafIndex) {
	l.Signature = Sign(priv, l.signingInput(groupID, leafIndex))
}

// VerifySignature checks the leaf node's signature under its own
// SignatureKey (the binding a credential asserts).
func (l *LeafNode) VerifySignature(groupID []byte, leafIndex LeafIndex) bool {
	return Verify(l.SignatureKey, l.signingInput(groupID, leafIndex), l.Signature)
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	for i := 7; i >= 0; i-- {
		tmp[i] = byte(v)
		v >>= 8
	}
	return append(b, tmp[:]...)
}

// ParentNode is an internal ratchet-tree node (spec §3.3 "Parent node").
type ParentNode struct {
	PublicKey      HPKEPublicKey
	ParentHash     []byte
	UnmergedLeaves []LeafIndex
}
