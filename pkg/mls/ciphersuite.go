// Package mls implements the subset of the Messaging Layer Security
// protocol DAVE needs: ratchet tree (TreeKEM), key schedule, transcript
// hash, and welcome/commit/proposal processing (spec §4.6). PSK
// distribution protocols and ReInit are out of scope (spec §4.6 "excluding
// ancillary PSK distribution protocols").
//
// Grounded on mlspp (original_source/mlspp/include/mls/*.h): the same
// struct shapes (GroupContext, KeyScheduleEpoch, TranscriptHash,
// LeafNode/ParentNode) reimplemented with Go's crypto/x stack in place of
// libsodium/OpenSSL.
package mls

import (
	"crypto/ed25519"
	"crypto/sha256"
	"hash"
)

// Suite identifies an MLS ciphersuite: a fixed (KEM, KDF, AEAD, signature,
// hash) tuple (spec §3.3 "Ciphersuite").
type Suite uint16

const (
	// SuiteX25519Ed25519AES128GCMSHA256 is the only ciphersuite this
	// package implements: X25519 for HPKE-lite key agreement, SHA-256,
	// Ed25519 signatures. AEAD is nacl secretbox (XSalsa20-Poly1305), used
	// in place of the AES-128-GCM in the suite's name. This matches the suite named in spec §8's end-to-end
	// scenario.
	SuiteX25519Ed25519AES128GCMSHA256 Suite = 0x0001
)

// KeySize is the symmetric secret size in bytes for every derived secret
// under this suite (32, matching SHA-256's output size).
const KeySize = 32

// SignaturePublicKeySize and SignaturePrivateKeySize are Ed25519 sizes.
const (
	SignaturePublicKeySize  = ed25519.PublicKeySize
	SignaturePrivateKeySize = ed25519.PrivateKeySize
)

// HPKEPublicKeySize and HPKEPrivateKeySize are X25519 sizes.
const (
	HPKEPublicKeySize  = 32
	HPKEPrivateKeySize = 32
)

// NewHash returns a fresh digest for this suite.
func (s Suite) NewHash() hash.Hash { return sha256.New() }

// HashSize returns the digest size in bytes for this suite.
func (s Suite) HashSize() int { return sha256.Size }
