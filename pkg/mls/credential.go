package mls

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
)

// CredentialType tags the union in [Credential] (spec §3.3 "Credential").
type CredentialType uint8

const (
	CredentialBasic CredentialType = iota
	CredentialX509
	CredentialUserinfoVC
	CredentialMulti
)

// Credential identifies a member's long-term identity. Only the X509
// variant is checked against a signature key in this package; see
// [Credential.ValidFor] for what each variant accepts. A UserinfoVC JWT is
// carried but not verified (no external verifier is wired in -- spec's
// Non-goals exclude the platform's actual identity provider).
type Credential struct {
	Type     CredentialType
	Identity []byte   // Basic
	Chain    [][]byte // X509: DER certificates, leaf first
	JWT      []byte   // UserinfoVC
	Bindings []Credential // Multi
}

// NewBasicCredential builds a Basic credential from an opaque identity.
func NewBasicCredential(identity []byte) Credential {
	return Credential{Type: CredentialBasic, Identity: append([]byte(nil), identity...)}
}

// ValidFor reports whether the credential accepts pub as its signature key.
// A Basic credential accepts any key if its Identity is non-empty, since no
// key binding beyond the leaf node's own signature exists. An X509
// credential parses the leaf certificate and accepts pub only if it equals
// that certificate's Ed25519 public key. A UserinfoVC credential accepts
// any key if its JWT is non-empty. A Multi credential accepts pub if it has
// at least one binding and every binding accepts pub.
func (c Credential) ValidFor(pub SignaturePublicKey) bool {
	switch c.Type {
	case CredentialBasic:
		return len(c.Identity) > 0
	case CredentialX509:
		if len(c.Chain) == 0 {
			return false
		}
		cert, err := x509.ParseCertificate(c.Chain[0])
		if err != nil {
			return false
		}
		certKey, ok := cert.PublicKey.(ed25519.PublicKey)
		return ok && bytes.Equal(certKey, pub)
	case CredentialUserinfoVC:
		return len(c.JWT) > 0
	case CredentialMulti:
		for _, b := range c.Bindings {
			if !b.ValidFor(pub) {
				return false
			}
		}
		return len(c.Bindings) > 0
	default:
		return false
	}
}
