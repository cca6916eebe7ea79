package mls

// KeyPackage is a signed offer to join a group (spec §3.3 "Key package"):
// an init key plus a leaf node whose Source is KeyPackage.
type KeyPackage struct {
	Version    uint16
	Suite      Suite
	InitKey    HPKEPublicKey
	InitPriv   HPKEPrivateKey `json:"-"` // retained locally only, never serialized
	LeafNode   LeafNode
	Extensions []uint16
	Signature  []byte
}

func (kp *KeyPackage) signingInput() []byte {
	var buf []byte
	buf = append(buf, appendUint16(nil, kp.Version)...)
	buf = append(buf, appendUint16(nil, uint16(kp.Suite))...)
	buf = append(buf, kp.InitKey[:]...)
	buf = append(buf, kp.LeafNode.signingInput(nil, 0)...)
	for _, e := range kp.Extensions {
		buf = append(buf, appendUint16(nil, e)...)
	}
	return buf
}

// NewKeyPackage builds and signs a fresh key package for identity, with a
// freshly generated init key pair that also serves as the leaf node's
// encryption key pair, and the given signature key pair.
func NewKeyPackage(suite Suite, cred Credential, sigPriv SignaturePrivateKey, sigPub SignaturePublicKey) (*KeyPackage, error) {
	initPub, initPriv, err := GenerateHPKEKeyPair()
	if err != nil {
		return nil, err
	}

	leaf := LeafNode{
		EncryptionKey: initPub,
		SignatureKey:  sigPub,
		Credential:    cred,
		Capabilities:  defaultCapabilities(),
		Source:        LeafNodeSourceKeyPackage,
		Lifetime:      &Lifetime{NotBefore: 0, NotAfter: ^uint64(0)},
	}
	leaf.Sign(sigPriv, nil, 0)

	kp := &KeyPackage{
		Version:  1,
		Suite:    suite,
		InitKey:  initPub,
		InitPriv: initPriv,
		LeafNode: leaf,
	}
	kp.Signature = Sign(sigPriv, kp.signingInput())
	return kp, nil
}

// Verify checks the key package's signature and its leaf node's signature.
func (kp *KeyPackage) Verify() bool {
	if !Verify(kp.LeafNode.SignatureKey, kp.signingInput(), kp.Signature) {
		return false
	}
	return kp.LeafNode.VerifySignature(nil, 0)
}

// Ref returns the key package's reference hash, used by Add/Remove
// proposals that refer to a key package by hash.
func (kp *KeyPackage) Ref() []byte {
	return refHash("MLS 1.0 KeyPackage Reference", kp.signingInput())
}
