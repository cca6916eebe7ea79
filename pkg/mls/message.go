package mls

import (
	"bytes"
	"encoding/binary"
)

// ContentType distinguishes the kind of content an AuthenticatedContent
// carries.
type ContentType uint8

const (
	ContentApplication ContentType = iota
	ContentProposal
	ContentCommit
)

// FramedContent is the unauthenticated body of a group message.
type FramedContent struct {
	GroupID     []byte
	Epoch       uint64
	SenderLeaf  LeafIndex
	ContentType ContentType
	Application []byte    // ContentApplication
	Proposal    *Proposal // ContentProposal
	Commit      *Commit   // ContentCommit
}

func (c FramedContent) signingInput(groupContext []byte) []byte {
	var buf bytes.Buffer
	buf.Write(groupContext)
	buf.Write(c.GroupID)
	binary.Write(&buf, binary.BigEndian, c.Epoch)
	buf.WriteByte(byte(c.ContentType))
	buf.Write(appendUint32(nil, uint32(c.SenderLeaf)))
	switch c.ContentType {
	case ContentApplication:
		buf.Write(c.Application)
	case ContentProposal:
		buf.Write(encodeProposal(*c.Proposal))
	case ContentCommit:
		buf.Write(encodeCommit(*c.Commit))
	}
	return buf.Bytes()
}

// AuthenticatedContent pairs a FramedContent with its signature and,
// for commits, a confirmation tag (spec §3.3 "Authenticated content").
type AuthenticatedContent struct {
	Content         FramedContent
	Signature       []byte
	ConfirmationTag []byte // only for ContentCommit
}

// Sign computes and attaches the content's signature under label
// "mls_content", over a framing that includes the group context.
func (a *AuthenticatedContent) Sign(priv SignaturePrivateKey, groupContext []byte) {
	a.Signature = Sign(priv, append([]byte("mls_content"), a.Content.signingInput(groupContext)...))
}

// Verify checks the content's signature under the sender's public key.
func (a AuthenticatedContent) Verify(pub SignaturePublicKey, groupContext []byte) bool {
	return Verify(pub, append([]byte("mls_content"), a.Content.signingInput(groupContext)...), a.Signature)
}

// encodeProposal/encodeCommit/encodeLeafNode give each structure a stable
// byte encoding for hashing and signing; full MLS TLS-presentation-layer
// encoding is out of scope (no wire-interop requirement -- spec's
// Non-goals exclude bit-exact wire field names generally, and this
// package only needs to round-trip within itself).
func encodeProposal(p Proposal) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(p.Type))
	switch p.Type {
	case ProposalAdd:
		if p.KeyPackage != nil {
			buf.Write(p.KeyPackage.signingInput())
		}
	case ProposalUpdate:
		if p.LeafNode != nil {
			buf.Write(p.LeafNode.signingInput(nil, 0))
		}
	case ProposalRemove:
		buf.Write(appendUint32(nil, uint32(p.Removed)))
	case ProposalExternalInit:
		buf.Write(p.KEMOutput)
	case ProposalGroupContextExtensions:
		for _, e := range p.Extensions {
			buf.Write(appendUint16(nil, e))
		}
	}
	return buf.Bytes()
}

func encodeCommit(c Commit) []byte {
	var buf bytes.Buffer
	buf.Write(appendUint32(nil, uint32(len(c.Proposals))))
	for _, por := range c.Proposals {
		if por.Inline != nil {
			buf.WriteByte(0)
			buf.Write(encodeProposal(*por.Inline))
		} else {
			buf.WriteByte(1)
			buf.Write(por.Ref)
		}
	}
	if c.Path != nil {
		buf.WriteByte(1)
		buf.Write(c.Path.LeafNode.signingInput(nil, 0))
		for _, n := range c.Path.Nodes {
			buf.Write(n.PublicKey[:])
		}
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// GroupInfo is the signed, encrypted-under-WS payload a Welcome conveys to
// joiners (spec §3.3's model, simplified): the group context at the epoch
// of joining plus the signer leaf and the confirmation tag proving that
// leaf sent the commit.
type GroupInfo struct {
	GroupContext    GroupContext
	ConfirmationTag []byte
	SignerLeaf      LeafIndex
	Signature       []byte
}

func (gi GroupInfo) signingInput() []byte {
	var buf bytes.Buffer
	buf.Write(gi.GroupContext.Serialize())
	buf.Write(gi.ConfirmationTag)
	buf.Write(appendUint32(nil, uint32(gi.SignerLeaf)))
	return buf.Bytes()
}

// Sign computes and attaches the GroupInfo's signature under the signer's
// key (the committer's leaf signature key).
func (gi *GroupInfo) Sign(priv SignaturePrivateKey) {
	gi.Signature = Sign(priv, gi.signingInput())
}

// Verify checks the GroupInfo's signature against the claimed signer leaf
// in tree (spec §3.3 "welcome decrypts to a group info whose signature
// verifies under a leaf currently in the tree").
func (gi GroupInfo) Verify(tree *RatchetTree) bool {
	ln := tree.Leaf(gi.SignerLeaf)
	if ln == nil {
		return false
	}
	return Verify(ln.SignatureKey, gi.signingInput(), gi.Signature)
}

func lenPrefixed(b []byte) []byte {
	return append(appendUint32(nil, uint32(len(b))), b...)
}

func readLenPrefixed(b []byte) (field, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, ErrCryptoFailed
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, ErrCryptoFailed
	}
	return b[:n], b[n:], nil
}

// Encode produces a self-contained byte encoding of the GroupInfo, used as
// the plaintext sealed under WS in a Welcome.
func (gi GroupInfo) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(lenPrefixed(appendUint16(nil, gi.GroupContext.Version)))
	buf.Write(lenPrefixed(appendUint16(nil, uint16(gi.GroupContext.Suite))))
	buf.Write(lenPrefixed(gi.GroupContext.GroupID))
	buf.Write(appendUint64(nil, gi.GroupContext.Epoch))
	buf.Write(lenPrefixed(gi.GroupContext.TreeHash))
	buf.Write(lenPrefixed(gi.GroupContext.ConfirmedTranscriptHash))
	buf.Write(lenPrefixed(gi.ConfirmationTag))
	buf.Write(appendUint32(nil, uint32(gi.SignerLeaf)))
	buf.Write(lenPrefixed(gi.Signature))
	return buf.Bytes()
}

// DecodeGroupInfo reverses [GroupInfo.Encode].
func DecodeGroupInfo(b []byte) (GroupInfo, error) {
	var gi GroupInfo
	var field []byte
	var err error

	field, b, err = readLenPrefixed(b)
	if err != nil || len(field) != 2 {
		return gi, ErrCryptoFailed
	}
	gi.GroupContext.Version = binary.BigEndian.Uint16(field)

	field, b, err = readLenPrefixed(b)
	if err != nil || len(field) != 2 {
		return gi, ErrCryptoFailed
	}
	gi.GroupContext.Suite = Suite(binary.BigEndian.Uint16(field))

	gi.GroupContext.GroupID, b, err = readLenPrefixed(b)
	if err != nil {
		return gi, err
	}

	if len(b) < 8 {
		return gi, ErrCryptoFailed
	}
	gi.GroupContext.Epoch = binary.BigEndian.Uint64(b[:8])
	b = b[8:]

	gi.GroupContext.TreeHash, b, err = readLenPrefixed(b)
	if err != nil {
		return gi, err
	}
	gi.GroupContext.ConfirmedTranscriptHash, b, err = readLenPrefixed(b)
	if err != nil {
		return gi, err
	}
	gi.ConfirmationTag, b, err = readLenPrefixed(b)
	if err != nil {
		return gi, err
	}
	if len(b) < 4 {
		return gi, ErrCryptoFailed
	}
	gi.SignerLeaf = LeafIndex(binary.BigEndian.Uint32(b[:4]))
	b = b[4:]
	gi.Signature, _, err = readLenPrefixed(b)
	return gi, err
}

// GroupSecrets is the per-joiner payload inside a Welcome: the joiner
// secret plus the path secret needed to seed the joiner's TreeKEM private
// key (spec §3.3/"Welcome").
type GroupSecrets struct {
	JoinerSecret []byte
	PathSecret   []byte // nil if the joiner was added by an UpdatePath-free commit
}

func (gs GroupSecrets) encode() []byte {
	var buf bytes.Buffer
	buf.Write(appendUint32(nil, uint32(len(gs.JoinerSecret))))
	buf.Write(gs.JoinerSecret)
	buf.Write(appendUint32(nil, uint32(len(gs.PathSecret))))
	buf.Write(gs.PathSecret)
	return buf.Bytes()
}

func decodeGroupSecrets(b []byte) (GroupSecrets, error) {
	var gs GroupSecrets
	if len(b) < 4 {
		return gs, ErrCryptoFailed
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return gs, ErrCryptoFailed
	}
	gs.JoinerSecret = b[:n]
	b = b[n:]
	if len(b) < 4 {
		return gs, ErrCryptoFailed
	}
	m := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < m {
		return gs, ErrCryptoFailed
	}
	if m > 0 {
		gs.PathSecret = b[:m]
	}
	return gs, nil
}

// Welcome admits new members: GroupInfo sealed under WS's key/nonce, plus
// one GroupSecrets ciphertext per joiner sealed to their key package's
// init key (spec §3.3 "Welcome").
type Welcome struct {
	EncryptedGroupInfo []byte // sealed under WS
	Secrets            map[string][]byte // key package ref (hex) -> HPKE-sealed GroupSecrets
}

// sealWS encrypts plaintext under the welcome secret WS using the
// package's secretbox-based AEAD (see crypto.go), with the key and nonce
// both derived from WS (labels "key" and "nonce").
func sealWS(ws []byte, plaintext []byte) []byte {
	var key [32]byte
	copy(key[:], deriveSecret(ws, "key"))
	var nonce [24]byte
	copy(nonce[:], deriveSecret(ws, "nonce"))
	return aeadSeal(key, nonce, plaintext, nil)
}

func openWS(ws []byte, ciphertext []byte) ([]byte, error) {
	var key [32]byte
	copy(key[:], deriveSecret(ws, "key"))
	var nonce [24]byte
	copy(nonce[:], deriveSecret(ws, "nonce"))
	_, pt, err := aeadOpen(key, nonce, ciphertext)
	return pt, err
}
