package mls

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrCryptoFailed covers AEAD-open and signature-verify failures (spec
// §7 "CryptoError").
var ErrCryptoFailed = errors.New("mls: cryptographic operation failed")

// cryptoRandRead fills b with OS randomness.
func cryptoRandRead(b []byte) (int, error) { return rand.Read(b) }

// HPKEPublicKey and HPKEPrivateKey are X25519 keys used for the "HPKE-lite"
// encapsulation this package implements via nacl/box anonymous sealing
// rather than full RFC 9180 HPKE (no ecosystem HPKE implementation
// appears in the retrieval pack; box's sealed-box construction is the
// closest curve25519-based anonymous-encryption primitive available).
type HPKEPublicKey [HPKEPublicKeySize]byte
type HPKEPrivateKey [HPKEPrivateKeySize]byte

// deriveHPKEPublic computes the X25519 public key for an existing private
// scalar, used when a key pair is derived deterministically from a secret
// rather than generated fresh.
func deriveHPKEPublic(priv HPKEPrivateKey) (HPKEPublicKey, HPKEPrivateKey, error) {
	var pub HPKEPublicKey
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, priv, err
	}
	copy(pub[:], pubBytes)
	return pub, priv, nil
}

// GenerateHPKEKeyPair creates a fresh X25519 key pair.
func GenerateHPKEKeyPair() (HPKEPublicKey, HPKEPrivateKey, error) {
	var pub HPKEPublicKey
	var priv HPKEPrivateKey
	if _, err := rand.Read(priv[:]); err != nil {
		return pub, priv, err
	}
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, priv, err
	}
	copy(pub[:], pubBytes)
	return pub, priv, nil
}

// HPKESeal anonymously encrypts plaintext to pub (sealed-box construction:
// an ephemeral key pair plus a shared secret derived via X25519).
func HPKESeal(pub HPKEPublicKey, plaintext []byte) ([]byte, error) {
	pk := (*[32]byte)(&pub)
	return box.SealAnonymous(nil, plaintext, pk, rand.Reader)
}

// HPKEOpen decrypts a sealed-box ciphertext produced by [HPKESeal].
func HPKEOpen(pub HPKEPublicKey, priv HPKEPrivateKey, ciphertext []byte) ([]byte, error) {
	pk := (*[32]byte)(&pub)
	sk := (*[32]byte)(&priv)
	out, ok := box.OpenAnonymous(nil, ciphertext, pk, sk)
	if !ok {
		return nil, ErrCryptoFailed
	}
	return out, nil
}

// SignaturePublicKey and SignaturePrivateKey are Ed25519 keys.
type SignaturePublicKey []byte
type SignaturePrivateKey []byte

// GenerateSignatureKeyPair creates a fresh Ed25519 key pair.
func GenerateSignatureKeyPair() (SignaturePublicKey, SignaturePrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return SignaturePublicKey(pub), SignaturePrivateKey(priv), nil
}

// Sign produces an Ed25519 signature over message.
func Sign(priv SignaturePrivateKey, message []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(priv), message)
}

// Verify checks an Ed25519 signature.
func Verify(pub SignaturePublicKey, message, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig)
}

// aeadSeal/aeadOpen implement the suite's symmetric AEAD using
// nacl/secretbox (XSalsa20-Poly1305) keyed by a 32-byte secret and a
// 24-byte nonce, standing in for AES-128-GCM: the retrieval pack's only
// in-pack AEAD primitive is secretbox (golang.org/x/crypto/nacl), already
// used for RTP sealing (spec §4.4), so the MLS record layer reuses it for
// consistency rather than pulling in a second AEAD implementation.
func aeadSeal(key [32]byte, nonce [24]byte, plaintext, aad []byte) []byte {
	framed := make([]byte, 0, len(aad)+len(plaintext))
	framed = append(framed, aad...)
	framed = append(framed, plaintext...)
	sealed := secretbox.Seal(nil, framed, &nonce, &key)
	out := make([]byte, 4+len(sealed))
	binary.BigEndian.PutUint32(out, uint32(len(aad)))
	copy(out[4:], sealed)
	return out
}

func aeadOpen(key [32]byte, nonce [24]byte, ciphertext []byte) (aad, plaintext []byte, err error) {
	if len(ciphertext) < 4 {
		return nil, nil, ErrCryptoFailed
	}
	aadLen := binary.BigEndian.Uint32(ciphertext[:4])
	sealed := ciphertext[4:]
	opened, ok := secretbox.Open(nil, sealed, &nonce, &key)
	if !ok || uint32(len(opened)) < aadLen {
		return nil, nil, ErrCryptoFailed
	}
	return opened[:aadLen], opened[aadLen:], nil
}

// kdfExtract implements HKDF-Extract (RFC 5869) under SHA-256.
func kdfExtract(salt, ikm []byte) []byte {
	mac := hmac.New(sha256.New, salt)
	mac.Write(ikm)
	return mac.Sum(nil)
}

// kdfExpand implements HKDF-Expand (SHA-256) for length bytes of output,
// up to HKDF's limit of 255 hash-size blocks.
func kdfExpand(prk, info []byte, length int) []byte {
	r := hkdf.Expand(sha256.New, prk, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		panic("mls: hkdf expand: " + err.Error())
	}
	return out
}

// expandWithLabel implements MLS's ExpandWithLabel(Secret, Label, Context,
// Length): HKDF-Expand under a TLS-presentation-encoded KDFLabel struct.
func expandWithLabel(secret []byte, label string, context []byte, length int) []byte {
	full := "mls10 " + label
	info := make([]byte, 0, 2+1+len(full)+2+len(context))
	info = appendUint16(info, uint16(length))
	info = appendUint8(info, uint8(len(full)))
	info = append(info, full...)
	info = appendUint16(info, uint16(len(context)))
	info = append(info, context...)
	return kdfExpand(secret, info, length)
}

// deriveSecret implements MLS's DeriveSecret(Secret, Label) =
// ExpandWithLabel(Secret, Label, "", Hash.length).
func deriveSecret(secret []byte, label string) []byte {
	return expandWithLabel(secret, label, nil, KeySize)
}

func appendUint8(b []byte, v uint8) []byte  { return append(b, v) }
func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}
func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

// refHash implements MLS's RefHash(Label, Value) = Hash(RefHashInput),
// used to compute key-package and proposal references.
func refHash(label string, value []byte) []byte {
	h := sha256.New()
	lb := []byte(label)
	h.Write(appendUint8(nil, uint8(len(lb))))
	h.Write(lb)
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(value)))
	h.Write(lenBuf[:])
	h.Write(value)
	return h.Sum(nil)
}
