package mls

import "crypto/hmac"

// Epoch holds every secret derived at one epoch boundary (spec §3.3 "Key
// schedule epoch"), grounded on mlspp's KeyScheduleEpoch
// (original_source/mlspp/include/mls/key_schedule.h).
type Epoch struct {
	suite Suite

	JoinerSecret []byte
	EpochSecret  []byte

	SenderDataSecret    []byte
	EncryptionSecret    []byte
	ExporterSecret      []byte
	EpochAuthenticator  []byte
	ExternalSecret      []byte
	ConfirmationKey     []byte
	MembershipKey       []byte
	ResumptionPSK       []byte
	InitSecret          []byte

	ExternalPriv HPKEPrivateKey
	ExternalPub  HPKEPublicKey
}

// InitialEpoch derives the first epoch of a fresh group from a random
// init_secret (spec §8 "The first commit of a fresh group uses init_secret
// = random, not derived").
func InitialEpoch(suite Suite, initSecret, groupContext []byte) Epoch {
	return deriveEpoch(suite, initSecret, make([]byte, KeySize), make([]byte, KeySize), groupContext)
}

// NextEpoch derives the next epoch from the previous one's init_secret, a
// commit_secret, an optional psk_secret (zero if none), and the new
// group context (spec §4.6 "Key schedule").
func (e Epoch) NextEpoch(commitSecret, pskSecret, groupContext []byte) Epoch {
	if pskSecret == nil {
		pskSecret = make([]byte, KeySize)
	}
	return deriveEpoch(e.suite, e.InitSecret, commitSecret, pskSecret, groupContext)
}

func deriveEpoch(suite Suite, initSecret, commitSecret, pskSecret, groupContext []byte) Epoch {
	joinerSecret := kdfExtract(initSecret, commitSecret)
	memberSecret := kdfExtract(joinerSecret, pskSecret)
	epochSecret := expandWithLabel(memberSecret, "epoch", groupContext, KeySize)

	e := Epoch{
		suite:              suite,
		JoinerSecret:       joinerSecret,
		EpochSecret:        epochSecret,
		SenderDataSecret:   deriveSecret(epochSecret, "sender data"),
		EncryptionSecret:   deriveSecret(epochSecret, "encryption"),
		ExporterSecret:     deriveSecret(epochSecret, "exporter"),
		EpochAuthenticator: deriveSecret(epochSecret, "authentication"),
		ExternalSecret:     deriveSecret(epochSecret, "external"),
		ConfirmationKey:    deriveSecret(epochSecret, "confirm"),
		MembershipKey:      deriveSecret(epochSecret, "membership"),
		ResumptionPSK:      deriveSecret(epochSecret, "resumption"),
		InitSecret:         deriveSecret(epochSecret, "init"),
	}
	e.ExternalPub, e.ExternalPriv = hpkeFromSecret(e.ExternalSecret)
	return e
}

// JoinerEpoch derives an epoch for a member who only has the welcome's
// joiner_secret (no commit_secret), used when processing a Welcome.
func JoinerEpoch(suite Suite, joinerSecret, pskSecret, groupContext []byte) Epoch {
	if pskSecret == nil {
		pskSecret = make([]byte, KeySize)
	}
	memberSecret := kdfExtract(joinerSecret, pskSecret)
	epochSecret := expandWithLabel(memberSecret, "epoch", groupContext, KeySize)
	e := Epoch{
		suite:              suite,
		JoinerSecret:       joinerSecret,
		EpochSecret:        epochSecret,
		SenderDataSecret:   deriveSecret(epochSecret, "sender data"),
		EncryptionSecret:   deriveSecret(epochSecret, "encryption"),
		ExporterSecret:     deriveSecret(epochSecret, "exporter"),
		EpochAuthenticator: deriveSecret(epochSecret, "authentication"),
		ExternalSecret:     deriveSecret(epochSecret, "external"),
		ConfirmationKey:    deriveSecret(epochSecret, "confirm"),
		MembershipKey:      deriveSecret(epochSecret, "membership"),
		ResumptionPSK:      deriveSecret(epochSecret, "resumption"),
		InitSecret:         deriveSecret(epochSecret, "init"),
	}
	e.ExternalPub, e.ExternalPriv = hpkeFromSecret(e.ExternalSecret)
	return e
}

// hpkeFromSecret deterministically derives an X25519 key pair from a
// 32-byte secret, used for the epoch's external-commit key pair.
func hpkeFromSecret(secret []byte) (HPKEPublicKey, HPKEPrivateKey) {
	var priv HPKEPrivateKey
	copy(priv[:], secret)
	pub, _, err := deriveHPKEPublic(priv)
	if err != nil {
		panic("mls: derive external hpke key: " + err.Error())
	}
	return pub, priv
}

// WelcomeSecret derives WS = ExpandWithLabel(Extract(joiner_secret,
// psk_secret), "welcome", "", Hash.length) (spec §4.6 "Welcome secret").
func WelcomeSecret(suite Suite, joinerSecret, pskSecret []byte) []byte {
	if pskSecret == nil {
		pskSecret = make([]byte, KeySize)
	}
	extracted := kdfExtract(joinerSecret, pskSecret)
	return expandWithLabel(extracted, "welcome", nil, KeySize)
}

// ConfirmationTag computes HMAC(confirmation_key, confirmed_transcript_hash).
func (e Epoch) ConfirmationTag(confirmedTranscriptHash []byte) []byte {
	mac := hmac.New(e.suite.NewHash, e.ConfirmationKey)
	mac.Write(confirmedTranscriptHash)
	return mac.Sum(nil)
}

// Export derives an application-exported secret under a fixed label (spec
// §4.5 "Key derivation": the RTP media key is exported this way).
func (e Epoch) Export(label string, context []byte, length int) []byte {
	secret := expandWithLabel(e.ExporterSecret, label, nil, KeySize)
	return expandWithLabel(secret, "exported", context, length)
}
