package mls

// TranscriptHash is the {confirmed, interim} pair updated by every
// authenticated commit (spec §3.3 "Transcript hash").
type TranscriptHash struct {
	suite     Suite
	Confirmed []byte
	Interim   []byte
}

// NewTranscriptHash starts the transcript for a fresh group.
func NewTranscriptHash(suite Suite) TranscriptHash {
	return TranscriptHash{suite: suite, Confirmed: []byte{}, Interim: []byte{}}
}

// UpdateConfirmed folds a commit's authenticated content (everything but
// the confirmation tag) into the confirmed transcript hash.
func (t *TranscriptHash) UpdateConfirmed(commitContentSigned []byte) {
	h := t.suite.NewHash()
	h.Write(t.Interim)
	h.Write(commitContentSigned)
	t.Confirmed = h.Sum(nil)
}

// UpdateInterim folds the resulting confirmation tag into the interim
// transcript hash, preparing for the next commit.
func (t *TranscriptHash) UpdateInterim(confirmationTag []byte) {
	h := t.suite.NewHash()
	h.Write(t.Confirmed)
	h.Write(confirmationTag)
	t.Interim = h.Sum(nil)
}
