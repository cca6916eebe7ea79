package mls

// GroupContext is the authenticated, public state of a group at one epoch
// (spec §3.3 "Group context").
type GroupContext struct {
	Version                 uint16
	Suite                   Suite
	GroupID                 []byte
	Epoch                   uint64
	TreeHash                []byte
	ConfirmedTranscriptHash []byte
	Extensions              []uint16
}

// Serialize produces the byte string the key schedule and signatures are
// computed over.
func (g GroupContext) Serialize() []byte {
	var buf []byte
	buf = append(buf, appendUint16(nil, g.Version)...)
	buf = append(buf, appendUint16(nil, uint16(g.Suite))...)
	buf = append(buf, appendUint32(nil, uint32(len(g.GroupID)))...)
	buf = append(buf, g.GroupID...)
	buf = append(buf, appendUint64(nil, g.Epoch)...)
	buf = append(buf, appendUint32(nil, uint32(len(g.TreeHash)))...)
	buf = append(buf, g.TreeHash...)
	buf = append(buf, appendUint32(nil, uint32(len(g.ConfirmedTranscriptHash)))...)
	buf = append(buf, g.ConfirmedTranscriptHash...)
	return buf
}
