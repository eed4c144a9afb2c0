// Package channel implements the delegated gossip overlay: a bounded
// chain-view window of distribute/publish anchors, a peer inventory
// scheduler, the wire codec for the four frame kinds, and a driver that
// ties both to a ConsensusDriver. This is the Go shape of
// delegatedchn.cpp's CDelegatedChannel/CDelegatedChannelChain/
// CSchedule.
package channel

import (
	"encoding/binary"
	"errors"

	"github.com/dpvss/consensus/pkg/consensus"
	"github.com/dpvss/consensus/pkg/edcurve"
	"github.com/dpvss/consensus/pkg/pvss"
)

// FrameType identifies which of the four wire frames a packet carries.
type FrameType uint8

const (
	FrameBulletin   FrameType = 1
	FrameGet        FrameType = 2
	FrameDistribute FrameType = 3
	FramePublish    FrameType = 4
)

// ItemKind distinguishes a Get request's target within an anchor.
type ItemKind uint8

const (
	KindDistribute ItemKind = 1
	KindPublish    ItemKind = 2
)

// WireMagic tags every frame this implementation emits; frames with a
// different magic are dropped before any further parsing.
const WireMagic uint32 = 0x44504f53 // "DPOS"

var (
	ErrFrameTooShort  = errors.New("channel: frame too short")
	ErrBadMagic       = errors.New("channel: bad magic")
	ErrUnknownFrame   = errors.New("channel: unknown frame type")
	ErrPayloadTooLong = errors.New("channel: payload exceeds declared length")
)

// Header is the 37-byte common prefix on every frame: magic, type, and the
// anchor the frame concerns.
type Header struct {
	Type   FrameType
	Anchor consensus.Hash256
}

func encodeHeader(buf []byte, typ FrameType, anchor consensus.Hash256) []byte {
	var h [5]byte
	binary.BigEndian.PutUint32(h[0:4], WireMagic)
	h[4] = byte(typ)
	buf = append(buf, h[:]...)
	buf = append(buf, anchor[:]...)
	return buf
}

func decodeHeader(b []byte) (Header, []byte, error) {
	if len(b) < 4+1+32 {
		return Header{}, nil, ErrFrameTooShort
	}
	if binary.BigEndian.Uint32(b[0:4]) != WireMagic {
		return Header{}, nil, ErrBadMagic
	}
	typ := FrameType(b[4])
	var anchor consensus.Hash256
	copy(anchor[:], b[5:37])
	return Header{Type: typ, Anchor: anchor}, b[37:], nil
}

// BulletinFrame advertises what one node already has for its primary
// anchor, plus a sparse set of other in-window anchors with a non-zero
// distribute bitmap.
type BulletinFrame struct {
	Anchor      consensus.Hash256
	BmDistribute uint64
	BmPublish    uint64
	Extra        []ExtraBitmap
}

// ExtraBitmap is one (anchor, distribute-bitmap) pair beyond the primary
// anchor. A bulletin built from the chain view carries at most
// CONSENSUS_DISTRIBUTE_INTERVAL of them (the view holds
// CONSENSUS_DISTRIBUTE_INTERVAL+1 anchors and the primary one is not
// repeated); EncodeBulletin itself only truncates the list at 255.
type ExtraBitmap struct {
	Anchor consensus.Hash256
	Bitmap uint64
}

func EncodeBulletin(f BulletinFrame) []byte {
	buf := make([]byte, 0, 37+8+8+1+len(f.Extra)*40)
	buf = encodeHeader(buf, FrameBulletin, f.Anchor)
	var u [8]byte
	binary.LittleEndian.PutUint64(u[:], f.BmDistribute)
	buf = append(buf, u[:]...)
	binary.LittleEndian.PutUint64(u[:], f.BmPublish)
	buf = append(buf, u[:]...)
	if len(f.Extra) > 255 {
		f.Extra = f.Extra[:255]
	}
	buf = append(buf, byte(len(f.Extra)))
	for _, e := range f.Extra {
		buf = append(buf, e.Anchor[:]...)
		binary.LittleEndian.PutUint64(u[:], e.Bitmap)
		buf = append(buf, u[:]...)
	}
	return buf
}

func DecodeBulletin(b []byte) (BulletinFrame, error) {
	hdr, rest, err := decodeHeader(b)
	if err != nil {
		return BulletinFrame{}, err
	}
	if hdr.Type != FrameBulletin {
		return BulletinFrame{}, ErrUnknownFrame
	}
	if len(rest) < 8+8+1 {
		return BulletinFrame{}, ErrFrameTooShort
	}
	f := BulletinFrame{Anchor: hdr.Anchor}
	f.BmDistribute = binary.LittleEndian.Uint64(rest[0:8])
	f.BmPublish = binary.LittleEndian.Uint64(rest[8:16])
	count := int(rest[16])
	rest = rest[17:]
	f.Extra = make([]ExtraBitmap, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) < 40 {
			return BulletinFrame{}, ErrFrameTooShort
		}
		var e ExtraBitmap
		copy(e.Anchor[:], rest[0:32])
		e.Bitmap = binary.LittleEndian.Uint64(rest[32:40])
		f.Extra = append(f.Extra, e)
		rest = rest[40:]
	}
	return f, nil
}

// GetFrame is a fetch request for one delegate's distribute or publish
// payload at an anchor.
type GetFrame struct {
	Anchor     consensus.Hash256
	Kind       ItemKind
	DelegateID pvss.Identity
}

func EncodeGet(f GetFrame) []byte {
	buf := make([]byte, 0, 37+1+32)
	buf = encodeHeader(buf, FrameGet, f.Anchor)
	buf = append(buf, byte(f.Kind))
	buf = append(buf, f.DelegateID[:]...)
	return buf
}

func DecodeGet(b []byte) (GetFrame, error) {
	hdr, rest, err := decodeHeader(b)
	if err != nil {
		return GetFrame{}, err
	}
	if hdr.Type != FrameGet {
		return GetFrame{}, ErrUnknownFrame
	}
	if len(rest) < 1+32 {
		return GetFrame{}, ErrFrameTooShort
	}
	f := GetFrame{Anchor: hdr.Anchor, Kind: ItemKind(rest[0])}
	copy(f.DelegateID[:], rest[1:33])
	return f, nil
}

// DataFrame is the shared shape of Distribute and Publish response frames:
// an anchor, which delegate the payload concerns, and the payload bytes
// (empty means "I don't have it").
type DataFrame struct {
	Anchor     consensus.Hash256
	DelegateID pvss.Identity
	Payload    []byte
}

func encodeData(typ FrameType, f DataFrame) []byte {
	buf := make([]byte, 0, 37+32+10+len(f.Payload))
	buf = encodeHeader(buf, typ, f.Anchor)
	buf = append(buf, f.DelegateID[:]...)
	var v [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(v[:], uint64(len(f.Payload)))
	buf = append(buf, v[:n]...)
	buf = append(buf, f.Payload...)
	return buf
}

func decodeData(b []byte, want FrameType) (DataFrame, error) {
	hdr, rest, err := decodeHeader(b)
	if err != nil {
		return DataFrame{}, err
	}
	if hdr.Type != want {
		return DataFrame{}, ErrUnknownFrame
	}
	if len(rest) < 32 {
		return DataFrame{}, ErrFrameTooShort
	}
	f := DataFrame{Anchor: hdr.Anchor}
	copy(f.DelegateID[:], rest[0:32])
	rest = rest[32:]
	plen, n := binary.Uvarint(rest)
	if n <= 0 {
		return DataFrame{}, ErrFrameTooShort
	}
	rest = rest[n:]
	if uint64(len(rest)) < plen {
		return DataFrame{}, ErrPayloadTooLong
	}
	f.Payload = append([]byte(nil), rest[:plen]...)
	return f, nil
}

func EncodeDistribute(f DataFrame) []byte { return encodeData(FrameDistribute, f) }
func DecodeDistribute(b []byte) (DataFrame, error) { return decodeData(b, FrameDistribute) }
func EncodePublish(f DataFrame) []byte    { return encodeData(FramePublish, f) }
func DecodePublish(b []byte) (DataFrame, error)    { return decodeData(b, FramePublish) }

// EncodePayload serializes a DelegateData's shareMap + signature into the
// payload bytes a Distribute/Publish frame carries: idFrom, the map (u64
// count, then per entry id + u64 inner-count + that many 32-byte scalars),
// then R and S.
func EncodePayload(d consensus.DelegateData) []byte {
	idents := make([]pvss.Identity, 0, len(d.Shares))
	for id := range d.Shares {
		idents = append(idents, id)
	}
	sortIdentsForWire(idents)

	buf := make([]byte, 0, 32+8+len(idents)*40)
	buf = append(buf, d.IdentFrom[:]...)
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], uint64(len(idents)))
	buf = append(buf, u64[:]...)
	for _, id := range idents {
		buf = append(buf, id[:]...)
		shares := d.Shares[id]
		binary.LittleEndian.PutUint64(u64[:], uint64(len(shares)))
		buf = append(buf, u64[:]...)
		for _, s := range shares {
			buf = append(buf, s.Marshal()...)
		}
	}
	buf = append(buf, d.Sig.R.Marshal()...)
	buf = append(buf, d.Sig.S.Marshal()...)
	return buf
}

// DecodePayload parses a payload built by EncodePayload.
func DecodePayload(b []byte) (consensus.DelegateData, error) {
	if len(b) < 32+8 {
		return consensus.DelegateData{}, ErrFrameTooShort
	}
	var d consensus.DelegateData
	copy(d.IdentFrom[:], b[0:32])
	count := binary.LittleEndian.Uint64(b[32:40])
	rest := b[40:]
	d.Shares = make(map[pvss.Identity][]edcurve.Scalar, count)
	for i := uint64(0); i < count; i++ {
		if len(rest) < 32+8 {
			return consensus.DelegateData{}, ErrFrameTooShort
		}
		var id pvss.Identity
		copy(id[:], rest[0:32])
		inner := binary.LittleEndian.Uint64(rest[32:40])
		rest = rest[40:]
		shares := make([]edcurve.Scalar, 0, inner)
		for j := uint64(0); j < inner; j++ {
			if len(rest) < 32 {
				return consensus.DelegateData{}, ErrFrameTooShort
			}
			s, err := edcurve.UnmarshalScalar(rest[0:32])
			if err != nil {
				return consensus.DelegateData{}, err
			}
			shares = append(shares, s)
			rest = rest[32:]
		}
		d.Shares[id] = shares
	}
	if len(rest) < 64 {
		return consensus.DelegateData{}, ErrFrameTooShort
	}
	r, err := edcurve.UnmarshalPoint(rest[0:32])
	if err != nil {
		return consensus.DelegateData{}, err
	}
	s, err := edcurve.UnmarshalScalar(rest[32:64])
	if err != nil {
		return consensus.DelegateData{}, err
	}
	d.Sig = edcurve.Signature{R: r, S: s}
	return d, nil
}

func sortIdentsForWire(ids []pvss.Identity) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0; j-- {
			if lessIdentWire(ids[j], ids[j-1]) {
				ids[j], ids[j-1] = ids[j-1], ids[j]
			} else {
				break
			}
		}
	}
}

func lessIdentWire(a, b pvss.Identity) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
