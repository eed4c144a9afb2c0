package consensus

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/dpvss/consensus/pkg/pvss"
)

// SignFunc signs an EnrollTx's signature hash and returns the raw signature
// bytes. Actual transaction signing is a host concern (§1 Non-goals place it
// out of scope), so BuildEnrollTx takes the signer as a callback instead of
// owning a key.
type SignFunc func(hash Hash256) ([]byte, error)

// EnrollTx is the wire-independent enrollment record a host chain would
// wrap into its own TX_CERT transaction type: one candidate's SealedBox
// (§4.B) anchored to a block and timestamp, plus whatever signature the
// host's own transaction format requires. Mirrors the payload
// CDelegateContext::BuildEnrollTx assembles before handing it to the
// wallet's own signing path.
type EnrollTx struct {
	Anchor    Hash256
	Timestamp int64
	Ident     pvss.Identity
	Record    EnrollRecord
	Sig       []byte
}

// SignatureHash hashes everything BuildEnrollTx would have committed to
// before calling out to SignFunc, the same way CTransaction::GetSignatureHash
// covers the assembled fields prior to the wallet's own signature.
func (tx EnrollTx) SignatureHash() Hash256 {
	h := sha256.New()
	h.Write(tx.Anchor[:])
	var tbuf [8]byte
	binary.BigEndian.PutUint64(tbuf[:], uint64(tx.Timestamp))
	h.Write(tbuf[:])
	h.Write(tx.Ident[:])
	h.Write(tx.Record.PubKey.Marshal())
	for _, c := range tx.Record.EncCoeff {
		h.Write(c.Marshal())
	}
	h.Write(tx.Record.Sig.R.Marshal())
	h.Write(tx.Record.Sig.S.Marshal())
	var out Hash256
	copy(out[:], h.Sum(nil))
	return out
}

// BuildEnrollTx wraps one candidate's EnrollRecord (the output of
// Vote.Setup) into an EnrollTx anchored to the block it's meant to enroll
// against, signing it via the injected SignFunc.
func BuildEnrollTx(anchor Hash256, timestamp int64, ident pvss.Identity, record EnrollRecord, sign SignFunc) (EnrollTx, error) {
	tx := EnrollTx{
		Anchor:    anchor,
		Timestamp: timestamp,
		Ident:     ident,
		Record:    record,
	}
	sig, err := sign(tx.SignatureHash())
	if err != nil {
		return EnrollTx{}, err
	}
	tx.Sig = sig
	return tx, nil
}
