// Package attest implements the oracle attestation wire contract: the
// packed message layout, its keccak256 hash, the EIP-191 signing envelope,
// and the signer that produces attestations over computed trust scores.
//
// The byte layout here is shared with the on-chain verifier. Any change to
// PackMessage is a breaking protocol change that invalidates every
// in-flight attestation.
package attest

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/trustgrid/oracle/internal/scoring"
)

var (
	// ErrSigningUnavailable is returned when the oracle private key is not
	// loaded. The caller must re-request once signing is restored; there is
	// no silent retry.
	ErrSigningUnavailable = errors.New("attest: signing key unavailable")

	// ErrBadSignature is returned for signatures that are malformed or fail
	// public key recovery.
	ErrBadSignature = errors.New("attest: malformed signature")
)

// SourceTag identifies the producer of a score (e.g. a scoring pipeline
// version). Opaque 32 bytes on the wire.
type SourceTag [32]byte

// TagFromString builds a tag from an ASCII label, truncated/zero-padded
// to 32 bytes.
func TagFromString(s string) SourceTag {
	var tag SourceTag
	copy(tag[:], s)
	return tag
}

// Hex returns the 0x-prefixed hex form of the tag.
func (t SourceTag) Hex() string {
	return common.BytesToHash(t[:]).Hex()
}

// MessageLen is the exact packed pre-image size:
// account(20) + score(2) + timestamp(4) + sourceTag(32) + contentHash(32) + nonce(32).
const MessageLen = 20 + 2 + 4 + 32 + 32 + 32

// PackMessage assembles the canonical signing pre-image. Field order and
// big-endian encoding match the on-chain verifier byte for byte.
func PackMessage(account common.Address, score uint16, timestamp uint32, source SourceTag, contentHash common.Hash, nonce uint64) []byte {
	msg := make([]byte, 0, MessageLen)
	msg = append(msg, account.Bytes()...)
	msg = binary.BigEndian.AppendUint16(msg, score)
	msg = binary.BigEndian.AppendUint32(msg, timestamp)
	msg = append(msg, source[:]...)
	msg = append(msg, contentHash.Bytes()...)

	var nonceWord [32]byte
	binary.BigEndian.PutUint64(nonceWord[24:], nonce)
	msg = append(msg, nonceWord[:]...)

	return msg
}

// MessageHash is the keccak256 of the packed pre-image.
func MessageHash(account common.Address, score uint16, timestamp uint32, source SourceTag, contentHash common.Hash, nonce uint64) common.Hash {
	return crypto.Keccak256Hash(PackMessage(account, score, timestamp, source, contentHash, nonce))
}

// SignableHash wraps a message hash in the standard Ethereum signed-message
// envelope (EIP-191 personal sign over the 32 raw hash bytes).
func SignableHash(messageHash common.Hash) common.Hash {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", common.HashLength)
	return crypto.Keccak256Hash([]byte(prefix), messageHash.Bytes())
}

// RecoverSigner recovers the address that signed the given message hash.
// Accepts 65-byte signatures with v in {0,1} or {27,28}.
func RecoverSigner(messageHash common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrBadSignature, crypto.SignatureLength, len(signature))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(SignableHash(messageHash).Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// ContentHash binds a scoring result to an attestation: keccak256 over the
// canonical JSON of the breakdown, explanation, and confidence. The score
// itself is signed separately in the packed message.
func ContentHash(res *scoring.Result) common.Hash {
	// json.Marshal on a struct has deterministic field order, so the digest
	// is stable for identical results.
	payload, err := json.Marshal(struct {
		Breakdown   [scoring.NumFactors]scoring.FactorScore `json:"breakdown"`
		Explanation string                                  `json:"explanation"`
		Confidence  int                                     `json:"confidence"`
	}{res.Breakdown, res.Explanation, res.Confidence})
	if err != nil {
		// Marshal of a plain struct of scalars cannot fail.
		panic("attest: content hash marshal: " + err.Error())
	}
	return crypto.Keccak256Hash(payload)
}

// NonceSource supplies the current replay-protection nonce for an account,
// read from the oracle store immediately before signing.
type NonceSource interface {
	Nonce(ctx context.Context, account common.Address) (uint64, error)
}

// Attestation is a signed score statement ready for submission to the
// oracle store.
type Attestation struct {
	Account     common.Address `json:"account"`
	Score       uint16         `json:"score"`
	Timestamp   uint32         `json:"timestamp"`
	SourceTag   SourceTag      `json:"-"`
	ContentHash common.Hash    `json:"contentHash"`
	Nonce       uint64         `json:"nonce"`
	Signature   []byte         `json:"-"`
}

// MarshalJSON renders byte fields as 0x-prefixed hex.
func (a *Attestation) MarshalJSON() ([]byte, error) {
	type alias Attestation
	return json.Marshal(struct {
		*alias
		SourceTag string `json:"sourceTag"`
		Signature string `json:"signature"`
	}{
		alias:     (*alias)(a),
		SourceTag: a.SourceTag.Hex(),
		Signature: "0x" + common.Bytes2Hex(a.Signature),
	})
}
