package attest

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustgrid/oracle/internal/scoring"
)

type staticNonces uint64

func (n staticNonces) Nonce(context.Context, common.Address) (uint64, error) {
	return uint64(n), nil
}

func TestPackMessageLayout(t *testing.T) {
	account := common.HexToAddress("0x1234567890123456789012345678901234567890")
	source := TagFromString("pipeline-v1")
	contentHash := crypto.Keccak256Hash([]byte("content"))

	msg := PackMessage(account, 75, 1700000000, source, contentHash, 42)
	require.Len(t, msg, MessageLen)

	assert.Equal(t, account.Bytes(), msg[0:20])
	assert.Equal(t, uint16(75), binary.BigEndian.Uint16(msg[20:22]))
	assert.Equal(t, uint32(1700000000), binary.BigEndian.Uint32(msg[22:26]))
	assert.Equal(t, source[:], msg[26:58])
	assert.Equal(t, contentHash.Bytes(), msg[58:90])

	// Nonce occupies the low 8 bytes of a zero-padded 32-byte word.
	assert.Equal(t, make([]byte, 24), msg[90:114])
	assert.Equal(t, uint64(42), binary.BigEndian.Uint64(msg[114:122]))
}

func TestMessageHashSensitivity(t *testing.T) {
	account := common.HexToAddress("0x1234567890123456789012345678901234567890")
	source := TagFromString("pipeline-v1")
	contentHash := crypto.Keccak256Hash([]byte("content"))

	base := MessageHash(account, 75, 1700000000, source, contentHash, 0)

	assert.Equal(t, base, MessageHash(account, 75, 1700000000, source, contentHash, 0))
	assert.NotEqual(t, base, MessageHash(account, 76, 1700000000, source, contentHash, 0))
	assert.NotEqual(t, base, MessageHash(account, 75, 1700000001, source, contentHash, 0))
	assert.NotEqual(t, base, MessageHash(account, 75, 1700000000, source, contentHash, 1))
}

func TestSignableHashAppliesEnvelope(t *testing.T) {
	hash := crypto.Keccak256Hash([]byte("message"))

	want := crypto.Keccak256Hash([]byte("\x19Ethereum Signed Message:\n32"), hash.Bytes())
	assert.Equal(t, want, SignableHash(hash))
	assert.NotEqual(t, hash, SignableHash(hash))
}

func TestRecoverSignerRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wantAddr := crypto.PubkeyToAddress(key.PublicKey)

	hash := MessageHash(common.HexToAddress("0x01"), 50, 1700000000,
		TagFromString("t"), common.Hash{}, 7)

	sig, err := crypto.Sign(SignableHash(hash).Bytes(), key)
	require.NoError(t, err)

	// Recovery id in {0,1}.
	got, err := RecoverSigner(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, wantAddr, got)

	// Recovery id in {27,28}.
	shifted := make([]byte, len(sig))
	copy(shifted, sig)
	shifted[64] += 27
	got, err = RecoverSigner(hash, shifted)
	require.NoError(t, err)
	assert.Equal(t, wantAddr, got)
}

func TestRecoverSignerMalformed(t *testing.T) {
	hash := crypto.Keccak256Hash([]byte("message"))

	_, err := RecoverSigner(hash, []byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = RecoverSigner(hash, make([]byte, 65))
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestContentHashDeterministic(t *testing.T) {
	res := &scoring.Result{
		Score:       70,
		Explanation: "Good trust profile",
		Confidence:  80,
	}
	assert.Equal(t, ContentHash(res), ContentHash(res))

	changed := *res
	changed.Explanation = "Moderate trust profile"
	assert.NotEqual(t, ContentHash(res), ContentHash(&changed))
}

func TestTagFromString(t *testing.T) {
	tag := TagFromString("pipeline-v1")
	assert.Equal(t, []byte("pipeline-v1"), tag[:len("pipeline-v1")])
	assert.Equal(t, make([]byte, 32-len("pipeline-v1")), tag[len("pipeline-v1"):])

	long := TagFromString("0123456789012345678901234567890123456789")
	assert.Equal(t, []byte("01234567890123456789012345678901"), long[:])
}

func TestSignerWithoutKey(t *testing.T) {
	signer, err := NewSigner("", TagFromString("t"), staticNonces(0))
	require.NoError(t, err)
	assert.False(t, signer.Ready())
	assert.Equal(t, common.Address{}, signer.Address())

	_, _, err = signer.Sign(context.Background(), common.HexToAddress("0x01"), 50, 1700000000, TagFromString("t"), common.Hash{})
	assert.ErrorIs(t, err, ErrSigningUnavailable)
}

func TestSignerBadKey(t *testing.T) {
	_, err := NewSigner("not-hex", TagFromString("t"), staticNonces(0))
	assert.Error(t, err)
}

func TestSignerSignVerifies(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + hex.EncodeToString(crypto.FromECDSA(key))

	signer, err := NewSigner(hexKey, TagFromString("pipeline-v1"), staticNonces(9))
	require.NoError(t, err)
	assert.True(t, signer.Ready())
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer.Address())

	account := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	contentHash := crypto.Keccak256Hash([]byte("content"))

	sig, nonce, err := signer.Sign(context.Background(), account, 64, 1700000000, TagFromString("pipeline-v1"), contentHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), nonce)
	require.Len(t, sig, 65)
	assert.GreaterOrEqual(t, sig[64], byte(27))

	hash := MessageHash(account, 64, 1700000000, TagFromString("pipeline-v1"), contentHash, nonce)
	recovered, err := RecoverSigner(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestAttestStampsTimeAndSource(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := hex.EncodeToString(crypto.FromECDSA(key))

	signer, err := NewSigner(hexKey, TagFromString("pipeline-v1"), staticNonces(0))
	require.NoError(t, err)

	fixed := time.Unix(1_700_000_000, 0)
	signer.now = func() time.Time { return fixed }

	res := &scoring.Result{Score: 58, Explanation: "Moderate trust profile", Confidence: 45}
	account := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	att, err := signer.Attest(context.Background(), account, res)
	require.NoError(t, err)
	assert.Equal(t, account, att.Account)
	assert.Equal(t, uint16(58), att.Score)
	assert.Equal(t, uint32(fixed.Unix()), att.Timestamp)
	assert.Equal(t, TagFromString("pipeline-v1"), att.SourceTag)
	assert.Equal(t, ContentHash(res), att.ContentHash)

	hash := MessageHash(att.Account, att.Score, att.Timestamp, att.SourceTag, att.ContentHash, att.Nonce)
	recovered, err := RecoverSigner(hash, att.Signature)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}
