package attest

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/trustgrid/oracle/internal/scoring"
	"github.com/trustgrid/oracle/internal/syncutil"
)

// Signer produces attestations with the oracle's private key.
//
// An attestation is nonce-specific: once a conflicting update lands on the
// store, a previously issued signature is permanently dead. The signer
// therefore serializes fetch-nonce -> sign per account so that two
// concurrent requests for the same account cannot both capture the same
// nonce.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	source  SourceTag
	nonces  NonceSource
	locks   syncutil.KeyedMutex
	now     func() time.Time
}

// NewSigner creates a signer from a hex-encoded private key (0x prefix
// optional). An empty key yields a signer whose operations fail with
// ErrSigningUnavailable, which lets read-only deployments start without
// key material.
func NewSigner(hexKey string, source SourceTag, nonces NonceSource) (*Signer, error) {
	s := &Signer{
		source: source,
		nonces: nonces,
		now:    time.Now,
	}
	if hexKey == "" {
		return s, nil
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("attest: parse private key: %w", err)
	}
	s.key = key
	s.address = crypto.PubkeyToAddress(key.PublicKey)
	return s, nil
}

// Address returns the oracle address derived from the signing key, or the
// zero address when no key is loaded.
func (s *Signer) Address() common.Address {
	return s.address
}

// Ready reports whether the signer holds key material.
func (s *Signer) Ready() bool {
	return s.key != nil
}

// Sign fetches the account's current nonce and signs the canonical message
// for the given fields. Returns the 65-byte signature (v in {27,28}) and
// the nonce it binds to.
func (s *Signer) Sign(ctx context.Context, account common.Address, score uint16, timestamp uint32, source SourceTag, contentHash common.Hash) ([]byte, uint64, error) {
	if s.key == nil {
		return nil, 0, ErrSigningUnavailable
	}

	unlock := s.locks.Lock(account.Hex())
	defer unlock()

	nonce, err := s.nonces.Nonce(ctx, account)
	if err != nil {
		return nil, 0, fmt.Errorf("attest: fetch nonce: %w", err)
	}

	hash := MessageHash(account, score, timestamp, source, contentHash, nonce)
	sig, err := crypto.Sign(SignableHash(hash).Bytes(), s.key)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}
	sig[64] += 27

	return sig, nonce, nil
}

// Attest signs a computed scoring result for an account, stamping the
// current time and the signer's configured source tag.
func (s *Signer) Attest(ctx context.Context, account common.Address, res *scoring.Result) (*Attestation, error) {
	timestamp := uint32(s.now().Unix())
	contentHash := ContentHash(res)

	sig, nonce, err := s.Sign(ctx, account, uint16(res.Score), timestamp, s.source, contentHash)
	if err != nil {
		return nil, err
	}

	return &Attestation{
		Account:     account,
		Score:       uint16(res.Score),
		Timestamp:   timestamp,
		SourceTag:   s.source,
		ContentHash: contentHash,
		Nonce:       nonce,
		Signature:   sig,
	}, nil
}
