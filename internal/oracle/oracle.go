// Package oracle implements the trust-score oracle store: per-account
// signed score records with monotonic replay-protection nonces, a global
// trust threshold, and the verification protocol that gates every update.
//
// Each account moves between two states, unset (no record) and set, and
// both transitions happen only through UpdateScore. A record is never
// deleted, only overwritten by a newer verified attestation.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/trace"

	"github.com/trustgrid/oracle/internal/attest"
	"github.com/trustgrid/oracle/internal/metrics"
	"github.com/trustgrid/oracle/internal/syncutil"
	"github.com/trustgrid/oracle/internal/traces"
)

// MaxScore is the upper bound for scores and the trust threshold.
const MaxScore = 100

// DefaultFreshnessWindow is the maximum accepted attestation age.
const DefaultFreshnessWindow = 3600 * time.Second

var (
	// ErrInvalidScore rejects scores above MaxScore.
	ErrInvalidScore = errors.New("oracle: score exceeds maximum")

	// ErrStaleTimestamp rejects future-dated timestamps and timestamps
	// older than the freshness window.
	ErrStaleTimestamp = errors.New("oracle: timestamp outside freshness window")

	// ErrInvalidSignature rejects updates whose recovered signer is not the
	// configured oracle address. A replayed attestation lands here too: the
	// nonce it was signed over no longer matches the account's current
	// nonce, so recovery yields a different message and a different signer.
	ErrInvalidSignature = errors.New("oracle: signature does not match oracle address")

	// ErrInvalidThreshold rejects trust thresholds above MaxScore.
	ErrInvalidThreshold = errors.New("oracle: threshold exceeds maximum score")

	// ErrUnauthorizedOracle rejects administrative calls from anyone other
	// than the configured administrator.
	ErrUnauthorizedOracle = errors.New("oracle: caller is not the administrator")

	// ErrNonceConflict is returned by Store.ApplyUpdate when the account's
	// nonce changed between read and write. The service serializes updates
	// per account, so hitting this indicates a second writer on the same
	// backing store.
	ErrNonceConflict = errors.New("oracle: nonce changed concurrently")
)

// TrustRecord is the ledger-resident score state for one account.
//
// A zero-valued record means "never scored"; callers distinguish that from
// a genuine score of 0 by Timestamp == 0.
type TrustRecord struct {
	Score       uint16           `json:"score"`
	Timestamp   uint32           `json:"timestamp"`
	Source      attest.SourceTag `json:"-"`
	ContentHash common.Hash      `json:"contentHash"`
	Nonce       uint64           `json:"nonce"`
}

// Update carries the fields of one signed score submission.
type Update struct {
	Account     common.Address
	Score       uint16
	Timestamp   uint32
	Source      attest.SourceTag
	ContentHash common.Hash
	Signature   []byte
}

// Store persists trust records, per-account nonces, and the global oracle
// configuration.
type Store interface {
	// Record returns the account's record, or nil if the account is unset.
	Record(ctx context.Context, account common.Address) (*TrustRecord, error)

	// Nonce returns the account's current nonce (0 if unset).
	Nonce(ctx context.Context, account common.Address) (uint64, error)

	// ApplyUpdate overwrites the record and sets nonce = expectedNonce+1 in
	// one atomic step, failing with ErrNonceConflict if the stored nonce is
	// no longer expectedNonce.
	ApplyUpdate(ctx context.Context, account common.Address, rec *TrustRecord, expectedNonce uint64) error

	Threshold(ctx context.Context) (uint16, error)
	SetThreshold(ctx context.Context, threshold uint16) error

	OracleAddress(ctx context.Context) (common.Address, error)
	SetOracleAddress(ctx context.Context, addr common.Address) error
}

// Service enforces the verification protocol in front of a Store.
type Service struct {
	store     Store
	admin     common.Address
	freshness time.Duration
	notifier  Notifier
	logger    *slog.Logger
	locks     syncutil.KeyedMutex
	now       func() time.Time
}

// NewService creates the oracle service. admin is the only identity allowed
// to change the oracle address or threshold; a zero admin disables the
// administrative surface. A non-positive freshness falls back to
// DefaultFreshnessWindow, a nil notifier to NopNotifier.
func NewService(store Store, admin common.Address, freshness time.Duration, notifier Notifier, logger *slog.Logger) *Service {
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		admin:     admin,
		freshness: freshness,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// UpdateScore verifies and applies one signed score submission. The check
// order is part of the protocol: score bound, then freshness, then nonce
// read, then signature recovery against the current nonce. A signature
// over any other nonce recovers a different signer and fails verification,
// which is what makes every attestation single-use.
//
// Returns the stored record (with its new nonce) on success. A rejected
// update leaves the record and nonce untouched.
func (s *Service) UpdateScore(ctx context.Context, up Update) (*TrustRecord, error) {
	ctx, span := traces.StartSpan(ctx, "oracle.update_score",
		traces.Account(up.Account.Hex()),
		traces.Score(int(up.Score)),
	)
	defer span.End()

	if up.Score > MaxScore {
		recordResult(span, metrics.ResultInvalidScore)
		return nil, fmt.Errorf("%w: %d", ErrInvalidScore, up.Score)
	}

	now := s.now().Unix()
	ts := int64(up.Timestamp)
	if ts > now || now-ts > int64(s.freshness/time.Second) {
		recordResult(span, metrics.ResultStaleTimestamp)
		return nil, fmt.Errorf("%w: timestamp %d, now %d", ErrStaleTimestamp, up.Timestamp, now)
	}

	// Mirror the ledger's serialized execution: one update at a time per
	// account, so the nonce cannot move between read and apply.
	unlock := s.locks.Lock(up.Account.Hex())
	defer unlock()

	nonce, err := s.store.Nonce(ctx, up.Account)
	if err != nil {
		recordResult(span, metrics.ResultStoreError)
		return nil, fmt.Errorf("oracle: read nonce: %w", err)
	}

	hash := attest.MessageHash(up.Account, up.Score, up.Timestamp, up.Source, up.ContentHash, nonce)
	signer, err := attest.RecoverSigner(hash, up.Signature)
	if err != nil {
		recordResult(span, metrics.ResultInvalidSignature)
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	oracleAddr, err := s.store.OracleAddress(ctx)
	if err != nil {
		recordResult(span, metrics.ResultStoreError)
		return nil, fmt.Errorf("oracle: read oracle address: %w", err)
	}
	if signer != oracleAddr {
		recordResult(span, metrics.ResultInvalidSignature)
		return nil, ErrInvalidSignature
	}

	rec := &TrustRecord{
		Score:       up.Score,
		Timestamp:   up.Timestamp,
		Source:      up.Source,
		ContentHash: up.ContentHash,
		Nonce:       nonce + 1,
	}
	if err := s.store.ApplyUpdate(ctx, up.Account, rec, nonce); err != nil {
		recordResult(span, metrics.ResultStoreError)
		return nil, fmt.Errorf("oracle: apply update: %w", err)
	}
	span.SetAttributes(traces.Nonce(rec.Nonce))
	recordResult(span, metrics.ResultApplied)

	s.logger.Info("trust score updated",
		"account", up.Account.Hex(),
		"score", rec.Score,
		"nonce", rec.Nonce)
	s.notifier.ScoreUpdated(up.Account, rec)

	return rec, nil
}

// GetScore returns the account's record, or a zero-valued record if the
// account has never been scored.
func (s *Service) GetScore(ctx context.Context, account common.Address) (*TrustRecord, error) {
	rec, err := s.store.Record(ctx, account)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &TrustRecord{}, nil
	}
	return rec, nil
}

// IsTrusted reports whether the account's score meets the trust threshold.
func (s *Service) IsTrusted(ctx context.Context, account common.Address) (bool, error) {
	rec, err := s.GetScore(ctx, account)
	if err != nil {
		return false, err
	}
	threshold, err := s.store.Threshold(ctx)
	if err != nil {
		return false, err
	}
	return rec.Score >= threshold, nil
}

// Nonce returns the account's current replay-protection nonce. Satisfies
// attest.NonceSource so the signer reads the same counter the verifier
// checks.
func (s *Service) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	return s.store.Nonce(ctx, account)
}

// MessageHash computes the hash UpdateScore will verify for these fields
// at the account's current nonce. Off-process signers call this to confirm
// their byte layout before committing a signature.
func (s *Service) MessageHash(ctx context.Context, account common.Address, score uint16, timestamp uint32, source attest.SourceTag, contentHash common.Hash) (common.Hash, error) {
	nonce, err := s.store.Nonce(ctx, account)
	if err != nil {
		return common.Hash{}, err
	}
	return attest.MessageHash(account, score, timestamp, source, contentHash, nonce), nil
}

// Threshold returns the current global trust threshold.
func (s *Service) Threshold(ctx context.Context) (uint16, error) {
	return s.store.Threshold(ctx)
}

// OracleAddress returns the address updates must be signed by.
func (s *Service) OracleAddress(ctx context.Context) (common.Address, error) {
	return s.store.OracleAddress(ctx)
}

// UpdateTrustThreshold replaces the global trust threshold. Administrator
// only; threshold must not exceed MaxScore.
func (s *Service) UpdateTrustThreshold(ctx context.Context, caller common.Address, threshold uint16) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	if threshold > MaxScore {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, threshold)
	}

	previous, err := s.store.Threshold(ctx)
	if err != nil {
		return err
	}
	if err := s.store.SetThreshold(ctx, threshold); err != nil {
		return err
	}

	s.logger.Info("trust threshold updated", "previous", previous, "current", threshold)
	s.notifier.ThresholdUpdated(previous, threshold)
	return nil
}

// UpdateOracleAddress replaces the address future updates must be signed
// by. Administrator only. In-flight attestations from the previous key
// become unverifiable.
func (s *Service) UpdateOracleAddress(ctx context.Context, caller common.Address, addr common.Address) error {
	if err := s.authorize(caller); err != nil {
		return err
	}

	previous, err := s.store.OracleAddress(ctx)
	if err != nil {
		return err
	}
	if err := s.store.SetOracleAddress(ctx, addr); err != nil {
		return err
	}

	s.logger.Info("oracle address updated", "previous", previous.Hex(), "current", addr.Hex())
	s.notifier.OracleUpdated(previous, addr)
	return nil
}

// recordResult tags the span and the update counter with the outcome, so
// every verification path leaves a metric trace, not just applied updates.
func recordResult(span trace.Span, result string) {
	span.SetAttributes(traces.UpdateResult(result))
	metrics.OracleUpdatesTotal.WithLabelValues(result).Inc()
}

func (s *Service) authorize(caller common.Address) error {
	if s.admin == (common.Address{}) || caller != s.admin {
		return ErrUnauthorizedOracle
	}
	return nil
}
