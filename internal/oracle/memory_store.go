package oracle

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[common.Address]TrustRecord
	oracle    common.Address
	threshold uint16
}

// NewMemoryStore creates an in-memory oracle store with the given signing
// address and trust threshold.
func NewMemoryStore(oracleAddr common.Address, threshold uint16) *MemoryStore {
	return &MemoryStore{
		records:   make(map[common.Address]TrustRecord),
		oracle:    oracleAddr,
		threshold: threshold,
	}
}

func (s *MemoryStore) Record(ctx context.Context, account common.Address) (*TrustRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[account]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.records[account].Nonce, nil
}

func (s *MemoryStore) ApplyUpdate(ctx context.Context, account common.Address, rec *TrustRecord, expectedNonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records[account].Nonce != expectedNonce {
		return ErrNonceConflict
	}
	s.records[account] = *rec
	return nil
}

func (s *MemoryStore) Threshold(ctx context.Context) (uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.threshold, nil
}

func (s *MemoryStore) SetThreshold(ctx context.Context, threshold uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threshold = threshold
	return nil
}

func (s *MemoryStore) OracleAddress(ctx context.Context) (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.oracle, nil
}

func (s *MemoryStore) SetOracleAddress(ctx context.Context, addr common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.oracle = addr
	return nil
}
