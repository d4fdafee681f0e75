package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trustgrid/oracle/internal/attest"
)

// runStoreConformance exercises the Store contract every backend must
// satisfy. Each implementation's test constructs a fresh store and
// hands it in; accounts are distinct per subtest so backends that share
// state between subtests behave the same as ones that do not.
func runStoreConformance(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("unset account", func(t *testing.T) {
		account := common.HexToAddress("0xc0f0000000000000000000000000000000000001")

		rec, err := store.Record(ctx, account)
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if rec != nil {
			t.Fatalf("Expected nil record for unset account, got %+v", rec)
		}

		nonce, err := store.Nonce(ctx, account)
		if err != nil {
			t.Fatalf("Nonce failed: %v", err)
		}
		if nonce != 0 {
			t.Errorf("Expected nonce 0 for unset account, got %d", nonce)
		}
	})

	t.Run("apply and read back", func(t *testing.T) {
		account := common.HexToAddress("0xc0f0000000000000000000000000000000000002")

		want := &TrustRecord{
			Score:       82,
			Timestamp:   1700000000,
			Source:      attest.TagFromString("trustgrid-v1"),
			ContentHash: common.HexToHash("0xdeadbeef"),
			Nonce:       1,
		}
		if err := store.ApplyUpdate(ctx, account, want, 0); err != nil {
			t.Fatalf("ApplyUpdate failed: %v", err)
		}

		got, err := store.Record(ctx, account)
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if got == nil {
			t.Fatal("Expected record, got nil")
		}
		if *got != *want {
			t.Errorf("Record mismatch: got %+v, want %+v", got, want)
		}
	})

	t.Run("nonce conflict leaves state untouched", func(t *testing.T) {
		account := common.HexToAddress("0xc0f0000000000000000000000000000000000003")

		first := &TrustRecord{Score: 60, Timestamp: 1700000000, Nonce: 1}
		if err := store.ApplyUpdate(ctx, account, first, 0); err != nil {
			t.Fatalf("First ApplyUpdate failed: %v", err)
		}

		// Same expected nonce again must not apply.
		second := &TrustRecord{Score: 99, Timestamp: 1700000100, Nonce: 1}
		if err := store.ApplyUpdate(ctx, account, second, 0); !errors.Is(err, ErrNonceConflict) {
			t.Fatalf("Expected ErrNonceConflict, got %v", err)
		}

		got, err := store.Record(ctx, account)
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if got.Score != 60 || got.Nonce != 1 {
			t.Errorf("Conflicting update must not apply, got score %d nonce %d", got.Score, got.Nonce)
		}
	})

	t.Run("sequential updates increment nonce", func(t *testing.T) {
		account := common.HexToAddress("0xc0f0000000000000000000000000000000000004")

		for i := uint64(0); i < 3; i++ {
			rec := &TrustRecord{
				Score:     uint16(50 + i),
				Timestamp: uint32(1700000000 + i),
				Nonce:     i + 1,
			}
			if err := store.ApplyUpdate(ctx, account, rec, i); err != nil {
				t.Fatalf("ApplyUpdate %d failed: %v", i, err)
			}
		}

		got, err := store.Record(ctx, account)
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if got.Score != 52 || got.Nonce != 3 {
			t.Errorf("Expected score 52 nonce 3, got score %d nonce %d", got.Score, got.Nonce)
		}
	})

	t.Run("threshold round trip", func(t *testing.T) {
		if err := store.SetThreshold(ctx, 80); err != nil {
			t.Fatalf("SetThreshold failed: %v", err)
		}
		threshold, err := store.Threshold(ctx)
		if err != nil {
			t.Fatalf("Threshold failed: %v", err)
		}
		if threshold != 80 {
			t.Errorf("Expected threshold 80, got %d", threshold)
		}
	})

	t.Run("oracle address round trip", func(t *testing.T) {
		next := common.HexToAddress("0xbbbb000000000000000000000000000000000009")
		if err := store.SetOracleAddress(ctx, next); err != nil {
			t.Fatalf("SetOracleAddress failed: %v", err)
		}
		addr, err := store.OracleAddress(ctx)
		if err != nil {
			t.Fatalf("OracleAddress failed: %v", err)
		}
		if addr != next {
			t.Errorf("Expected oracle address %s, got %s", next.Hex(), addr.Hex())
		}
	})
}
