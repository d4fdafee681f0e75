package oracle

import (
	"context"
	"database/sql"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trustgrid/oracle/internal/attest"
)

// PostgresStore implements Store backed by PostgreSQL.
//
// Addresses and hashes are stored as lowercase 0x-hex text. The nonce
// check in ApplyUpdate is a conditional upsert, so atomicity holds even
// with multiple service processes on one database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed oracle store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Record(ctx context.Context, account common.Address) (*TrustRecord, error) {
	const q = `
		SELECT score, ts, source_tag, content_hash, nonce
		FROM trust_records
		WHERE account = $1`

	var (
		rec         TrustRecord
		sourceTag   string
		contentHash string
	)
	err := p.db.QueryRowContext(ctx, q, addrKey(account)).
		Scan(&rec.Score, &rec.Timestamp, &sourceTag, &contentHash, &rec.Nonce)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.Source = attest.SourceTag(common.HexToHash(sourceTag))
	rec.ContentHash = common.HexToHash(contentHash)
	return &rec, nil
}

func (p *PostgresStore) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	const q = `SELECT nonce FROM trust_records WHERE account = $1`

	var nonce uint64
	err := p.db.QueryRowContext(ctx, q, addrKey(account)).Scan(&nonce)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return nonce, nil
}

func (p *PostgresStore) ApplyUpdate(ctx context.Context, account common.Address, rec *TrustRecord, expectedNonce uint64) error {
	const q = `
		INSERT INTO trust_records (account, score, ts, source_tag, content_hash, nonce)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account) DO UPDATE
		SET score = EXCLUDED.score,
		    ts = EXCLUDED.ts,
		    source_tag = EXCLUDED.source_tag,
		    content_hash = EXCLUDED.content_hash,
		    nonce = EXCLUDED.nonce,
		    updated_at = now()
		WHERE trust_records.nonce = $7`

	res, err := p.db.ExecContext(ctx, q,
		addrKey(account),
		rec.Score,
		rec.Timestamp,
		rec.Source.Hex(),
		rec.ContentHash.Hex(),
		rec.Nonce,
		expectedNonce,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNonceConflict
	}
	return nil
}

func (p *PostgresStore) Threshold(ctx context.Context) (uint16, error) {
	const q = `SELECT trust_threshold FROM oracle_state WHERE id = 1`

	var threshold uint16
	if err := p.db.QueryRowContext(ctx, q).Scan(&threshold); err != nil {
		return 0, err
	}
	return threshold, nil
}

func (p *PostgresStore) SetThreshold(ctx context.Context, threshold uint16) error {
	const q = `UPDATE oracle_state SET trust_threshold = $1, updated_at = now() WHERE id = 1`

	_, err := p.db.ExecContext(ctx, q, threshold)
	return err
}

func (p *PostgresStore) OracleAddress(ctx context.Context) (common.Address, error) {
	const q = `SELECT oracle_address FROM oracle_state WHERE id = 1`

	var addr string
	if err := p.db.QueryRowContext(ctx, q).Scan(&addr); err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(addr), nil
}

func (p *PostgresStore) SetOracleAddress(ctx context.Context, addr common.Address) error {
	const q = `UPDATE oracle_state SET oracle_address = $1, updated_at = now() WHERE id = 1`

	_, err := p.db.ExecContext(ctx, q, addrKey(addr))
	return err
}

// Seed inserts the oracle_state row if the table is empty. Safe to call on
// every boot; an existing row is left untouched.
func (p *PostgresStore) Seed(ctx context.Context, oracleAddr common.Address, threshold uint16) error {
	const q = `
		INSERT INTO oracle_state (id, oracle_address, trust_threshold)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO NOTHING`

	_, err := p.db.ExecContext(ctx, q, addrKey(oracleAddr), threshold)
	return err
}

func addrKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}
