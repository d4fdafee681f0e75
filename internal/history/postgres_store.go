package history

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/trustgrid/oracle/internal/scoring"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed snapshot store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	const q = `
		INSERT INTO score_snapshots
			(account, score, tier, confidence, explanation, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return p.db.QueryRowContext(ctx, q,
		strings.ToLower(snap.Account),
		snap.Score,
		string(snap.Tier),
		snap.Confidence,
		snap.Explanation,
		snap.ContentHash,
	).Scan(&snap.ID, &snap.CreatedAt)
}

func (p *PostgresStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	query := `
		SELECT id, account, score, tier, confidence, explanation, content_hash, created_at
		FROM score_snapshots
		WHERE account = $1`

	args := []interface{}{strings.ToLower(q.Account)}
	argIdx := 2

	if !q.From.IsZero() {
		query += " AND created_at >= $" + strconv.Itoa(argIdx)
		args = append(args, q.From)
		argIdx++
	}
	if !q.To.IsZero() {
		query += " AND created_at <= $" + strconv.Itoa(argIdx)
		args = append(args, q.To)
		argIdx++
	}
	if !q.Before.IsZero() {
		query += " AND created_at < $" + strconv.Itoa(argIdx)
		args = append(args, q.Before)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT $" + strconv.Itoa(argIdx)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Snapshot
	for rows.Next() {
		s := &Snapshot{}
		var tier string
		if err := rows.Scan(&s.ID, &s.Account, &s.Score, &tier,
			&s.Confidence, &s.Explanation, &s.ContentHash, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Tier = scoring.Tier(tier)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Latest(ctx context.Context, account string) (*Snapshot, error) {
	const q = `
		SELECT id, account, score, tier, confidence, explanation, content_hash, created_at
		FROM score_snapshots
		WHERE account = $1
		ORDER BY created_at DESC
		LIMIT 1`

	row := p.db.QueryRowContext(ctx, q, strings.ToLower(account))
	s := &Snapshot{}
	var tier string
	err := row.Scan(&s.ID, &s.Account, &s.Score, &tier,
		&s.Confidence, &s.Explanation, &s.ContentHash, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Tier = scoring.Tier(tier)
	return s, nil
}
