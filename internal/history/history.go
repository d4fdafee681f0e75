// Package history persists off-ledger snapshots of computed trust scores
// so consumers can inspect how an account's score evolved between oracle
// updates.
package history

import (
	"context"
	"time"

	"github.com/trustgrid/oracle/internal/scoring"
)

// Snapshot is one computed score at a point in time.
type Snapshot struct {
	ID          int64        `json:"id"`
	Account     string       `json:"account"`
	Score       int          `json:"score"`
	Tier        scoring.Tier `json:"tier"`
	Confidence  int          `json:"confidence"`
	Explanation string       `json:"explanation"`
	ContentHash string       `json:"contentHash"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Query selects snapshots for one account, newest first. Before is an
// exclusive upper bound on CreatedAt used for cursor pagination.
type Query struct {
	Account string
	From    time.Time
	To      time.Time
	Before  time.Time
	Limit   int
}

// Store persists score snapshots.
type Store interface {
	Save(ctx context.Context, snap *Snapshot) error
	Query(ctx context.Context, q Query) ([]*Snapshot, error)
	Latest(ctx context.Context, account string) (*Snapshot, error)
}
