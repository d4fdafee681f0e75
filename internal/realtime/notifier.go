package realtime

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trustgrid/oracle/internal/metrics"
	"github.com/trustgrid/oracle/internal/oracle"
)

// Notifier forwards oracle store events to WebSocket subscribers and
// Prometheus. Implements oracle.Notifier.
type Notifier struct {
	hub *Hub
}

// NewNotifier creates a hub-backed oracle notifier.
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

func (n *Notifier) ScoreUpdated(account common.Address, rec *oracle.TrustRecord) {
	n.hub.BroadcastScoreUpdate(map[string]any{
		"account":     account.Hex(),
		"score":       float64(rec.Score),
		"timestamp":   rec.Timestamp,
		"contentHash": rec.ContentHash.Hex(),
		"nonce":       rec.Nonce,
	})
}

func (n *Notifier) OracleUpdated(previous, current common.Address) {
	n.hub.Broadcast(&Event{
		Type:      EventOracleUpdated,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"previous": previous.Hex(),
			"current":  current.Hex(),
		},
	})
}

func (n *Notifier) ThresholdUpdated(previous, current uint16) {
	metrics.TrustThreshold.Set(float64(current))
	n.hub.Broadcast(&Event{
		Type:      EventThresholdUpdated,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"previous": previous,
			"current":  current,
		},
	})
}
