package oracle

import (
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
)

// Notifier receives change notifications after a successful mutation. All
// calls happen after the store write commits; implementations must not
// block the update path.
type Notifier interface {
	ScoreUpdated(account common.Address, rec *TrustRecord)
	OracleUpdated(previous, current common.Address)
	ThresholdUpdated(previous, current uint16)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) ScoreUpdated(common.Address, *TrustRecord)    {}
func (NopNotifier) OracleUpdated(common.Address, common.Address) {}
func (NopNotifier) ThresholdUpdated(uint16, uint16)              {}

// LogNotifier writes each notification as a structured log line.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) ScoreUpdated(account common.Address, rec *TrustRecord) {
	n.Logger.Info("event: score updated",
		"account", account.Hex(),
		"score", rec.Score,
		"timestamp", rec.Timestamp,
		"nonce", rec.Nonce)
}

func (n LogNotifier) OracleUpdated(previous, current common.Address) {
	n.Logger.Info("event: oracle address updated",
		"previous", previous.Hex(),
		"current", current.Hex())
}

func (n LogNotifier) ThresholdUpdated(previous, current uint16) {
	n.Logger.Info("event: trust threshold updated",
		"previous", previous,
		"current", current)
}

// MultiNotifier fans a notification out to several notifiers in order.
type MultiNotifier []Notifier

func (m MultiNotifier) ScoreUpdated(account common.Address, rec *TrustRecord) {
	for _, n := range m {
		n.ScoreUpdated(account, rec)
	}
}

func (m MultiNotifier) OracleUpdated(previous, current common.Address) {
	for _, n := range m {
		n.OracleUpdated(previous, current)
	}
}

func (m MultiNotifier) ThresholdUpdated(previous, current uint16) {
	for _, n := range m {
		n.ThresholdUpdated(previous, current)
	}
}
