package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trustgrid/oracle/internal/idgen"
	"github.com/trustgrid/oracle/internal/oracle"
	"github.com/trustgrid/oracle/internal/scoring"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustgrid",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustgrid",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter wraps a Dispatcher to emit oracle lifecycle events. It satisfies
// oracle.Notifier so it can sit alongside the realtime hub in the service's
// notifier chain. All methods are fire-and-forget: errors are logged but
// never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "error", err)
	}
}

// ScoreUpdated emits a score.updated event for a verified oracle update.
func (e *Emitter) ScoreUpdated(account common.Address, rec *oracle.TrustRecord) {
	e.emit(EventScoreUpdated, map[string]interface{}{
		"account":     account.Hex(),
		"score":       rec.Score,
		"timestamp":   rec.Timestamp,
		"contentHash": rec.ContentHash.Hex(),
		"nonce":       rec.Nonce,
	})
}

// OracleUpdated emits an oracle.updated event after a key rotation.
func (e *Emitter) OracleUpdated(prev, cur common.Address) {
	e.emit(EventOracleUpdated, map[string]interface{}{
		"previous": prev.Hex(),
		"current":  cur.Hex(),
	})
}

// ThresholdUpdated emits a threshold.updated event.
func (e *Emitter) ThresholdUpdated(prev, cur uint16) {
	e.emit(EventThresholdUpdated, map[string]interface{}{
		"previous": prev,
		"current":  cur,
	})
}

// EmitScoreComputed emits a score.computed event for a fresh scoring run.
func (e *Emitter) EmitScoreComputed(account common.Address, res *scoring.Result) {
	e.emit(EventScoreComputed, map[string]interface{}{
		"account":    account.Hex(),
		"score":      res.Score,
		"tier":       string(scoring.TierFor(res.Score)),
		"confidence": res.Confidence,
	})
}
