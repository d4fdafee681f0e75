package attest

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/trustgrid/oracle/internal/features"
	"github.com/trustgrid/oracle/internal/history"
	"github.com/trustgrid/oracle/internal/logging"
	"github.com/trustgrid/oracle/internal/metrics"
	"github.com/trustgrid/oracle/internal/scoring"
)

// Handler provides HTTP endpoints for scoring and attestation issuance.
type Handler struct {
	engine    *scoring.Engine
	signer    *Signer
	snapshots history.Store
	supplier  features.Supplier

	// OnComputed, if set, is invoked after every successful computation.
	// Used by the server to feed the realtime event stream.
	OnComputed func(account common.Address, res *scoring.Result)
}

// NewHandler creates a scoring/attestation handler. snapshots and supplier
// may be nil; without a supplier every request must carry its features.
func NewHandler(engine *scoring.Engine, signer *Signer, snapshots history.Store, supplier features.Supplier) *Handler {
	return &Handler{
		engine:    engine,
		signer:    signer,
		snapshots: snapshots,
		supplier:  supplier,
	}
}

// RegisterRoutes sets up scoring endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/score", h.ComputeScore)
	r.POST("/attestations", h.IssueAttestation)
}

type scoreRequest struct {
	Account   string             `json:"account" binding:"required"`
	Features  *features.Input    `json:"features"`
	Overrides *features.Override `json:"overrides"`
}

// resolve turns a request into a feature vector, consulting the supplier
// when the request carries no features.
func (h *Handler) resolve(c *gin.Context, req *scoreRequest, account common.Address) (features.Vector, bool) {
	var vec features.Vector

	switch {
	case req.Features != nil:
		v, err := req.Features.Vector()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_features",
				"message": err.Error(),
			})
			return vec, false
		}
		vec = v
	case h.supplier != nil:
		v, err := h.supplier.Features(c.Request.Context(), account.Hex())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "feature_fetch_failed",
				"message": "Could not fetch activity features for this account",
			})
			return vec, false
		}
		vec = *v
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_features",
			"message": "Request must include features; no feature supplier is configured",
		})
		return vec, false
	}

	return features.Merge(vec, req.Overrides), true
}

func (h *Handler) compute(c *gin.Context, account common.Address, vec features.Vector) *scoring.Result {
	res := h.engine.Compute(vec)

	metrics.ScoresComputedTotal.Inc()
	metrics.ScoreDistribution.Observe(float64(res.Score))

	if h.snapshots != nil {
		snap := &history.Snapshot{
			Account:     account.Hex(),
			Score:       res.Score,
			Tier:        scoring.TierFor(res.Score),
			Confidence:  res.Confidence,
			Explanation: res.Explanation,
			ContentHash: ContentHash(res).Hex(),
		}
		// Snapshot failure must not block the response.
		if err := h.snapshots.Save(c.Request.Context(), snap); err != nil {
			logging.FromContext(c.Request.Context()).Warn("score snapshot save failed",
				"account", snap.Account, "error", err)
		}
	}

	if h.OnComputed != nil {
		h.OnComputed(account, res)
	}
	return res
}

// ComputeScore runs the scoring engine over the supplied feature vector.
// POST /v1/score
func (h *Handler) ComputeScore(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain account",
		})
		return
	}

	account, ok := bindAddress(c, req.Account)
	if !ok {
		return
	}
	vec, ok := h.resolve(c, &req, account)
	if !ok {
		return
	}

	res := h.compute(c, account, vec)
	c.JSON(http.StatusOK, gin.H{
		"account":     account.Hex(),
		"score":       res.Score,
		"tier":        scoring.TierFor(res.Score),
		"breakdown":   res.Breakdown,
		"explanation": res.Explanation,
		"confidence":  res.Confidence,
		"contentHash": ContentHash(res).Hex(),
	})
}

// IssueAttestation computes a score and signs it for submission to the
// oracle store.
// POST /v1/attestations
func (h *Handler) IssueAttestation(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain account",
		})
		return
	}

	account, ok := bindAddress(c, req.Account)
	if !ok {
		return
	}
	vec, ok := h.resolve(c, &req, account)
	if !ok {
		return
	}

	res := h.compute(c, account, vec)

	att, err := h.signer.Attest(c.Request.Context(), account, res)
	if err != nil {
		if errors.Is(err, ErrSigningUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "signing_unavailable",
				"message": "The oracle signing key is not loaded",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "signing_failed",
			"message": "Could not produce an attestation",
		})
		return
	}
	metrics.AttestationsIssuedTotal.Inc()

	c.JSON(http.StatusOK, gin.H{
		"attestation": att,
		"score":       res.Score,
		"tier":        scoring.TierFor(res.Score),
		"explanation": res.Explanation,
		"confidence":  res.Confidence,
	})
}

func bindAddress(c *gin.Context, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "Account must be a 0x-prefixed 20-byte hex string",
		})
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}
