package oracle

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/trustgrid/oracle/internal/attest"
	"github.com/trustgrid/oracle/internal/scoring"
)

// Handler provides HTTP endpoints for the oracle store.
type Handler struct {
	service *Service
	admin   common.Address
}

// NewHandler creates an oracle handler. admin is the identity attributed to
// authenticated administrative requests.
func NewHandler(service *Service, admin common.Address) *Handler {
	return &Handler{service: service, admin: admin}
}

// RegisterRoutes sets up the public oracle endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/oracle/updates", h.SubmitUpdate)
	r.GET("/oracle/config", h.GetConfig)
	r.GET("/oracle/:address", h.GetScore)
	r.GET("/oracle/:address/trusted", h.GetTrusted)
	r.GET("/oracle/:address/nonce", h.GetNonce)
	r.GET("/oracle/:address/message-hash", h.GetMessageHash)
}

// RegisterAdminRoutes sets up administrative endpoints. The caller must
// wrap the group in admin authentication middleware.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/oracle/threshold", h.SetThreshold)
	r.PUT("/oracle/address", h.SetOracleAddress)
}

type updateRequest struct {
	Account     string `json:"account" binding:"required"`
	Score       uint16 `json:"score"`
	Timestamp   uint32 `json:"timestamp" binding:"required"`
	SourceTag   string `json:"sourceTag"`
	ContentHash string `json:"contentHash"`
	Signature   string `json:"signature" binding:"required"`
}

// SubmitUpdate verifies and applies a signed score update.
// POST /v1/oracle/updates
func (h *Handler) SubmitUpdate(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain account, timestamp, and signature",
		})
		return
	}

	account, ok := parseAddress(c, req.Account)
	if !ok {
		return
	}

	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_signature_encoding",
			"message": "Signature must be 0x-prefixed hex",
		})
		return
	}

	rec, err := h.service.UpdateScore(c.Request.Context(), Update{
		Account:     account,
		Score:       req.Score,
		Timestamp:   req.Timestamp,
		Source:      attest.SourceTag(common.HexToHash(req.SourceTag)),
		ContentHash: common.HexToHash(req.ContentHash),
		Signature:   sig,
	})
	if err != nil {
		writeUpdateError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account": account.Hex(),
		"record":  recordView(rec),
	})
}

// GetScore returns the current trust record for an account. Unset accounts
// yield a zero record with timestamp 0.
// GET /v1/oracle/:address
func (h *Handler) GetScore(c *gin.Context) {
	account, ok := parseAddress(c, c.Param("address"))
	if !ok {
		return
	}

	rec, err := h.service.GetScore(c.Request.Context(), account)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	trusted, err := h.service.IsTrusted(c.Request.Context(), account)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	view := recordView(rec)
	view["tier"] = scoring.TierFor(int(rec.Score))
	view["trusted"] = trusted
	c.JSON(http.StatusOK, gin.H{
		"account": account.Hex(),
		"record":  view,
	})
}

// GetTrusted reports whether the account meets the trust threshold.
// GET /v1/oracle/:address/trusted
func (h *Handler) GetTrusted(c *gin.Context) {
	account, ok := parseAddress(c, c.Param("address"))
	if !ok {
		return
	}

	trusted, err := h.service.IsTrusted(c.Request.Context(), account)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account": account.Hex(),
		"trusted": trusted,
	})
}

// GetNonce returns the account's current replay-protection nonce.
// GET /v1/oracle/:address/nonce
func (h *Handler) GetNonce(c *gin.Context) {
	account, ok := parseAddress(c, c.Param("address"))
	if !ok {
		return
	}

	nonce, err := h.service.Nonce(c.Request.Context(), account)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account": account.Hex(),
		"nonce":   nonce,
	})
}

// GetMessageHash returns the hash the store will verify for the given
// fields at the account's current nonce.
// GET /v1/oracle/:address/message-hash?score=&timestamp=&sourceTag=&contentHash=
func (h *Handler) GetMessageHash(c *gin.Context) {
	account, ok := parseAddress(c, c.Param("address"))
	if !ok {
		return
	}

	score, err := strconv.ParseUint(c.Query("score"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "score must be an integer in [0, 65535]",
		})
		return
	}
	timestamp, err := strconv.ParseUint(c.Query("timestamp"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "timestamp must be unix seconds",
		})
		return
	}

	hash, err := h.service.MessageHash(c.Request.Context(), account,
		uint16(score), uint32(timestamp),
		attest.SourceTag(common.HexToHash(c.Query("sourceTag"))),
		common.HexToHash(c.Query("contentHash")))
	if err != nil {
		writeStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account":     account.Hex(),
		"messageHash": hash.Hex(),
	})
}

// GetConfig returns the oracle address and trust threshold.
// GET /v1/oracle/config
func (h *Handler) GetConfig(c *gin.Context) {
	addr, err := h.service.OracleAddress(c.Request.Context())
	if err != nil {
		writeStoreError(c, err)
		return
	}
	threshold, err := h.service.Threshold(c.Request.Context())
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"oracleAddress":  addr.Hex(),
		"trustThreshold": threshold,
	})
}

// SetThreshold replaces the global trust threshold.
// PUT /v1/admin/oracle/threshold
func (h *Handler) SetThreshold(c *gin.Context) {
	var req struct {
		Threshold *uint16 `json:"threshold" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain threshold",
		})
		return
	}

	if err := h.service.UpdateTrustThreshold(c.Request.Context(), h.admin, *req.Threshold); err != nil {
		writeUpdateError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trustThreshold": *req.Threshold})
}

// SetOracleAddress replaces the expected attestation signer address.
// PUT /v1/admin/oracle/address
func (h *Handler) SetOracleAddress(c *gin.Context) {
	var req struct {
		OracleAddress string `json:"oracleAddress" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain oracleAddress",
		})
		return
	}

	addr, ok := parseAddress(c, req.OracleAddress)
	if !ok {
		return
	}

	if err := h.service.UpdateOracleAddress(c.Request.Context(), h.admin, addr); err != nil {
		writeUpdateError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"oracleAddress": addr.Hex()})
}

func recordView(rec *TrustRecord) gin.H {
	return gin.H{
		"score":       rec.Score,
		"timestamp":   rec.Timestamp,
		"sourceTag":   rec.Source.Hex(),
		"contentHash": rec.ContentHash.Hex(),
		"nonce":       rec.Nonce,
	}
}

func parseAddress(c *gin.Context, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "Address must be a 0x-prefixed 20-byte hex string",
		})
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func writeUpdateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidScore):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_score",
			"message": "Score must not exceed 100",
		})
	case errors.Is(err, ErrStaleTimestamp):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "stale_timestamp",
			"message": "Timestamp is future-dated or outside the freshness window",
		})
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, attest.ErrBadSignature):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_signature",
			"message": "Signature does not verify against the oracle address at the current nonce",
		})
	case errors.Is(err, ErrInvalidThreshold):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_threshold",
			"message": "Threshold must not exceed 100",
		})
	case errors.Is(err, ErrUnauthorizedOracle):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Administrative operations are restricted",
		})
	default:
		writeStoreError(c, err)
	}
}

func writeStoreError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "store_failure",
		"message": "Oracle store query failed",
	})
}
