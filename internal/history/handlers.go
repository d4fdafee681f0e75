package history

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trustgrid/oracle/internal/pagination"
)

// Handler provides HTTP endpoints for score history.
type Handler struct {
	store Store
}

// NewHandler creates a history handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up history endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/history/:address", h.GetHistory)
	r.GET("/history/:address/latest", h.GetLatest)
}

// GetHistory returns historical score snapshots for an account.
// GET /v1/history/:address?from=&to=&limit=&cursor=
func (h *Handler) GetHistory(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	q := Query{
		Account: address,
		Limit:   100,
	}

	if from := c.Query("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			q.From = t
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			q.To = t
		}
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			q.Limit = parsed
			if q.Limit > 1000 {
				q.Limit = 1000
			}
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is malformed",
		})
		return
	}
	if cursor != nil {
		q.Before = cursor.CreatedAt
	}

	// Fetch one extra row to detect whether another page exists.
	limit := q.Limit
	q.Limit = limit + 1
	snapshots, err := h.store.Query(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "query_failed",
			"message": "Failed to query score history",
		})
		return
	}

	snapshots, nextCursor, hasMore := pagination.ComputePage(snapshots, limit, func(s *Snapshot) (time.Time, string) {
		return s.CreatedAt, strconv.FormatInt(s.ID, 10)
	})

	c.JSON(http.StatusOK, gin.H{
		"account":    address,
		"snapshots":  snapshots,
		"count":      len(snapshots),
		"nextCursor": nextCursor,
		"hasMore":    hasMore,
	})
}

// GetLatest returns the most recent snapshot for an account.
// GET /v1/history/:address/latest
func (h *Handler) GetLatest(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	snap, err := h.store.Latest(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "query_failed",
			"message": "Failed to query score history",
		})
		return
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "no_history",
			"message": "No score snapshots recorded for this account",
		})
		return
	}

	c.JSON(http.StatusOK, snap)
}
