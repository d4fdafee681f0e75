// Package validation guards the API edge: request body size limits and
// early rejection of malformed account addresses in URL parameters.
package validation

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize bounds request bodies. Feature payloads are small; 1MB
// leaves generous headroom.
const MaxRequestSize = 1 << 20

var ethAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// IsValidEthAddress reports whether addr is a 0x-prefixed 20-byte hex
// address.
func IsValidEthAddress(addr string) bool {
	return ethAddressRegex.MatchString(addr)
}

// RequestSizeMiddleware rejects bodies larger than maxSize.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// AddressParamMiddleware rejects malformed :address URL parameters
// before they reach a handler. Routes without the parameter pass
// through untouched.
func AddressParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.Param("address")
		if addr != "" && !IsValidEthAddress(addr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
			})
			return
		}
		c.Next()
	}
}
