package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func serveWith(mw gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw)
	router.GET("/v1/oracle/config", func(c *gin.Context) {
		c.String(200, "ok")
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware(t *testing.T) {
	w := serveWith(HeadersMiddleware(), httptest.NewRequest("GET", "/v1/oracle/config", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, expected := range want {
		if got := w.Header().Get(header); got != expected {
			t.Errorf("%s = %q, want %q", header, got, expected)
		}
	}

	csp := w.Header().Get("Content-Security-Policy")
	if csp == "" {
		t.Fatal("Content-Security-Policy header not set")
	}
	if !strings.Contains(csp, "wss:") {
		t.Error("CSP should permit websocket connections for the live feed")
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		expectHeader   bool
	}{
		{"allowed origin", []string{"https://app.trustgrid.example"}, "https://app.trustgrid.example", true},
		{"wildcard allows all", []string{"*"}, "https://anything.example", true},
		{"disallowed origin", []string{"https://app.trustgrid.example"}, "https://evil.example", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/oracle/config", nil)
			req.Header.Set("Origin", tc.requestOrigin)
			w := serveWith(CORSMiddleware(tc.allowedOrigins), req)

			hasHeader := w.Header().Get("Access-Control-Allow-Origin") != ""
			if hasHeader != tc.expectHeader {
				t.Errorf("CORS header present = %v, want %v", hasHeader, tc.expectHeader)
			}
		})
	}
}

func TestCORSAllowsAdminHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/oracle/config", nil)
	req.Header.Set("Origin", "https://app.trustgrid.example")
	w := serveWith(CORSMiddleware([]string{"*"}), req)

	allowed := w.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(allowed, "X-Admin-Secret") {
		t.Errorf("expected X-Admin-Secret in allowed headers, got %q", allowed)
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest("OPTIONS", "/v1/oracle/config", nil)
	req.Header.Set("Origin", "https://app.trustgrid.example")
	w := serveWith(CORSMiddleware([]string{"*"}), req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("Access-Control-Allow-Methods not set")
	}
}
