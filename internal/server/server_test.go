package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/trustgrid/oracle/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		OracleKey:        "0000000000000000000000000000000000000000000000000000000000000001",
		AdminAddress:     "0x00000000000000000000000000000000000000ad",
		TrustThreshold:   50,
		FreshnessSeconds: 3600,
		SourceTag:        "test-v1",
		AdminSecret:      "test-secret",
		RateLimitRPS:     1000,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	s.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
		}
	}
	return w, resp
}

const featuresBody = `{
	"txCount": 500,
	"contractInteractions": 120,
	"uniqueContracts": 25,
	"portfolioVolatility": 0.3,
	"accountAgeDays": 400,
	"swapCount": 40,
	"bridgeTxCount": 5,
	"hasDomain": true,
	"farcasterFollowers": 150,
	"githubContributions": 80
}`

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w, resp := doJSON(t, s, "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w, _ := doJSON(t, s, "GET", "/health/live", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w, _ := doJSON(t, s, "GET", "/health/ready", "", nil)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestOracleRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := map[string]bool{
		"POST:/v1/oracle/updates":              false,
		"GET:/v1/oracle/config":                false,
		"GET:/v1/oracle/:address":              false,
		"GET:/v1/oracle/:address/trusted":      false,
		"GET:/v1/oracle/:address/nonce":        false,
		"GET:/v1/oracle/:address/message-hash": false,
		"PUT:/v1/admin/oracle/threshold":       false,
		"PUT:/v1/admin/oracle/address":         false,
	}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := expected[key]; ok {
			expected[key] = true
		}
	}

	for route, found := range expected {
		if !found {
			t.Errorf("Oracle route %s not registered", route)
		}
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/score",
		"POST:/v1/attestations",
		"GET:/v1/history/:address",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Scoring flow
// ---------------------------------------------------------------------------

func TestComputeScoreEndpoint(t *testing.T) {
	s := newTestServer(t)

	account := "0xaaaa000000000000000000000000000000000001"
	body := fmt.Sprintf(`{"account":%q,"features":%s}`, account, featuresBody)

	w, resp := doJSON(t, s, "POST", "/v1/score", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	score, ok := resp["score"].(float64)
	if !ok {
		t.Fatalf("Expected numeric score, got %v", resp["score"])
	}
	if score < 0 || score > 100 {
		t.Errorf("Score %v out of bounds", score)
	}
	if resp["tier"] == nil || resp["contentHash"] == nil {
		t.Errorf("Expected tier and contentHash in response: %v", resp)
	}

	// Computation should be recorded in history.
	w, resp = doJSON(t, s, "GET", "/v1/history/"+account+"/latest", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for latest snapshot, got %d: %s", w.Code, w.Body.String())
	}
	if resp["score"] != score {
		t.Errorf("Snapshot score %v, want %v", resp["score"], score)
	}
}

func TestComputeScoreMissingFeatures(t *testing.T) {
	s := newTestServer(t)

	body := `{"account":"0xaaaa000000000000000000000000000000000001"}`
	w, resp := doJSON(t, s, "POST", "/v1/score", body, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
	if resp["error"] != "missing_features" {
		t.Errorf("Expected missing_features error, got %v", resp["error"])
	}
}

// ---------------------------------------------------------------------------
// Attestation to oracle update flow
// ---------------------------------------------------------------------------

func issueAttestation(t *testing.T, s *Server, account string) map[string]interface{} {
	t.Helper()

	body := fmt.Sprintf(`{"account":%q,"features":%s}`, account, featuresBody)
	w, resp := doJSON(t, s, "POST", "/v1/attestations", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 issuing attestation, got %d: %s", w.Code, w.Body.String())
	}
	att, ok := resp["attestation"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected attestation object, got %v", resp)
	}
	return att
}

func submitBody(att map[string]interface{}) string {
	b, _ := json.Marshal(map[string]interface{}{
		"account":     att["account"],
		"score":       att["score"],
		"timestamp":   att["timestamp"],
		"sourceTag":   att["sourceTag"],
		"contentHash": att["contentHash"],
		"signature":   att["signature"],
	})
	return string(b)
}

func TestAttestAndSubmitFlow(t *testing.T) {
	s := newTestServer(t)
	account := "0xbbbb000000000000000000000000000000000002"

	att := issueAttestation(t, s, account)

	w, resp := doJSON(t, s, "POST", "/v1/oracle/updates", submitBody(att), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 submitting update, got %d: %s", w.Code, w.Body.String())
	}
	rec, ok := resp["record"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected record object, got %v", resp)
	}
	if rec["nonce"] != float64(1) {
		t.Errorf("Expected nonce 1 after first update, got %v", rec["nonce"])
	}
	if rec["score"] != att["score"] {
		t.Errorf("Stored score %v, want %v", rec["score"], att["score"])
	}

	// Stored record visible through the read API.
	w, resp = doJSON(t, s, "GET", "/v1/oracle/"+account, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 reading record, got %d: %s", w.Code, w.Body.String())
	}
	rec, ok = resp["record"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected record object, got %v", resp)
	}
	if rec["score"] != att["score"] {
		t.Errorf("Read score %v, want %v", rec["score"], att["score"])
	}
}

func TestReplayRejectedOverHTTP(t *testing.T) {
	s := newTestServer(t)
	account := "0xcccc000000000000000000000000000000000003"

	att := issueAttestation(t, s, account)
	body := submitBody(att)

	w, _ := doJSON(t, s, "POST", "/v1/oracle/updates", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on first submit, got %d: %s", w.Code, w.Body.String())
	}

	// Same attestation again: the nonce moved, so the signature no longer
	// recovers to the oracle.
	w, resp := doJSON(t, s, "POST", "/v1/oracle/updates", body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 on replay, got %d: %s", w.Code, w.Body.String())
	}
	if resp["error"] != "invalid_signature" {
		t.Errorf("Expected invalid_signature error, got %v", resp["error"])
	}
}

// ---------------------------------------------------------------------------
// Admin routes
// ---------------------------------------------------------------------------

func TestAdminRequiresSecret(t *testing.T) {
	s := newTestServer(t)

	body := `{"threshold":80}`

	w, _ := doJSON(t, s, "PUT", "/v1/admin/oracle/threshold", body, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without secret, got %d", w.Code)
	}

	w, _ = doJSON(t, s, "PUT", "/v1/admin/oracle/threshold", body, map[string]string{
		"X-Admin-Secret": "wrong",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 with wrong secret, got %d", w.Code)
	}

	w, _ = doJSON(t, s, "PUT", "/v1/admin/oracle/threshold", body, map[string]string{
		"X-Admin-Secret": "test-secret",
	})
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with correct secret, got %d: %s", w.Code, w.Body.String())
	}

	// Change visible in public config.
	w, resp := doJSON(t, s, "GET", "/v1/oracle/config", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 reading config, got %d", w.Code)
	}
	if resp["trustThreshold"] != float64(80) {
		t.Errorf("Expected threshold 80, got %v", resp["trustThreshold"])
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
