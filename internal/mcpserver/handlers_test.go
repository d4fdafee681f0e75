package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL: ts.URL,
	}
	client := NewTrustGridClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

const testAccount = "0xaaaa000000000000000000000000000000000001"

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewTrustGridClient(Config{APIURL: ts.URL, APIKey: "sk_secret123"})
	_, err := client.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_secret123", gotAuth)
}

func TestClient_DoRequest_NoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewTrustGridClient(Config{APIURL: ts.URL})
	_, err := client.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_signature",
			"message": "Signature does not recover to the oracle address",
		})
	}))
	defer ts.Close()

	client := NewTrustGridClient(Config{APIURL: ts.URL})
	_, err := client.GetScore(context.Background(), testAccount)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Signature does not recover")
}

func TestClient_DoRequest_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewTrustGridClient(Config{APIURL: ts.URL})
	_, err := client.GetConfig(ctx)
	require.Error(t, err)
}

func TestClient_GetHistory_QueryParams(t *testing.T) {
	var gotPath, gotLimit string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		_, _ = w.Write([]byte(`{"snapshots":[]}`))
	}))
	defer ts.Close()

	client := NewTrustGridClient(Config{APIURL: ts.URL})
	_, err := client.GetHistory(context.Background(), testAccount, 5)
	require.NoError(t, err)
	assert.Equal(t, "/v1/history/"+testAccount, gotPath)
	assert.Equal(t, "5", gotLimit)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleGetTrustScore(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/oracle/"+testAccount, r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"account": testAccount,
			"record": map[string]any{
				"score":       82,
				"timestamp":   1700000000,
				"tier":        "excellent",
				"trusted":     true,
				"contentHash": "0xdeadbeef",
				"nonce":       3,
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetTrustScore(context.Background(), makeRequest(map[string]any{
		"account": testAccount,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "82/100")
	assert.Contains(t, text, "excellent")
	assert.Contains(t, text, "Trusted: true")
}

func TestHandleGetTrustScore_UnsetAccount(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"account": testAccount,
			"record": map[string]any{
				"score":     0,
				"timestamp": 0,
				"trusted":   false,
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetTrustScore(context.Background(), makeRequest(map[string]any{
		"account": testAccount,
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No verified score")
}

func TestHandleGetTrustScore_MissingAccount(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called without an account")
	}))
	defer cleanup()

	result, err := h.HandleGetTrustScore(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleCheckTrusted(t *testing.T) {
	trusted := true
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"account": testAccount,
			"trusted": trusted,
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckTrusted(context.Background(), makeRequest(map[string]any{
		"account": testAccount,
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "is TRUSTED")

	trusted = false
	result, err = h.HandleCheckTrusted(context.Background(), makeRequest(map[string]any{
		"account": testAccount,
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "NOT trusted")
}

func TestHandleComputeScore(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/score", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testAccount, body["account"])
		assert.NotNil(t, body["features"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"account":     testAccount,
			"score":       74,
			"tier":        "good",
			"confidence":  90,
			"explanation": "Established account with steady activity.",
			"breakdown": []map[string]any{
				{"factor": "tx_activity", "weight": 20, "normalized": 80},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleComputeScore(context.Background(), makeRequest(map[string]any{
		"account":  testAccount,
		"features": map[string]any{"txCount": 500},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "74/100")
	assert.Contains(t, text, "tx_activity")
	assert.Contains(t, text, "steady activity")
}

func TestHandleComputeScore_MissingFeatures(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called without features")
	}))
	defer cleanup()

	result, err := h.HandleComputeScore(context.Background(), makeRequest(map[string]any{
		"account": testAccount,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleIssueAttestation(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/attestations", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"attestation": map[string]any{
				"account":   testAccount,
				"score":     74,
				"nonce":     0,
				"signature": "0xabcd",
			},
			"score": 74,
			"tier":  "good",
		})
	}))
	defer cleanup()

	result, err := h.HandleIssueAttestation(context.Background(), makeRequest(map[string]any{
		"account":  testAccount,
		"features": map[string]any{"txCount": 500},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Signed attestation")
	assert.Contains(t, text, "0xabcd")
	assert.Contains(t, text, "/v1/oracle/updates")
}

func TestHandleGetScoreHistory_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"account":   testAccount,
			"snapshots": []any{},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetScoreHistory(context.Background(), makeRequest(map[string]any{
		"account": testAccount,
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No score history")
}

func TestHandleGetOracleConfig(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/oracle/config", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"oracleAddress":  "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf",
			"trustThreshold": 50,
		})
	}))
	defer cleanup()

	result, err := h.HandleGetOracleConfig(context.Background(), makeRequest(nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf")
	assert.Contains(t, text, "50/100")
}

func TestHandleGetOracleConfig_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "store_failure",
			"message": "Storage backend unavailable",
		})
	}))
	defer cleanup()

	result, err := h.HandleGetOracleConfig(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Storage backend unavailable")
}
