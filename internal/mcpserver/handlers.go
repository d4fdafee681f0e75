package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *TrustGridClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *TrustGridClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetTrustScore returns the oracle record for an account.
func (h *Handlers) HandleGetTrustScore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	account := req.GetString("account", "")
	if account == "" {
		return mcp.NewToolResultError("account is required"), nil
	}

	raw, err := h.client.GetScore(ctx, account)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get trust score: %v", err)), nil
	}

	text, err := formatTrustRecord(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse record: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleCheckTrusted returns a yes/no trust answer for an account.
func (h *Handlers) HandleCheckTrusted(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	account := req.GetString("account", "")
	if account == "" {
		return mcp.NewToolResultError("account is required"), nil
	}

	raw, err := h.client.GetTrusted(ctx, account)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check trust: %v", err)), nil
	}

	var resp struct {
		Account string `json:"account"`
		Trusted bool   `json:"trusted"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	if resp.Trusted {
		return mcp.NewToolResultText(fmt.Sprintf("%s is TRUSTED (score meets the threshold).", resp.Account)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s is NOT trusted (score below the threshold or never scored).", resp.Account)), nil
}

// HandleComputeScore runs the scoring engine without touching the oracle.
func (h *Handlers) HandleComputeScore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	account := req.GetString("account", "")
	if account == "" {
		return mcp.NewToolResultError("account is required"), nil
	}
	features, ok := req.GetArguments()["features"].(map[string]any)
	if !ok {
		return mcp.NewToolResultError("features object is required"), nil
	}

	raw, err := h.client.ComputeScore(ctx, account, features)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Scoring failed: %v", err)), nil
	}

	text, err := formatScoreResult(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse result: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleIssueAttestation computes and signs a score.
func (h *Handlers) HandleIssueAttestation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	account := req.GetString("account", "")
	if account == "" {
		return mcp.NewToolResultError("account is required"), nil
	}
	features, ok := req.GetArguments()["features"].(map[string]any)
	if !ok {
		return mcp.NewToolResultError("features object is required"), nil
	}

	raw, err := h.client.IssueAttestation(ctx, account, features)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Attestation failed: %v", err)), nil
	}

	text, err := formatAttestation(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse attestation: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetScoreHistory returns recent snapshots for an account.
func (h *Handlers) HandleGetScoreHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	account := req.GetString("account", "")
	if account == "" {
		return mcp.NewToolResultError("account is required"), nil
	}
	limit := req.GetInt("limit", 10)

	raw, err := h.client.GetHistory(ctx, account, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get history: %v", err)), nil
	}

	text, err := formatHistory(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse history: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetOracleConfig returns the oracle address and threshold.
func (h *Handlers) HandleGetOracleConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetConfig(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get config: %v", err)), nil
	}

	var cfg struct {
		OracleAddress  string `json:"oracleAddress"`
		TrustThreshold int    `json:"trustThreshold"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse config: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Oracle address: %s\nTrust threshold: %d/100",
		cfg.OracleAddress, cfg.TrustThreshold)), nil
}

// ---------------------------------------------------------------------------
// Formatting helpers
// ---------------------------------------------------------------------------

func formatTrustRecord(raw json.RawMessage) (string, error) {
	var resp struct {
		Account string `json:"account"`
		Record  struct {
			Score       int    `json:"score"`
			Timestamp   int64  `json:"timestamp"`
			Tier        string `json:"tier"`
			Trusted     bool   `json:"trusted"`
			ContentHash string `json:"contentHash"`
			Nonce       uint64 `json:"nonce"`
		} `json:"record"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Account: %s\n", resp.Account)
	if resp.Record.Timestamp == 0 {
		sb.WriteString("No verified score recorded for this account yet.\n")
		fmt.Fprintf(&sb, "Trusted: %v\n", resp.Record.Trusted)
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "Score: %d/100 (%s)\n", resp.Record.Score, resp.Record.Tier)
	fmt.Fprintf(&sb, "Trusted: %v\n", resp.Record.Trusted)
	fmt.Fprintf(&sb, "Scored at: unix %d\n", resp.Record.Timestamp)
	fmt.Fprintf(&sb, "Content hash: %s\n", resp.Record.ContentHash)
	fmt.Fprintf(&sb, "Updates applied: %d\n", resp.Record.Nonce)
	return sb.String(), nil
}

func formatScoreResult(raw json.RawMessage) (string, error) {
	var resp struct {
		Account     string `json:"account"`
		Score       int    `json:"score"`
		Tier        string `json:"tier"`
		Explanation string `json:"explanation"`
		Confidence  int    `json:"confidence"`
		Breakdown   []struct {
			Factor     string `json:"factor"`
			Weight     int    `json:"weight"`
			Normalized int    `json:"normalized"`
		} `json:"breakdown"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Account: %s\n", resp.Account)
	fmt.Fprintf(&sb, "Score: %d/100 (%s)\n", resp.Score, resp.Tier)
	fmt.Fprintf(&sb, "Confidence: %d%%\n\n", resp.Confidence)
	if len(resp.Breakdown) > 0 {
		sb.WriteString("Breakdown:\n")
		for _, f := range resp.Breakdown {
			fmt.Fprintf(&sb, "  %-22s %3d/100 (weight %d)\n", f.Factor, f.Normalized, f.Weight)
		}
		sb.WriteString("\n")
	}
	sb.WriteString(resp.Explanation)
	return sb.String(), nil
}

func formatAttestation(raw json.RawMessage) (string, error) {
	var resp struct {
		Attestation map[string]any `json:"attestation"`
		Score       int            `json:"score"`
		Tier        string         `json:"tier"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Attestation == nil {
		return "", fmt.Errorf("no attestation in response")
	}

	pretty, err := json.MarshalIndent(resp.Attestation, "", "  ")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Signed attestation for score %d/100 (%s).\n", resp.Score, resp.Tier)
	sb.WriteString("Submit these fields to POST /v1/oracle/updates:\n\n")
	sb.Write(pretty)
	return sb.String(), nil
}

func formatHistory(raw json.RawMessage) (string, error) {
	var resp struct {
		Account   string `json:"account"`
		Snapshots []struct {
			Score     int    `json:"score"`
			Tier      string `json:"tier"`
			CreatedAt string `json:"createdAt"`
		} `json:"snapshots"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Snapshots) == 0 {
		return fmt.Sprintf("No score history for %s.", resp.Account), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Score history for %s (newest first):\n", resp.Account)
	for _, s := range resp.Snapshots {
		fmt.Fprintf(&sb, "  %s  %3d/100 (%s)\n", s.CreatedAt, s.Score, s.Tier)
	}
	return sb.String(), nil
}
