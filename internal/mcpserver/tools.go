package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the TrustGrid MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetTrustScore = mcp.NewTool("get_trust_score",
	mcp.WithDescription(
		"Get the oracle-verified trust score for an account. "+
			"Returns the stored score (0-100), tier, freshness timestamp, content hash, "+
			"and whether the account currently meets the global trust threshold."),
	mcp.WithString("account",
		mcp.Required(),
		mcp.Description("The account's address (e.g. '0x1234...')")),
)

var ToolCheckTrusted = mcp.NewTool("check_trusted",
	mcp.WithDescription(
		"Check whether an account is trusted, i.e. its verified score meets the "+
			"global trust threshold. Use this for a quick yes/no answer before "+
			"interacting with an unknown counterparty."),
	mcp.WithString("account",
		mcp.Required(),
		mcp.Description("The account's address (e.g. '0x1234...')")),
)

var ToolComputeScore = mcp.NewTool("compute_score",
	mcp.WithDescription(
		"Run the trust scoring engine over on-chain activity features for an account. "+
			"Returns a fresh score with a factor-by-factor breakdown and a plain-English "+
			"explanation. This does NOT change the oracle record; use issue_attestation "+
			"to obtain a signed update."),
	mcp.WithString("account",
		mcp.Required(),
		mcp.Description("The account's address (e.g. '0x1234...')")),
	mcp.WithObject("features",
		mcp.Required(),
		mcp.Description("Activity features: {\"txCount\": 500, \"contractInteractions\": 120, "+
			"\"uniqueContracts\": 25, \"portfolioVolatility\": 0.3, \"accountAgeDays\": 400, "+
			"\"swapCount\": 40, \"bridgeTxCount\": 5, \"hasDomain\": true, "+
			"\"farcasterFollowers\": 150, \"githubContributions\": 80}")),
)

var ToolIssueAttestation = mcp.NewTool("issue_attestation",
	mcp.WithDescription(
		"Compute a trust score and have the oracle sign it. The returned attestation "+
			"(score, timestamp, source tag, content hash, nonce, signature) can be "+
			"submitted to the oracle store to update the account's verified record."),
	mcp.WithString("account",
		mcp.Required(),
		mcp.Description("The account's address (e.g. '0x1234...')")),
	mcp.WithObject("features",
		mcp.Required(),
		mcp.Description("Activity features, same shape as compute_score")),
)

var ToolGetScoreHistory = mcp.NewTool("get_score_history",
	mcp.WithDescription(
		"Get recent trust score snapshots for an account, newest first. "+
			"Shows how the score evolved across scoring runs."),
	mcp.WithString("account",
		mcp.Required(),
		mcp.Description("The account's address (e.g. '0x1234...')")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of snapshots to return (default 10)")),
)

var ToolGetOracleConfig = mcp.NewTool("get_oracle_config",
	mcp.WithDescription(
		"Get the oracle configuration: the signing address every verified update "+
			"must come from, and the global trust threshold."),
)
