package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/trustgrid/oracle/internal/features"
)

// Engine computes trust scores. It is stateless and safe for concurrent
// use; all tuning lives in the package-level weight and bucket constants.
type Engine struct{}

// NewEngine creates a scoring engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Compute scores a feature vector. Total for any input: out-of-range raw
// values are clamped by the normalizers, never rejected.
func (e *Engine) Compute(v features.Vector) *Result {
	socialSignals := 0
	if v.Social.FarcasterFollowers > 0 {
		socialSignals++
	}
	if v.Social.GithubContributions > 0 {
		socialSignals++
	}

	domainRaw := 0.0
	if v.HasDomain {
		domainRaw = 1.0
	}
	engagementRaw := clampNonNegative(v.SwapCount) + clampNonNegative(v.UniqueContracts)

	breakdown := [NumFactors]FactorScore{
		{FactorTransactionHistory, weightTransactionHistory, float64(v.TxCount), normalizeTxHistory(v.TxCount)},
		{FactorContractUsage, weightContractUsage, float64(v.ContractInteractions), normalizeContractUsage(v.ContractInteractions)},
		{FactorPortfolioStability, weightPortfolioStability, v.PortfolioVolatility, normalizeStability(v.PortfolioVolatility, v.TxCount > 0)},
		{FactorAccountAge, weightAccountAge, float64(v.AccountAgeDays), normalizeAccountAge(v.AccountAgeDays)},
		{FactorSocialPresence, weightSocialPresence, float64(socialSignals), normalizeSocial(socialSignals)},
		{FactorDomainOwnership, weightDomainOwnership, domainRaw, normalizeDomain(v.HasDomain)},
		{FactorCrossChain, weightCrossChain, float64(v.BridgeTxCount), normalizeCrossChain(v.BridgeTxCount)},
		{FactorProtocolEngagement, weightProtocolEngagement, float64(engagementRaw), normalizeEngagement(engagementRaw)},
	}

	weighted := 0
	for _, fs := range breakdown {
		weighted += fs.Normalized * fs.Weight
	}
	score := int(math.Round(float64(weighted) / 100.0))
	score = clampScore(score)

	return &Result{
		Score:       score,
		Breakdown:   breakdown,
		Explanation: explain(score, breakdown),
		Confidence:  confidence(v),
	}
}

// -----------------------------------------------------------------------------
// Normalizers are monotone step or bounded-linear maps onto 0-100.
// -----------------------------------------------------------------------------

func normalizeTxHistory(txCount int) int {
	switch n := clampNonNegative(txCount); {
	case n == 0:
		return 0
	case n < 10:
		return 20
	case n < 50:
		return 40
	case n < 100:
		return 60
	case n < 500:
		return 80
	default:
		return 100
	}
}

func normalizeContractUsage(interactions int) int {
	switch n := clampNonNegative(interactions); {
	case n == 0:
		return 0
	case n < 5:
		return 20
	case n < 25:
		return 40
	case n < 75:
		return 60
	case n < 200:
		return 80
	default:
		return 100
	}
}

// normalizeStability scales volatility inversely: calm portfolios score
// high. An account with no recorded activity has no portfolio to judge and
// sits at the neutral midpoint.
func normalizeStability(volatility float64, hasActivity bool) int {
	if !hasActivity {
		return 50
	}
	if volatility < 0 {
		volatility = 0
	}
	return clampScore(int(math.Round(100.0 / (1.0 + volatility))))
}

func normalizeAccountAge(days int) int {
	switch n := clampNonNegative(days); {
	case n == 0:
		return 0
	case n < 7:
		return 20
	case n < 30:
		return 40
	case n < 90:
		return 60
	case n < 365:
		return 80
	default:
		return 100
	}
}

func normalizeSocial(signals int) int {
	switch {
	case signals >= 2:
		return 100
	case signals == 1:
		return 50
	default:
		return 0
	}
}

func normalizeDomain(hasDomain bool) int {
	if hasDomain {
		return 100
	}
	return 0
}

func normalizeCrossChain(bridgeTxs int) int {
	switch n := clampNonNegative(bridgeTxs); {
	case n == 0:
		return 0
	case n < 3:
		return 40
	case n < 10:
		return 70
	default:
		return 100
	}
}

func normalizeEngagement(actions int) int {
	switch n := clampNonNegative(actions); {
	case n == 0:
		return 0
	case n < 5:
		return 30
	case n < 20:
		return 60
	case n < 100:
		return 80
	default:
		return 100
	}
}

// -----------------------------------------------------------------------------
// Explanation
// -----------------------------------------------------------------------------

// factorLabels are the human phrases used in explanation text.
var factorLabels = map[Factor]string{
	FactorTransactionHistory: "transaction history",
	FactorContractUsage:      "contract usage",
	FactorPortfolioStability: "portfolio stability",
	FactorAccountAge:         "account maturity",
	FactorSocialPresence:     "social presence",
	FactorDomainOwnership:    "domain ownership",
	FactorCrossChain:         "cross-chain activity",
	FactorProtocolEngagement: "protocol engagement",
}

// explain describes the three largest weighted contributions qualitatively,
// prefixed with the overall score band.
func explain(score int, breakdown [NumFactors]FactorScore) string {
	ranked := breakdown[:]
	sorted := make([]FactorScore, len(ranked))
	copy(sorted, ranked)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Weight*sorted[i].Normalized > sorted[j].Weight*sorted[j].Normalized
	})

	parts := make([]string, 0, 3)
	for _, fs := range sorted[:3] {
		parts = append(parts, qualifier(fs.Normalized)+" "+factorLabels[fs.Factor])
	}

	text := fmt.Sprintf("%s trust profile (score %d/100): %s.",
		string(TierFor(score)), score, strings.Join(parts, ", "))
	return strings.ToUpper(text[:1]) + text[1:]
}

func qualifier(normalized int) string {
	switch {
	case normalized >= 80:
		return "strong"
	case normalized >= 60:
		return "good"
	case normalized >= 40:
		return "moderate"
	default:
		return "limited"
	}
}

// -----------------------------------------------------------------------------
// Confidence
// -----------------------------------------------------------------------------

// Additive completeness points per present signal class, capped at 100.
const (
	confTxActivity     = 25
	confContractUse    = 20
	confAccountMature  = 20 // age beyond 7 days
	confDomain         = 15
	confPerSocialClass = 10
)

func confidence(v features.Vector) int {
	pts := 0
	if v.TxCount > 0 {
		pts += confTxActivity
	}
	if v.ContractInteractions > 0 {
		pts += confContractUse
	}
	if v.AccountAgeDays > 7 {
		pts += confAccountMature
	}
	if v.HasDomain {
		pts += confDomain
	}
	if v.Social.FarcasterFollowers > 0 {
		pts += confPerSocialClass
	}
	if v.Social.GithubContributions > 0 {
		pts += confPerSocialClass
	}
	if pts > 100 {
		pts = 100
	}
	return pts
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
