// Package scoring implements deterministic multi-factor trust scoring.
//
// Every account is scored against 8 weighted factors derived from its
// activity features. Each factor is independently normalized to 0-100 by a
// monotone bucket or bounded-linear function, then combined as a weighted
// average. The same vector always produces the same result; there is no
// model inference and no randomness, so scores are fully explainable.
package scoring

// Factor identifies one of the fixed scoring factors.
type Factor string

const (
	FactorTransactionHistory Factor = "transaction_history"
	FactorContractUsage      Factor = "contract_usage"
	FactorPortfolioStability Factor = "portfolio_stability"
	FactorAccountAge         Factor = "account_age"
	FactorSocialPresence     Factor = "social_presence"
	FactorDomainOwnership    Factor = "domain_ownership"
	FactorCrossChain         Factor = "cross_chain_activity"
	FactorProtocolEngagement Factor = "protocol_engagement"
)

// Factor weights in score points. These are fixed, hand-tuned constants,
// not learned parameters; changing them is a configuration decision that
// invalidates score comparability across versions.
const (
	weightTransactionHistory = 20
	weightContractUsage      = 15
	weightPortfolioStability = 15
	weightAccountAge         = 15
	weightSocialPresence     = 10
	weightDomainOwnership    = 5
	weightCrossChain         = 10
	weightProtocolEngagement = 10
)

// NumFactors is the fixed breakdown length.
const NumFactors = 8

// FactorScore is one entry of the score breakdown.
type FactorScore struct {
	Factor     Factor  `json:"factor"`
	Weight     int     `json:"weight"`     // score points, all weights sum to 100
	Raw        float64 `json:"raw"`        // raw feature value the factor saw
	Normalized int     `json:"normalized"` // 0-100 after bucketing/clamping
}

// Result is the full output of a scoring run for one account.
type Result struct {
	Score       int                     `json:"score"` // 0-100
	Breakdown   [NumFactors]FactorScore `json:"breakdown"`
	Explanation string                  `json:"explanation"`

	// Confidence measures data completeness (how many signal classes were
	// present), NOT statistical certainty of the score. A sparse vector can
	// still produce a legitimate low score at low confidence.
	Confidence int `json:"confidence"`
}

// Tier is the qualitative band for a score, used in explanations and
// API responses.
type Tier string

const (
	TierExcellent Tier = "excellent" // >= 80
	TierGood      Tier = "good"      // >= 60
	TierModerate  Tier = "moderate"  // >= 40
	TierLimited   Tier = "limited"   // < 40
)

// TierFor maps a 0-100 score to its qualitative band.
func TierFor(score int) Tier {
	switch {
	case score >= 80:
		return TierExcellent
	case score >= 60:
		return TierGood
	case score >= 40:
		return TierModerate
	default:
		return TierLimited
	}
}
