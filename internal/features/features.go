// Package features defines the activity feature vector that feeds trust
// scoring, plus the typed override mechanism for merging optional signals.
//
// Extraction of raw activity from the chain is out of scope: anything that
// can produce a Vector (an indexer, a warehouse query, a fixture) plugs in
// behind the Supplier interface.
package features

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when a required field is missing from an
	// input payload. Out-of-range values are never an error; normalizers
	// clamp them.
	ErrInvalidInput = errors.New("features: invalid input")
)

// Vector is the fixed-shape activity snapshot for one account.
// All fields are raw observations; no scaling happens here.
type Vector struct {
	TxCount              int     `json:"txCount"`
	ContractInteractions int     `json:"contractInteractions"`
	UniqueContracts      int     `json:"uniqueContracts"`
	PortfolioVolatility  float64 `json:"portfolioVolatility"`
	AccountAgeDays       int     `json:"accountAgeDays"`
	SwapCount            int     `json:"swapCount"`
	BridgeTxCount        int     `json:"bridgeTxCount"`
	HasDomain            bool    `json:"hasDomain"`
	Social               Social  `json:"social"`
}

// Social carries optional off-chain signals. Zero values mean "not present".
type Social struct {
	FarcasterFollowers  int `json:"farcasterFollowers"`
	GithubContributions int `json:"githubContributions"`
}

// Override is a partial vector merged over a base with field-by-field
// precedence. Nil fields leave the base value untouched. This is the only
// supported way to layer extra signals onto supplied features, with no
// untyped map merging.
type Override struct {
	TxCount              *int     `json:"txCount,omitempty"`
	ContractInteractions *int     `json:"contractInteractions,omitempty"`
	UniqueContracts      *int     `json:"uniqueContracts,omitempty"`
	PortfolioVolatility  *float64 `json:"portfolioVolatility,omitempty"`
	AccountAgeDays       *int     `json:"accountAgeDays,omitempty"`
	SwapCount            *int     `json:"swapCount,omitempty"`
	BridgeTxCount        *int     `json:"bridgeTxCount,omitempty"`
	HasDomain            *bool    `json:"hasDomain,omitempty"`
	FarcasterFollowers   *int     `json:"farcasterFollowers,omitempty"`
	GithubContributions  *int     `json:"githubContributions,omitempty"`
}

// Merge returns a copy of the base vector with non-nil override fields
// applied. The base is never mutated.
func Merge(base Vector, o *Override) Vector {
	if o == nil {
		return base
	}
	out := base
	if o.TxCount != nil {
		out.TxCount = *o.TxCount
	}
	if o.ContractInteractions != nil {
		out.ContractInteractions = *o.ContractInteractions
	}
	if o.UniqueContracts != nil {
		out.UniqueContracts = *o.UniqueContracts
	}
	if o.PortfolioVolatility != nil {
		out.PortfolioVolatility = *o.PortfolioVolatility
	}
	if o.AccountAgeDays != nil {
		out.AccountAgeDays = *o.AccountAgeDays
	}
	if o.SwapCount != nil {
		out.SwapCount = *o.SwapCount
	}
	if o.BridgeTxCount != nil {
		out.BridgeTxCount = *o.BridgeTxCount
	}
	if o.HasDomain != nil {
		out.HasDomain = *o.HasDomain
	}
	if o.FarcasterFollowers != nil {
		out.Social.FarcasterFollowers = *o.FarcasterFollowers
	}
	if o.GithubContributions != nil {
		out.Social.GithubContributions = *o.GithubContributions
	}
	return out
}

// Input is the wire form of a feature vector. Required fields are pointers
// so that "absent" is distinguishable from zero; optional signals default.
type Input struct {
	TxCount              *int     `json:"txCount"`
	ContractInteractions *int     `json:"contractInteractions"`
	UniqueContracts      *int     `json:"uniqueContracts"`
	PortfolioVolatility  *float64 `json:"portfolioVolatility"`
	AccountAgeDays       *int     `json:"accountAgeDays"`
	SwapCount            int      `json:"swapCount"`
	BridgeTxCount        int      `json:"bridgeTxCount"`
	HasDomain            bool     `json:"hasDomain"`
	FarcasterFollowers   int      `json:"farcasterFollowers"`
	GithubContributions  int      `json:"githubContributions"`
}

// Vector validates the input and materializes a Vector.
// A missing required field yields ErrInvalidInput naming the field.
func (in *Input) Vector() (Vector, error) {
	required := []struct {
		name string
		ok   bool
	}{
		{"txCount", in.TxCount != nil},
		{"contractInteractions", in.ContractInteractions != nil},
		{"uniqueContracts", in.UniqueContracts != nil},
		{"portfolioVolatility", in.PortfolioVolatility != nil},
		{"accountAgeDays", in.AccountAgeDays != nil},
	}
	for _, r := range required {
		if !r.ok {
			return Vector{}, fmt.Errorf("%w: missing field %s", ErrInvalidInput, r.name)
		}
	}
	return Vector{
		TxCount:              *in.TxCount,
		ContractInteractions: *in.ContractInteractions,
		UniqueContracts:      *in.UniqueContracts,
		PortfolioVolatility:  *in.PortfolioVolatility,
		AccountAgeDays:       *in.AccountAgeDays,
		SwapCount:            in.SwapCount,
		BridgeTxCount:        in.BridgeTxCount,
		HasDomain:            in.HasDomain,
		Social: Social{
			FarcasterFollowers:  in.FarcasterFollowers,
			GithubContributions: in.GithubContributions,
		},
	}, nil
}

// Supplier produces the current feature vector for an account.
// Implementations own freshness and sourcing; the scoring core treats the
// result as opaque truth.
type Supplier interface {
	Features(ctx context.Context, account string) (*Vector, error)
}
