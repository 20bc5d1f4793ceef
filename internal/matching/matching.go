// Package matching implements the hybrid ranking engine: eligibility rules,
// lexical and vector retrieval, semantic assessment, and score fusion.
package matching

import (
	"errors"

	"github.com/oaguiar/incmatch/internal/eligibility"
)

// ErrEmptyPopulation is returned when there are no companies to rank against.
var ErrEmptyPopulation = errors.New("company population is empty")

// Default ranking parameters.
const (
	DefaultTopK           = 5
	DefaultShortlistSize  = 50
	DefaultRerankPoolSize = 20
	DefaultVectorTopM     = 50
	DefaultVectorMinSim   = 0.65
)

// Weights holds the fusion weights for the three score components. They are
// renormalized per candidate over the components that are present, so they
// need not sum to 1.
type Weights struct {
	Vector   float64 `json:"vector"`
	Lexical  float64 `json:"lexical"`
	Semantic float64 `json:"semantic"`
}

// DefaultWeights returns the default fusion split.
func DefaultWeights() Weights {
	return Weights{Vector: 0.55, Lexical: 0.20, Semantic: 0.25}
}

// valid reports whether the weights can be renormalized at all.
func (w Weights) valid() bool {
	return w.Vector >= 0 && w.Lexical >= 0 && w.Semantic >= 0 &&
		w.Vector+w.Lexical+w.Semantic > 0
}

// Defaults are the engine-level fallbacks applied to requests that leave the
// corresponding Params fields unset.
type Defaults struct {
	Weights        Weights
	ShortlistSize  int
	RerankPoolSize int
}

// EngineDefaults returns the package-level fallback values.
func EngineDefaults() Defaults {
	return Defaults{
		Weights:        DefaultWeights(),
		ShortlistSize:  DefaultShortlistSize,
		RerankPoolSize: DefaultRerankPoolSize,
	}
}

// normalized replaces unusable values with the package-level fallbacks.
func (d Defaults) normalized() Defaults {
	if !d.Weights.valid() {
		d.Weights = DefaultWeights()
	}
	if d.ShortlistSize <= 0 {
		d.ShortlistSize = DefaultShortlistSize
	}
	if d.RerankPoolSize <= 0 {
		d.RerankPoolSize = DefaultRerankPoolSize
	}
	return d
}

// Params configures one ranking request. Zero values fall back to defaults.
type Params struct {
	// TopK is how many matches to return (default 5).
	TopK int `json:"top_k"`

	// Weights overrides the fusion weights.
	Weights *Weights `json:"weights,omitempty"`

	// ShortlistSize bounds the candidate shortlist (default 50).
	ShortlistSize int `json:"shortlist_size"`

	// RerankPoolSize bounds how many shortlisted candidates reach the
	// semantic judge (default 20).
	RerankPoolSize int `json:"rerank_pool_size"`

	// UseSemantic toggles the semantic assessment stage. Nil means enabled.
	UseSemantic *bool `json:"use_semantic,omitempty"`

	// PenaltyOverrides replaces the default eligibility penalty multipliers.
	PenaltyOverrides *eligibility.Penalties `json:"penalty_overrides,omitempty"`

	// BudgetLimit caps the LLM spend for this request in EUR. Zero means
	// the engine's configured default.
	BudgetLimit float64 `json:"budget_limit"`
}

// withDefaults resolves zero values against the engine defaults.
func (p Params) withDefaults(d Defaults) Params {
	d = d.normalized()
	if p.TopK <= 0 {
		p.TopK = DefaultTopK
	}
	if p.ShortlistSize <= 0 {
		p.ShortlistSize = d.ShortlistSize
	}
	if p.RerankPoolSize <= 0 {
		p.RerankPoolSize = d.RerankPoolSize
	}
	if p.Weights == nil || !p.Weights.valid() {
		w := d.Weights
		p.Weights = &w
	}
	return p
}

// semanticEnabled reports whether this request allows the semantic stage.
func (p Params) semanticEnabled() bool {
	return p.UseSemantic == nil || *p.UseSemantic
}

// Components holds the three per-candidate score components. A nil pointer
// means the signal was not computed, which is distinct from a zero score.
type Components struct {
	Vector   *float64 `json:"vector"`
	Lexical  *float64 `json:"lexical"`
	Semantic *float64 `json:"semantic"`
}

// Match is one ranked result.
type Match struct {
	IncentiveID string     `json:"incentive_id"`
	CompanyID   string     `json:"company_id"`
	CompanyName string     `json:"company_name"`
	Components  Components `json:"components"`

	// Penalty is the composed eligibility factor in (0,1].
	Penalty float64 `json:"penalty"`

	// FiredRules maps each eligibility rule that fired to its multiplier.
	FiredRules map[eligibility.Rule]float64 `json:"fired_rules,omitempty"`

	// Score is the final fused score in [0,1].
	Score float64 `json:"score"`

	// Rank is the 1-based position in the result list.
	Rank int `json:"rank"`

	// Explanations are human-readable reasons, eligibility findings first.
	Explanations []string `json:"explanations"`
}

func ptr(v float64) *float64 { return &v }
