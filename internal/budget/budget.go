// Package budget enforces a per-request ceiling on LLM spend so a single
// matching request cannot run away on API cost.
package budget

import (
	"sync"

	"github.com/oaguiar/incmatch/internal/llm"
)

// Pricing holds the per-million-token prices, in EUR, for a chat model.
type Pricing struct {
	PromptPerMTok     float64
	CompletionPerMTok float64
}

// DefaultPricing approximates gpt-4o-mini list prices.
var DefaultPricing = Pricing{
	PromptPerMTok:     0.15,
	CompletionPerMTok: 0.60,
}

// Cost converts a usage report into EUR.
func (p Pricing) Cost(usage llm.Usage) float64 {
	return float64(usage.PromptTokens)/1e6*p.PromptPerMTok +
		float64(usage.CompletionTokens)/1e6*p.CompletionPerMTok
}

// EstimateTokens approximates the token count of a text. Four characters per
// token is the usual rule of thumb and errs on the generous side for
// Portuguese text.
func EstimateTokens(text string) int {
	return len(text)/4 + 1
}

// Guard decides whether another LLM call fits the remaining budget.
type Guard interface {
	// Allow reports whether a call with the estimated cost may proceed and,
	// if so, reserves that amount.
	Allow(estimatedCost float64) bool

	// Record replaces an earlier reservation with the actual cost.
	Record(estimatedCost, actualCost float64)

	// Spent returns the total recorded and reserved spend so far.
	Spent() float64
}

// LimitGuard is a mutex-guarded Guard with a fixed EUR ceiling. One instance
// serves one matching request; concurrent judge workers share it.
type LimitGuard struct {
	mu    sync.Mutex
	limit float64
	spent float64
}

// NewLimitGuard creates a guard with the given EUR ceiling.
func NewLimitGuard(limit float64) *LimitGuard {
	return &LimitGuard{limit: limit}
}

func (g *LimitGuard) Allow(estimatedCost float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.spent+estimatedCost > g.limit {
		return false
	}
	g.spent += estimatedCost
	return true
}

func (g *LimitGuard) Record(estimatedCost, actualCost float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spent += actualCost - estimatedCost
	if g.spent < 0 {
		g.spent = 0
	}
}

func (g *LimitGuard) Spent() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spent
}

// Unlimited is a Guard that never refuses a call. Used when no budget
// ceiling is configured.
type Unlimited struct {
	mu    sync.Mutex
	spent float64
}

func (g *Unlimited) Allow(float64) bool { return true }

func (g *Unlimited) Record(estimatedCost, actualCost float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spent += actualCost
}

func (g *Unlimited) Spent() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spent
}

var (
	_ Guard = (*LimitGuard)(nil)
	_ Guard = (*Unlimited)(nil)
)
