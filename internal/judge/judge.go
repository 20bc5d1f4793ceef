// Package judge provides LLM-based semantic assessment of how well a
// candidate company fits an incentive.
//
// The judge sees the incentive and the company together, so it can weigh
// fit signals that neither lexical overlap nor embedding distance capture.
//
// # Trade-offs
//
//   - Latency: one LLM call per shortlisted candidate
//   - Quality: catches fit and misfit that retrieval scores miss
//   - Cost: bounded per request by the budget guard
//
// Judge failures are soft: a candidate whose call fails, times out, or is
// refused by the budget guard is simply absent from the result, and fusion
// treats its semantic component as null.
package judge

import (
	"context"

	"github.com/oaguiar/incmatch/internal/budget"
	"github.com/oaguiar/incmatch/internal/repository"
)

// Assessment is the judge's verdict on one company.
type Assessment struct {
	// Score is the semantic fit in [0,1].
	Score float64

	// Justification holds short free-text reasons supporting the score.
	Justification []string
}

// Judge assesses shortlisted companies against an incentive. The returned
// map contains one entry per successfully assessed company; companies whose
// assessment failed are absent.
type Judge interface {
	Assess(ctx context.Context, incentive repository.Incentive, companies []repository.Company, guard budget.Guard) map[string]Assessment
}
