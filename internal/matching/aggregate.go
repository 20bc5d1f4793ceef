package matching

import (
	"fmt"
	"sort"

	"github.com/oaguiar/incmatch/internal/eligibility"
)

// fuse computes the weighted base score over the components that are
// present, renormalizing the weights so an absent signal does not drag the
// candidate down, then applies the eligibility penalty and clamps.
func fuse(c Components, w Weights, penalty float64) float64 {
	var weighted, total float64
	if c.Vector != nil {
		weighted += w.Vector * *c.Vector
		total += w.Vector
	}
	if c.Lexical != nil {
		weighted += w.Lexical * *c.Lexical
		total += w.Lexical
	}
	if c.Semantic != nil {
		weighted += w.Semantic * *c.Semantic
		total += w.Semantic
	}
	if total == 0 {
		return 0
	}

	score := weighted / total * penalty
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// sortMatches orders matches descending by final score with deterministic
// tie-breaks: higher vector component, then higher lexical component, then
// company ID ascending.
func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		vi, vj := componentOrZero(matches[i].Components.Vector), componentOrZero(matches[j].Components.Vector)
		if vi != vj {
			return vi > vj
		}
		li, lj := componentOrZero(matches[i].Components.Lexical), componentOrZero(matches[j].Components.Lexical)
		if li != lj {
			return li > lj
		}
		return matches[i].CompanyID < matches[j].CompanyID
	})
}

func componentOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// ruleExplanations renders fired eligibility rules as negative findings.
func ruleExplanations(fired map[eligibility.Rule]float64) []string {
	if len(fired) == 0 {
		return nil
	}

	// Stable order: size, sector, geo.
	order := []eligibility.Rule{eligibility.RuleSize, eligibility.RuleSector, eligibility.RuleGeo}
	texts := map[eligibility.Rule]string{
		eligibility.RuleSize:   "company size is outside the incentive's target sizes",
		eligibility.RuleSector: "company CAE codes do not overlap the incentive's target sectors",
		eligibility.RuleGeo:    "company district is outside the incentive's geographic scope",
	}

	out := make([]string, 0, len(fired))
	for _, rule := range order {
		multiplier, ok := fired[rule]
		if !ok {
			continue
		}
		out = append(out, fmt.Sprintf("%s (×%.1f)", texts[rule], multiplier))
	}
	return out
}

// dominantRationale produces a templated explanation from whichever computed
// component contributed most to the base score. Used when the judge supplied
// no justification.
func dominantRationale(c Components, w Weights) string {
	type contribution struct {
		text  string
		value float64
	}

	var best contribution
	consider := func(component *float64, weight float64, text string) {
		if component == nil {
			return
		}
		if v := weight * *component; v > best.value {
			best = contribution{text: text, value: v}
		}
	}
	consider(c.Vector, w.Vector, "high semantic similarity between company profile and incentive")
	consider(c.Semantic, w.Semantic, "assessed as a strong fit for the incentive's purpose")
	consider(c.Lexical, w.Lexical, "strong sector and keyword overlap with the incentive text")

	if best.text == "" {
		return "no positive signal; ranked by eligibility only"
	}
	return best.text
}

// explain assembles the ordered explanation list for one match: eligibility
// findings first, then judge bullets, else a templated rationale.
func explain(m Match, w Weights, justification []string) []string {
	out := ruleExplanations(m.FiredRules)
	if len(justification) > 0 {
		out = append(out, justification...)
		return out
	}
	return append(out, dominantRationale(m.Components, w))
}
