// Package eligibility computes deterministic penalty multipliers from an
// incentive's structured criteria against a company's attributes.
//
// Each rule contributes an independent multiplier in (0,1]; violated rules
// compose by product, so a size mismatch combined with a sector mismatch is
// penalized harder than either alone. A criterion that is absent on either
// side does not apply and contributes 1.0.
package eligibility

import (
	"strings"

	"github.com/oaguiar/incmatch/internal/repository"
)

// Rule identifies one eligibility rule.
type Rule string

const (
	RuleSize   Rule = "size"
	RuleSector Rule = "sector"
	RuleGeo    Rule = "geo"
)

// Default penalty multipliers applied when a rule is violated.
const (
	DefaultSizePenalty   = 0.6
	DefaultSectorPenalty = 0.5
	DefaultGeoPenalty    = 0.7
)

// Penalties holds the multiplier applied per violated rule. Values must be
// in (0,1]; a value of 1.0 disables the rule.
type Penalties struct {
	Size   float64
	Sector float64
	Geo    float64
}

// DefaultPenalties returns the standard penalty set.
func DefaultPenalties() Penalties {
	return Penalties{
		Size:   DefaultSizePenalty,
		Sector: DefaultSectorPenalty,
		Geo:    DefaultGeoPenalty,
	}
}

// Result is the outcome of evaluating all rules for one company.
type Result struct {
	// Factor is the composed multiplier in (0,1].
	Factor float64

	// Fired maps each violated rule to the multiplier it contributed.
	Fired map[Rule]float64
}

// nationalScopeTerms mark a geographic scope that covers every district.
var nationalScopeTerms = []string{"portugal", "nacional", "todo o país", "todas as regiões"}

// regionDistricts maps region names appearing in incentive scopes to the
// districts they cover.
var regionDistricts = map[string][]string{
	"algarve": {"faro"},
	"centro":  {"coimbra", "leiria", "aveiro"},
	"norte":   {"porto", "braga", "vila real"},
	"lisboa":  {"lisboa", "setúbal"},
}

// Evaluate applies the eligibility rules for one (incentive, company) pair.
// It is a pure function and never fails: missing or empty criteria simply
// leave the corresponding rule inactive.
func Evaluate(criteria repository.Criteria, company repository.Company, penalties Penalties) Result {
	result := Result{Factor: 1.0, Fired: make(map[Rule]float64)}

	if sizeMismatch(criteria, company) {
		result.Factor *= penalties.Size
		result.Fired[RuleSize] = penalties.Size
	}
	if sectorMismatch(criteria.CAECodes, company.CAECodes) {
		result.Factor *= penalties.Sector
		result.Fired[RuleSector] = penalties.Sector
	}
	if geoMismatch(criteria.GeoScope, company.District) {
		result.Factor *= penalties.Geo
		result.Fired[RuleGeo] = penalties.Geo
	}

	return result
}

// sizeMismatch fires when the incentive restricts sizes, does not carry the
// wildcard tag, and the company's size is known and not among them.
func sizeMismatch(criteria repository.Criteria, company repository.Company) bool {
	if len(criteria.SizeClasses) == 0 || criteria.AllowsAnySize() {
		return false
	}
	if company.Size == "" || company.Size == repository.SizeUnknown {
		return false
	}
	for _, s := range criteria.SizeClasses {
		if s == company.Size {
			return false
		}
	}
	return true
}

// sectorMismatch fires when both sides declare CAE codes and the sets are
// disjoint.
func sectorMismatch(incentiveCAEs, companyCAEs []string) bool {
	if len(incentiveCAEs) == 0 || len(companyCAEs) == 0 {
		return false
	}
	companySet := make(map[string]struct{}, len(companyCAEs))
	for _, code := range companyCAEs {
		companySet[code] = struct{}{}
	}
	for _, code := range incentiveCAEs {
		if _, ok := companySet[code]; ok {
			return false
		}
	}
	return true
}

// geoMismatch fires when the incentive's scope does not cover the company's
// district. National scope terms and region names cover their districts.
func geoMismatch(geoScope, district string) bool {
	if geoScope == "" || district == "" {
		return false
	}

	scope := strings.ToLower(geoScope)
	district = strings.ToLower(district)

	if strings.Contains(scope, district) {
		return false
	}
	for _, term := range nationalScopeTerms {
		if strings.Contains(scope, term) {
			return false
		}
	}
	for region, districts := range regionDistricts {
		if !strings.Contains(scope, region) {
			continue
		}
		for _, d := range districts {
			if d == district {
				return false
			}
		}
	}

	return true
}
