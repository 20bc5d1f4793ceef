// Package repository defines domain models and data access interfaces for incentives and companies.
package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// SizeClass is the closed enumeration of company size classes.
type SizeClass string

const (
	SizeMicro   SizeClass = "micro"
	SizePME     SizeClass = "pme"
	SizeGrande  SizeClass = "grande"
	SizeUnknown SizeClass = "unknown"

	// SizeNotApplicable is the wildcard tag an incentive may carry to accept
	// any company size.
	SizeNotApplicable SizeClass = "não aplicável"
)

// ParseSizeClass maps free-form size text onto the closed enumeration.
func ParseSizeClass(s string) SizeClass {
	switch SizeClass(s) {
	case SizeMicro, SizePME, SizeGrande, SizeNotApplicable:
		return SizeClass(s)
	default:
		return SizeUnknown
	}
}

// Criteria is the structured eligibility criteria extracted from an
// incentive's text. A zero-length slice or empty string means the criterion
// is absent, which is distinct from "present but non-matching".
type Criteria struct {
	SizeClasses   []SizeClass `json:"size_classes"`
	CAECodes      []string    `json:"cae_codes"`
	GeoScope      string      `json:"geo_scope"`
	BudgetCeiling float64     `json:"budget_ceiling"`
}

// AllowsAnySize reports whether the criteria carry the wildcard size tag.
func (c Criteria) AllowsAnySize() bool {
	for _, s := range c.SizeClasses {
		if s == SizeNotApplicable {
			return true
		}
	}
	return false
}

// Incentive is the query entity. Immutable once published; produced by the
// upstream extraction pipeline and read-only to the matching engine.
type Incentive struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Criteria        Criteria   `json:"criteria"`
	DocumentURLs    []string   `json:"document_urls,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	TotalBudget     float64    `json:"total_budget"`
	SourceLink      string     `json:"source_link,omitempty"`
	Embedding       []float32  `json:"-"` // nil if not yet embedded
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Company is a candidate entity, an immutable snapshot at ranking time.
type Company struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CAECodes    []string  `json:"cae_codes"`
	Size        SizeClass `json:"size"`
	District    string    `json:"district"`
	County      string    `json:"county,omitempty"`
	Parish      string    `json:"parish,omitempty"`
	Website     string    `json:"website,omitempty"`
	Description string    `json:"description,omitempty"`
	Embedding   []float32 `json:"-"` // nil if not yet embedded
}

// Snapshot is a read-only view of the candidate population taken at the
// start of a ranking request. ID is content-derived so that result caches
// keyed by it are invalidated when the population changes.
type Snapshot struct {
	ID        string
	Companies []Company
}

// NewSnapshot builds a snapshot from a company listing. Companies are sorted
// by ID so the snapshot ID is stable regardless of listing order.
func NewSnapshot(companies []Company) *Snapshot {
	sorted := make([]Company, len(companies))
	copy(sorted, companies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for _, c := range sorted {
		h.Write([]byte(c.ID))
		h.Write([]byte{0})
	}

	return &Snapshot{
		ID:        hex.EncodeToString(h.Sum(nil))[:16],
		Companies: sorted,
	}
}

// IncentiveRepository defines read access to incentives.
type IncentiveRepository interface {
	GetByID(ctx context.Context, id string) (*Incentive, error)
	List(ctx context.Context, limit, offset int) ([]*Incentive, int, error)
}

// CompanyRepository defines read access to the candidate population.
type CompanyRepository interface {
	GetByID(ctx context.Context, id string) (*Company, error)
	List(ctx context.Context, limit, offset int) ([]*Company, int, error)

	// Snapshot returns the full candidate population with embeddings.
	Snapshot(ctx context.Context) (*Snapshot, error)
}
