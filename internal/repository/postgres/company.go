package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/oaguiar/incmatch/internal/repository"
)

// CompanyRepo implements repository.CompanyRepository
type CompanyRepo struct {
	db *DB
}

// NewCompanyRepo creates a new company repository
func NewCompanyRepo(db *DB) *CompanyRepo {
	return &CompanyRepo{db: db}
}

const companyColumns = `
	c.company_id, c.name, c.cae_codes, c.size, c.district, c.county, c.parish,
	c.website, c.description, ce.embedding
`

// GetByID retrieves a company by ID, including its embedding if present.
func (r *CompanyRepo) GetByID(ctx context.Context, id string) (*repository.Company, error) {
	query := `
		SELECT ` + companyColumns + `
		FROM companies c
		LEFT JOIN company_embeddings ce ON c.company_id = ce.company_id
		WHERE c.company_id = $1
	`
	company, err := scanCompany(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return company, nil
}

// List retrieves companies with pagination.
func (r *CompanyRepo) List(ctx context.Context, limit, offset int) ([]*repository.Company, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM companies`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count companies: %w", err)
	}

	query := `
		SELECT ` + companyColumns + `
		FROM companies c
		LEFT JOIN company_embeddings ce ON c.company_id = ce.company_id
		ORDER BY c.company_id
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	companies, err := collectCompanies(rows)
	if err != nil {
		return nil, 0, err
	}
	return companies, total, nil
}

// Snapshot loads the full candidate population in one pass. Companies
// without an embedding are included; their vector component is simply
// absent at ranking time.
func (r *CompanyRepo) Snapshot(ctx context.Context) (*repository.Snapshot, error) {
	query := `
		SELECT ` + companyColumns + `
		FROM companies c
		LEFT JOIN company_embeddings ce ON c.company_id = ce.company_id
		ORDER BY c.company_id
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load company snapshot: %w", err)
	}
	defer rows.Close()

	companies, err := collectCompanies(rows)
	if err != nil {
		return nil, err
	}

	flat := make([]repository.Company, len(companies))
	for i, c := range companies {
		flat[i] = *c
	}
	return repository.NewSnapshot(flat), nil
}

func collectCompanies(rows pgx.Rows) ([]*repository.Company, error) {
	var companies []*repository.Company
	for rows.Next() {
		company, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, company)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return companies, nil
}

func scanCompany(row pgx.Row) (*repository.Company, error) {
	var c repository.Company
	var size *string
	var embedding *pgvector.Vector

	err := row.Scan(
		&c.ID, &c.Name, &c.CAECodes, &size, &c.District, &c.County, &c.Parish,
		&c.Website, &c.Description, &embedding,
	)
	if err != nil {
		return nil, err
	}

	if size != nil {
		c.Size = repository.ParseSizeClass(*size)
	} else {
		c.Size = repository.SizeUnknown
	}
	if embedding != nil {
		c.Embedding = embedding.Slice()
	}

	return &c, nil
}

// Ensure CompanyRepo implements the interface
var _ repository.CompanyRepository = (*CompanyRepo)(nil)
