package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/oaguiar/incmatch/internal/repository"
)

// IncentiveRepo implements repository.IncentiveRepository
type IncentiveRepo struct {
	db *DB
}

// NewIncentiveRepo creates a new incentive repository
func NewIncentiveRepo(db *DB) *IncentiveRepo {
	return &IncentiveRepo{db: db}
}

// GetByID retrieves an incentive by ID, including its embedding if present.
func (r *IncentiveRepo) GetByID(ctx context.Context, id string) (*repository.Incentive, error) {
	query := `
		SELECT i.incentive_id, i.title, i.description, i.criteria, i.document_urls,
		       i.publication_date, i.start_date, i.end_date, i.total_budget, i.source_link,
		       i.created_at, i.updated_at, ie.embedding
		FROM incentives i
		LEFT JOIN incentive_embeddings ie ON i.incentive_id = ie.incentive_id
		WHERE i.incentive_id = $1
	`
	inc, err := scanIncentive(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get incentive: %w", err)
	}
	return inc, nil
}

// List retrieves incentives with pagination, newest publications first.
func (r *IncentiveRepo) List(ctx context.Context, limit, offset int) ([]*repository.Incentive, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM incentives`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count incentives: %w", err)
	}

	query := `
		SELECT i.incentive_id, i.title, i.description, i.criteria, i.document_urls,
		       i.publication_date, i.start_date, i.end_date, i.total_budget, i.source_link,
		       i.created_at, i.updated_at, ie.embedding
		FROM incentives i
		LEFT JOIN incentive_embeddings ie ON i.incentive_id = ie.incentive_id
		ORDER BY i.publication_date DESC NULLS LAST, i.incentive_id
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list incentives: %w", err)
	}
	defer rows.Close()

	var incentives []*repository.Incentive
	for rows.Next() {
		inc, err := scanIncentive(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan incentive: %w", err)
		}
		incentives = append(incentives, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return incentives, total, nil
}

func scanIncentive(row pgx.Row) (*repository.Incentive, error) {
	var inc repository.Incentive
	var criteriaJSON []byte
	var totalBudget *float64
	var embedding *pgvector.Vector

	err := row.Scan(
		&inc.ID, &inc.Title, &inc.Description, &criteriaJSON, &inc.DocumentURLs,
		&inc.PublicationDate, &inc.StartDate, &inc.EndDate, &totalBudget, &inc.SourceLink,
		&inc.CreatedAt, &inc.UpdatedAt, &embedding,
	)
	if err != nil {
		return nil, err
	}

	if len(criteriaJSON) > 0 {
		if err := json.Unmarshal(criteriaJSON, &inc.Criteria); err != nil {
			return nil, fmt.Errorf("failed to unmarshal criteria: %w", err)
		}
	}
	if totalBudget != nil {
		inc.TotalBudget = *totalBudget
	}
	if embedding != nil {
		inc.Embedding = embedding.Slice()
	}

	return &inc, nil
}

// Ensure IncentiveRepo implements the interface
var _ repository.IncentiveRepository = (*IncentiveRepo)(nil)
