package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seatdesk/seatdesk/internal/domain"
)

// PgResourceRepository serves both ResourceRepository and MembershipRepository.
type PgResourceRepository struct {
	pool *pgxpool.Pool
}

// NewPgResourceRepository returns a resource repository backed by PostgreSQL.
func NewPgResourceRepository(pool *pgxpool.Pool) *PgResourceRepository {
	return &PgResourceRepository{pool: pool}
}

func (r *PgResourceRepository) ListActive(ctx context.Context, poolID *int64) ([]*domain.Resource, error) {
	query := `
		SELECT id, name, account_id, pool_id, capacity, is_active, created_at
		FROM resources
		WHERE is_active = TRUE`
	var args []any
	if poolID != nil {
		query += ` AND pool_id = $1`
		args = append(args, *poolID)
	}
	query += ` ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active resources: %w", err)
	}
	defer rows.Close()

	var result []*domain.Resource
	for rows.Next() {
		var res domain.Resource
		if err := rows.Scan(&res.ID, &res.Name, &res.AccountID, &res.PoolID,
			&res.Capacity, &res.Active, &res.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &res)
	}
	return result, rows.Err()
}

func (r *PgResourceRepository) GetPoolByName(ctx context.Context, name string) (*domain.Pool, error) {
	var p domain.Pool
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(description, ''), created_at
		FROM resource_pools WHERE name = $1`, name).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pool by name: %w", err)
	}
	return &p, nil
}

// CountMembers reads the membership snapshot written by the sync job.
func (r *PgResourceRepository) CountMembers(ctx context.Context, resourceID int64) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM resource_members WHERE resource_id = $1`, resourceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

var (
	_ ResourceRepository   = (*PgResourceRepository)(nil)
	_ MembershipRepository = (*PgResourceRepository)(nil)
)
