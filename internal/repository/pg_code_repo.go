package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seatdesk/seatdesk/internal/domain"
)

type pgCodeRepository struct {
	pool *pgxpool.Pool
}

// NewPgCodeRepository returns a CodeRepository backed by PostgreSQL.
func NewPgCodeRepository(pool *pgxpool.Pool) CodeRepository {
	return &pgCodeRepository{pool: pool}
}

func (r *pgCodeRepository) GetByCode(ctx context.Context, code string) (*domain.RedemptionCode, error) {
	var c domain.RedemptionCode
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, kind, max_uses, used_count, expires_at,
		       is_active, pool_id, COALESCE(note, ''), created_at
		FROM redemption_codes WHERE code = $1`, code).Scan(
		&c.ID, &c.Code, &c.Kind, &c.MaxUses, &c.UsedCount, &c.ExpiresAt,
		&c.Active, &c.PoolID, &c.Note, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get code: %w", err)
	}
	return &c, nil
}

// IncrementUse is the only path that spends a use. The WHERE clause makes the
// check and the write a single statement, so two racing callers cannot both
// pass max_uses.
func (r *pgCodeRepository) IncrementUse(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE redemption_codes
		SET used_count = used_count + 1
		WHERE id = $1 AND used_count < max_uses`, id)
	if err != nil {
		return false, fmt.Errorf("increment code use: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgCodeRepository) DecrementUse(ctx context.Context, code string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE redemption_codes
		SET used_count = used_count - 1
		WHERE code = $1 AND used_count > 0`, code)
	if err != nil {
		return false, fmt.Errorf("decrement code use: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
