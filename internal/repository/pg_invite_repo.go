package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seatdesk/seatdesk/internal/domain"
)

type pgInviteRepository struct {
	pool *pgxpool.Pool
}

// NewPgInviteRepository returns an InviteRepository backed by PostgreSQL.
func NewPgInviteRepository(pool *pgxpool.Pool) InviteRepository {
	return &pgInviteRepository{pool: pool}
}

const queueItemColumns = `
	id, subject, code, pool_id, pool_name, requestor_id, status,
	failure_kind, retry_count, error_message, resource_id,
	created_at, processed_at`

func (r *pgInviteRepository) Create(ctx context.Context, q *domain.QueueItem) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO invite_queue
			(id, subject, code, pool_id, pool_name, requestor_id, status,
			 failure_kind, retry_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		q.ID, q.Subject, q.Code, q.PoolID, q.PoolName, q.RequestorID, q.Status,
		q.FailureKind, q.RetryCount, q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func (r *pgInviteRepository) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+queueItemColumns+` FROM invite_queue WHERE id = $1`, id)
	q, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return q, err
}

func (r *pgInviteRepository) MarkProcessing(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE invite_queue SET status = 'processing'
		WHERE id = ANY($1) AND status = 'pending'`, ids)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

func (r *pgInviteRepository) Complete(ctx context.Context, id string, out domain.Outcome, batchID string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	errMsg := domain.TruncateError(out.Err)

	var subject, code string
	var requestorID *string
	err = tx.QueryRow(ctx, `
		UPDATE invite_queue
		SET status = $1, failure_kind = $2, retry_count = $3, error_message = $4,
		    resource_id = $5, processed_at = $6
		WHERE id = $7 AND status IN ('pending', 'processing')
		RETURNING subject, code, requestor_id`,
		out.Status, out.FailureKind, out.RetryCount, errMsg, out.ResourceID, now, id,
	).Scan(&subject, &code, &requestorID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already terminal: records are written exactly once.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("complete queue item: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO assignment_records
			(queue_item_id, resource_id, subject, code, requestor_id, status,
			 failure_kind, error_message, batch_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		id, out.ResourceID, subject, code, requestorID, out.Status,
		out.FailureKind, errMsg, batchID, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert assignment record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit completion: %w", err)
	}
	return true, nil
}

func (r *pgInviteRepository) FindUnfinished(ctx context.Context, limit int) ([]*domain.QueueItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+queueItemColumns+`
		FROM invite_queue
		WHERE status IN ('pending', 'processing')
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("find unfinished: %w", err)
	}
	defer rows.Close()

	var result []*domain.QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, q)
	}
	return result, rows.Err()
}

func (r *pgInviteRepository) ResetProcessing(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE invite_queue SET status = 'pending' WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("reset processing: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgInviteRepository) ListAssignments(ctx context.Context, f domain.AssignmentFilter) ([]*domain.AssignmentRecord, error) {
	where, args := buildAssignmentWhere(f)
	args = append(args, f.Limit)
	query := fmt.Sprintf(`
		SELECT id, queue_item_id, resource_id, subject, code, requestor_id, status,
		       failure_kind, error_message, batch_id, created_at
		FROM assignment_records%s
		ORDER BY id DESC
		LIMIT $%d`, where, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var result []*domain.AssignmentRecord
	for rows.Next() {
		var a domain.AssignmentRecord
		if err := rows.Scan(&a.ID, &a.QueueItemID, &a.ResourceID, &a.Subject, &a.Code,
			&a.RequestorID, &a.Status, &a.FailureKind, &a.ErrorMessage, &a.BatchID,
			&a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}

// ---- helpers ----

// scanQueueItem reads a single queue item row from any pgx row type.
func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	var q domain.QueueItem
	err := row.Scan(
		&q.ID, &q.Subject, &q.Code, &q.PoolID, &q.PoolName, &q.RequestorID,
		&q.Status, &q.FailureKind, &q.RetryCount, &q.ErrorMessage, &q.ResourceID,
		&q.CreatedAt, &q.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// buildAssignmentWhere builds a parameterised WHERE clause from a filter.
func buildAssignmentWhere(f domain.AssignmentFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Code != "" {
		add("code = $%d", f.Code)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
