package repository

import (
	"context"

	"github.com/seatdesk/seatdesk/internal/domain"
)

// CodeRepository persists redemption codes.
// UsedCount is only changed through the two conditional updates; there is
// deliberately no generic Update method.
type CodeRepository interface {
	GetByCode(ctx context.Context, code string) (*domain.RedemptionCode, error)
	// IncrementUse runs "used_count = used_count + 1 WHERE used_count < max_uses".
	// It reports false when no row was affected.
	IncrementUse(ctx context.Context, id int64) (bool, error)
	// DecrementUse runs "used_count = used_count - 1 WHERE used_count > 0".
	DecrementUse(ctx context.Context, code string) (bool, error)
}

// ResourceRepository reads resources and pools. The core never writes them.
type ResourceRepository interface {
	// ListActive returns active resources ordered by id. A nil poolID lists all.
	ListActive(ctx context.Context, poolID *int64) ([]*domain.Resource, error)
	GetPoolByName(ctx context.Context, name string) (*domain.Pool, error)
}

// MembershipRepository exposes the externally synced membership snapshot.
type MembershipRepository interface {
	CountMembers(ctx context.Context, resourceID int64) (int, error)
}

// InviteRepository persists queue items and their audit records.
// The pgx implementation is in pg_invite_repo.go.
// Tests use a hand-written in-memory implementation (mock_repo.go).
type InviteRepository interface {
	Create(ctx context.Context, item *domain.QueueItem) error
	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)
	MarkProcessing(ctx context.Context, ids []string) error
	// Complete moves a non-terminal item to its terminal state and writes the
	// AssignmentRecord in one transaction. It reports false, writing nothing,
	// when the item is already terminal.
	Complete(ctx context.Context, id string, out domain.Outcome, batchID string) (bool, error)
	// FindUnfinished returns pending or processing items, oldest first.
	FindUnfinished(ctx context.Context, limit int) ([]*domain.QueueItem, error)
	ResetProcessing(ctx context.Context) (int64, error)
	ListAssignments(ctx context.Context, filter domain.AssignmentFilter) ([]*domain.AssignmentRecord, error)
}
