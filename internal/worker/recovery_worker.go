package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/seatdesk/seatdesk/internal/domain"
	"github.com/seatdesk/seatdesk/internal/queue"
	"github.com/seatdesk/seatdesk/internal/repository"
)

// RecoveryWorker re-enqueues items a previous process admitted but never
// finished. The queue lives in memory, so without this an item accepted
// just before a restart would stay pending forever.
//
// Run it once at startup, before the dispatcher and the HTTP server.
type RecoveryWorker struct {
	repo   repository.InviteRepository
	q      *queue.InviteQueue
	logger *zap.Logger
}

func NewRecoveryWorker(repo repository.InviteRepository, q *queue.InviteQueue, logger *zap.Logger) *RecoveryWorker {
	return &RecoveryWorker{repo: repo, q: q, logger: logger}
}

// RecoverPending resets interrupted items to pending and enqueues every
// unfinished item, oldest first, until the queue is full. Items that do not
// fit stay pending in the database for the next start.
func (rw *RecoveryWorker) RecoverPending(ctx context.Context) (int, error) {
	reset, err := rw.repo.ResetProcessing(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset processing items: %w", err)
	}

	room := rw.q.Cap() - rw.q.Len()
	if room <= 0 {
		return 0, nil
	}
	items, err := rw.repo.FindUnfinished(ctx, room)
	if err != nil {
		return 0, fmt.Errorf("load unfinished items: %w", err)
	}

	enqueued := 0
	for _, it := range items {
		err := rw.q.Enqueue(queue.Item{
			QueueItemID: it.ID,
			Subject:     it.Subject,
			Code:        it.Code,
			PoolID:      it.PoolID,
			PoolName:    it.PoolName,
		})
		if errors.Is(err, domain.ErrQueueFull) {
			rw.logger.Warn("queue full during recovery, leaving rest pending",
				zap.Int("left", len(items)-enqueued))
			break
		}
		if err != nil {
			return enqueued, err
		}
		enqueued++
	}

	if reset > 0 || enqueued > 0 {
		rw.logger.Info("recovered unfinished invites",
			zap.Int64("reset_from_processing", reset),
			zap.Int("enqueued", enqueued),
		)
	}
	return enqueued, nil
}
