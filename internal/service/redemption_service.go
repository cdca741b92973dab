package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seatdesk/seatdesk/internal/domain"
	"github.com/seatdesk/seatdesk/internal/ledger"
	"github.com/seatdesk/seatdesk/internal/queue"
	"github.com/seatdesk/seatdesk/internal/repository"
	"github.com/seatdesk/seatdesk/internal/resolver"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// RedemptionService coordinates the ledger, the repository and the queue.
// The request path ends at enqueue: it never waits for the dispatcher, so the
// caller only learns that the request was accepted.
type RedemptionService struct {
	ledger   *ledger.Ledger
	resolver *resolver.Resolver
	repo     repository.InviteRepository
	q        *queue.InviteQueue
	fallback domain.PoolScope
	observe  func(outcome string)
	logger   *zap.Logger
}

type Option func(*RedemptionService)

// WithFallbackPool sets the scope used for codes without a pool binding.
func WithFallbackPool(name string) Option {
	return func(s *RedemptionService) { s.fallback = domain.PoolScope{PoolName: name} }
}

// WithObserver is called once per Redeem with its outcome label.
func WithObserver(fn func(outcome string)) Option {
	return func(s *RedemptionService) { s.observe = fn }
}

func NewRedemptionService(
	l *ledger.Ledger,
	r *resolver.Resolver,
	repo repository.InviteRepository,
	q *queue.InviteQueue,
	logger *zap.Logger,
	opts ...Option,
) *RedemptionService {
	s := &RedemptionService{
		ledger:   l,
		resolver: r,
		repo:     repo,
		q:        q,
		observe:  func(string) {},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Redeem spends one use of req.Code and queues an invite for req.Subject.
//
// The use is spent before the item is persisted. If persisting or enqueueing
// fails the use is refunded, so a rejected request never costs the caller.
func (s *RedemptionService) Redeem(ctx context.Context, req domain.RedeemRequest) (*domain.QueueItem, error) {
	item, err := s.redeem(ctx, req)
	s.observe(outcome(err))
	return item, err
}

func (s *RedemptionService) redeem(ctx context.Context, req domain.RedeemRequest) (*domain.QueueItem, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	res, err := s.ledger.Consume(ctx, req.Code, s.fallback, req.Identity != nil)
	if err != nil {
		return nil, err
	}

	item := &domain.QueueItem{
		ID:          "q-" + uuid.NewString(),
		Subject:     req.Subject,
		Code:        res.Code,
		PoolID:      res.Scope.PoolID,
		PoolName:    res.Scope.PoolName,
		RequestorID: req.Identity,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	log := s.logger.With(zap.String("queue_item_id", item.ID), zap.String("code", item.Code))

	if err := s.repo.Create(ctx, item); err != nil {
		s.refund(ctx, item.Code, log)
		return nil, fmt.Errorf("persist queue item: %w", err)
	}

	err = s.q.Enqueue(queue.Item{
		QueueItemID: item.ID,
		Subject:     item.Subject,
		Code:        item.Code,
		PoolID:      item.PoolID,
		PoolName:    item.PoolName,
	})
	if errors.Is(err, domain.ErrQueueFull) {
		log.Warn("queue full: rejecting redemption")
		out := domain.Outcome{Status: domain.StatusFailed, FailureKind: domain.FailureQueueFull, Err: err}
		if _, cerr := s.repo.Complete(ctx, item.ID, out, ""); cerr != nil {
			log.Error("failed to record queue_full outcome", zap.Error(cerr))
		}
		s.refund(ctx, item.Code, log)
		return nil, domain.ErrQueueFull
	}
	if err != nil {
		return nil, err
	}

	log.Info("redemption queued", zap.Bool("identified", req.Identity != nil))
	return item, nil
}

func (s *RedemptionService) refund(ctx context.Context, code string, log *zap.Logger) {
	if err := s.ledger.Refund(ctx, code); err != nil {
		log.Error("refund failed", zap.Error(err))
	}
}

func (s *RedemptionService) GetInvite(ctx context.Context, id string) (*domain.QueueItem, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *RedemptionService) QueueStatus() queue.Status {
	return s.q.Status()
}

func (s *RedemptionService) InspectCode(ctx context.Context, code string) (*domain.CodeInfo, error) {
	return s.ledger.Inspect(ctx, code)
}

func (s *RedemptionService) SeatStats(ctx context.Context) (*domain.SeatStats, error) {
	return s.resolver.Stats(ctx)
}

func (s *RedemptionService) ListAssignments(ctx context.Context, f domain.AssignmentFilter) ([]*domain.AssignmentRecord, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	f.Code = domain.NormalizeCode(f.Code)
	return s.repo.ListAssignments(ctx, f)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "queued"
	case errors.Is(err, domain.ErrInvalidSubject):
		return "invalid_subject"
	case errors.Is(err, domain.ErrCodeInvalid):
		return "code_invalid"
	case errors.Is(err, domain.ErrCodeExpired):
		return "code_expired"
	case errors.Is(err, domain.ErrCodeExhausted):
		return "code_exhausted"
	case errors.Is(err, domain.ErrIdentityRequired):
		return "identity_required"
	case errors.Is(err, domain.ErrQueueFull):
		return "queue_full"
	}
	return "error"
}
