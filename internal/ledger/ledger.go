package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/seatdesk/seatdesk/internal/domain"
	"github.com/seatdesk/seatdesk/internal/repository"
)

// Ledger validates and spends redemption code uses.
// It is the only writer of RedemptionCode.UsedCount.
type Ledger struct {
	codes  repository.CodeRepository
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func New(codes repository.CodeRepository, logger *zap.Logger) *Ledger {
	return &Ledger{
		codes:  codes,
		logger: logger,
		tracer: otel.Tracer("seatdesk/ledger"),
		now:    time.Now,
	}
}

// Consume spends one use of code and returns the pool scope the assignment
// should be made in: the code's own pool binding, else fallback.
//
// The read validates and produces a precise error; the conditional increment
// is what actually guards max_uses. When two callers race on the last use,
// both may pass the read, and the loser gets ErrCodeExhausted from the write.
func (l *Ledger) Consume(ctx context.Context, code string, fallback domain.PoolScope, identified bool) (*domain.Reservation, error) {
	code = domain.NormalizeCode(code)
	ctx, span := l.tracer.Start(ctx, "ledger.consume", trace.WithAttributes(
		attribute.Bool("requestor.identified", identified),
	))
	defer span.End()

	c, err := l.validate(ctx, code)
	if err != nil {
		span.SetAttributes(attribute.String("ledger.outcome", outcomeOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.String("code.kind", string(c.Kind)))

	if c.Kind == domain.CodeKindIdentity && !identified {
		span.SetAttributes(attribute.String("ledger.outcome", outcomeOf(domain.ErrIdentityRequired)))
		return nil, domain.ErrIdentityRequired
	}

	ok, err := l.codes.IncrementUse(ctx, c.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "increment failed")
		return nil, fmt.Errorf("consume code: %w", err)
	}
	if !ok {
		span.SetAttributes(attribute.String("ledger.outcome", "lost_race"))
		return nil, domain.ErrCodeExhausted
	}
	span.SetAttributes(attribute.String("ledger.outcome", "consumed"))

	scope := fallback
	if c.PoolID != nil {
		id := *c.PoolID
		scope = domain.PoolScope{PoolID: &id}
	}
	return &domain.Reservation{Code: c.Code, Kind: c.Kind, Scope: scope}, nil
}

// Refund gives back one use of code. Refunds never push used_count below zero.
func (l *Ledger) Refund(ctx context.Context, code string) error {
	code = domain.NormalizeCode(code)
	ok, err := l.codes.DecrementUse(ctx, code)
	if err != nil {
		return fmt.Errorf("refund code: %w", err)
	}
	if !ok {
		l.logger.Warn("refund skipped: nothing to give back", zap.String("code", code))
	}
	return nil
}

// Inspect reports whether code could currently be redeemed. It never writes.
func (l *Ledger) Inspect(ctx context.Context, code string) (*domain.CodeInfo, error) {
	c, err := l.validate(ctx, domain.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	return &domain.CodeInfo{Valid: true, Remaining: c.Remaining(), ExpiresAt: c.ExpiresAt}, nil
}

func (l *Ledger) validate(ctx context.Context, code string) (*domain.RedemptionCode, error) {
	if code == "" {
		return nil, domain.ErrCodeInvalid
	}
	c, err := l.codes.GetByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrCodeInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("load code: %w", err)
	}
	switch {
	case !c.Active:
		return nil, domain.ErrCodeInvalid
	case c.Expired(l.now()):
		return nil, domain.ErrCodeExpired
	case c.UsedCount >= c.MaxUses:
		return nil, domain.ErrCodeExhausted
	}
	return c, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrCodeInvalid):
		return "invalid"
	case errors.Is(err, domain.ErrCodeExpired):
		return "expired"
	case errors.Is(err, domain.ErrCodeExhausted):
		return "exhausted"
	case errors.Is(err, domain.ErrIdentityRequired):
		return "identity_required"
	}
	return "error"
}
