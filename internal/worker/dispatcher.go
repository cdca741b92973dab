package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/seatdesk/seatdesk/internal/domain"
	"github.com/seatdesk/seatdesk/internal/notify"
	"github.com/seatdesk/seatdesk/internal/occupancy"
	"github.com/seatdesk/seatdesk/internal/provider"
	"github.com/seatdesk/seatdesk/internal/queue"
	"github.com/seatdesk/seatdesk/internal/ratelimiter"
	"github.com/seatdesk/seatdesk/internal/repository"
)

// Resolver picks a resource with spare capacity for a scope.
type Resolver interface {
	FindAvailable(ctx context.Context, scope domain.PoolScope, exclude ...int64) (*domain.ResourceRef, error)
}

// Refunder gives back a code use that was never turned into a seat.
type Refunder interface {
	Refund(ctx context.Context, code string) error
}

// Call modes reported to MetricHooks.OnProviderCall.
const (
	CallBulk   = "bulk"
	CallSingle = "single"
)

// MetricHooks carries the metric callback functions injected by main.
// Any nil hook is a no-op.
type MetricHooks struct {
	OnOutcome      func(status domain.Status, kind domain.FailureKind)
	OnProviderCall func(mode string, err error)
	OnBatch        func(size int)
	OnPanic        func()
}

func (h *MetricHooks) fill() {
	if h.OnOutcome == nil {
		h.OnOutcome = func(domain.Status, domain.FailureKind) {}
	}
	if h.OnProviderCall == nil {
		h.OnProviderCall = func(string, error) {}
	}
	if h.OnBatch == nil {
		h.OnBatch = func(int) {}
	}
	if h.OnPanic == nil {
		h.OnPanic = func() {}
	}
}

// Config holds the dispatcher's timing and policy knobs.
type Config struct {
	BatchSize          int
	BatchInterval      time.Duration
	CyclePause         time.Duration
	ProviderTimeout    time.Duration
	DrainTimeout       time.Duration
	NotifyTimeout      time.Duration
	RefundOnNoCapacity bool
}

// Dependencies groups the dispatcher's collaborators.
type Dependencies struct {
	Queue       *queue.InviteQueue
	Invites     repository.InviteRepository
	Resolver    Resolver
	Provisioner provider.Provisioner
	Cache       occupancy.Cache
	Limiter     *ratelimiter.ResourceLimiters
	Notifier    notify.Notifier
	Refunder    Refunder
}

// Dispatcher is the single consumer of the invite queue. Each cycle it
// collects a batch, groups it by pool, and turns each group into one bulk
// provisioning call, falling back to per-item calls when the bulk call fails.
type Dispatcher struct {
	Dependencies
	cfg    Config
	hooks  MetricHooks
	logger *zap.Logger
	tracer trace.Tracer
	done   chan struct{}
}

func NewDispatcher(deps Dependencies, cfg Config, hooks MetricHooks, logger *zap.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = queue.DefaultBatchSize
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = queue.DefaultBatchInterval
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimiter.NewResourceLimiters(0)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	hooks.fill()
	return &Dispatcher{
		Dependencies: deps,
		cfg:          cfg,
		hooks:        hooks,
		logger:       logger,
		tracer:       otel.Tracer("seatdesk/dispatcher"),
		done:         make(chan struct{}),
	}
}

// Done is closed when Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Run blocks until ctx is cancelled. A group that is being processed when
// ctx is cancelled is allowed to finish within DrainTimeout; groups of the
// same batch that have not started stay pending for RecoverPending.
// When a group could not be claimed and went back on the queue, Run waits
// BatchInterval before collecting again.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	d.logger.Info("dispatcher started",
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Duration("batch_interval", d.cfg.BatchInterval),
	)

	for {
		if ctx.Err() != nil {
			d.logger.Info("dispatcher stopping")
			return
		}

		batch := d.Queue.Collect(ctx, d.cfg.BatchSize, d.cfg.BatchInterval)
		if len(batch) == 0 {
			continue
		}
		pause := d.cfg.CyclePause
		if requeued := d.cycle(ctx, batch); requeued {
			pause = max(pause, d.cfg.BatchInterval)
		}

		if pause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(pause):
			}
		}
	}
}

// group is the unit of one bulk provisioning call.
type group struct {
	key   string
	scope domain.PoolScope
	items []queue.Item
}

// groupByPool splits a batch by target pool. Groups keep first-seen order and
// items keep FIFO order within a group.
func groupByPool(batch []queue.Item) []*group {
	var groups []*group
	index := make(map[string]*group)
	for _, it := range batch {
		k := it.GroupKey()
		g, ok := index[k]
		if !ok {
			g = &group{key: k, scope: it.Scope()}
			index[k] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, it)
	}
	return groups
}

// cycle processes one batch group by group. It reports whether any group
// was put back on the queue.
func (d *Dispatcher) cycle(ctx context.Context, batch []queue.Item) (requeued bool) {
	defer func() {
		if r := recover(); r != nil {
			d.hooks.OnPanic()
			d.logger.Error("dispatch cycle panicked",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()

	batchID := "b-" + uuid.NewString()
	groups := groupByPool(batch)
	granted := make(map[int64]int)
	d.hooks.OnBatch(len(batch))
	d.logger.Debug("dispatch cycle",
		zap.String("batch_id", batchID),
		zap.Int("items", len(batch)),
		zap.Int("groups", len(groups)),
	)

	for i, g := range groups {
		if ctx.Err() != nil {
			left := 0
			for _, rest := range groups[i:] {
				left += len(rest.items)
			}
			d.logger.Warn("shutdown: leaving unstarted groups pending",
				zap.String("batch_id", batchID), zap.Int("items", left))
			return requeued
		}
		if d.processGroup(ctx, batchID, g, granted) {
			requeued = true
		}
	}
	return requeued
}

// drainContext detaches work from parent's cancellation, then cancels it
// drain after parent is cancelled.
func drainContext(parent context.Context, drain time.Duration) (context.Context, context.CancelFunc) {
	work, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		time.AfterFunc(drain, cancel)
	})
	return work, func() {
		stop()
		cancel()
	}
}

// processGroup dispatches one group. A panic is contained here so the
// remaining groups of the batch still run; the group's unfinished items are
// failed as internal and their code uses refunded. It reports whether the
// group was put back on the queue.
func (d *Dispatcher) processGroup(parent context.Context, batchID string, g *group, granted map[int64]int) (requeued bool) {
	work, release := drainContext(parent, d.cfg.DrainTimeout)
	defer release()

	ctx, span := d.tracer.Start(work, "dispatcher.group", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.String("pool.key", g.key),
		attribute.Int("group.size", len(g.items)),
	))
	defer span.End()

	log := d.logger.With(zap.String("batch_id", batchID), zap.String("pool", g.key))

	defer func() {
		if r := recover(); r != nil {
			d.hooks.OnPanic()
			log.Error("group dispatch panicked",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			span.SetAttributes(attribute.Bool("group.panicked", true))
			d.failGroup(ctx, batchID, g.items, fmt.Errorf("dispatch panicked: %v", r))
		}
	}()

	ids := make([]string, len(g.items))
	for i, it := range g.items {
		ids[i] = it.QueueItemID
	}
	if err := d.Invites.MarkProcessing(ctx, ids); err != nil {
		log.Error("failed to mark group as processing, requeueing", zap.Error(err))
		d.requeue(g.items, log)
		return true
	}

	// The snapshot only learns about new members after the sync job runs,
	// so seats granted earlier in this cycle are subtracted locally and a
	// resource is never offered the same group twice.
	remaining := g.items
	var exclude []int64
	total := 0
	for len(remaining) > 0 {
		if ctx.Err() != nil {
			log.Warn("drain deadline reached, leaving items for recovery", zap.Int("items", len(remaining)))
			return false
		}

		res, err := d.Resolver.FindAvailable(ctx, g.scope, exclude...)
		if err != nil {
			d.failUnplaced(ctx, batchID, remaining, err, log)
			span.SetAttributes(attribute.Int("group.unplaced", len(remaining)))
			break
		}
		exclude = append(exclude, res.ID)

		spare := res.Available - granted[res.ID]
		if spare <= 0 {
			continue
		}
		chunk := remaining[:min(spare, len(remaining))]
		remaining = remaining[len(chunk):]

		succeeded := d.dispatch(ctx, batchID, *res, chunk, log.With(zap.Int64("resource_id", res.ID)))
		granted[res.ID] += len(succeeded)
		total += len(succeeded)
		if len(succeeded) > 0 {
			d.afterSuccess(ctx, batchID, *res, succeeded, log)
		}
	}

	span.SetAttributes(attribute.Int("group.succeeded", total))
	log.Info("group dispatched", zap.Int("succeeded", total), zap.Int("items", len(g.items)))
	return false
}

// failGroup ends every item of a group that is not terminal yet.
// Items that already have an outcome are left as they are.
func (d *Dispatcher) failGroup(ctx context.Context, batchID string, items []queue.Item, err error) {
	for _, it := range items {
		out := domain.Outcome{Status: domain.StatusFailed, FailureKind: domain.FailureInternal, Err: err}
		if d.complete(ctx, batchID, it, out) && d.shouldRefund(domain.FailureInternal) {
			d.refund(ctx, it)
		}
	}
}

// requeue puts items that are still pending back on the queue. Items that
// do not fit stay pending in the database for RecoverPending.
func (d *Dispatcher) requeue(items []queue.Item, log *zap.Logger) {
	for i, it := range items {
		if err := d.Queue.Enqueue(it); err != nil {
			log.Warn("queue full, leaving items pending for recovery",
				zap.Int("items", len(items)-i), zap.Error(err))
			return
		}
	}
}

// failUnplaced ends items for which no resource could be found. Capacity
// exhaustion is not retried.
func (d *Dispatcher) failUnplaced(ctx context.Context, batchID string, items []queue.Item, err error, log *zap.Logger) {
	kind := domain.FailureNoCapacity
	if !errors.Is(err, domain.ErrNoCapacity) {
		kind = domain.FailureInternal
	}
	log.Warn("no resource for items", zap.Error(err),
		zap.String("failure_kind", string(kind)), zap.Int("items", len(items)))

	for _, it := range items {
		if d.complete(ctx, batchID, it, domain.Outcome{Status: domain.StatusFailed, FailureKind: kind, Err: err}) &&
			d.shouldRefund(kind) {
			d.refund(ctx, it)
		}
	}
}

// dispatch sends items to res in one bulk call and resolves every item to a
// terminal state. It returns the subjects that were granted a seat.
func (d *Dispatcher) dispatch(ctx context.Context, batchID string, res domain.ResourceRef, items []queue.Item, log *zap.Logger) []string {
	subjects := make([]string, len(items))
	for i, it := range items {
		subjects[i] = it.Subject
	}

	// The bulk call draws from the same per-resource budget as the
	// retries, so a retry after a rejected bulk call waits its turn.
	result, err := d.bulkInvite(ctx, res, subjects)

	var succeeded []string
	var retry []queue.Item

	if err != nil {
		log.Warn("bulk invite failed, retrying per item", zap.Error(err), zap.Int("items", len(items)))
		retry = items
	} else {
		if result == nil {
			// No per-subject detail means the call was accepted as a whole.
			result = &provider.InviteResult{}
		}
		bySubject := make(map[string]provider.SubjectResult, len(result.Results))
		for _, r := range result.Results {
			bySubject[r.Subject] = r
		}
		for _, it := range items {
			r, ok := bySubject[it.Subject]
			switch {
			case !ok || r.OK:
				if d.complete(ctx, batchID, it, domain.Outcome{Status: domain.StatusSuccess, ResourceID: &res.ID}) {
					succeeded = append(succeeded, it.Subject)
				}
			case domain.IsPermanent(r.Err):
				d.complete(ctx, batchID, it, domain.Outcome{
					Status: domain.StatusFailed, FailureKind: domain.FailureExternalPermanent,
					ResourceID: &res.ID, Err: r.Err,
				})
			default:
				retry = append(retry, it)
			}
		}
	}

	for _, it := range retry {
		if d.retryOne(ctx, batchID, res, it) {
			succeeded = append(succeeded, it.Subject)
		}
	}
	return succeeded
}

func (d *Dispatcher) bulkInvite(ctx context.Context, res domain.ResourceRef, subjects []string) (*provider.InviteResult, error) {
	if err := d.Limiter.Wait(ctx, res.ID); err != nil {
		return nil, domain.Transient(0, "bulk call not attempted: "+err.Error())
	}
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.ProviderTimeout)
	defer cancel()
	result, err := d.Provisioner.Invite(callCtx, res, subjects)
	d.hooks.OnProviderCall(CallBulk, err)
	return result, err
}

func (d *Dispatcher) afterSuccess(ctx context.Context, batchID string, res domain.ResourceRef, succeeded []string, log *zap.Logger) {
	if err := d.Cache.Invalidate(ctx, res.ID); err != nil {
		log.Warn("occupancy invalidation failed", zap.Int64("resource_id", res.ID), zap.Error(err))
	}

	ev := notify.BatchEvent{
		PoolID:       res.PoolID,
		ResourceID:   res.ID,
		ResourceName: res.Name,
		Subjects:     succeeded,
		BatchID:      batchID,
	}
	notify.Go(d.cfg.NotifyTimeout, "batch-complete", d.logger, func(ctx context.Context) error {
		return d.Notifier.OnBatchComplete(ctx, ev)
	})
}

// retryOne makes a single-subject call for it, spaced per resource.
// Any failure here is terminal. Reports whether the item succeeded.
func (d *Dispatcher) retryOne(ctx context.Context, batchID string, res domain.ResourceRef, it queue.Item) bool {
	fail := func(err error) {
		d.complete(ctx, batchID, it, domain.Outcome{
			Status:      domain.StatusFailed,
			FailureKind: domain.FailureKind(domain.KindOf(err)),
			ResourceID:  &res.ID,
			RetryCount:  1,
			Err:         err,
		})
	}

	if err := d.Limiter.Wait(ctx, res.ID); err != nil {
		fail(domain.Transient(0, "retry not attempted: "+err.Error()))
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.ProviderTimeout)
	result, err := d.Provisioner.Invite(callCtx, res, []string{it.Subject})
	cancel()
	d.hooks.OnProviderCall(CallSingle, err)

	if err == nil && result != nil && len(result.Results) > 0 && !result.Results[0].OK {
		err = result.Results[0].Err
	}
	if err != nil {
		d.logger.Warn("per-item invite failed",
			zap.String("queue_item_id", it.QueueItemID),
			zap.Int64("resource_id", res.ID),
			zap.Error(err),
		)
		fail(err)
		return false
	}

	return d.complete(ctx, batchID, it, domain.Outcome{
		Status:     domain.StatusSuccess,
		ResourceID: &res.ID,
		RetryCount: 1,
	})
}

// complete persists the terminal state of one item and its audit record.
// It returns false if nothing was written.
func (d *Dispatcher) complete(ctx context.Context, batchID string, it queue.Item, out domain.Outcome) bool {
	ok, err := d.Invites.Complete(ctx, it.QueueItemID, out, batchID)
	if err != nil {
		d.logger.Error("failed to record outcome",
			zap.String("queue_item_id", it.QueueItemID),
			zap.String("status", string(out.Status)),
			zap.Error(err),
		)
		return false
	}
	if !ok {
		d.logger.Debug("item already terminal", zap.String("queue_item_id", it.QueueItemID))
		return false
	}
	d.hooks.OnOutcome(out.Status, out.FailureKind)
	return true
}

func (d *Dispatcher) shouldRefund(kind domain.FailureKind) bool {
	switch kind {
	case domain.FailureNoCapacity:
		return d.cfg.RefundOnNoCapacity
	case domain.FailureInternal:
		// Nothing reached the provider.
		return true
	}
	return false
}

func (d *Dispatcher) refund(ctx context.Context, it queue.Item) {
	if d.Refunder == nil {
		return
	}
	if err := d.Refunder.Refund(ctx, it.Code); err != nil {
		d.logger.Error("refund failed",
			zap.String("queue_item_id", it.QueueItemID),
			zap.String("code", it.Code),
			zap.Error(err),
		)
	}
}
