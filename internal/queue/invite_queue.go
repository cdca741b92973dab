package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/seatdesk/seatdesk/internal/domain"
)

const (
	DefaultMaxSize       = 5000
	DefaultBatchSize     = 10
	DefaultBatchInterval = 5 * time.Second
)

// InviteQueue is a bounded multi-producer, single-consumer queue of pending
// invites. HTTP handlers produce; the dispatcher is the only consumer.
type InviteQueue struct {
	ch            chan Item
	batchSize     int
	batchInterval time.Duration
}

// Status is the snapshot returned by GET /queue-status.
type Status struct {
	QueueSize     int     `json:"queue_size"`
	MaxSize       int     `json:"max_size"`
	BatchSize     int     `json:"batch_size"`
	BatchInterval float64 `json:"batch_interval"`
}

type Option func(*InviteQueue)

// WithBatchConfig records the dispatcher's batch settings so Status can
// report them. It does not change queue behaviour.
func WithBatchConfig(size int, interval time.Duration) Option {
	return func(q *InviteQueue) {
		q.batchSize = size
		q.batchInterval = interval
	}
}

func New(maxSize int, opts ...Option) *InviteQueue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	q := &InviteQueue{
		ch:            make(chan Item, maxSize),
		batchSize:     DefaultBatchSize,
		batchInterval: DefaultBatchInterval,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue never blocks: when the buffer is full it returns ErrQueueFull
// immediately so the HTTP handler can answer 503.
func (q *InviteQueue) Enqueue(item Item) error {
	select {
	case q.ch <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Collect waits up to maxWait for the first item, then drains whatever is
// already buffered without blocking, up to batchSize items in total.
// It returns nil on timeout or when ctx is cancelled before the first item.
func (q *InviteQueue) Collect(ctx context.Context, batchSize int, maxWait time.Duration) []Item {
	if batchSize <= 0 {
		batchSize = 1
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	var first Item
	select {
	case first = <-q.ch:
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}

	batch := make([]Item, 0, batchSize)
	batch = append(batch, first)
	for len(batch) < batchSize {
		select {
		case item := <-q.ch:
			batch = append(batch, item)
		default:
			return batch
		}
	}
	return batch
}

// Len returns the number of items currently buffered.
func (q *InviteQueue) Len() int { return len(q.ch) }

// Cap returns the fixed capacity.
func (q *InviteQueue) Cap() int { return cap(q.ch) }

func (q *InviteQueue) Status() Status {
	return Status{
		QueueSize:     len(q.ch),
		MaxSize:       cap(q.ch),
		BatchSize:     q.batchSize,
		BatchInterval: q.batchInterval.Seconds(),
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
