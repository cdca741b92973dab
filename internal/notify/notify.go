package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// BatchEvent is sent after a dispatch group has at least one success.
type BatchEvent struct {
	PoolID       *int64   `json:"pool_id,omitempty"`
	ResourceID   int64    `json:"resource_id"`
	ResourceName string   `json:"resource_name"`
	Subjects     []string `json:"subjects"`
	BatchID      string   `json:"batch_id"`
}

// Notifier receives batch-complete events. Implementations must not block
// the dispatcher for long; callers run them through Go.
type Notifier interface {
	OnBatchComplete(ctx context.Context, ev BatchEvent) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) OnBatchComplete(context.Context, BatchEvent) error { return nil }

// WebhookNotifier POSTs each event as JSON to a fixed URL.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) OnBatchComplete(ctx context.Context, ev BatchEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected webhook status: %d", resp.StatusCode)
	}
	return nil
}

// Go runs fn in its own goroutine with a detached, time-bounded context.
// Errors and panics are logged and never reach the caller.
func Go(timeout time.Duration, name string, logger *zap.Logger, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("background task panicked",
					zap.String("task", name),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			logger.Warn("background task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

var (
	_ Notifier = Nop{}
	_ Notifier = (*WebhookNotifier)(nil)
)
