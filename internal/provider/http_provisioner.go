package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/seatdesk/seatdesk/internal/domain"
)

const (
	DefaultRole = "standard-user"
	maxBodySize = 1 << 20
)

// HTTPProvisioner calls the external invite endpoint. Calls go through a
// circuit breaker per external account: after repeated transient failures
// on one account it fails fast with a transient error instead of calling
// out, while other accounts keep being served.
type HTTPProvisioner struct {
	baseURL    string
	token      string
	httpClient *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewHTTPProvisioner(baseURL, token string, timeout time.Duration) *HTTPProvisioner {
	return &HTTPProvisioner{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// breakerFor returns the breaker for account, creating it on first use.
func (p *HTTPProvisioner) breakerFor(account string) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[account]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provisioner:" + account,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		// Permanent rejections say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || domain.IsPermanent(err)
		},
	})
	p.breakers[account] = cb
	return cb
}

// Invite posts subjects to {base}/accounts/{account_id}/invites.
func (p *HTTPProvisioner) Invite(ctx context.Context, res domain.ResourceRef, subjects []string) (*InviteResult, error) {
	v, err := p.breakerFor(res.AccountID).Execute(func() (interface{}, error) {
		return p.invite(ctx, res, subjects)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.Transient(0, "provider circuit open")
	}
	if err != nil {
		return nil, err
	}
	return v.(*InviteResult), nil
}

func (p *HTTPProvisioner) invite(ctx context.Context, res domain.ResourceRef, subjects []string) (*InviteResult, error) {
	body, err := json.Marshal(InviteRequest{
		EmailAddresses: subjects,
		Role:           DefaultRole,
		ResendEmails:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := p.baseURL + "/accounts/" + url.PathEscape(res.AccountID) + "/invites"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.Permanent(0, "create request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// Network errors and timeouts may succeed on retry.
		return nil, domain.Transient(0, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, domain.Transient(resp.StatusCode, "read response: "+err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(resp.StatusCode, raw)
	}
	return normalize(subjects, raw), nil
}

// classifyStatus maps a non-2xx response onto the retry policy.
func classifyStatus(status int, body []byte) error {
	msg := domain.TruncateText(strings.TrimSpace(string(body)), domain.MaxErrorMessageLen)
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusBadRequest,
		status == http.StatusNotFound,
		status == http.StatusConflict,
		status == http.StatusUnprocessableEntity:
		return domain.Permanent(status, msg)
	default:
		// 401/403 are credential problems fixed outside this process;
		// 408, 429 and 5xx are load or availability problems.
		return domain.Transient(status, msg)
	}
}

var _ Provisioner = (*HTTPProvisioner)(nil)
