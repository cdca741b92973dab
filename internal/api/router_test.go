package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seatdesk/seatdesk/internal/api"
	"github.com/seatdesk/seatdesk/internal/domain"
	"github.com/seatdesk/seatdesk/internal/ledger"
	"github.com/seatdesk/seatdesk/internal/occupancy"
	"github.com/seatdesk/seatdesk/internal/queue"
	"github.com/seatdesk/seatdesk/internal/ratelimiter"
	"github.com/seatdesk/seatdesk/internal/repository"
	"github.com/seatdesk/seatdesk/internal/resolver"
	"github.com/seatdesk/seatdesk/internal/service"
)

type testServer struct {
	handler   http.Handler
	codes     *repository.MockCodeRepository
	resources *repository.MockResourceRepository
	q         *queue.InviteQueue
}

func newTestServer(t *testing.T, limits api.RedeemLimits, ping func(context.Context) error) *testServer {
	t.Helper()
	logger := zap.NewNop()
	ts := &testServer{
		codes:     repository.NewMockCodeRepository(),
		resources: repository.NewMockResourceRepository(),
		q:         queue.New(100, queue.WithBatchConfig(10, 5*time.Second)),
	}
	res := resolver.New(ts.resources, occupancy.NewSourceCache(ts.resources), time.Minute, logger)
	svc := service.NewRedemptionService(ledger.New(ts.codes, logger), res, repository.NewMockInviteRepository(), ts.q, logger)
	ts.handler = api.NewRouter(svc, limits, ping, prometheus.NewRegistry(), logger)
	return ts
}

func (ts *testServer) do(method, path string, body any, remote string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// ABC123 with max_uses=2 and five concurrent redemptions: two are accepted,
// three are rejected as exhausted.
func TestRedeem_ConcurrentExhaustion(t *testing.T) {
	ts := newTestServer(t, api.RedeemLimits{MaxInflight: 50, AcquireTimeout: time.Second}, nil)
	ts.codes.Add(domain.RedemptionCode{Code: "ABC123", MaxUses: 2, Active: true, Kind: domain.CodeKindDirect})

	var mu sync.Mutex
	statuses := map[int]int{}
	errorCodes := map[string]int{}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := ts.do(http.MethodPost, "/api/v1/redeem", map[string]string{
				"code":    "ABC123",
				"subject": "user" + strconv.Itoa(i) + "@example.com",
			}, "")
			mu.Lock()
			defer mu.Unlock()
			statuses[rec.Code]++
			if rec.Code == http.StatusBadRequest {
				var body map[string]string
				_ = json.Unmarshal(rec.Body.Bytes(), &body)
				errorCodes[body["error"]]++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, statuses[http.StatusAccepted])
	assert.Equal(t, 3, statuses[http.StatusBadRequest])
	assert.Equal(t, 3, errorCodes["code_exhausted"])
	assert.Equal(t, 2, ts.q.Len())
}

func TestRedeem_AcceptedThenVisible(t *testing.T) {
	ts := newTestServer(t, api.RedeemLimits{}, nil)
	ts.codes.Add(domain.RedemptionCode{Code: "HELLO", MaxUses: 1, Active: true, Kind: domain.CodeKindDirect})

	rec := ts.do(http.MethodPost, "/api/v1/redeem", map[string]string{"code": "hello", "subject": "a@example.com"}, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "pending", body["status"])
	require.NotEmpty(t, body["queue_id"])

	rec = ts.do(http.MethodGet, "/api/v1/invites/"+body["queue_id"], nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	item := decode[domain.QueueItem](t, rec)
	assert.Equal(t, "a@example.com", item.Subject)

	rec = ts.do(http.MethodGet, "/api/v1/queue-status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[queue.Status](t, rec)
	assert.Equal(t, 1, st.QueueSize)
	assert.Equal(t, 100, st.MaxSize)
	assert.Equal(t, 10, st.BatchSize)
	assert.InDelta(t, 5.0, st.BatchInterval, 0.001)
}

func TestRedeem_ErrorMapping(t *testing.T) {
	ts := newTestServer(t, api.RedeemLimits{}, nil)
	past := time.Now().Add(-time.Hour)
	ts.codes.Add(domain.RedemptionCode{Code: "OLD", MaxUses: 1, Active: true, ExpiresAt: &past, Kind: domain.CodeKindDirect})
	ts.codes.Add(domain.RedemptionCode{Code: "IDONLY", MaxUses: 1, Active: true, Kind: domain.CodeKindIdentity})

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantError  string
	}{
		{"bad json", "not an object", http.StatusBadRequest, "invalid_body"},
		{"bad subject", map[string]string{"code": "OLD", "subject": "nope"}, http.StatusBadRequest, "invalid_subject"},
		{"unknown code", map[string]string{"code": "MISSING", "subject": "a@b.co"}, http.StatusBadRequest, "code_invalid"},
		{"expired", map[string]string{"code": "OLD", "subject": "a@b.co"}, http.StatusBadRequest, "code_expired"},
		{"identity required", map[string]string{"code": "IDONLY", "subject": "a@b.co"}, http.StatusBadRequest, "identity_required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/v1/redeem", tc.body, "")
			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantError, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestRedeem_RateLimitedPerClient(t *testing.T) {
	ts := newTestServer(t, api.RedeemLimits{Clients: ratelimiter.NewClientLimiter(2)}, nil)
	ts.codes.Add(domain.RedemptionCode{Code: "MANY", MaxUses: 100, Active: true, Kind: domain.CodeKindDirect})

	req := map[string]string{"code": "MANY", "subject": "x@example.com"}
	assert.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/api/v1/redeem", req, "10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/api/v1/redeem", req, "10.0.0.1:5001").Code)

	rec := ts.do(http.MethodPost, "/api/v1/redeem", req, "10.0.0.1:5002")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/api/v1/redeem", req, "10.0.0.2:5000").Code)
	assert.Equal(t, 3, ts.codes.UsedCount("MANY"), "rate-limited request must not spend a use")
}

func TestReadEndpoints(t *testing.T) {
	ts := newTestServer(t, api.RedeemLimits{}, nil)
	ts.codes.Add(domain.RedemptionCode{Code: "PEEK", MaxUses: 5, UsedCount: 2, Active: true, Kind: domain.CodeKindDirect})
	ts.resources.AddResource(domain.Resource{ID: 1, Name: "team-a", Capacity: 4, Active: true})
	ts.resources.SetMembers(1, 1)

	rec := ts.do(http.MethodGet, "/api/v1/codes/peek", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[domain.CodeInfo](t, rec)
	assert.True(t, info.Valid)
	assert.Equal(t, 3, info.Remaining)

	rec = ts.do(http.MethodGet, "/api/v1/codes/nope", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/seats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.SeatStats{TotalSeats: 4, UsedSeats: 1, AvailableSeats: 3}, decode[domain.SeatStats](t, rec))

	rec = ts.do(http.MethodGet, "/api/v1/invites/q-missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/assignments?status=bogus", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/assignments?status=failed&limit=5", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHealth(t *testing.T) {
	ok := newTestServer(t, api.RedeemLimits{}, func(context.Context) error { return nil })
	assert.Equal(t, http.StatusOK, ok.do(http.MethodGet, "/health", nil, "").Code)

	down := newTestServer(t, api.RedeemLimits{}, func(context.Context) error { return errors.New("connection refused") })
	assert.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/health", nil, "").Code)
}
