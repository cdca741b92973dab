package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/seatdesk/seatdesk/internal/api/handler"
	apimw "github.com/seatdesk/seatdesk/internal/api/middleware"
	"github.com/seatdesk/seatdesk/internal/ratelimiter"
	"github.com/seatdesk/seatdesk/internal/service"
)

// RedeemLimits guards POST /redeem. The admission gate is independent of the
// invite queue bound: it caps concurrent request work, the queue caps backlog.
type RedeemLimits struct {
	MaxInflight    int
	AcquireTimeout time.Duration
	// Clients is optional; nil disables per-client rate limiting.
	Clients *ratelimiter.ClientLimiter
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route.
func NewRouter(
	svc *service.RedemptionService,
	limits RedeemLimits,
	health handler.Pinger,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(64 << 10))
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(logger))

	rh := handler.NewRedemptionHandler(svc, logger)
	hh := handler.NewHealthHandler(health)

	r.Get("/health", hh.Health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if limits.Clients != nil {
				r.Use(apimw.RateLimit(limits.Clients))
			}
			r.Use(apimw.Admission(limits.MaxInflight, limits.AcquireTimeout))
			r.Post("/redeem", rh.Redeem)
		})

		r.Get("/queue-status", rh.QueueStatus)
		r.Get("/invites/{id}", rh.GetInvite)
		r.Get("/codes/{code}", rh.InspectCode)
		r.Get("/seats", rh.Seats)
		r.Get("/assignments", rh.ListAssignments)
	})

	return r
}
