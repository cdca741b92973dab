package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/seatdesk/seatdesk/internal/api/middleware"
	"github.com/seatdesk/seatdesk/internal/domain"
	"github.com/seatdesk/seatdesk/internal/service"
)

// RedemptionHandler serves the redeem endpoint and the read-only views over
// codes, invites, seats and assignments.
type RedemptionHandler struct {
	svc    *service.RedemptionService
	logger *zap.Logger
}

func NewRedemptionHandler(svc *service.RedemptionService, logger *zap.Logger) *RedemptionHandler {
	return &RedemptionHandler{svc: svc, logger: logger}
}

type redeemResponse struct {
	QueueID string        `json:"queue_id"`
	Status  domain.Status `json:"status"`
}

// Redeem handles POST /api/v1/redeem
//
// @Summary     Redeem a code for a seat invite
// @Tags        redemption
// @Accept      json
// @Produce     json
// @Param       body  body      domain.RedeemRequest  true  "Redemption payload"
// @Success     202   {object}  redeemResponse
// @Failure     400   {object}  errorBody
// @Failure     429   {object}  errorBody
// @Failure     503   {object}  errorBody
// @Router      /api/v1/redeem [post]
func (h *RedemptionHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req domain.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}

	item, err := h.svc.Redeem(r.Context(), req)
	if err != nil {
		h.logger.Info("redemption rejected",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, redeemResponse{QueueID: item.ID, Status: item.Status})
}

// GetInvite handles GET /api/v1/invites/{id}
//
// @Summary  Get a queued invite by id
// @Tags     redemption
// @Produce  json
// @Param    id   path      string  true  "Queue item id"
// @Success  200  {object}  domain.QueueItem
// @Failure  404  {object}  errorBody
// @Router   /api/v1/invites/{id} [get]
func (h *RedemptionHandler) GetInvite(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetInvite(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// InspectCode handles GET /api/v1/codes/{code}
func (h *RedemptionHandler) InspectCode(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.InspectCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// Seats handles GET /api/v1/seats
func (h *RedemptionHandler) Seats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.SeatStats(r.Context())
	if err != nil {
		h.logger.Error("seat stats failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// QueueStatus handles GET /api/v1/queue-status
func (h *RedemptionHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.QueueStatus())
}

// ListAssignments handles GET /api/v1/assignments
//
// @Summary  List assignment audit records, newest first
// @Tags     audit
// @Produce  json
// @Param    status  query  string  false  "pending|processing|success|failed"
// @Param    code    query  string  false  "redemption code"
// @Param    limit   query  int     false  "max results (default 50, max 500)"
// @Success  200     {array}   domain.AssignmentRecord
// @Failure  400     {object}  errorBody
// @Router   /api/v1/assignments [get]
func (h *RedemptionHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f domain.AssignmentFilter

	if s := q.Get("status"); s != "" {
		st := domain.Status(s)
		switch st {
		case domain.StatusPending, domain.StatusProcessing, domain.StatusSuccess, domain.StatusFailed:
			f.Status = &st
		default:
			respondError(w, http.StatusBadRequest, "invalid_status", "unknown status "+strconv.Quote(s))
			return
		}
	}
	f.Code = q.Get("code")
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	records, err := h.svc.ListAssignments(r.Context(), f)
	if err != nil {
		h.logger.Error("list assignments failed", zap.Error(err))
		mapError(w, err)
		return
	}
	if records == nil {
		records = []*domain.AssignmentRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}
