/*
handlers.go - HTTP handlers for the growth engine

PURPOSE:
  Thin orchestration over the domain packages. Each handler:
  1. Reads the verified identity from the request context
  2. Validates the request shape
  3. Delegates to the rewards service or the campaign machine
  4. Maps internal error kinds to transport status codes
  Handlers never perform balance math.

ENDPOINTS:
  POST /api/register                 One-time registration credit
  POST /api/referral                 Reward an (inviter, invitee) pair
  POST /api/slashStart               Create a price-cut campaign
  POST /api/slashHelp                Apply one helper's cut
  POST /api/consume                  Debit a feature's cost
  GET  /api/users/me                 Account document
  GET  /api/users/me/transactions    Ledger history, newest first
  POST /api/admin/rewardPoints       Manual grant (admin role)
  POST /webhooks/payment             Payment-completion credit

ERROR MAPPING:
  400 validation, 401 unauthenticated, 402 insufficient points,
  403 role, 404 missing documents, 409 idempotency rejections and
  exhausted transaction retries, 500 everything else.

SEE ALSO:
  - dto.go: Wire shapes
  - server.go: Routing and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/smartpicture/growth-engine/campaign"
	"github.com/smartpicture/growth-engine/ledger"
	"github.com/smartpicture/growth-engine/rewards"
)

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	Rewards   *rewards.Service
	Campaigns *campaign.Machine
	Store     ledger.Store
	Log       zerolog.Logger

	// ShareBaseURL prefixes campaign share links, e.g.
	// "https://smartpicture.ai/slash".
	ShareBaseURL string
}

// NewHandler creates a handler over the shared store.
func NewHandler(store ledger.Store, svc *rewards.Service, machine *campaign.Machine, log zerolog.Logger) *Handler {
	return &Handler{
		Rewards:   svc,
		Campaigns: machine,
		Store:     store,
		Log:       log,
	}
}

// =============================================================================
// REGISTRATION
// =============================================================================

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	uid := UserFrom(r.Context())

	points, err := h.Rewards.Register(r.Context(), uid)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	mutationsTotal.WithLabelValues("register").Inc()
	writeJSON(w, http.StatusCreated, RegisterResponse{Points: points})
}

// =============================================================================
// REFERRAL
// =============================================================================

func (h *Handler) Referral(w http.ResponseWriter, r *http.Request) {
	inviter := UserFrom(r.Context())

	var req ReferralRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.InviteeID == "" {
		writeError(w, http.StatusBadRequest, "inviteeId is required", nil)
		return
	}
	if ledger.UserID(req.InviteeID) == inviter {
		writeError(w, http.StatusBadRequest, "cannot invite yourself", nil)
		return
	}

	res, err := h.Rewards.Invite(r.Context(), inviter, ledger.UserID(req.InviteeID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	mutationsTotal.WithLabelValues("referral").Inc()
	writeJSON(w, http.StatusOK, ReferralResponse{
		InviterReward: res.InviterReward,
		InviteeReward: res.InviteeReward,
	})
}

// =============================================================================
// CAMPAIGNS
// =============================================================================

func (h *Handler) SlashStart(w http.ResponseWriter, r *http.Request) {
	uid := UserFrom(r.Context())

	var req SlashStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	c, err := h.Campaigns.Start(r.Context(), uid, decimal.NewFromFloat(req.Amount))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := SlashStartResponse{
		CampaignID:    string(c.ID),
		OriginalPrice: c.OriginalPrice.String(),
		TargetPrice:   c.TargetPrice.String(),
	}
	if h.ShareBaseURL != "" {
		resp.ShareLink = fmt.Sprintf("%s/%s", h.ShareBaseURL, c.ID)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) SlashHelp(w http.ResponseWriter, r *http.Request) {
	helper := UserFrom(r.Context())

	var req SlashHelpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.CampaignID == "" {
		writeError(w, http.StatusBadRequest, "campaignId is required", nil)
		return
	}

	res, err := h.Campaigns.HelpCut(r.Context(), ledger.CampaignID(req.CampaignID), helper)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	mutationsTotal.WithLabelValues("slash_help").Inc()
	writeJSON(w, http.StatusOK, SlashHelpResponse{
		CampaignID:   string(res.CampaignID),
		Scenario:     string(res.Scenario),
		CutAmount:    res.CutAmount.String(),
		NewPrice:     res.NewPrice.String(),
		HelperPoints: res.HelperPoints,
	})
}

// =============================================================================
// CONSUMPTION / ADMIN GRANT
// =============================================================================

func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	uid := UserFrom(r.Context())

	var req ConsumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Feature == "" {
		writeError(w, http.StatusBadRequest, "feature is required", nil)
		return
	}

	points, err := h.Rewards.Consume(r.Context(), uid, req.Feature)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	mutationsTotal.WithLabelValues("consume").Inc()
	writeJSON(w, http.StatusOK, ConsumeResponse{Points: points})
}

// RewardPoints is the manual admin grant. The router mounts it behind
// RequireAdmin, so the role claim is already enforced here.
func (h *Handler) RewardPoints(w http.ResponseWriter, r *http.Request) {
	var req RewardPointsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.UID == "" {
		writeError(w, http.StatusBadRequest, "uid is required", nil)
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return
	}

	balance, err := h.Rewards.Grant(r.Context(), ledger.UserID(req.UID), req.Amount)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	mutationsTotal.WithLabelValues("admin_grant").Inc()
	writeJSON(w, http.StatusOK, RewardPointsResponse{Success: true, NewBalance: balance})
}

// =============================================================================
// ACCOUNT READS
// =============================================================================

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	uid := UserFrom(r.Context())

	acct, err := h.Store.GetAccount(r.Context(), uid)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "account not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, AccountDTO{
		ID:        string(acct.ID),
		Points:    acct.Points,
		Level:     string(acct.Level),
		Role:      string(acct.Role),
		InvitedBy: string(acct.InvitedBy),
		CreatedAt: formatTime(acct.CreatedAt),
	})
}

func (h *Handler) GetMyTransactions(w http.ResponseWriter, r *http.Request) {
	uid := UserFrom(r.Context())

	entries, err := h.Store.ListEntries(r.Context(), uid)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = EntryDTO{
			ID:        string(e.ID),
			Type:      string(e.Type),
			Amount:    e.Amount,
			Remark:    e.Remark,
			CreatedAt: formatTime(e.CreatedAt),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYMENT WEBHOOK
// =============================================================================

// PaymentWebhook credits purchased points after a completed checkout.
// Unrelated event types are acknowledged and ignored so the processor
// stops re-delivering them. Replays of a processed event id are treated
// as success: the credit happened exactly once.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	// Processor events carry many fields beyond the ones used here, so
	// this decode is deliberately lenient.
	var evt PaymentEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload", err)
		return
	}
	if evt.Type != "checkout.session.completed" {
		w.WriteHeader(http.StatusOK)
		return
	}

	uid := evt.Data.Object.Metadata.UID
	points, err := strconv.ParseInt(evt.Data.Object.Metadata.Points, 10, 64)
	if uid == "" || err != nil || points <= 0 {
		writeError(w, http.StatusBadRequest, "event metadata must carry uid and positive points", nil)
		return
	}

	_, err = h.Rewards.Recharge(r.Context(), evt.ID, ledger.UserID(uid), points)
	if errors.Is(err, ledger.ErrDuplicateEvent) {
		h.Log.Info().Str("event", evt.ID).Msg("duplicate payment event acknowledged")
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	mutationsTotal.WithLabelValues("recharge").Inc()
	w.WriteHeader(http.StatusOK)
}

// =============================================================================
// ERROR TRANSLATION
// =============================================================================

// writeDomainError maps engine error kinds to transport statuses. Only
// the kind and a safe message cross the boundary; details are logged.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, "not enough points", nil)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusConflict, "operation conflicted, please retry", nil)
	default:
		h.Log.Error().Err(err).Str("path", r.URL.Path).Msg("unexpected failure")
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
