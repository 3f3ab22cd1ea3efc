package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/silveridc/verigate/internal/api/middleware"
	"github.com/silveridc/verigate/internal/api/response"
	"github.com/silveridc/verigate/internal/captcha"
	"github.com/silveridc/verigate/internal/keys"
	"github.com/silveridc/verigate/internal/metrics"
	"github.com/silveridc/verigate/internal/ticket"
)

// VerifyHandler serves the tenant-facing verification endpoints.
type VerifyHandler struct {
	tickets   *ticket.Service
	keys      *keys.Service
	metrics   *metrics.Metrics
	publicURL string
}

// NewVerifyHandler creates the verification handler set. publicURL, when
// non-empty, overrides per-request host detection for challenge links.
func NewVerifyHandler(t *ticket.Service, k *keys.Service, m *metrics.Metrics, publicURL string) *VerifyHandler {
	return &VerifyHandler{tickets: t, keys: k, metrics: m, publicURL: publicURL}
}

// Create issues a new ticket and the challenge URL for the end user.
func (h *VerifyHandler) Create(w http.ResponseWriter, r *http.Request) {
	keyID, ok := mw.GetKeyID(r)
	if !ok {
		response.Fail(w, http.StatusUnauthorized, "missing authentication context")
		return
	}

	var req struct {
		GroupID string `json:"group_id"`
		UserID  string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := h.tickets.Create(r.Context(), ticket.CreateParams{
		OwnerKeyID: keyID,
		GroupID:    req.GroupID,
		UserID:     req.UserID,
		IP:         mw.ClientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		failFromError(w, err)
		return
	}

	h.metrics.TicketCreated()
	response.OK(w, map[string]any{
		"ticket": t.Token,
		"url":    fmt.Sprintf("%s/v/%s", h.baseURL(r), t.Token),
		"expire": int(time.Until(t.ExpireAt) / time.Second),
	})
}

// Status reports the current state of a ticket to the challenge page.
func (h *VerifyHandler) Status(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "ticket")
	if token == "" {
		response.Fail(w, http.StatusBadRequest, "ticket is required")
		return
	}

	view, err := h.tickets.Status(r.Context(), token)
	if err != nil {
		failFromError(w, err)
		return
	}
	response.OK(w, view)
}

// Callback handles the challenge provider's result delivery. Repeat
// deliveries for the same ticket return the already assigned code.
func (h *VerifyHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticket string `json:"ticket"`
		captcha.Proof
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Ticket == "" || req.LotNumber == "" || req.CaptchaOutput == "" ||
		req.PassToken == "" || req.GenTime == "" {
		response.Fail(w, http.StatusBadRequest, "missing challenge proof fields")
		return
	}

	code, err := h.tickets.Complete(r.Context(), req.Ticket, req.Proof)
	if err != nil {
		if errors.Is(err, ticket.ErrChallengeRejected) {
			h.metrics.ChallengeResult(false)
		}
		failFromError(w, err)
		return
	}

	h.metrics.ChallengeResult(true)
	h.metrics.TicketVerified()
	response.OK(w, map[string]any{"code": code})
}

// Check consumes a code: at most one caller ever succeeds per code. On
// failure the response carries a diagnostic reason alongside the generic
// message.
func (h *VerifyHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GroupID string `json:"group_id"`
		UserID  string `json:"user_id"`
		Code    string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := h.tickets.Consume(r.Context(), req.GroupID, req.Code)
	if errors.Is(err, ticket.ErrAlreadyUsedOrInvalid) {
		h.metrics.ConsumeResult(false)
		reason := h.tickets.Diagnose(r.Context(), req.GroupID, req.Code)
		response.FailWithData(w, http.StatusBadRequest, "code invalid",
			map[string]any{"reason": reason})
		return
	}
	if err != nil {
		failFromError(w, err)
		return
	}

	h.metrics.ConsumeResult(true)
	response.OK(w, map[string]any{
		"user_id":  t.UserID,
		"group_id": t.GroupID,
	})
}

// Clean removes expired tickets, scoped to the caller's tenant unless the
// caller holds the default key.
func (h *VerifyHandler) Clean(w http.ResponseWriter, r *http.Request) {
	keyID, ok := mw.GetKeyID(r)
	if !ok {
		response.Fail(w, http.StatusUnauthorized, "missing authentication context")
		return
	}

	deleted, err := h.tickets.Cleanup(r.Context(), keyID, mw.GetIsDefault(r))
	if err != nil {
		failFromError(w, err)
		return
	}

	h.metrics.ObserveCleanup(deleted)
	response.OK(w, map[string]any{"deleted": deleted})
}

// ResetKey rotates the caller's own secret. Router mounts this behind
// RequireDefault: only the default key may rotate itself here.
func (h *VerifyHandler) ResetKey(w http.ResponseWriter, r *http.Request) {
	keyID, ok := mw.GetKeyID(r)
	if !ok {
		response.Fail(w, http.StatusUnauthorized, "missing authentication context")
		return
	}

	key, err := h.keys.Reset(r.Context(), keyID)
	if err != nil {
		failFromError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"id":         key.ID,
		"value":      key.Secret,
		"updated_at": key.UpdatedAt,
	})
}

func (h *VerifyHandler) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
