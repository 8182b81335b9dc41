// Package httpapi is the HTTP surface of the billing service: checkout,
// webhook intake, post-checkout confirmation, the entitlement read model,
// and the ops endpoints.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"reverie/internal/auth"
	"reverie/internal/billing"
	"reverie/internal/config"
	"reverie/internal/entitlements"
	"reverie/internal/guard"
	"reverie/internal/store"
	"reverie/internal/stripeapi"
)

// BillingService is the slice of the billing package the handlers call,
// implemented by *billing.Service and by fakes in tests.
type BillingService interface {
	CreateCheckout(ctx context.Context, principal auth.Principal, req billing.CheckoutRequest) (*billing.CheckoutResult, error)
	ProcessWebhook(ctx context.Context, payload []byte, signatureHeader string) error
	ConfirmCheckout(ctx context.Context, callerUserID, sessionID string) (*billing.Confirmation, error)
	ListPrices(ctx context.Context) ([]billing.PriceInfo, error)
}

type Handler struct {
	Config  config.Config
	Store   *store.Store
	Auth    *auth.Service
	Billing BillingService
	Guard   *guard.Guard
	Log     zerolog.Logger
}

func NewHandler(cfg config.Config, st *store.Store, authSvc *auth.Service, billingSvc BillingService, g *guard.Guard, log zerolog.Logger) *Handler {
	return &Handler{
		Config:  cfg,
		Store:   st,
		Auth:    authSvc,
		Billing: billingSvc,
		Guard:   g,
		Log:     log.With().Str("component", "httpapi").Logger(),
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/billing/checkout", h.handleCheckout)
	mux.HandleFunc("/v1/billing/webhook/stripe", h.handleStripeWebhook)
	mux.HandleFunc("/v1/billing/confirm", h.handleConfirm)
	mux.HandleFunc("/v1/billing/prices", h.handlePrices)
	mux.HandleFunc("/v1/billing/entitlement", h.handleEntitlement)
	mux.HandleFunc("/v1/csrf", h.handleIssueCSRF)
	mux.HandleFunc("/v1/admin/webhook-events", h.handleListWebhookEvents)
}

// CORS wraps the full route table. Matching origins are echoed back;
// preflights are answered without reaching the handlers.
func (h *Handler) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" && h.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-CSRF-Token, X-API-Key")
			w.Header().Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) originAllowed(origin string) bool {
	if h.Config.Dev.Mode && len(h.Config.Security.AllowOrigins) == 0 {
		return true
	}
	for _, allowed := range h.Config.Security.AllowOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principal, err := h.Auth.AuthenticateRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Guard.AllowRequest(r.Context(), principal.UserID); err != nil {
		h.writeError(w, err)
		return
	}

	body, err := readBody(r)
	if err != nil {
		h.writeError(w, errBadRequest("failed to read request body"))
		return
	}
	var req struct {
		PriceID    string `json:"price_id"`
		Mode       string `json:"mode"`
		SuccessURL string `json:"success_url"`
		CancelURL  string `json:"cancel_url"`
		CSRFToken  string `json:"csrf_token"`
	}
	if err := validateBody(checkoutSchema, body, &req); err != nil {
		h.writeError(w, errBadRequest(err.Error()))
		return
	}
	if err := h.Guard.CheckCSRFToken(r.Context(), principal.UserID, csrfToken(r, req.CSRFToken)); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.Billing.CreateCheckout(r.Context(), principal, billing.CheckoutRequest{
		PriceID:    req.PriceID,
		Mode:       req.Mode,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.Billing == nil {
		h.writeError(w, errors.New("billing not configured"))
		return
	}
	payload, err := readBody(r)
	if err != nil {
		h.writeError(w, errBadRequest("failed to read payload"))
		return
	}

	err = h.Billing.ProcessWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
	case errors.Is(err, stripeapi.ErrInvalidSignature), errors.Is(err, billing.ErrValidation):
		h.writeError(w, errBadRequest(err.Error()))
	default:
		// Non-2xx makes Stripe redeliver.
		h.Log.Error().Err(err).Msg("webhook processing failed")
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "webhook processing failed"))
	}
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principal, err := h.Auth.AuthenticateRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Guard.AllowRequest(r.Context(), principal.UserID); err != nil {
		h.writeError(w, err)
		return
	}

	body, err := readBody(r)
	if err != nil {
		h.writeError(w, errBadRequest("failed to read request body"))
		return
	}
	var req struct {
		SessionID string `json:"sessionId"`
		UserID    string `json:"userId"`
		CSRFToken string `json:"csrf_token"`
	}
	if err := validateBody(confirmSchema, body, &req); err != nil {
		h.writeError(w, errBadRequest(err.Error()))
		return
	}
	// The body's userId is advisory; ownership is checked against the token.
	if req.UserID != "" && req.UserID != principal.UserID {
		h.writeError(w, billing.ErrForbidden)
		return
	}
	if err := h.Guard.CheckCSRFToken(r.Context(), principal.UserID, csrfToken(r, req.CSRFToken)); err != nil {
		h.writeError(w, err)
		return
	}

	confirmation, err := h.Billing.ConfirmCheckout(r.Context(), principal.UserID, req.SessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmation)
}

func (h *Handler) handlePrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.Guard.AllowRequest(r.Context(), clientKey(r)); err != nil {
		h.writeError(w, err)
		return
	}
	prices, err := h.Billing.ListPrices(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if prices == nil {
		prices = []billing.PriceInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}

func (h *Handler) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principal, err := h.Auth.AuthenticateRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	ent, err := h.Store.GetEntitlement(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			ent = store.Entitlement{UserID: principal.UserID, Status: "not_started"}
		} else {
			h.writeError(w, err)
			return
		}
	}
	summary := entitlements.Summarize(nowOrDefault(h.Auth), ent, h.Config.Billing.PastDueGraceDays)
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleIssueCSRF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principal, err := h.Auth.AuthenticateRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Guard.AllowRequest(r.Context(), principal.UserID); err != nil {
		h.writeError(w, err)
		return
	}

	token, ttl, err := h.Guard.IssueCSRFToken(r.Context(), principal.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(ttl.Seconds()),
	})
}

func (h *Handler) handleListWebhookEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.isBootstrapAdmin(r) {
		h.writeError(w, auth.ErrForbidden)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	events, err := h.Store.ListWebhookEvents(r.Context(), strings.TrimSpace(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		item := map[string]any{
			"provider":    ev.Provider,
			"event_id":    ev.ExternalEventID,
			"event_type":  ev.EventType,
			"status":      ev.Status,
			"received_at": ev.ReceivedAt,
		}
		if ev.Error != "" {
			item["error"] = ev.Error
		}
		if ev.ProcessedAt.Valid {
			item["processed_at"] = ev.ProcessedAt.Time
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (h *Handler) isBootstrapAdmin(r *http.Request) bool {
	key := strings.TrimSpace(h.Config.Security.AdminAPIKey)
	return key != "" && strings.TrimSpace(r.Header.Get("X-API-Key")) == key
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var rateErr *guard.RateLimitError
	switch {
	case errors.Is(err, billing.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody("validation_failed", err.Error()))
	case errors.Is(err, auth.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "authentication required"))
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, billing.ErrForbidden),
		errors.Is(err, guard.ErrCSRFMissing), errors.Is(err, guard.ErrCSRFInvalid), errors.Is(err, guard.ErrCSRFExpired):
		writeJSON(w, http.StatusForbidden, errorBody("forbidden", err.Error()))
	case errors.Is(err, billing.ErrDuplicateSubscription):
		writeJSON(w, http.StatusConflict, errorBody("duplicate_subscription", err.Error()))
	case errors.Is(err, billing.ErrNotSettled):
		writeJSON(w, http.StatusBadRequest, errorBody("payment_not_settled", err.Error()))
	case errors.As(err, &rateErr):
		seconds := int(rateErr.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, errorBody("rate_limited", "too many requests"))
	default:
		var badReq *badRequestError
		if errors.As(err, &badReq) {
			writeJSON(w, http.StatusBadRequest, errorBody("bad_request", badReq.msg))
			return
		}
		h.Log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "internal error"))
	}
}

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func errBadRequest(msg string) error { return &badRequestError{msg: msg} }

func errorBody(code, message string) map[string]any {
	return map[string]any{"error": map[string]string{"code": code, "message": message}}
}

// csrfToken prefers the header the SPA sends, falling back to the body field.
func csrfToken(r *http.Request, bodyToken string) string {
	if header := strings.TrimSpace(r.Header.Get("X-CSRF-Token")); header != "" {
		return header
	}
	return strings.TrimSpace(bodyToken)
}

// clientKey identifies unauthenticated callers for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func nowOrDefault(authSvc *auth.Service) time.Time {
	if authSvc != nil && authSvc.Now != nil {
		return authSvc.Now()
	}
	return time.Now().UTC()
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
