package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/dukerupert/keygate/internal/entitlement"
	"github.com/dukerupert/keygate/internal/events"
	"github.com/dukerupert/keygate/internal/metrics"
	"github.com/dukerupert/keygate/internal/model"
	"github.com/dukerupert/keygate/internal/session"
)

// msgBadToken is shown for unknown, revoked and already claimed tokens alike.
const msgBadToken = "invalid or already used token"

// Mailer delivers issued tokens to their recipients.
type Mailer interface {
	Configured() bool
	SendToken(ctx context.Context, toEmail, token string, plan model.Plan, expiresAt *time.Time) error
}

// ClaimableFinder looks up tokens that can still be activated.
type ClaimableFinder interface {
	FindClaimable(ctx context.Context, token string) (*model.Token, error)
}

type TokenHandler struct {
	issuer    *entitlement.Issuer
	activator *entitlement.Activator
	resolver  *entitlement.Resolver
	tokens    ClaimableFinder
	sessions  *session.Manager
	mailer    Mailer
	events    *events.Fanout
	metrics   *metrics.Metrics
	now       entitlement.Clock
	logger    *slog.Logger
}

func NewTokenHandler(
	issuer *entitlement.Issuer,
	activator *entitlement.Activator,
	resolver *entitlement.Resolver,
	tokens ClaimableFinder,
	sessions *session.Manager,
	mailer Mailer,
	ev *events.Fanout,
	m *metrics.Metrics,
	now entitlement.Clock,
	logger *slog.Logger,
) *TokenHandler {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TokenHandler{
		issuer:    issuer,
		activator: activator,
		resolver:  resolver,
		tokens:    tokens,
		sessions:  sessions,
		mailer:    mailer,
		events:    ev,
		metrics:   m,
		now:       now,
		logger:    logger,
	}
}

type issueRequest struct {
	Plan  model.Plan `json:"plan"`
	Email string     `json:"email"`
}

func (r issueRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Plan, validation.Required),
		validation.Field(&r.Email, is.Email, validation.Length(0, 254)),
	)
}

type issueResponse struct {
	entitlement.Issued
	Emailed bool `json:"emailed"`
}

// Issue creates a token for the requested plan and mails it to the email
// hint when a mailer is configured.
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)

	issued, err := h.issuer.Issue(r.Context(), req.Plan, req.Email)
	if err != nil {
		if errors.Is(err, entitlement.ErrInvalidPlan) {
			writeError(w, http.StatusBadRequest, "invalid plan")
			return
		}
		h.logger.Error("issue token", "plan", req.Plan, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.metrics.TokenIssued(issued.Plan)
	h.events.Emit(r.Context(), events.Event{
		Type:      events.TokenIssued,
		TokenID:   issued.ID,
		Plan:      issued.Plan,
		ExpiresAt: issued.ExpiresAt,
	})
	h.logger.Info("token issued", "token_id", issued.ID, "plan", issued.Plan)

	resp := issueResponse{Issued: issued}
	if req.Email != "" && h.mailer != nil && h.mailer.Configured() {
		if err := h.mailer.SendToken(r.Context(), req.Email, issued.Token, issued.Plan, issued.ExpiresAt); err != nil {
			h.logger.Warn("email token", "token_id", issued.ID, "error", err)
		} else {
			resp.Emailed = true
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

type tokenRequest struct {
	Token string `json:"token"`
}

// Activate claims a token for the logged in account.
func (h *TokenHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess := session.FromContext(r.Context())
	acct := sess.Account

	act, err := h.activator.Activate(r.Context(), strings.TrimSpace(req.Token), acct.ID, acct.Email)
	switch {
	case err == nil:
	case errors.Is(err, entitlement.ErrTokenNotFound):
		h.metrics.Activation(metrics.ResultRejected)
		if errors.Is(err, entitlement.ErrAlreadyClaimed) {
			h.logger.Info("activation lost to an earlier claim", "account_id", acct.ID)
		}
		writeError(w, http.StatusBadRequest, msgBadToken)
		return
	default:
		h.metrics.Activation(metrics.ResultError)
		h.logger.Error("activate token", "account_id", acct.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.metrics.Activation(metrics.ResultActivated)
	owner := acct.ID
	h.events.Emit(r.Context(), events.Event{
		Type:      events.TokenActivated,
		TokenID:   act.TokenID,
		Plan:      act.Plan,
		OwnerID:   &owner,
		ExpiresAt: act.ExpiresAt,
	})
	h.logger.Info("token activated", "token_id", act.TokenID, "account_id", acct.ID, "plan", act.Plan)

	ent := model.Entitlement{Plan: act.Plan, ExpiresAt: act.ExpiresAt}
	if act.ExpiresAt != nil && !act.ExpiresAt.After(h.now()) {
		ent.Expired = true
	} else {
		ent.HasEntitlement = true
	}
	sess.SetEntitlement(ent)
	if err := h.sessions.Save(w, sess); err != nil {
		h.logger.Error("save session", "error", err)
	}

	writeJSON(w, http.StatusOK, act)
}

// Entitlement reports the caller's current entitlement, resolved fresh.
func (h *TokenHandler) Entitlement(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	ent, err := h.resolver.Resolve(r.Context(), sess.Account.ID)
	if err != nil {
		h.logger.Error("resolve entitlement", "account_id", sess.Account.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "entitlement check unavailable")
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

type validateResponse struct {
	Valid     bool       `json:"valid"`
	Plan      model.Plan `json:"plan,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired,omitempty"`
}

// Validate reports whether a token can still be activated without claiming it.
func (h *TokenHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	code := strings.TrimSpace(req.Token)
	if code == "" {
		writeJSON(w, http.StatusOK, validateResponse{})
		return
	}

	t, err := h.tokens.FindClaimable(r.Context(), code)
	if err != nil {
		h.logger.Error("validate token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if t == nil {
		writeJSON(w, http.StatusOK, validateResponse{})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:     true,
		Plan:      t.Plan,
		ExpiresAt: t.ExpiresAt,
		Expired:   t.ExpiredAt(h.now()),
	})
}

// Protected is the sample resource behind the access gate. It reads the
// entitlement the gate resolved for this request.
func (h *TokenHandler) Protected(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	resp := map[string]any{
		"message": "access granted",
		"account": sess.Account.Email,
	}
	if ent := sess.Entitlement; ent != nil {
		resp["plan"] = ent.Plan
		resp["expires_at"] = ent.ExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}
