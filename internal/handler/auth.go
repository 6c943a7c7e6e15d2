package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/dukerupert/keygate/internal/auth"
	"github.com/dukerupert/keygate/internal/model"
	"github.com/dukerupert/keygate/internal/session"
	"github.com/dukerupert/keygate/internal/store"
)

// bcrypt ignores input past 72 bytes.
const maxPasswordLength = 72

type AuthHandler struct {
	accounts store.Accounts
	sessions *session.Manager
	logger   *slog.Logger
}

func NewAuthHandler(accounts store.Accounts, sessions *session.Manager, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		sessions: sessions,
		logger:   logger,
	}
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r signupRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Email, validation.Required, is.Email, validation.Length(3, 254)),
		validation.Field(&r.Password, validation.Required, validation.Length(auth.MinPasswordLength, maxPasswordLength)),
	)
}

// Signup creates a member account and logs it in.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := normalizeEmail(req.Email)

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("signup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	acct, err := h.accounts.Create(r.Context(), strings.TrimSpace(req.Name), email, hash, model.RoleMember)
	if err != nil {
		if errors.Is(err, model.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		h.logger.Error("signup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if !h.startSession(w, r, acct) {
		return
	}
	h.logger.Info("account created", "account_id", acct.ID)
	writeJSON(w, http.StatusCreated, acct)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// Login checks credentials and starts a session. Unknown emails and wrong
// passwords get the same answer.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	acct, err := h.accounts.GetByEmail(r.Context(), normalizeEmail(req.Email))
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if acct == nil || !auth.CheckPassword(acct.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	if !h.startSession(w, r, acct) {
		return
	}
	h.logger.Info("login", "account_id", acct.ID)
	writeJSON(w, http.StatusOK, acct)
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Destroy(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, acct *model.Account) bool {
	sess := &session.Session{}
	sess.Login(acct)
	if err := h.sessions.Save(w, sess); err != nil {
		h.logger.Error("save session", "account_id", acct.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	return true
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
