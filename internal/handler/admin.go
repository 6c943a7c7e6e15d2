package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dukerupert/keygate/internal/events"
	"github.com/dukerupert/keygate/internal/model"
	"github.com/dukerupert/keygate/internal/store"
)

type AdminHandler struct {
	tokens store.Tokens
	events *events.Fanout
	logger *slog.Logger
}

func NewAdminHandler(tokens store.Tokens, ev *events.Fanout, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{tokens: tokens, events: ev, logger: logger}
}

// ListTokens returns every token, newest first.
func (h *AdminHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.tokens.List(r.Context())
	if err != nil {
		h.logger.Error("list tokens", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tokens == nil {
		tokens = []model.Token{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

// RevokeToken invalidates a token. Revoking an already revoked token is a
// no-op.
func (h *AdminHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := h.tokens.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("get token", "token_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}

	revoked, err := h.tokens.Revoke(r.Context(), id)
	if err != nil {
		h.logger.Error("revoke token", "token_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if revoked {
		h.events.Emit(r.Context(), events.FromToken(events.TokenRevoked, t))
		h.logger.Info("token revoked", "token_id", id)
	}
	w.WriteHeader(http.StatusNoContent)
}
