package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/keygate/internal/auth"
	"github.com/dukerupert/keygate/internal/metrics"
	"github.com/dukerupert/keygate/internal/model"
	"github.com/dukerupert/keygate/internal/session"
)

// Paths the gate sends rejected browsers to.
const (
	LoginPath    = "/login"
	ActivatePath = "/activate"
)

// AdminPassphraseHeader carries the admin passphrase for non-session callers.
const AdminPassphraseHeader = "X-Admin-Passphrase"

// Resolver reports an account's current entitlement.
type Resolver interface {
	Resolve(ctx context.Context, accountID int64) (model.Entitlement, error)
}

// RequireAuth admits only requests whose session is logged in.
// HTMX-aware: returns HX-Redirect header instead of 303 redirect for HTMX requests.
func RequireAuth(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !session.FromContext(r.Context()).Authenticated() {
				m.GateDecision("auth", metrics.DecisionDeny)
				deny(w, r, http.StatusUnauthorized, "authentication required", LoginPath)
				return
			}
			m.GateDecision("auth", metrics.DecisionAllow)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireEntitlement admits only accounts holding an unexpired entitlement.
// It must run after RequireAuth. The resolved snapshot is stored on the
// request's session for downstream handlers. Resolver failures deny.
func RequireEntitlement(resolver Resolver, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "gate")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := session.FromContext(r.Context())
			if !sess.Authenticated() {
				m.GateDecision("entitlement", metrics.DecisionDeny)
				deny(w, r, http.StatusUnauthorized, "authentication required", LoginPath)
				return
			}

			ent, err := resolver.Resolve(r.Context(), sess.Account.ID)
			if err != nil {
				m.GateDecision("entitlement", metrics.DecisionError)
				logger.Error("resolve entitlement", "account_id", sess.Account.ID, "error", err)
				writeError(w, http.StatusServiceUnavailable, "entitlement check unavailable")
				return
			}
			sess.SetEntitlement(ent)

			if !ent.HasEntitlement {
				m.GateDecision("entitlement", metrics.DecisionDeny)
				msg := "activation required"
				if ent.Expired {
					msg = "entitlement expired"
				}
				deny(w, r, http.StatusForbidden, msg, ActivatePath)
				return
			}
			m.GateDecision("entitlement", metrics.DecisionAllow)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin admits callers presenting the admin passphrase header or an
// admin session.
func RequireAdmin(passphrase string, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if offered := r.Header.Get(AdminPassphraseHeader); offered != "" {
				if auth.PassphraseMatches(passphrase, offered) {
					m.GateDecision("admin", metrics.DecisionAllow)
					next.ServeHTTP(w, r)
					return
				}
				m.GateDecision("admin", metrics.DecisionDeny)
				writeError(w, http.StatusUnauthorized, "invalid admin passphrase")
				return
			}

			sess := session.FromContext(r.Context())
			switch {
			case sess.IsAdmin():
				m.GateDecision("admin", metrics.DecisionAllow)
				next.ServeHTTP(w, r)
			case sess.Authenticated():
				m.GateDecision("admin", metrics.DecisionDeny)
				writeError(w, http.StatusForbidden, "forbidden")
			default:
				m.GateDecision("admin", metrics.DecisionDeny)
				writeError(w, http.StatusUnauthorized, "authentication required")
			}
		})
	}
}

// deny answers JSON clients with status and everyone else with a redirect.
func deny(w http.ResponseWriter, r *http.Request, status int, msg, location string) {
	switch {
	case wantsJSON(r):
		writeError(w, status, msg)
	case r.Header.Get("HX-Request") == "true":
		w.Header().Set("HX-Redirect", location)
		w.WriteHeader(http.StatusOK)
	default:
		http.Redirect(w, r, location, http.StatusSeeOther)
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
