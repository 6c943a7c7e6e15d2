// Package session keeps per-visitor state in a signed cookie.
//
// The cookie holds an HS256 JWT whose claims carry the login flag, a
// snapshot of the account and the last resolved entitlement. Nothing is
// stored server side; a session ends when the cookie is cleared or the
// token's fixed lifetime runs out.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dukerupert/keygate/internal/model"
)

const CookieName = "keygate_session"

// MinSecretLength is the shortest accepted signing secret, in bytes.
const MinSecretLength = 32

var ErrWeakSecret = errors.New("session secret too short")

// Account is the slice of an account kept in the session.
type Account struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type Session struct {
	LoggedIn    bool               `json:"logged_in"`
	Account     *Account           `json:"account,omitempty"`
	Entitlement *model.Entitlement `json:"entitlement,omitempty"`

	expiresAt time.Time
}

// Authenticated reports whether the session belongs to a logged in account.
func (s *Session) Authenticated() bool {
	return s != nil && s.LoggedIn && s.Account != nil
}

// IsAdmin reports whether the session account holds the admin role.
func (s *Session) IsAdmin() bool {
	return s.Authenticated() && s.Account.Role == model.RoleAdmin
}

// Login marks the session as belonging to a.
func (s *Session) Login(a *model.Account) {
	s.LoggedIn = true
	s.Account = &Account{ID: a.ID, Name: a.Name, Email: a.Email, Role: a.Role}
	s.Entitlement = nil
	s.expiresAt = time.Time{}
}

// SetEntitlement records the latest resolved entitlement.
func (s *Session) SetEntitlement(e model.Entitlement) {
	s.Entitlement = &e
}

// Expiry is when the session stops being accepted. Zero for sessions
// that were never saved.
func (s *Session) Expiry() time.Time {
	return s.expiresAt
}

type claims struct {
	Session
	jwt.RegisteredClaims
}

type Config struct {
	Secret string
	TTL    time.Duration
	Secure bool
}

// Manager signs, verifies and writes session cookies.
type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakSecret, MinSecretLength)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Manager{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		secure: cfg.Secure,
		now:    time.Now,
	}, nil
}

// Load returns the session carried by r. A missing, tampered or expired
// cookie yields an empty, logged out session.
func (m *Manager) Load(r *http.Request) *Session {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return &Session{}
	}
	s, err := m.decode(cookie.Value)
	if err != nil {
		return &Session{}
	}
	return s
}

func (m *Manager) decode(raw string) (*Session, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	s := c.Session
	s.expiresAt = c.RegisteredClaims.ExpiresAt.Time
	return &s, nil
}

func (m *Manager) encode(s *Session) (string, error) {
	now := m.now()
	if s.expiresAt.IsZero() {
		s.expiresAt = now.Add(m.ttl)
	}
	c := claims{
		Session: *s,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// Save writes s to the response. The session keeps the expiry it was
// first saved with.
func (m *Manager) Save(w http.ResponseWriter, s *Session) error {
	value, err := m.encode(s)
	if err != nil {
		return err
	}
	maxAge := int(s.expiresAt.Sub(m.now()).Seconds())
	if maxAge <= 0 {
		m.Destroy(w)
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Destroy clears the session cookie.
func (m *Manager) Destroy(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
