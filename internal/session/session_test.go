package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/keygate/internal/model"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{Secret: testSecret, TTL: time.Hour})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

// roundTrip saves s and returns a request carrying the resulting cookie.
func roundTrip(t *testing.T, m *Manager, s *Session) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := m.Save(rec, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	req := httptest.NewRequest("GET", "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestNewManagerWeakSecret(t *testing.T) {
	_, err := NewManager(Config{Secret: "short"})
	if !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("err = %v, want ErrWeakSecret", err)
	}
}

func TestLoadWithoutCookie(t *testing.T) {
	m := newTestManager(t)

	s := m.Load(httptest.NewRequest("GET", "/", nil))
	if s.Authenticated() {
		t.Error("expected anonymous session")
	}
}

func TestSaveAndLoad(t *testing.T) {
	m := newTestManager(t)

	s := &Session{}
	s.Login(&model.Account{ID: 42, Name: "Alice", Email: "alice@example.com", Role: model.RoleAdmin})
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	s.SetEntitlement(model.Entitlement{HasEntitlement: true, Plan: model.PlanShort, ExpiresAt: &exp})

	got := m.Load(roundTrip(t, m, s))
	if !got.Authenticated() {
		t.Fatal("expected authenticated session")
	}
	if got.Account.ID != 42 || got.Account.Email != "alice@example.com" {
		t.Errorf("account = %+v, want id 42 alice", got.Account)
	}
	if !got.IsAdmin() {
		t.Error("expected admin session")
	}
	if got.Entitlement == nil || got.Entitlement.Plan != model.PlanShort || !got.Entitlement.ExpiresAt.Equal(exp) {
		t.Errorf("entitlement = %+v, want short until %v", got.Entitlement, exp)
	}
	if got.Expiry().IsZero() {
		t.Error("expected expiry on loaded session")
	}
}

func TestCookieAttributes(t *testing.T) {
	m, err := NewManager(Config{Secret: testSecret, TTL: time.Hour, Secure: true})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	rec := httptest.NewRecorder()
	s := &Session{}
	s.Login(&model.Account{ID: 1})
	if err := m.Save(rec, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != CookieName || !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie = %+v, want httponly secure lax %s", c, CookieName)
	}
	if c.MaxAge <= 0 || c.MaxAge > 3600 {
		t.Errorf("max age = %d, want within 1h", c.MaxAge)
	}
}

func TestLoadTamperedCookie(t *testing.T) {
	m := newTestManager(t)

	s := &Session{}
	s.Login(&model.Account{ID: 1})
	req := roundTrip(t, m, s)
	c, _ := req.Cookie(CookieName)

	parts := strings.Split(c.Value, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))
	tampered := httptest.NewRequest("GET", "/", nil)
	tampered.AddCookie(&http.Cookie{Name: CookieName, Value: strings.Join(parts, ".")})

	if m.Load(tampered).Authenticated() {
		t.Error("tampered cookie should not authenticate")
	}
}

func TestLoadOtherSecret(t *testing.T) {
	m := newTestManager(t)
	other, _ := NewManager(Config{Secret: strings.Repeat("z", MinSecretLength)})

	s := &Session{}
	s.Login(&model.Account{ID: 1})
	if other.Load(roundTrip(t, m, s)).Authenticated() {
		t.Error("cookie signed with another secret should not authenticate")
	}
}

func TestFixedLifetime(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	m.now = func() time.Time { return now }

	s := &Session{}
	s.Login(&model.Account{ID: 1})
	req := roundTrip(t, m, s)
	firstExpiry := s.Expiry()

	// Re-saving later must not extend the session.
	now = now.Add(30 * time.Minute)
	loaded := m.Load(req)
	req = roundTrip(t, m, loaded)
	if !loaded.Expiry().Equal(firstExpiry.Truncate(time.Second)) {
		t.Errorf("expiry = %v, want %v", loaded.Expiry(), firstExpiry)
	}

	now = now.Add(31 * time.Minute)
	if m.Load(req).Authenticated() {
		t.Error("session should expire after its fixed lifetime")
	}
}

func TestDestroy(t *testing.T) {
	m := newTestManager(t)

	rec := httptest.NewRecorder()
	m.Destroy(rec)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 || cookies[0].Value != "" {
		t.Errorf("cookies = %+v, want one expired cookie", cookies)
	}
}

func TestMiddleware(t *testing.T) {
	m := newTestManager(t)
	s := &Session{}
	s.Login(&model.Account{ID: 9})
	req := roundTrip(t, m, s)

	var got *Session
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !got.Authenticated() || got.Account.ID != 9 {
		t.Errorf("session = %+v, want account 9", got)
	}
}
