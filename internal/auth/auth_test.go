package auth

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Resinat/Coffer/internal/config"
)

func newGet(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestBearerAuthorizer_ScopedToDomain(t *testing.T) {
	a := &BearerAuthorizer{Source: StaticTokenSource("tok-1"), Domain: "pathofexile.com"}

	req := newGet(t, "https://api.pathofexile.com/stash/Standard")
	if err := a.Authorize(req); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tok-1" {
		t.Fatalf("Authorization: got %q", got)
	}

	other := newGet(t, "https://raw.githubusercontent.com/brather1ng/RePoE/master/RePoE/data/base_items.json")
	if err := a.Authorize(other); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if got := other.Header.Get("Authorization"); got != "" {
		t.Fatalf("token leaked to foreign host: %q", got)
	}
}

func TestBearerAuthorizer_EmptyToken(t *testing.T) {
	a := &BearerAuthorizer{Source: StaticTokenSource(""), Domain: "pathofexile.com"}
	err := a.Authorize(newGet(t, "https://api.pathofexile.com/character"))
	if !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
}

func TestSessionAuthorizer(t *testing.T) {
	a := &SessionAuthorizer{SessionID: "abc123", Domain: "pathofexile.com"}

	req := newGet(t, "https://www.pathofexile.com/character-window/get-characters")
	if err := a.Authorize(req); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	c, err := req.Cookie(SessionCookieName)
	if err != nil || c.Value != "abc123" {
		t.Fatalf("cookie: %v %v", c, err)
	}

	// Authorizing a retried clone must not duplicate the cookie.
	if err := a.Authorize(req); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if n := len(req.Cookies()); n != 1 {
		t.Fatalf("cookies: got %d, want 1", n)
	}

	foreign := newGet(t, "https://example.com/")
	_ = a.Authorize(foreign)
	if len(foreign.Cookies()) != 0 {
		t.Fatal("session cookie leaked to foreign host")
	}
}

func TestFileTokenSource_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("first\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	src := NewFileTokenSource(path)

	tok, err := src.Token()
	if err != nil || tok != "first" {
		t.Fatalf("Token: %q %v", tok, err)
	}

	if err := os.WriteFile(path, []byte("second-token"), 0o600); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	tok, err = src.Token()
	if err != nil || tok != "second-token" {
		t.Fatalf("Token after change: %q %v", tok, err)
	}
}

func TestFileTokenSource_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewFileTokenSource(filepath.Join(dir, "missing")).Token(); err == nil {
		t.Fatal("expected error for missing file")
	}

	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileTokenSource(empty).Token(); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	a, err := FromConfig(&config.EnvConfig{APIMode: config.APIModeOAuth, OAuthToken: "t", AuthDomain: "pathofexile.com"})
	if err != nil {
		t.Fatalf("oauth: %v", err)
	}
	if _, ok := a.(*BearerAuthorizer); !ok {
		t.Fatalf("oauth: got %T", a)
	}

	a, err = FromConfig(&config.EnvConfig{APIMode: config.APIModeLegacy, SessionID: "s", AuthDomain: "pathofexile.com"})
	if err != nil {
		t.Fatalf("legacy: %v", err)
	}
	if _, ok := a.(*SessionAuthorizer); !ok {
		t.Fatalf("legacy: got %T", a)
	}

	if _, err := FromConfig(&config.EnvConfig{APIMode: config.APIModeOAuth, OAuthTokenFile: "/nonexistent/token"}); err == nil {
		t.Fatal("expected error for unreadable token file")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestTransport_AuthorizesCloneOnly(t *testing.T) {
	var seen *http.Request
	tr := &Transport{
		Authorizer: &SessionAuthorizer{SessionID: "abc123", Domain: "pathofexile.com"},
		Base: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			seen = req
			return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
		}),
	}

	req := newGet(t, "https://www.pathofexile.com/")
	if _, err := tr.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if c, err := seen.Cookie(SessionCookieName); err != nil || c.Value != "abc123" {
		t.Fatalf("forwarded request cookie: %v %v", c, err)
	}
	if _, err := req.Cookie(SessionCookieName); err == nil {
		t.Fatal("caller's request was modified")
	}
}

func TestTransport_AuthorizeError(t *testing.T) {
	tr := &Transport{
		Authorizer: &BearerAuthorizer{Source: StaticTokenSource(""), Domain: "pathofexile.com"},
		Base: roundTripFunc(func(*http.Request) (*http.Response, error) {
			t.Fatal("base transport should not be called")
			return nil, nil
		}),
	}
	if _, err := tr.RoundTrip(newGet(t, "https://api.pathofexile.com/character")); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
}
