// Package auth attaches game API credentials to outgoing requests.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Resinat/Coffer/internal/config"
	"github.com/Resinat/Coffer/internal/netutil"
)

// SessionCookieName is the legacy web session cookie.
const SessionCookieName = "POESESSID"

// ErrEmptyToken is returned when a token source yields nothing.
var ErrEmptyToken = errors.New("auth: empty token")

// Authorizer attaches credentials to an outgoing request.
type Authorizer interface {
	Authorize(req *http.Request) error
}

// TokenSource yields the current OAuth access token.
type TokenSource interface {
	Token() (string, error)
}

// StaticTokenSource always returns the same token.
type StaticTokenSource string

func (s StaticTokenSource) Token() (string, error) {
	if s == "" {
		return "", ErrEmptyToken
	}
	return string(s), nil
}

// FileTokenSource reads the token from a file and re-reads it whenever the
// file's modification time or size changes.
type FileTokenSource struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
	token   string
}

// NewFileTokenSource creates a token source backed by path.
func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{path: path}
}

func (f *FileTokenSource) Token() (string, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return "", fmt.Errorf("auth: stat token file: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token != "" && info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return f.token, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("auth: read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrEmptyToken
	}
	f.token = token
	f.modTime = info.ModTime()
	f.size = info.Size()
	return token, nil
}

// BearerAuthorizer sets "Authorization: Bearer <token>" on requests to the
// API domain.
type BearerAuthorizer struct {
	Source TokenSource
	Domain string
}

func (a *BearerAuthorizer) Authorize(req *http.Request) error {
	if !inDomain(req, a.Domain) {
		return nil
	}
	token, err := a.Source.Token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// SessionAuthorizer sends the legacy session cookie to the API domain.
type SessionAuthorizer struct {
	SessionID string
	Domain    string
}

func (a *SessionAuthorizer) Authorize(req *http.Request) error {
	if !inDomain(req, a.Domain) {
		return nil
	}
	if a.SessionID == "" {
		return fmt.Errorf("auth: %s is not set", SessionCookieName)
	}
	if _, err := req.Cookie(SessionCookieName); err == nil {
		return nil
	}
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: a.SessionID})
	return nil
}

// inDomain reports whether req targets the same registrable domain as
// domain, so credentials never leak to third-party hosts.
func inDomain(req *http.Request, domain string) bool {
	return req.URL != nil && netutil.SameSite(req.URL.Host, domain)
}

// FromConfig builds the authorizer for the configured API mode.
func FromConfig(cfg *config.EnvConfig) (Authorizer, error) {
	switch cfg.APIMode {
	case config.APIModeOAuth:
		var src TokenSource
		if cfg.OAuthTokenFile != "" {
			fileSrc := NewFileTokenSource(cfg.OAuthTokenFile)
			if _, err := fileSrc.Token(); err != nil {
				return nil, err
			}
			src = fileSrc
		} else {
			src = StaticTokenSource(cfg.OAuthToken)
		}
		return &BearerAuthorizer{Source: src, Domain: cfg.AuthDomain}, nil
	case config.APIModeLegacy:
		return &SessionAuthorizer{SessionID: cfg.SessionID, Domain: cfg.AuthDomain}, nil
	default:
		return nil, fmt.Errorf("auth: unsupported api mode %q", cfg.APIMode)
	}
}

// Transport authorizes every request before handing it to Base.
type Transport struct {
	Authorizer Authorizer
	Base       http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Authorizer == nil {
		return base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request.
	out := req.Clone(req.Context())
	if err := t.Authorizer.Authorize(out); err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	return base.RoundTrip(out)
}
