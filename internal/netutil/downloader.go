package netutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxDownloadBytes caps a response body. Stat translation tables run to
// tens of megabytes.
const MaxDownloadBytes = 256 << 20

// Downloader fetches a remote resource in full.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// StatusError is a response with a status other than 200.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// Retryable reports whether the server asked to be tried again later.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as one that repeating the request cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// HTTPDownloader issues plain GET requests. Timeout and UserAgent are
// consulted per request so runtime config edits apply immediately. Game API
// calls do not use it; those go through the rate limiter.
type HTTPDownloader struct {
	Client    *http.Client
	Timeout   func() time.Duration // applies only when ctx has no deadline
	UserAgent func() string
	MaxBytes  int64
}

// NewHTTPDownloader returns a downloader with its own client. Callers may
// replace Client.Transport before first use.
func NewHTTPDownloader(timeout func() time.Duration, userAgent func() string) *HTTPDownloader {
	if timeout == nil || userAgent == nil {
		panic("netutil: NewHTTPDownloader requires timeout and userAgent funcs")
	}
	return &HTTPDownloader{
		Client:    &http.Client{},
		Timeout:   timeout,
		UserAgent: userAgent,
		MaxBytes:  MaxDownloadBytes,
	}
}

func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		if t := d.Timeout(); t > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t)
			defer cancel()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Permanent(err)
	}
	if ua := d.UserAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	limit := d.MaxBytes
	if limit <= 0 {
		limit = MaxDownloadBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("GET %s: read body: %w", url, err)
	}
	if int64(len(body)) > limit {
		return nil, Permanent(fmt.Errorf("GET %s: body exceeds %d bytes", url, limit))
	}
	return body, nil
}
