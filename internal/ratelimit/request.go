package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrMissingPolicy is returned when a reply lacks X-Rate-Limit-Policy.
	ErrMissingPolicy = errors.New("reply has no rate limit policy")
	// ErrClosed is returned for requests still pending when the limiter closes.
	ErrClosed = errors.New("rate limiter closed")
)

// StatusError is the completion error for a non-2xx, non-violation reply.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.StatusCode, e.URL)
}

var requestCounter atomic.Uint64

// Request is one rate limited GET.
type Request struct {
	ID          uint64 // set when the request enters a manager queue
	Endpoint    string
	HTTPRequest *http.Request
	Reply       *Reply
}

func newRequest(endpoint string, req *http.Request) *Request {
	return &Request{
		Endpoint:    endpoint,
		HTTPRequest: req,
		Reply:       NewReply(),
	}
}

// Response is the outcome delivered to a Reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        *url.URL
	Err        error
	ReceivedAt time.Time
}

// OK reports whether the response is a transport-level and HTTP success.
func (r *Response) OK() bool {
	return r != nil && r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Reply is a one-shot completion handle.
type Reply struct {
	mu        sync.Mutex
	done      chan struct{}
	resp      *Response
	callbacks []func(*Response)
}

// NewReply returns an incomplete Reply. Submitters outside this package
// use it together with Complete.
func NewReply() *Reply {
	return &Reply{done: make(chan struct{})}
}

// Done is closed when the reply completes.
func (r *Reply) Done() <-chan struct{} { return r.done }

// Response returns the result, or nil if the reply has not completed.
func (r *Reply) Response() *Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resp
}

// OnComplete registers fn to run once with the final response. If the reply
// already completed, fn runs immediately on the calling goroutine.
func (r *Reply) OnComplete(fn func(*Response)) {
	r.mu.Lock()
	if r.resp != nil {
		resp := r.resp
		r.mu.Unlock()
		fn(resp)
		return
	}
	r.callbacks = append(r.callbacks, fn)
	r.mu.Unlock()
}

// Wait blocks until completion or ctx cancellation.
func (r *Reply) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-r.done:
		return r.Response(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Complete delivers resp. Only the first call has an effect.
func (r *Reply) Complete(resp *Response) bool {
	r.mu.Lock()
	if r.resp != nil {
		r.mu.Unlock()
		return false
	}
	r.resp = resp
	callbacks := r.callbacks
	r.callbacks = nil
	close(r.done)
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(resp)
	}
	return true
}

// EndpointFromURL reduces a URL to scheme, host and path.
func EndpointFromURL(u *url.URL) string {
	return u.Scheme + "://" + u.Host + u.Path
}
