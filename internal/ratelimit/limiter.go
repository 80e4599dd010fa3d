package ratelimit

import (
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// DefaultStatusInterval is how often pause status is re-emitted while paused.
const DefaultStatusInterval = time.Second

// Options configures a Limiter.
type Options struct {
	Doer       Doer
	Authorizer Authorizer
	Clock      Clock
	Observer   Observer

	// UserAgent is read on every Submit so runtime config changes apply.
	UserAgent func() string

	// Strict makes policy discovery failures fatal through OnFatal.
	Strict  bool
	OnFatal func(error)

	StatusInterval time.Duration
}

// Pause describes the earliest upcoming send across all busy managers.
type Pause struct {
	Seconds int       `json:"seconds"`
	Policy  string    `json:"policy,omitempty"`
	Until   time.Time `json:"until,omitempty"`
}

// Limiter routes requests to the Manager of the policy that governs their
// endpoint. Unknown endpoints are probed with a HEAD request first.
type Limiter struct {
	opts Options

	// mu guards probes, endpointsByPolicy and every write to the two maps.
	mu                sync.Mutex
	managerByPolicy   *xsync.Map[string, *Manager]
	managerByEndpoint *xsync.Map[string, *Manager]
	endpointsByPolicy map[string][]string
	probes            map[string][]*Request
	closed            atomic.Bool

	statusMu  sync.Mutex
	ticker    Timer
	lastPause Pause
}

// New creates a Limiter.
func New(opts Options) *Limiter {
	if opts.Doer == nil {
		panic("ratelimit: New requires non-nil Doer")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	return &Limiter{
		opts:              opts,
		managerByPolicy:   xsync.NewMap[string, *Manager](),
		managerByEndpoint: xsync.NewMap[string, *Manager](),
		endpointsByPolicy: make(map[string][]string),
		probes:            make(map[string][]*Request),
	}
}

// Submit schedules a GET for endpoint. The returned Reply completes exactly
// once, with the final response of the request.
func (l *Limiter) Submit(endpoint string, req *http.Request) *Reply {
	if l.opts.UserAgent != nil {
		if ua := l.opts.UserAgent(); ua != "" {
			req.Header.Set("User-Agent", ua)
		}
	}
	r := newRequest(endpoint, req)

	if m, ok := l.managerByEndpoint.Load(endpoint); ok {
		m.QueueRequest(r)
		return r.Reply
	}

	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		r.Reply.Complete(&Response{Err: ErrClosed, URL: req.URL})
		return r.Reply
	}
	if m, ok := l.managerByEndpoint.Load(endpoint); ok {
		l.mu.Unlock()
		m.QueueRequest(r)
		return r.Reply
	}
	waiters, probing := l.probes[endpoint]
	l.probes[endpoint] = append(waiters, r)
	l.mu.Unlock()

	if !probing {
		log.Printf("[ratelimit] discovering policy for endpoint %s", endpoint)
		go l.probe(endpoint, req)
	}
	return r.Reply
}

func (l *Limiter) probe(endpoint string, orig *http.Request) {
	head, err := http.NewRequestWithContext(orig.Context(), http.MethodHead, orig.URL.String(), nil)
	if err != nil {
		l.failProbe(endpoint, fmt.Errorf("build probe: %w", err))
		return
	}
	head.Header = orig.Header.Clone()
	if l.opts.Authorizer != nil {
		if err := l.opts.Authorizer.Authorize(head); err != nil {
			l.failProbe(endpoint, fmt.Errorf("authorize probe: %w", err))
			return
		}
	}

	resp, err := l.opts.Doer.Do(head)
	if err != nil {
		l.failProbe(endpoint, fmt.Errorf("probe %s: %w", endpoint, err))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.Header.Get(headerPolicy) == "" {
		l.failProbe(endpoint, fmt.Errorf("probe %s (HTTP %d): %w", endpoint, resp.StatusCode, ErrMissingPolicy))
		return
	}
	if _, err := ParsePolicy(resp.Header); err != nil {
		l.failProbe(endpoint, fmt.Errorf("probe %s: %w", endpoint, err))
		return
	}
	l.setupEndpoint(endpoint, resp.Header)
}

// setupEndpoint binds endpoint to the manager of the probed policy and
// hands it every waiting request in submission order. The endpoint mapping
// is published only after the waiters are queued so later submissions
// cannot overtake them.
func (l *Limiter) setupEndpoint(endpoint string, header http.Header) {
	policyName := header.Get(headerPolicy)

	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		return
	}
	m := l.getManagerLocked(policyName)
	if err := m.Update(header); err != nil {
		l.mu.Unlock()
		l.failProbe(endpoint, err)
		return
	}
	waiters := l.probes[endpoint]
	delete(l.probes, endpoint)
	for _, r := range waiters {
		m.QueueRequest(r)
	}
	l.managerByEndpoint.Store(endpoint, m)
	l.endpointsByPolicy[policyName] = append(l.endpointsByPolicy[policyName], endpoint)
	l.mu.Unlock()

	log.Printf("[ratelimit] endpoint %s is governed by policy %s", endpoint, policyName)
	l.sendStatusUpdate()
}

func (l *Limiter) getManagerLocked(policyName string) *Manager {
	if m, ok := l.managerByPolicy.Load(policyName); ok {
		return m
	}
	m := NewManager(policyName, ManagerOptions{
		Doer:       l.opts.Doer,
		Authorizer: l.opts.Authorizer,
		Clock:      l.opts.Clock,
		Observer:   l.opts.Observer,
		OnChange:   l.sendStatusUpdate,
		OnFatal:    l.fatal,
	})
	l.managerByPolicy.Store(policyName, m)
	log.Printf("[ratelimit] created manager for policy %s", policyName)
	return m
}

func (l *Limiter) failProbe(endpoint string, err error) {
	log.Printf("[ratelimit] error: cannot schedule requests for %s: %v", endpoint, err)

	l.mu.Lock()
	waiters := l.probes[endpoint]
	delete(l.probes, endpoint)
	l.mu.Unlock()

	for _, r := range waiters {
		r.Reply.Complete(&Response{Err: err, URL: r.HTTPRequest.URL, ReceivedAt: l.opts.Clock.Now()})
	}
	l.fatal(err)
}

func (l *Limiter) fatal(err error) {
	if l.opts.Strict && l.opts.OnFatal != nil {
		l.opts.OnFatal(err)
	}
}

// sendStatusUpdate recomputes the pause across busy managers, notifies the
// observer on change, and keeps a periodic tick alive while paused.
func (l *Limiter) sendStatusUpdate() {
	now := l.opts.Clock.Now()
	var pause Pause
	l.managerByPolicy.Range(func(name string, m *Manager) bool {
		next, busy := m.Pending()
		if !busy {
			return true
		}
		if pause.Policy == "" || next.Before(pause.Until) {
			pause.Policy = name
			pause.Until = next
		}
		return true
	})
	if pause.Policy != "" {
		pause.Seconds = int(math.Ceil(pause.Until.Sub(now).Seconds()))
		if pause.Seconds <= 0 {
			pause = Pause{}
		}
	}

	l.statusMu.Lock()
	if pause.Seconds > 0 {
		if l.ticker == nil && !l.closed.Load() {
			l.ticker = l.opts.Clock.AfterFunc(l.opts.StatusInterval, l.tick)
		}
	} else if l.ticker != nil {
		l.ticker.Stop()
		l.ticker = nil
	}
	prev := l.lastPause
	l.lastPause = pause
	l.statusMu.Unlock()

	if pause.Seconds == prev.Seconds && pause.Policy == prev.Policy {
		return
	}
	if pause.Seconds > 0 && prev.Seconds == 0 {
		log.Printf("[ratelimit] paused for %ds by policy %s", pause.Seconds, pause.Policy)
	}
	l.opts.Observer.Paused(pause)
}

func (l *Limiter) tick() {
	l.statusMu.Lock()
	l.ticker = nil
	l.statusMu.Unlock()
	l.sendStatusUpdate()
}

// CurrentPause returns the most recently computed pause.
func (l *Limiter) CurrentPause() Pause {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	return l.lastPause
}

// Snapshot lists every manager, sorted by policy name.
func (l *Limiter) Snapshot() []ManagerStatus {
	var out []ManagerStatus
	l.managerByPolicy.Range(func(name string, m *Manager) bool {
		out = append(out, m.Status())
		return true
	})
	l.mu.Lock()
	for i := range out {
		out[i].Endpoints = append([]string(nil), l.endpointsByPolicy[out[i].Policy]...)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Policy < out[j].Policy })
	return out
}

// Close fails all pending work with ErrClosed and stops status ticks.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		return
	}
	l.closed.Store(true)
	var waiters []*Request
	for endpoint, rs := range l.probes {
		waiters = append(waiters, rs...)
		delete(l.probes, endpoint)
	}
	l.mu.Unlock()

	for _, r := range waiters {
		r.Reply.Complete(&Response{Err: ErrClosed, URL: r.HTTPRequest.URL})
	}
	l.managerByPolicy.Range(func(_ string, m *Manager) bool {
		m.Close()
		return true
	})

	l.statusMu.Lock()
	if l.ticker != nil {
		l.ticker.Stop()
		l.ticker = nil
	}
	l.statusMu.Unlock()
}
