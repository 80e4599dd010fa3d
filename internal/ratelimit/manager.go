package ratelimit

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// ViolationStatus is the HTTP status of a rate limit violation.
	ViolationStatus = http.StatusTooManyRequests

	// NormalBuffer is added to the safe send time while the policy is OK.
	NormalBuffer = 250 * time.Millisecond
	// BorderlineBuffer is added while the policy is borderline or worse.
	BorderlineBuffer = 2 * time.Second
	// MinimumInterval separates two consecutive sends of one manager.
	MinimumInterval = 500 * time.Millisecond
	// ViolationBuffer is added on top of Retry-After.
	ViolationBuffer = 2 * time.Second

	maxBodyBytes = 64 << 20
)

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Authorizer attaches credentials to an outgoing request.
type Authorizer interface {
	Authorize(*http.Request) error
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Doer       Doer
	Authorizer Authorizer
	Clock      Clock
	Observer   Observer

	// OnChange is called after scheduling state changes, outside locks.
	OnChange func()
	// OnFatal is called for replies that make scheduling unsafe.
	OnFatal func(error)
}

// ManagerStatus is a point-in-time view of one manager.
type ManagerStatus struct {
	Policy     string       `json:"policy"`
	Status     PolicyStatus `json:"status"`
	Rules      []string     `json:"rules"`
	Endpoints  []string     `json:"endpoints,omitempty"`
	QueueDepth int          `json:"queue_depth"`
	ActiveID   uint64       `json:"active_id,omitempty"`
	NextSend   time.Time    `json:"next_send"`
	LastSend   time.Time    `json:"last_send"`
	Violations int          `json:"violations"`
}

// Manager sends the requests of one policy, one at a time, in FIFO order.
type Manager struct {
	name string
	opts ManagerOptions

	mu         sync.Mutex
	policy     *Policy
	history    *RequestHistory
	queue      []*Request
	active     *Request
	timer      Timer
	nextSend   time.Time
	lastSend   time.Time
	violations int
	closed     bool
}

// NewManager creates a manager for the named policy. Nothing is sent
// until the first Update provides the policy.
func NewManager(name string, opts ManagerOptions) *Manager {
	if opts.Doer == nil {
		panic("ratelimit: NewManager requires non-nil Doer")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	return &Manager{
		name:     name,
		opts:     opts,
		history:  NewRequestHistory(0),
		nextSend: opts.Clock.Now(),
	}
}

// Name is the policy name this manager is keyed by.
func (m *Manager) Name() string { return m.name }

// Update rebuilds the policy from reply headers.
func (m *Manager) Update(h http.Header) error {
	m.mu.Lock()
	err := m.updateLocked(h)
	status := m.statusLocked()
	m.mu.Unlock()
	if err == nil {
		m.opts.Observer.PolicyUpdated(status)
		m.changed()
	}
	return err
}

func (m *Manager) updateLocked(h http.Header) error {
	next, err := ParsePolicy(h)
	if err != nil {
		return err
	}
	if m.policy != nil {
		for _, diff := range m.policy.Check(next) {
			log.Printf("[ratelimit] policy %s changed: %s", m.name, diff)
		}
	}
	m.policy = next
	if next.Status == StatusViolation {
		log.Printf("[ratelimit] RATE LIMIT VIOLATION: policy %s: %s", next.Name, strings.Join(next.ViolatedRules(), "; "))
	}
	if m.history.Cap() < next.MaximumHits {
		debugf("[ratelimit] %s increasing history capacity from %d to %d", m.name, m.history.Cap(), next.MaximumHits)
		m.history.SetCapacity(next.MaximumHits)
	}
	if safe := next.NextSafeSend(m.history, m.opts.Clock.Now()); safe.After(m.nextSend) {
		m.nextSend = safe
	}
	return nil
}

// QueueRequest appends req to the queue and activates it if the manager is idle.
// The id is drawn under the manager lock, so queue order and id order agree
// however many goroutines submit.
func (m *Manager) QueueRequest(req *Request) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		req.Reply.Complete(&Response{Err: ErrClosed, URL: req.HTTPRequest.URL})
		return
	}
	req.ID = requestCounter.Add(1)
	debugf("[ratelimit] %s queuing request %d for %s", m.name, req.ID, req.Endpoint)
	m.queue = append(m.queue, req)
	m.activateLocked()
	m.mu.Unlock()
	m.changed()
}

// activateLocked moves the queue head into the active slot and arms the
// send timer.
func (m *Manager) activateLocked() {
	if m.closed {
		return
	}
	if m.policy == nil {
		debugf("[ratelimit] %s cannot activate a request without a policy", m.name)
		return
	}
	if m.active != nil || len(m.queue) == 0 {
		return
	}

	req := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	m.active = req

	buffer := NormalBuffer
	if m.policy.Status >= StatusBorderline {
		buffer = BorderlineBuffer
	}
	send := m.nextSend.Add(buffer)
	if !m.lastSend.IsZero() && send.Sub(m.lastSend) < MinimumInterval {
		send = m.lastSend.Add(MinimumInterval)
	}
	delay := send.Sub(m.opts.Clock.Now())
	if delay < 0 {
		delay = 0
	}
	debugf("[ratelimit] %s request %d waiting %s", m.name, req.ID, delay)
	m.armLocked(req, delay)
}

func (m *Manager) armLocked(req *Request, delay time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.opts.Clock.AfterFunc(delay, func() { m.send(req) })
}

// send fires when the active request's timer expires.
func (m *Manager) send(req *Request) {
	m.mu.Lock()
	if m.closed || m.active != req {
		m.mu.Unlock()
		return
	}
	m.lastSend = m.opts.Clock.Now()
	m.mu.Unlock()

	httpReq := req.HTTPRequest.Clone(req.HTTPRequest.Context())
	if m.opts.Authorizer != nil {
		if err := m.opts.Authorizer.Authorize(httpReq); err != nil {
			m.receive(req, &Response{Err: fmt.Errorf("authorize: %w", err), URL: httpReq.URL})
			return
		}
	}
	debugf("[ratelimit] %s sending request %d to %s", m.name, req.ID, httpReq.URL)
	go m.execute(req, httpReq)
}

func (m *Manager) execute(req *Request, httpReq *http.Request) {
	resp, err := m.opts.Doer.Do(httpReq)
	if err != nil {
		m.receive(req, &Response{Err: err, URL: httpReq.URL, ReceivedAt: m.opts.Clock.Now()})
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        httpReq.URL,
		ReceivedAt: m.opts.Clock.Now(),
	}
	if err != nil {
		out.Err = fmt.Errorf("read body: %w", err)
	}
	m.receive(req, out)
}

// receive processes the reply to the active request.
func (m *Manager) receive(req *Request, resp *Response) {
	m.mu.Lock()
	if m.closed || m.active != req {
		m.mu.Unlock()
		return
	}

	if resp.Err != nil {
		m.mu.Unlock()
		log.Printf("[ratelimit] %s request %d to %s failed: %v", m.name, req.ID, resp.URL, resp.Err)
		m.opts.Observer.RequestFinished(m.name, OutcomeTransportError)
		m.finish(req, resp)
		return
	}

	if resp.Header.Get(headerPolicy) == "" {
		m.mu.Unlock()
		err := fmt.Errorf("%s request %d to %s: %w", m.name, req.ID, resp.URL, ErrMissingPolicy)
		log.Printf("[ratelimit] error: %v", err)
		resp.Err = err
		m.opts.Observer.RequestFinished(m.name, OutcomeMissingPolicy)
		if m.opts.OnFatal != nil {
			m.opts.OnFatal(err)
		}
		m.finish(req, resp)
		return
	}

	replyTime := ParseReplyDate(resp.Header, resp.ReceivedAt)
	m.history.Push(replyTime)
	updateErr := m.updateLocked(resp.Header)
	status := m.statusLocked()

	if resp.StatusCode == ViolationStatus {
		if updateErr != nil {
			log.Printf("[ratelimit] error: %s violation reply has a malformed policy: %v", m.name, updateErr)
		}
		m.violations++
		now := m.opts.Clock.Now()
		var wait time.Duration
		if retry, ok := retryAfter(resp.Header); ok {
			wait = time.Duration(retry)*time.Second + ViolationBuffer
			m.nextSend = replyTime.Add(wait)
			log.Printf("[ratelimit] RATE LIMIT VIOLATION: %s request %d, retrying after %s", m.name, req.ID, wait)
		} else {
			retryAt := now.Add(ViolationBuffer)
			if m.nextSend.After(retryAt) {
				retryAt = m.nextSend
			}
			wait = retryAt.Sub(now)
			log.Printf("[ratelimit] RATE LIMIT VIOLATION: %s request %d without Retry-After, retrying in %s", m.name, req.ID, wait)
		}
		m.armLocked(req, wait)
		m.mu.Unlock()

		m.opts.Observer.RequestFinished(m.name, OutcomeViolation)
		m.opts.Observer.PolicyUpdated(status)
		m.changed()
		return
	}
	m.mu.Unlock()

	if updateErr != nil {
		log.Printf("[ratelimit] error: %s reply to request %d has a malformed policy: %v", m.name, req.ID, updateErr)
		if m.opts.OnFatal != nil {
			m.opts.OnFatal(updateErr)
		}
	} else {
		m.opts.Observer.PolicyUpdated(status)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Err = &StatusError{StatusCode: resp.StatusCode, URL: resp.URL.String()}
		log.Printf("[ratelimit] %s request %d: %v", m.name, req.ID, resp.Err)
		m.opts.Observer.RequestFinished(m.name, OutcomeHTTPError)
	} else {
		m.opts.Observer.RequestFinished(m.name, OutcomeSuccess)
	}
	m.finish(req, resp)
}

// finish completes the active request, then activates the next one. The
// active slot stays occupied while callbacks run so callbacks for one
// manager never interleave.
func (m *Manager) finish(req *Request, resp *Response) {
	req.Reply.Complete(resp)

	m.mu.Lock()
	if m.active == req {
		m.active = nil
	}
	m.activateLocked()
	m.mu.Unlock()
	m.changed()
}

func retryAfter(h http.Header) (int, bool) {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (m *Manager) changed() {
	if m.opts.OnChange != nil {
		m.opts.OnChange()
	}
}

// Pending reports the next send time and whether any work is queued or active.
func (m *Manager) Pending() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSend, m.active != nil || len(m.queue) > 0
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() ManagerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() ManagerStatus {
	s := ManagerStatus{
		Policy:     m.name,
		QueueDepth: len(m.queue),
		NextSend:   m.nextSend,
		LastSend:   m.lastSend,
		Violations: m.violations,
	}
	if m.policy != nil {
		s.Status = m.policy.Status
		s.Rules = m.policy.RuleStrings()
	}
	if m.active != nil {
		s.ActiveID = m.active.ID
	}
	return s
}

// Close fails every queued and active request with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
	pending := m.queue
	if m.active != nil {
		pending = append([]*Request{m.active}, pending...)
	}
	m.queue = nil
	m.active = nil
	m.mu.Unlock()

	for _, req := range pending {
		req.Reply.Complete(&Response{Err: ErrClosed, URL: req.HTTPRequest.URL})
	}
}

// IsClosed reports whether err came from a closed limiter.
func IsClosed(err error) bool { return errors.Is(err, ErrClosed) }
