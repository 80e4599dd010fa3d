package ratelimit

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) nextTimerLocked() *fakeTimer {
	var next *fakeTimer
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		if next == nil || t.at.Before(next.at) {
			next = t
		}
	}
	return next
}

// FireNext advances to the earliest pending timer and runs it.
func (c *fakeClock) FireNext() bool {
	c.mu.Lock()
	next := c.nextTimerLocked()
	if next == nil {
		c.mu.Unlock()
		return false
	}
	next.fired = true
	if next.at.After(c.now) {
		c.now = next.at
	}
	c.mu.Unlock()
	next.f()
	return true
}

// Advance moves time forward by d, firing every timer due on the way.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		next := c.nextTimerLocked()
		if next == nil || next.at.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

// driveUntil fires timers until done closes.
func driveUntil(t *testing.T, c *fakeClock, done <-chan struct{}) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-done:
			return
		default:
		}
		if !c.FireNext() {
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatal("timed out waiting for completion")
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

// policyHeader returns a single-rule policy with the given state hits.
func policyHeader(name string, limitHits, stateHits, period int) http.Header {
	h := http.Header{}
	h.Set("X-Rate-Limit-Policy", name)
	h.Set("X-Rate-Limit-Rules", "Account")
	h.Set("X-Rate-Limit-Account", strconv.Itoa(limitHits)+":"+strconv.Itoa(period)+":60")
	h.Set("X-Rate-Limit-Account-State", strconv.Itoa(stateHits)+":"+strconv.Itoa(period)+":0")
	return h
}

type recordedCall struct {
	Method string
	URL    string
	At     time.Time
}

// fakeDoer answers requests through handler and records every call.
type fakeDoer struct {
	clock   *fakeClock
	handler func(req *http.Request) (int, http.Header, string, error)

	mu    sync.Mutex
	calls []recordedCall
	heads atomic.Int32
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.calls = append(d.calls, recordedCall{Method: req.Method, URL: req.URL.String(), At: d.clock.Now()})
	d.mu.Unlock()
	if req.Method == http.MethodHead {
		d.heads.Add(1)
	}

	status, header, body, err := d.handler(req)
	if err != nil {
		return nil, err
	}
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Date") == "" {
		header.Set("Date", d.clock.Now().UTC().Format(http.TimeFormat))
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Request:    req,
	}, nil
}

func (d *fakeDoer) Calls(method string) []recordedCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []recordedCall
	for _, c := range d.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
	pauses   []Pause
	updates  int
}

func (o *recordingObserver) RequestFinished(_ string, outcome Outcome) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

func (o *recordingObserver) PolicyUpdated(ManagerStatus) {
	o.mu.Lock()
	o.updates++
	o.mu.Unlock()
}

func (o *recordingObserver) Paused(p Pause) {
	o.mu.Lock()
	o.pauses = append(o.pauses, p)
	o.mu.Unlock()
}

func (o *recordingObserver) Pauses() []Pause {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Pause(nil), o.pauses...)
}

func mustRequest(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}
