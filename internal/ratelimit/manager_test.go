package ratelimit

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T, handler func(*http.Request) (int, http.Header, string, error)) (*Manager, *fakeClock, *fakeDoer, *recordingObserver) {
	t.Helper()
	clock := newFakeClock()
	doer := &fakeDoer{clock: clock, handler: handler}
	obs := &recordingObserver{}
	m := NewManager("p", ManagerOptions{Doer: doer, Clock: clock, Observer: obs})
	t.Cleanup(m.Close)
	return m, clock, doer, obs
}

func queue(t *testing.T, m *Manager, rawURL string) *Request {
	t.Helper()
	req := newRequest("https://api.example.com/x", mustRequest(t, rawURL))
	m.QueueRequest(req)
	return req
}

func okHandler(*http.Request) (int, http.Header, string, error) {
	return http.StatusOK, policyHeader("p", 20, 1, 60), "{}", nil
}

func TestManager_WaitsForPolicy(t *testing.T) {
	m, clock, doer, _ := newTestManager(t, okHandler)
	req := queue(t, m, "https://api.example.com/x")

	clock.Advance(time.Minute)
	if len(doer.Calls("")) != 0 {
		t.Fatal("request sent before any policy was known")
	}

	if err := m.Update(policyHeader("p", 20, 1, 60)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	driveUntil(t, clock, req.Reply.Done())
	if resp := req.Reply.Response(); !resp.OK() {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestManager_FIFOOneAtATime(t *testing.T) {
	var (
		mu      sync.Mutex
		replies []*Reply
		overlap bool
	)
	handler := func(req *http.Request) (int, http.Header, string, error) {
		n, _ := strconv.Atoi(req.URL.Query().Get("n"))
		mu.Lock()
		for i, r := range replies {
			if i == n {
				break
			}
			select {
			case <-r.Done():
			default:
				overlap = true
			}
		}
		mu.Unlock()
		return okHandler(req)
	}
	m, clock, doer, _ := newTestManager(t, handler)
	if err := m.Update(policyHeader("p", 20, 1, 60)); err != nil {
		t.Fatal(err)
	}

	var reqs []*Request
	mu.Lock()
	for i := 0; i < 4; i++ {
		r := queue(t, m, "https://api.example.com/x?n="+strconv.Itoa(i))
		reqs = append(reqs, r)
		replies = append(replies, r.Reply)
	}
	mu.Unlock()

	driveUntil(t, clock, reqs[3].Reply.Done())

	calls := doer.Calls(http.MethodGet)
	if len(calls) != 4 {
		t.Fatalf("GET calls: got %d, want 4", len(calls))
	}
	for i, c := range calls {
		want := "https://api.example.com/x?n=" + strconv.Itoa(i)
		if c.URL != want {
			t.Fatalf("call %d: got %s, want %s", i, c.URL, want)
		}
		if i > 0 && c.At.Sub(calls[i-1].At) < MinimumInterval {
			t.Fatalf("calls %d and %d only %s apart", i-1, i, c.At.Sub(calls[i-1].At))
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Fatal("a request was sent while an earlier one was still in flight")
	}
}

func TestManager_HTTPErrorCompletesAndAdvances(t *testing.T) {
	first := true
	var mu sync.Mutex
	handler := func(req *http.Request) (int, http.Header, string, error) {
		mu.Lock()
		defer mu.Unlock()
		if first {
			first = false
			return http.StatusNotFound, policyHeader("p", 20, 1, 60), "", nil
		}
		return okHandler(req)
	}
	m, clock, _, obs := newTestManager(t, handler)
	_ = m.Update(policyHeader("p", 20, 1, 60))

	a := queue(t, m, "https://api.example.com/x?n=0")
	b := queue(t, m, "https://api.example.com/x?n=1")
	driveUntil(t, clock, b.Reply.Done())

	var statusErr *StatusError
	if !errors.As(a.Reply.Response().Err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("first reply: got %v, want StatusError 404", a.Reply.Response().Err)
	}
	if !b.Reply.Response().OK() {
		t.Fatalf("second reply: %+v", b.Reply.Response())
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.outcomes) != 2 || obs.outcomes[0] != OutcomeHTTPError || obs.outcomes[1] != OutcomeSuccess {
		t.Fatalf("outcomes: got %v", obs.outcomes)
	}
}

func TestManager_TransportError(t *testing.T) {
	boom := errors.New("connection reset")
	m, clock, _, _ := newTestManager(t, func(*http.Request) (int, http.Header, string, error) {
		return 0, nil, "", boom
	})
	_ = m.Update(policyHeader("p", 20, 1, 60))

	req := queue(t, m, "https://api.example.com/x")
	driveUntil(t, clock, req.Reply.Done())
	if !errors.Is(req.Reply.Response().Err, boom) {
		t.Fatalf("Err: got %v, want %v", req.Reply.Response().Err, boom)
	}
}

func TestManager_MissingPolicyIsFatal(t *testing.T) {
	clock := newFakeClock()
	doer := &fakeDoer{clock: clock, handler: func(*http.Request) (int, http.Header, string, error) {
		return http.StatusOK, http.Header{}, "{}", nil
	}}
	fatal := make(chan error, 1)
	m := NewManager("p", ManagerOptions{Doer: doer, Clock: clock, OnFatal: func(err error) { fatal <- err }})
	defer m.Close()
	_ = m.Update(policyHeader("p", 20, 1, 60))

	req := newRequest("e", mustRequest(t, "https://api.example.com/x"))
	m.QueueRequest(req)
	driveUntil(t, clock, req.Reply.Done())

	if !errors.Is(req.Reply.Response().Err, ErrMissingPolicy) {
		t.Fatalf("Err: got %v, want ErrMissingPolicy", req.Reply.Response().Err)
	}
	select {
	case err := <-fatal:
		if !errors.Is(err, ErrMissingPolicy) {
			t.Fatalf("OnFatal: got %v", err)
		}
	default:
		t.Fatal("OnFatal was not called")
	}
}

func TestManager_ViolationWithoutRetryAfter(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	handler := func(req *http.Request) (int, http.Header, string, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return ViolationStatus, policyHeader("p", 20, 1, 60), "", nil
		}
		return okHandler(req)
	}
	m, clock, doer, _ := newTestManager(t, handler)
	_ = m.Update(policyHeader("p", 20, 1, 60))

	req := queue(t, m, "https://api.example.com/x")
	driveUntil(t, clock, req.Reply.Done())

	calls := doer.Calls(http.MethodGet)
	if len(calls) != 2 {
		t.Fatalf("GET calls: got %d, want 2", len(calls))
	}
	if gap := calls[1].At.Sub(calls[0].At); gap < ViolationBuffer {
		t.Fatalf("retry after %s, want at least %s", gap, ViolationBuffer)
	}
	if m.Status().Violations != 1 {
		t.Fatalf("Violations: got %d, want 1", m.Status().Violations)
	}
}

func TestManager_CloseFailsPending(t *testing.T) {
	m, _, _, _ := newTestManager(t, okHandler)
	_ = m.Update(policyHeader("p", 20, 1, 60))

	a := queue(t, m, "https://api.example.com/x?n=0")
	b := queue(t, m, "https://api.example.com/x?n=1")
	m.Close()

	for _, r := range []*Request{a, b} {
		waitDone(t, r.Reply.Done())
		if !IsClosed(r.Reply.Response().Err) {
			t.Fatalf("Err: got %v, want ErrClosed", r.Reply.Response().Err)
		}
	}

	late := queue(t, m, "https://api.example.com/x?n=2")
	waitDone(t, late.Reply.Done())
	if !IsClosed(late.Reply.Response().Err) {
		t.Fatal("queueing after Close should fail immediately")
	}
}

func TestManager_StatusReflectsQueue(t *testing.T) {
	m, _, _, _ := newTestManager(t, okHandler)
	_ = m.Update(policyHeader("p", 10, 9, 60))

	first := queue(t, m, "https://api.example.com/x?n=0")
	queue(t, m, "https://api.example.com/x?n=1")

	s := m.Status()
	if s.Status != StatusBorderline {
		t.Fatalf("Status: got %s, want BORDERLINE", s.Status)
	}
	if s.ActiveID != first.ID || s.QueueDepth != 1 {
		t.Fatalf("ActiveID=%d QueueDepth=%d", s.ActiveID, s.QueueDepth)
	}
	if want := testEpoch.Add(61 * time.Second); !s.NextSend.Equal(want) {
		t.Fatalf("NextSend: got %v, want %v", s.NextSend, want)
	}
}

func TestManager_ConcurrentQueueKeepsIDOrder(t *testing.T) {
	m, _, _, _ := newTestManager(t, okHandler)

	// Without a policy nothing is activated, so the whole submission stays queued.
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			queue(t, m, "https://api.example.com/x?n="+strconv.Itoa(n))
		}(i)
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) != 64 {
		t.Fatalf("queue depth: got %d, want 64", len(m.queue))
	}
	for i := 1; i < len(m.queue); i++ {
		if m.queue[i].ID <= m.queue[i-1].ID {
			t.Fatalf("queue position %d has id %d after id %d", i, m.queue[i].ID, m.queue[i-1].ID)
		}
	}
}
