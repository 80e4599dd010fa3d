package itemsync

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/ratelimit"
)

type fakeCall struct {
	endpoint string
	url      string
}

// fakeLimiter answers requests from a handler, either immediately or when
// released by the test.
type fakeLimiter struct {
	mu      sync.Mutex
	handler func(req *http.Request) (int, string)
	hold    bool
	held    []*heldReply
	calls   []fakeCall
}

type heldReply struct {
	req   *http.Request
	reply *ratelimit.Reply
}

func (f *fakeLimiter) Submit(endpoint string, req *http.Request) *ratelimit.Reply {
	reply := ratelimit.NewReply()
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{endpoint: endpoint, url: req.URL.String()})
	if f.hold {
		f.held = append(f.held, &heldReply{req: req, reply: reply})
		f.mu.Unlock()
		return reply
	}
	handler := f.handler
	f.mu.Unlock()

	f.complete(handler, req, reply)
	return reply
}

func (f *fakeLimiter) complete(handler func(*http.Request) (int, string), req *http.Request, reply *ratelimit.Reply) {
	status, body := handler(req)
	reply.Complete(&ratelimit.Response{
		StatusCode: status,
		Body:       []byte(body),
		URL:        req.URL,
		ReceivedAt: time.Now(),
	})
}

func (f *fakeLimiter) release() {
	f.mu.Lock()
	held := f.held
	f.held = nil
	f.hold = false
	handler := f.handler
	f.mu.Unlock()
	for _, h := range held {
		f.complete(handler, h.req, h.reply)
	}
}

func (f *fakeLimiter) heldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

func (f *fakeLimiter) callsMatching(substr string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if strings.Contains(c.url, substr) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeLimiter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memDatastore struct {
	mu    sync.Mutex
	tabs  map[model.LocationType][]model.ItemLocation
	items map[string][]model.ItemRecord
	// writes counts SetTabs and SetItems calls.
	writes int
}

func newMemDatastore() *memDatastore {
	return &memDatastore{
		tabs:  make(map[model.LocationType][]model.ItemLocation),
		items: make(map[string][]model.ItemRecord),
	}
}

func (d *memDatastore) GetTabs(t model.LocationType) []model.ItemLocation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.ItemLocation(nil), d.tabs[t]...)
}

func (d *memDatastore) SetTabs(t model.LocationType, tabs []model.ItemLocation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	if len(tabs) == 0 {
		delete(d.tabs, t)
		return
	}
	d.tabs[t] = append([]model.ItemLocation(nil), tabs...)
}

func (d *memDatastore) GetItems(loc model.ItemLocation) []model.ItemRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.ItemRecord(nil), d.items[loc.UniqueHash()]...)
}

func (d *memDatastore) SetItems(loc model.ItemLocation, items []model.ItemRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	if len(items) == 0 {
		delete(d.items, loc.UniqueHash())
		return
	}
	d.items[loc.UniqueHash()] = append([]model.ItemRecord(nil), items...)
}

func (d *memDatastore) writeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

type staticMarks map[string]bool

func (m staticMarks) ListRefreshChecked() (map[string]bool, error) { return m, nil }

type pageDownloader struct {
	body string
	err  error
}

func (p pageDownloader) Download(context.Context, string) ([]byte, error) {
	return []byte(p.body), p.err
}

func newTestWorker(t *testing.T, opts Options) *Worker {
	t.Helper()
	if opts.League == "" {
		opts.League = "Standard"
	}
	if opts.Datastore == nil {
		opts.Datastore = newMemDatastore()
	}
	opts.LegacyBaseURL = "https://legacy.test"
	opts.OAuthBaseURL = "https://api.test"
	w := New(opts)
	w.Start()
	t.Cleanup(w.Stop)
	return w
}

func waitFor(t *testing.T, w *Worker, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		s := w.Snapshot()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last snapshot %+v", what, s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func initWorker(t *testing.T, w *Worker) {
	t.Helper()
	if err := w.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	waitFor(t, w, "init", func(s Snapshot) bool { return s.Initialized && s.Phase == PhaseIdle })
}

func waitRunEnd(t *testing.T, w *Worker) Snapshot {
	t.Helper()
	return waitFor(t, w, "run end", func(s Snapshot) bool { return s.RunID != "" && !s.Updating })
}
