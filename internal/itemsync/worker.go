// Package itemsync keeps the local copy of stash tabs, characters and their
// items in step with the game API. All state is owned by one loop goroutine;
// limiter completions and helper goroutines hand results to it as closures.
package itemsync

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Resinat/Coffer/internal/config"
	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/netutil"
	"github.com/Resinat/Coffer/internal/ratelimit"
	"github.com/Resinat/Coffer/internal/refdata"
)

var (
	// ErrUpdateInProgress rejects an update while another one runs.
	ErrUpdateInProgress = errors.New("update already in progress")
	// ErrClosed is returned once the worker has stopped.
	ErrClosed = errors.New("item worker stopped")
)

// Default API hosts.
const (
	DefaultLegacyBaseURL = "https://www.pathofexile.com"
	DefaultOAuthBaseURL  = "https://api.pathofexile.com"
)

// Submitter schedules rate limited GET requests.
type Submitter interface {
	Submit(endpoint string, req *http.Request) *ratelimit.Reply
}

// Datastore persists tabs and items between runs.
type Datastore interface {
	GetTabs(t model.LocationType) []model.ItemLocation
	SetTabs(t model.LocationType, tabs []model.ItemLocation)
	GetItems(loc model.ItemLocation) []model.ItemRecord
	SetItems(loc model.ItemLocation, items []model.ItemRecord)
}

// RefreshMarks lists the tabs the user wants refreshed by SelectChecked.
type RefreshMarks interface {
	ListRefreshChecked() (map[string]bool, error)
}

// ReferenceData makes sure item classes, base types and mod tables exist
// before cached items are parsed.
type ReferenceData interface {
	EnsureLoaded(ctx context.Context, progress func(refdata.Step)) error
}

// Options configures a Worker.
type Options struct {
	Mode    config.APIMode
	League  string
	Account string

	Limiter    Submitter
	Downloader netutil.Downloader // legacy main page only
	Datastore  Datastore
	Marks      RefreshMarks
	RefData    ReferenceData
	Classifier model.ItemClassifier

	ParseConcurrency          func() int
	PreserveSelectedCharacter func() bool

	LegacyBaseURL string
	OAuthBaseURL  string

	Hooks Hooks
	Now   func() time.Time
}

type updateRequest struct {
	selection model.TabSelection
	uids      []string
}

// Worker runs the sync pipeline.
type Worker struct {
	opts Options

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mailMu sync.Mutex
	mail   []func()
	closed bool
	signal chan struct{}

	statusMu sync.Mutex
	status   Snapshot

	// Owned by the loop goroutine.
	initStarted bool
	initialized bool
	updating    bool
	pending     *updateRequest
	tabs        []model.ItemLocation
	items       []*model.Item
	signatures  []model.TabSignature
	run         *runState
}

// New creates a Worker. Call Start to run its loop and Init to load caches.
func New(opts Options) *Worker {
	if opts.Limiter == nil {
		panic("itemsync: New requires non-nil Limiter")
	}
	if opts.Datastore == nil {
		panic("itemsync: New requires non-nil Datastore")
	}
	if opts.Mode == "" {
		opts.Mode = config.APIModeOAuth
	}
	if opts.LegacyBaseURL == "" {
		opts.LegacyBaseURL = DefaultLegacyBaseURL
	}
	if opts.OAuthBaseURL == "" {
		opts.OAuthBaseURL = DefaultOAuthBaseURL
	}
	if opts.ParseConcurrency == nil {
		opts.ParseConcurrency = func() int { return 4 }
	}
	if opts.PreserveSelectedCharacter == nil {
		opts.PreserveSelectedCharacter = func() bool { return true }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
		signal: make(chan struct{}, 1),
		status: Snapshot{Phase: PhaseIdle, State: StateInitializing},
	}
}

// Start launches the loop goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop cancels in-flight work and waits for the loop to exit. Closures still
// queued are dropped.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.mailMu.Lock()
		w.closed = true
		w.mail = nil
		w.mailMu.Unlock()
		w.cancel()
		close(w.stopCh)
	})
	w.wg.Wait()
}

// post queues fn for the loop. It never blocks, so limiter callbacks that
// complete synchronously on the loop itself are safe.
func (w *Worker) post(fn func()) bool {
	w.mailMu.Lock()
	if w.closed {
		w.mailMu.Unlock()
		return false
	}
	w.mail = append(w.mail, fn)
	w.mailMu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
	return true
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.signal:
		}
		for {
			w.mailMu.Lock()
			batch := w.mail
			w.mail = nil
			w.mailMu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				select {
				case <-w.stopCh:
					return
				default:
				}
				fn()
			}
		}
	}
}

// call runs fn on the loop and waits for its result.
func (w *Worker) call(fn func() error) error {
	errCh := make(chan error, 1)
	if !w.post(func() { errCh <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-w.stopCh:
		return ErrClosed
	}
}

// Init loads reference data and parses the cached tabs in the background.
// Calling it again after it started is a no-op; a failed Init may be retried.
func (w *Worker) Init() error {
	return w.call(func() error {
		if w.initStarted {
			return nil
		}
		w.initStarted = true
		w.setPhase(PhaseFetchingReferenceData)
		w.wg.Add(1)
		go w.initialize()
		return nil
	})
}

// Update starts a refresh of the selected tabs. uids is used by
// SelectSelected only. Before Init completes the request is remembered and
// started once the cache is parsed.
func (w *Worker) Update(selection model.TabSelection, uids []string) error {
	uids = append([]string(nil), uids...)
	return w.call(func() error {
		if w.updating {
			return ErrUpdateInProgress
		}
		if !w.initialized {
			log.Printf("[sync] update (%s) requested before init, deferring", selection)
			w.pending = &updateRequest{selection: selection, uids: uids}
			return nil
		}
		w.startUpdate(selection, uids)
		return nil
	})
}

// Snapshot returns the current progress.
func (w *Worker) Snapshot() Snapshot {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	return w.status
}

// Items returns the current items and tabs. The slices are shared with
// OnItemsRefreshed consumers and must not be modified.
func (w *Worker) Items() (items []*model.Item, tabs []model.ItemLocation, err error) {
	err = w.call(func() error {
		items, tabs = w.items, w.tabs
		return nil
	})
	return items, tabs, err
}

func (w *Worker) updateStatus(fn func(*Snapshot)) {
	w.statusMu.Lock()
	fn(&w.status)
	w.statusMu.Unlock()
}

func (w *Worker) setPhase(p Phase) {
	w.updateStatus(func(s *Snapshot) { s.Phase = p })
}

// emit records and publishes a status message.
func (w *Worker) emit(state ProgramState, msg string) {
	w.updateStatus(func(s *Snapshot) {
		s.State = state
		s.Message = msg
	})
	if w.opts.Hooks.OnStatus != nil {
		w.opts.Hooks.OnStatus(StatusUpdate{State: state, Message: msg})
	}
}

func (w *Worker) publishItems(initial bool) {
	n, t := len(w.items), len(w.tabs)
	w.updateStatus(func(s *Snapshot) {
		s.Items = n
		s.Tabs = t
		s.Initialized = w.initialized
	})
	if w.opts.Hooks.OnItemsRefreshed != nil {
		w.opts.Hooks.OnItemsRefreshed(w.items, w.tabs, initial)
	}
}
