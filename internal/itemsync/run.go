package itemsync

import (
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/ratelimit"
)

type tabKey struct {
	typ model.LocationType
	id  string
}

func keyOf(loc model.ItemLocation) tabKey {
	return tabKey{typ: loc.Type, id: loc.UniqueID()}
}

// runState is the bookkeeping of one update. The worker's tabs and items are
// only replaced when the run finishes, so a cancelled or failed run leaves
// them untouched.
type runState struct {
	id        string
	selection model.TabSelection
	startedAt time.Time

	keep    map[tabKey]model.ItemLocation // known tabs not being refreshed
	evicted []model.ItemLocation

	firstStashIndex   int
	firstCharacter    string
	needStashList     bool
	needCharacterList bool
	haveStashList     bool
	haveCharacterList bool
	selectedCharacter string

	queue             []queuedRequest
	fetching          bool
	requestsNeeded    int
	requestsCompleted int
	totalNeeded       int
	totalCompleted    int
	cancelled         bool

	newTabs  []model.ItemLocation
	newIndex map[tabKey]bool
	newItems []*model.Item
}

func (r *runState) kept(t model.LocationType, id string) bool {
	_, ok := r.keep[tabKey{typ: t, id: id}]
	return ok
}

func (r *runState) evict(loc model.ItemLocation) {
	delete(r.keep, keyOf(loc))
	r.evicted = append(r.evicted, loc)
}

func (w *Worker) startUpdate(selection model.TabSelection, uids []string) {
	run := &runState{
		id:              uuid.NewString(),
		selection:       selection,
		startedAt:       w.opts.Now(),
		keep:            make(map[tabKey]model.ItemLocation, len(w.tabs)),
		firstStashIndex: -1,
		newIndex:        make(map[tabKey]bool),
	}
	w.run = run
	w.updating = true
	w.updateStatus(func(s *Snapshot) {
		s.Phase = PhaseEnumerating
		s.RunID = run.id
		s.Selection = selection.String()
		s.Updating = true
		s.StartedAt = run.startedAt
		s.RequestsNeeded, s.RequestsCompleted = 0, 0
		s.TotalNeeded, s.TotalCompleted = 0, 0
		s.LastError = ""
	})

	switch selection {
	case model.SelectAll:
		run.evicted = append(run.evicted, w.tabs...)
		run.firstStashIndex = 0
		run.needStashList = true
		run.needCharacterList = true
	default:
		refresh, err := w.refreshSet(selection, uids)
		if err != nil {
			w.endRun(PhaseError, err)
			w.emit(StateReady, "Update failed: "+err.Error())
			return
		}
		for _, tab := range w.tabs {
			if !refresh[tab.UniqueID()] {
				run.keep[keyOf(tab)] = tab
				continue
			}
			run.evicted = append(run.evicted, tab)
			switch tab.Type {
			case model.LocationStash:
				if run.firstStashIndex < 0 {
					run.firstStashIndex = tab.TabIndex
				}
				run.needStashList = true
			case model.LocationCharacter:
				if run.firstCharacter == "" {
					run.firstCharacter = tab.Character
				}
				run.needCharacterList = true
			}
		}
	}
	log.Printf("[sync] run %s started: selection=%s evicted=%d", run.id, selection, len(run.evicted))

	if !run.needStashList && !run.needCharacterList {
		w.emit(StateReady, "No tabs selected for refresh.")
		w.endRun(PhaseDone, nil)
		return
	}
	if run.needStashList {
		w.emit(StateBusy, "Requesting stash tab list.")
		w.requestStashList()
	}
	if run.needCharacterList {
		w.emit(StateBusy, "Requesting character list.")
		w.requestCharacterList()
	}
}

func (w *Worker) refreshSet(selection model.TabSelection, uids []string) (map[string]bool, error) {
	refresh := make(map[string]bool)
	switch selection {
	case model.SelectChecked:
		if w.opts.Marks == nil {
			return refresh, nil
		}
		marks, err := w.opts.Marks.ListRefreshChecked()
		if err != nil {
			return nil, fmt.Errorf("list refresh marks: %w", err)
		}
		for uid, checked := range marks {
			if checked {
				refresh[uid] = true
			}
		}
	case model.SelectSelected:
		for _, uid := range uids {
			refresh[uid] = true
		}
	default:
		return nil, fmt.Errorf("unsupported tab selection %s", selection)
	}
	return refresh, nil
}

// submit sends a request through the limiter. handle runs on the loop, and
// only while the run that issued the request is still current.
func (w *Worker) submit(endpoint string, u *url.URL, handle func(*ratelimit.Response)) {
	runID := w.run.id
	deliver := func(resp *ratelimit.Response) {
		w.post(func() {
			if w.run == nil || w.run.id != runID {
				return
			}
			handle(resp)
		})
	}
	req, err := w.newRequest(u)
	if err != nil {
		deliver(&ratelimit.Response{Err: err, URL: u})
		return
	}
	w.opts.Limiter.Submit(endpoint, req).OnComplete(deliver)
}

func (w *Worker) syncCounters() {
	run := w.run
	w.updateStatus(func(s *Snapshot) {
		s.RequestsNeeded = run.requestsNeeded
		s.RequestsCompleted = run.requestsCompleted
		s.TotalNeeded = run.totalNeeded
		s.TotalCompleted = run.totalCompleted
	})
}

// maybeFetch starts the per-location requests once every needed listing
// has arrived.
func (w *Worker) maybeFetch() {
	run := w.run
	if run.fetching {
		return
	}
	if (run.needStashList && !run.haveStashList) || (run.needCharacterList && !run.haveCharacterList) {
		return
	}
	w.fetchItems()
}

func (w *Worker) fetchItems() {
	run := w.run
	run.fetching = true
	queue := run.queue
	run.queue = nil
	run.requestsNeeded, run.totalNeeded = len(queue), len(queue)
	run.requestsCompleted, run.totalCompleted = 0, 0
	w.setPhase(PhaseFetchingTabItems)
	w.syncCounters()
	log.Printf("[sync] run %s: requesting %d locations", run.id, len(queue))

	if len(queue) == 0 {
		w.finishUpdate()
		return
	}
	w.emit(StateBusy, fmt.Sprintf("Receiving stash data, 0/%d", len(queue)))
	for _, q := range queue {
		w.submit(q.endpoint, q.url, func(resp *ratelimit.Response) { w.onLocationReply(q, resp) })
	}
}

// endRun clears the updating flag and reports the run's outcome.
func (w *Worker) endRun(phase Phase, err error) {
	run := w.run
	w.run = nil
	w.updating = false
	now := w.opts.Now()
	elapsed := now.Sub(run.startedAt)

	w.updateStatus(func(s *Snapshot) {
		s.Phase = phase
		s.Updating = false
		if err != nil {
			s.LastError = err.Error()
		}
		if phase == PhaseDone {
			s.LastSyncAt = now
		}
	})
	if err != nil {
		log.Printf("[sync] run %s ended: %s: %v", run.id, phase, err)
	} else {
		log.Printf("[sync] run %s ended: %s in %s", run.id, phase, elapsed.Round(time.Millisecond))
	}
	if w.opts.Hooks.OnSyncFinished != nil {
		w.opts.Hooks.OnSyncFinished(run.id, phase, len(w.items), len(w.tabs), elapsed)
	}
}

func responseError(resp *ratelimit.Response) error {
	if resp == nil {
		return fmt.Errorf("no response")
	}
	if resp.Err != nil {
		return resp.Err
	}
	u := ""
	if resp.URL != nil {
		u = resp.URL.String()
	}
	return &ratelimit.StatusError{StatusCode: resp.StatusCode, URL: u}
}
