package itemsync

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/refdata"
)

type parsedCache struct {
	tabs  []model.ItemLocation
	items []*model.Item
}

// initialize runs on a helper goroutine and hands its result to the loop.
func (w *Worker) initialize() {
	defer w.wg.Done()

	if w.opts.RefData != nil {
		err := w.opts.RefData.EnsureLoaded(w.ctx, func(step refdata.Step) {
			w.post(func() { w.emit(StateInitializing, "Waiting for RePoE "+step.Name+".") })
		})
		if err != nil {
			log.Printf("[sync] reference data unavailable: %v", err)
			w.post(func() { w.initFailed(err) })
			return
		}
	}

	w.post(func() { w.setPhase(PhaseParsingCache) })
	cache, err := w.parseCache(w.ctx)
	if err != nil {
		w.post(func() { w.initFailed(err) })
		return
	}
	w.post(func() { w.finishInit(cache) })
}

// parseCache decodes every cached tab concurrently. Items that no longer
// decode are logged and dropped.
func (w *Worker) parseCache(ctx context.Context) (*parsedCache, error) {
	ds := w.opts.Datastore
	var tabs []model.ItemLocation
	tabs = append(tabs, ds.GetTabs(model.LocationStash)...)
	tabs = append(tabs, ds.GetTabs(model.LocationCharacter)...)

	perTab := make([][]*model.Item, len(tabs))
	var done atomic.Int32
	total := len(tabs)

	g, gctx := errgroup.WithContext(ctx)
	limit := w.opts.ParseConcurrency()
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, tab := range tabs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, rec := range ds.GetItems(tab) {
				loc := tab
				loc.Socketed = rec.Socketed
				it, err := model.NewItem(rec.JSON, loc, w.opts.Classifier)
				if err != nil {
					log.Printf("[sync] dropping unreadable cached item in %s: %v", tab.Header(), err)
					continue
				}
				perTab[i] = append(perTab[i], it)
			}
			n := done.Add(1)
			msg := fmt.Sprintf("Parsing item mods in tabs, %d/%d", n, total)
			w.post(func() { w.emit(StateInitializing, msg) })
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &parsedCache{tabs: tabs}
	for _, items := range perTab {
		out.items = append(out.items, items...)
	}
	return out, nil
}

func (w *Worker) initFailed(err error) {
	w.initStarted = false
	w.setPhase(PhaseError)
	w.updateStatus(func(s *Snapshot) { s.LastError = err.Error() })
	w.emit(StateInitializing, "Initialization failed: "+err.Error())
}

func (w *Worker) finishInit(cache *parsedCache) {
	w.tabs = cache.tabs
	w.items = cache.items
	sortTabs(w.tabs)
	sortItems(w.items)
	w.signatures = w.signatures[:0]
	for _, tab := range w.tabs {
		if tab.Type == model.LocationStash {
			w.signatures = append(w.signatures, model.SignatureOf(tab))
		}
	}
	w.initialized = true
	w.setPhase(PhaseIdle)
	log.Printf("[sync] parsed %d items from %d cached tabs", len(w.items), len(w.tabs))
	w.emit(StateReady, fmt.Sprintf("Parsed items from %d tabs", len(w.tabs)))
	w.publishItems(true)

	if req := w.pending; req != nil {
		w.pending = nil
		w.startUpdate(req.selection, req.uids)
	}
}
