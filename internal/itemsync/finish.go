package itemsync

import (
	"fmt"
	"log"
	"slices"

	"github.com/Resinat/Coffer/internal/config"
	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/ratelimit"
)

// finishUpdate merges the fetched tabs into the kept ones, persists the
// result and publishes it.
func (w *Worker) finishUpdate() {
	run := w.run
	w.setPhase(PhaseAggregating)
	w.emit(StateBusy, fmt.Sprintf("Received %d stash tabs or characters.", len(run.newTabs)))

	tabs := make([]model.ItemLocation, 0, len(run.keep)+len(run.newTabs))
	for _, tab := range run.keep {
		tabs = append(tabs, tab)
	}
	tabs = append(tabs, run.newTabs...)
	sortTabs(tabs)

	items := make([]*model.Item, 0, len(w.items)+len(run.newItems))
	for _, it := range w.items {
		if run.kept(it.Location.Type, it.Location.UniqueID()) {
			items = append(items, it)
		}
	}
	items = append(items, run.newItems...)
	sortItems(items)

	w.persist(run, tabs)
	w.tabs, w.items = tabs, items
	w.publishItems(false)

	selected := run.selectedCharacter
	w.endRun(PhaseDone, nil)
	w.emit(StateReady, fmt.Sprintf("Updated %d items in %d tabs.", len(w.items), len(w.tabs)))

	if w.opts.Mode == config.APIModeLegacy && selected != "" && w.opts.PreserveSelectedCharacter() {
		w.reselectCharacter(selected)
	}
}

// persist writes both tab lists, the items of every fetched tab, and empty
// item lists for evicted tabs that were not fetched again.
func (w *Worker) persist(run *runState, tabs []model.ItemLocation) {
	var stash, characters []model.ItemLocation
	for _, tab := range tabs {
		if tab.Type == model.LocationStash {
			stash = append(stash, tab)
		} else {
			characters = append(characters, tab)
		}
	}
	ds := w.opts.Datastore
	ds.SetTabs(model.LocationStash, stash)
	ds.SetTabs(model.LocationCharacter, characters)

	byTab := make(map[tabKey][]model.ItemRecord, len(run.newTabs))
	for _, it := range run.newItems {
		k := keyOf(it.Location)
		byTab[k] = append(byTab[k], it.Record())
	}
	for _, tab := range run.newTabs {
		ds.SetItems(tab, byTab[keyOf(tab)])
	}
	for _, tab := range run.evicted {
		if !run.newIndex[keyOf(tab)] {
			ds.SetItems(tab, nil)
		}
	}
}

// reselectCharacter requests the character that was selected before the
// update, since fetching other characters changes the selection in game.
func (w *Worker) reselectCharacter(name string) {
	u := w.legacyCharacterURL(name)
	req, err := w.newRequest(u)
	if err != nil {
		log.Printf("[sync] reselect %s: %v", name, err)
		return
	}
	w.opts.Limiter.Submit(ratelimit.EndpointFromURL(u), req)
}

func sortTabs(tabs []model.ItemLocation) {
	slices.SortStableFunc(tabs, func(a, b model.ItemLocation) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
}

func sortItems(items []*model.Item) {
	slices.SortStableFunc(items, func(a, b *model.Item) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
}
