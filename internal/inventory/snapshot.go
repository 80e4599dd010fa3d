// Package inventory holds the most recent item set published by the sync
// worker and answers read queries for the API.
package inventory

import (
	"strings"
	"sync"
	"time"

	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/refdata"
)

// Query filters Items. Empty fields match everything.
type Query struct {
	TabUID   string
	Category string
	// Search matches case-insensitively against the pretty name.
	Search string
}

// Snapshot is an immutable-on-read copy of the last published item set.
type Snapshot struct {
	mu        sync.RWMutex
	items     []*model.Item
	tabs      []model.ItemLocation
	byTab     map[string][]*model.Item
	tabByUID  map[string]model.ItemLocation
	updatedAt time.Time
}

// New returns an empty Snapshot.
func New() *Snapshot {
	return &Snapshot{
		byTab:    make(map[string][]*model.Item),
		tabByUID: make(map[string]model.ItemLocation),
	}
}

// Replace swaps in a new item set. The slices are retained, not copied;
// callers must not modify them afterwards.
func (s *Snapshot) Replace(items []*model.Item, tabs []model.ItemLocation, at time.Time) {
	byTab := make(map[string][]*model.Item, len(tabs))
	for _, it := range items {
		uid := it.Location.UniqueID()
		byTab[uid] = append(byTab[uid], it)
	}
	tabByUID := make(map[string]model.ItemLocation, len(tabs))
	for _, tab := range tabs {
		tabByUID[tab.UniqueID()] = tab
	}

	s.mu.Lock()
	s.items = items
	s.tabs = tabs
	s.byTab = byTab
	s.tabByUID = tabByUID
	s.updatedAt = at
	s.mu.Unlock()
}

// UpdatedAt is when the snapshot was last replaced.
func (s *Snapshot) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Tabs returns every tab, optionally only those of type t.
func (s *Snapshot) Tabs(t *model.LocationType) []model.ItemLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ItemLocation, 0, len(s.tabs))
	for _, tab := range s.tabs {
		if t == nil || tab.Type == *t {
			out = append(out, tab)
		}
	}
	return out
}

// Tab looks a tab up by stash id or character name.
func (s *Snapshot) Tab(uid string) (model.ItemLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tab, ok := s.tabByUID[uid]
	return tab, ok
}

// Items returns the items matching q in canonical order.
func (s *Snapshot) Items(q Query) []*model.Item {
	s.mu.RLock()
	source := s.items
	if q.TabUID != "" {
		source = s.byTab[q.TabUID]
	}
	s.mu.RUnlock()

	category := strings.ToLower(strings.TrimSpace(q.Category))
	if category == strings.ToLower(refdata.DefaultCategory) {
		category = ""
	}
	search := strings.ToLower(strings.TrimSpace(q.Search))
	if category == "" && search == "" {
		return append([]*model.Item(nil), source...)
	}

	out := make([]*model.Item, 0, len(source))
	for _, it := range source {
		if category != "" && it.Category != category {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(it.PrettyName()), search) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Counts reports the number of tabs and items.
func (s *Snapshot) Counts() (tabs, items int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tabs), len(s.items)
}
