package state

import (
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/Resinat/Coffer/internal/model"
)

// CacheStore is the in-memory view of cache.db. Reads and writes hit the
// snapshot maps; every write marks the engine's dirty sets so the flush
// worker can persist it later.
type CacheStore struct {
	engine *StateEngine

	mu    sync.RWMutex
	data  map[string][]byte
	tabs  map[model.LocationType][]model.ItemLocation
	items map[string][]model.ItemRecord
}

// NewCacheStore loads the full contents of cache.db into memory.
func NewCacheStore(engine *StateEngine) (*CacheStore, error) {
	if engine == nil {
		panic("state: NewCacheStore requires non-nil engine")
	}
	data, err := engine.LoadAllData()
	if err != nil {
		return nil, fmt.Errorf("load data: %w", err)
	}
	tabs, err := engine.LoadAllTabs()
	if err != nil {
		return nil, fmt.Errorf("load tabs: %w", err)
	}
	items, err := engine.LoadAllItems()
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	log.Printf("[state] cache loaded: data=%d, tab_types=%d, locations=%d", len(data), len(tabs), len(items))
	return &CacheStore{
		engine: engine,
		data:   data,
		tabs:   tabs,
		items:  items,
	}, nil
}

// Get returns the value stored under key.
func (s *CacheStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// Set stores value under key. A nil value deletes the key.
func (s *CacheStore) Set(key string, value []byte) {
	s.mu.Lock()
	if value == nil {
		delete(s.data, key)
	} else {
		s.data[key] = slices.Clone(value)
	}
	s.mu.Unlock()

	s.engine.MarkData(key)
}

// GetTabs returns the stored listing of the given type in stored order.
func (s *CacheStore) GetTabs(t model.LocationType) []model.ItemLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tabs[t])
}

// SetTabs replaces the listing of the given type. Item-position fields are
// cleared so the listing only describes tabs.
func (s *CacheStore) SetTabs(t model.LocationType, tabs []model.ItemLocation) {
	stored := make([]model.ItemLocation, 0, len(tabs))
	for _, tab := range tabs {
		stored = append(stored, tab.Tab())
	}

	s.mu.Lock()
	if len(stored) == 0 {
		delete(s.tabs, t)
	} else {
		s.tabs[t] = stored
	}
	s.mu.Unlock()

	s.engine.MarkTabs(t)
}

// GetItems returns the stored items of loc in stored order.
func (s *CacheStore) GetItems(loc model.ItemLocation) []model.ItemRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items[loc.UniqueHash()])
}

// SetItems replaces the items of loc.
func (s *CacheStore) SetItems(loc model.ItemLocation, items []model.ItemRecord) {
	key := loc.UniqueHash()

	s.mu.Lock()
	if len(items) == 0 {
		delete(s.items, key)
	} else {
		s.items[key] = slices.Clone(items)
	}
	s.mu.Unlock()

	s.engine.MarkItems(key)
}

// Readers returns flush-time readers over the snapshot maps.
func (s *CacheStore) Readers() CacheReaders {
	return CacheReaders{
		ReadData: func(key string) *DataEntry {
			s.mu.RLock()
			defer s.mu.RUnlock()
			v, ok := s.data[key]
			if !ok {
				return nil
			}
			return &DataEntry{Key: key, Value: v}
		},
		ReadTabs: func(t model.LocationType) *TabList {
			s.mu.RLock()
			defer s.mu.RUnlock()
			tabs, ok := s.tabs[t]
			if !ok {
				return nil
			}
			return &TabList{Type: t, Tabs: tabs}
		},
		ReadItems: func(locHash string) *ItemList {
			s.mu.RLock()
			defer s.mu.RUnlock()
			items, ok := s.items[locHash]
			if !ok {
				return nil
			}
			return &ItemList{LocHash: locHash, Items: items}
		},
	}
}
