package state

import (
	"fmt"
	"log"

	"github.com/Resinat/Coffer/internal/model"
)

// CacheReaders read the current in-memory value of a stale key at flush
// time. A nil result means the key no longer exists and its row is deleted.
type CacheReaders struct {
	ReadData  func(key string) *DataEntry
	ReadTabs  func(t model.LocationType) *TabList
	ReadItems func(locHash string) *ItemList
}

// StateEngine is the single write entry point for persistence. Runtime
// config and refresh-checked marks are written through to state.db; tabs,
// items and key/value data are marked stale and batch-flushed to cache.db.
type StateEngine struct {
	*StateRepo
	*CacheRepo

	staleData  *staleKeys[string]
	staleTabs  *staleKeys[model.LocationType]
	staleItems *staleKeys[string]
}

func newStateEngine(stateRepo *StateRepo, cacheRepo *CacheRepo) *StateEngine {
	return &StateEngine{
		StateRepo:  stateRepo,
		CacheRepo:  cacheRepo,
		staleData:  newStaleKeys[string](),
		staleTabs:  newStaleKeys[model.LocationType](),
		staleItems: newStaleKeys[string](),
	}
}

func (e *StateEngine) MarkData(key string)           { e.staleData.add(key) }
func (e *StateEngine) MarkTabs(t model.LocationType) { e.staleTabs.add(t) }
func (e *StateEngine) MarkItems(locHash string)      { e.staleItems.add(locHash) }

// DirtyCount is the number of keys waiting for the next flush.
func (e *StateEngine) DirtyCount() int {
	return e.staleData.len() + e.staleTabs.len() + e.staleItems.len()
}

func resolve[K comparable, V any](keys []K, read func(K) *V) (present []V, gone []K) {
	for _, k := range keys {
		if v := read(k); v != nil {
			present = append(present, *v)
		} else {
			gone = append(gone, k)
		}
	}
	return present, gone
}

// FlushDirtySets writes every stale key to cache.db in one transaction.
// Keys are put back when the transaction fails.
func (e *StateEngine) FlushDirtySets(readers CacheReaders) error {
	dataKeys := e.staleData.take()
	tabKeys := e.staleTabs.take()
	itemKeys := e.staleItems.take()
	if len(dataKeys)+len(tabKeys)+len(itemKeys) == 0 {
		return nil
	}

	var ops FlushOps
	ops.UpsertData, ops.DeleteData = resolve(dataKeys, readers.ReadData)
	ops.ReplaceTabs, ops.DeleteTabs = resolve(tabKeys, readers.ReadTabs)
	ops.ReplaceItems, ops.DeleteItems = resolve(itemKeys, readers.ReadItems)

	if err := e.CacheRepo.FlushTx(ops); err != nil {
		e.staleData.restore(dataKeys)
		e.staleTabs.restore(tabKeys)
		e.staleItems.restore(itemKeys)
		return fmt.Errorf("flush: %w", err)
	}
	log.Printf("[state] flushed cache: data=%d, tabs=%d, items=%d", len(dataKeys), len(tabKeys), len(itemKeys))
	return nil
}
