package state

import (
	"log"
	"sync"
	"time"
)

// FlushPolicy decides when stale cache keys are written out. Threshold and
// MaxDelay are read on every check so runtime config edits apply live.
type FlushPolicy struct {
	Threshold func() int           // flush once this many keys are stale
	MaxDelay  func() time.Duration // flush anything older than this
	Tick      time.Duration        // how often the conditions are checked
}

func (p FlushPolicy) due(stale int, sinceLast time.Duration, requested bool) bool {
	if stale == 0 {
		return false
	}
	return requested || stale >= p.Threshold() || sinceLast >= p.MaxDelay()
}

// CacheFlushWorker writes stale cache keys to cache.db in the background.
// Stop performs one last flush when the worker was started.
type CacheFlushWorker struct {
	engine  *StateEngine
	readers CacheReaders
	policy  FlushPolicy

	kick chan struct{}
	quit chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

// NewCacheFlushWorker panics on a nil engine or an incomplete policy.
func NewCacheFlushWorker(engine *StateEngine, readers CacheReaders, policy FlushPolicy) *CacheFlushWorker {
	switch {
	case engine == nil:
		panic("state: NewCacheFlushWorker requires non-nil engine")
	case policy.Threshold == nil || policy.MaxDelay == nil:
		panic("state: FlushPolicy requires Threshold and MaxDelay")
	case policy.Tick <= 0:
		panic("state: FlushPolicy requires positive Tick")
	}
	return &CacheFlushWorker{
		engine:  engine,
		readers: readers,
		policy:  policy,
		kick:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (w *CacheFlushWorker) Start() {
	w.startOnce.Do(func() {
		w.started = true
		go w.loop()
	})
}

// Stop is idempotent and blocks until the final flush has finished.
func (w *CacheFlushWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
		if w.started {
			<-w.done
		}
	})
}

// RequestFlush makes the next check flush regardless of the threshold.
// Requests made before that check collapse into one.
func (w *CacheFlushWorker) RequestFlush() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *CacheFlushWorker) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.policy.Tick)
	defer ticker.Stop()

	last := time.Now()
	var requested bool
	for {
		select {
		case <-w.quit:
			w.flush()
			return
		case <-w.kick:
			requested = true
		case now := <-ticker.C:
			if w.policy.due(w.engine.DirtyCount(), now.Sub(last), requested) {
				w.flush()
				last = now
			}
			requested = false
		}
	}
}

func (w *CacheFlushWorker) flush() {
	if err := w.engine.FlushDirtySets(w.readers); err != nil {
		log.Printf("[state] cache flush failed, will retry: %v", err)
	}
}
