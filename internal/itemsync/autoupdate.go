package itemsync

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Resinat/Coffer/internal/model"
	"github.com/Resinat/Coffer/internal/scanloop"
)

// DefaultAutoUpdateCheckInterval is how often the auto updater looks at
// the configured interval.
const DefaultAutoUpdateCheckInterval = 15 * time.Second

// Updater is the part of Worker the auto updater drives.
type Updater interface {
	Update(selection model.TabSelection, uids []string) error
}

// AutoUpdater refreshes the checked tabs every configured interval while
// auto update is enabled.
type AutoUpdater struct {
	updater       Updater
	enabled       func() bool
	interval      func() time.Duration
	checkInterval time.Duration
	now           func() time.Time

	mu      sync.Mutex
	lastRun time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAutoUpdater creates an AutoUpdater. enabled and interval are read on
// every check so runtime config changes apply without a restart.
func NewAutoUpdater(updater Updater, enabled func() bool, interval func() time.Duration) *AutoUpdater {
	if updater == nil {
		panic("itemsync: NewAutoUpdater requires non-nil updater")
	}
	return &AutoUpdater{
		updater:       updater,
		enabled:       enabled,
		interval:      interval,
		checkInterval: DefaultAutoUpdateCheckInterval,
		now:           time.Now,
		lastRun:       time.Now(),
	}
}

// Start launches the background loop.
func (a *AutoUpdater) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = scanloop.Run(ctx, scanloop.Fixed(a.checkInterval), func(context.Context) { a.check() })
	}()
}

// Stop ends the loop and waits for it. Stop without Start is a no-op.
func (a *AutoUpdater) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	a.wg.Wait()
}

func (a *AutoUpdater) check() {
	if !a.enabled() {
		return
	}
	now := a.now()
	a.mu.Lock()
	due := now.Sub(a.lastRun) >= a.interval()
	if due {
		a.lastRun = now
	}
	a.mu.Unlock()
	if !due {
		return
	}

	err := a.updater.Update(model.SelectChecked, nil)
	switch {
	case err == nil:
		log.Println("[sync] auto update started")
	case errors.Is(err, ErrUpdateInProgress):
		log.Println("[sync] auto update skipped, update already in progress")
	default:
		log.Printf("[sync] auto update failed: %v", err)
	}
}
