package refdata

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Resinat/Coffer/internal/netutil"
)

// Default RePoE sources.
const (
	DefaultItemClassesURL = "https://raw.githubusercontent.com/lvlvllvlvllvlvl/RePoE/master/RePoE/data/item_classes.min.json"
	DefaultBaseTypesURL   = "https://raw.githubusercontent.com/lvlvllvlvllvlvl/RePoE/master/RePoE/data/base_items.min.json"
)

// DefaultStatTranslationURLs are fetched in order.
var DefaultStatTranslationURLs = []string{
	"https://raw.githubusercontent.com/lvlvllvlvllvlvl/RePoE/master/RePoE/data/stat_translations.min.json",
	"https://raw.githubusercontent.com/lvlvllvlvllvlvl/RePoE/master/RePoE/data/stat_translations/necropolis.min.json",
}

// ServiceConfig configures the reference data service.
type ServiceConfig struct {
	CacheDir            string // raw files live in <CacheDir>/refdata
	UpdateSchedule      string // cron expression, default "0 6 * * *"
	ItemClassesURL      string
	BaseTypesURL        string
	StatTranslationURLs []string
	Downloader          netutil.Downloader
	Store               *Store
}

// Step is one reference file: where it comes from, where it is cached and
// how it is applied to the store.
type Step struct {
	Name  string
	URL   string
	File  string
	Apply func([]byte) error
	// Required steps abort an update when they fail.
	Required bool
}

// Status is the service state exposed over the API.
type Status struct {
	Stats       Stats     `json:"stats"`
	Categories  int       `json:"categories"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Updating    bool      `json:"updating"`
}

// Service downloads, caches and schedules reference data refreshes.
type Service struct {
	dir        string
	store      *Store
	downloader netutil.Downloader
	steps      []Step

	cron        *cron.Cron
	cronEntryID cron.EntryID
	updateMu    sync.Mutex // serializes updates
	lifeCtx     context.Context
	lifeCancel  context.CancelFunc

	statusMu    sync.Mutex
	lastUpdated time.Time
	lastError   string
	updating    bool
}

// NewService creates a reference data service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.UpdateSchedule == "" {
		cfg.UpdateSchedule = "0 6 * * *"
	}
	if cfg.ItemClassesURL == "" {
		cfg.ItemClassesURL = DefaultItemClassesURL
	}
	if cfg.BaseTypesURL == "" {
		cfg.BaseTypesURL = DefaultBaseTypesURL
	}
	if len(cfg.StatTranslationURLs) == 0 {
		cfg.StatTranslationURLs = DefaultStatTranslationURLs
	}
	if cfg.Store == nil {
		cfg.Store = NewStore()
	}

	c := cron.New()
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	s := &Service{
		dir:        filepath.Join(cfg.CacheDir, "refdata"),
		store:      cfg.Store,
		downloader: cfg.Downloader,
		cron:       c,
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}
	s.steps = append(s.steps,
		Step{Name: "item classes", URL: cfg.ItemClassesURL, File: "item_classes.json", Apply: s.store.ApplyItemClasses},
		Step{Name: "item base types", URL: cfg.BaseTypesURL, File: "base_items.json", Apply: s.store.ApplyBaseTypes},
	)
	for i, u := range cfg.StatTranslationURLs {
		s.steps = append(s.steps, Step{
			Name:     "stat translations " + path.Base(u),
			URL:      u,
			File:     "stat_translations." + strconv.Itoa(i) + ".json",
			Apply:    s.store.AddStatTranslations,
			Required: true,
		})
	}

	entryID, err := c.AddFunc(cfg.UpdateSchedule, func() {
		if err := s.UpdateNow(); err != nil {
			log.Printf("[refdata] scheduled update failed: %v", err)
		}
	})
	if err != nil {
		log.Printf("[refdata] invalid cron expression %q: %v", cfg.UpdateSchedule, err)
	} else {
		s.cronEntryID = entryID
	}
	return s
}

// Store returns the store this service fills.
func (s *Service) Store() *Store { return s.store }

// Steps returns the reference files in fetch order.
func (s *Service) Steps() []Step { return append([]Step(nil), s.steps...) }

// Start applies whatever is cached, triggers a background update when any
// file is missing or stale, and starts the schedule.
func (s *Service) Start() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("refdata: create cache dir: %w", err)
	}
	needUpdate, err := s.LoadCached()
	if err != nil {
		return err
	}
	if needUpdate {
		log.Println("[refdata] cached data missing or stale, triggering background update")
		go func() {
			if err := s.UpdateNow(); err != nil {
				log.Printf("[refdata] startup update failed: %v", err)
			}
		}()
	}
	s.cron.Start()
	return nil
}

// LoadCached applies every cached file and reports whether any was
// missing, stale or unusable.
func (s *Service) LoadCached() (needUpdate bool, err error) {
	var newest time.Time
	for _, step := range s.steps {
		p := filepath.Join(s.dir, step.File)
		info, statErr := os.Stat(p)
		if os.IsNotExist(statErr) {
			needUpdate = true
			continue
		}
		if statErr != nil {
			return false, fmt.Errorf("refdata: stat %s: %w", p, statErr)
		}
		if s.isStale(info.ModTime()) {
			needUpdate = true
		}
		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return false, fmt.Errorf("refdata: read %s: %w", p, readErr)
		}
		if applyErr := step.Apply(data); applyErr != nil {
			log.Printf("[refdata] cached %s unusable: %v", step.Name, applyErr)
			needUpdate = true
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	if !newest.IsZero() {
		s.statusMu.Lock()
		s.lastUpdated = newest
		s.statusMu.Unlock()
	}
	return needUpdate, nil
}

// isStale returns true if the file's mtime is older than twice the gap
// between two consecutive cron firings. Falls back to 8 days if the
// schedule cannot be determined.
func (s *Service) isStale(modTime time.Time) bool {
	entry := s.cron.Entry(s.cronEntryID)
	if entry.ID == 0 || entry.Schedule == nil {
		return time.Since(modTime) > 8*24*time.Hour
	}
	next := entry.Schedule.Next(time.Now())
	interval := entry.Schedule.Next(next).Sub(next)
	if interval <= 0 {
		interval = 8 * 24 * time.Hour
	}
	return time.Since(modTime) > 2*interval
}

// Stop stops the schedule and cancels in-flight downloads.
func (s *Service) Stop() {
	if s.lifeCancel != nil {
		s.lifeCancel()
	}
	<-s.cron.Stop().Done()
}

// RunStep downloads one file, caches it atomically and applies it.
func (s *Service) RunStep(ctx context.Context, step Step) error {
	if s.downloader == nil {
		return fmt.Errorf("refdata: no downloader configured")
	}
	data, err := s.downloader.Download(ctx, step.URL)
	if err != nil {
		return fmt.Errorf("refdata: download %s: %w", step.Name, err)
	}
	if err := step.Apply(data); err != nil {
		return err
	}
	if err := s.writeCache(step.File, data); err != nil {
		log.Printf("[refdata] cache %s: %v", step.Name, err)
	}
	return nil
}

func (s *Service) writeCache(name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, name+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, filepath.Join(s.dir, name))
}

// UpdateNow fetches every reference file in order. Class and base type
// failures are logged and skipped; a stat translation failure aborts.
func (s *Service) UpdateNow() error {
	return s.Update(s.lifeCtx, nil)
}

// Update is UpdateNow with a caller context and an optional progress
// callback invoked before each step.
func (s *Service) Update(ctx context.Context, progress func(Step)) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	if ctx == nil {
		ctx = s.lifeCtx
	}

	s.setUpdating(true)
	err := s.runSteps(ctx, progress)
	s.finishUpdate(err)
	return err
}

// EnsureLoaded runs Update unless the store already holds classes, base
// types and stat translations. Concurrent callers wait for the running update.
func (s *Service) EnsureLoaded(ctx context.Context, progress func(Step)) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	if s.store.Loaded() && s.store.Stats().StatTranslations > 0 {
		return nil
	}
	if ctx == nil {
		ctx = s.lifeCtx
	}

	s.setUpdating(true)
	err := s.runSteps(ctx, progress)
	s.finishUpdate(err)
	return err
}

func (s *Service) runSteps(ctx context.Context, progress func(Step)) error {
	for _, step := range s.steps {
		if progress != nil {
			progress(step)
		}
		if err := s.RunStep(ctx, step); err != nil {
			if step.Required {
				return fmt.Errorf("%w; aborting update", err)
			}
			log.Printf("[refdata] couldn't fetch %s: %v", step.Name, err)
		}
	}
	return nil
}

func (s *Service) setUpdating(v bool) {
	s.statusMu.Lock()
	s.updating = v
	s.statusMu.Unlock()
}

func (s *Service) finishUpdate(err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.updating = false
	if err != nil {
		s.lastError = err.Error()
		return
	}
	s.lastError = ""
	s.lastUpdated = time.Now()
}

// Status returns the current service state.
func (s *Service) Status() Status {
	st := Status{Stats: s.store.Stats(), Categories: len(s.store.Categories())}
	s.statusMu.Lock()
	st.LastUpdated = s.lastUpdated
	st.LastError = s.lastError
	st.Updating = s.updating
	s.statusMu.Unlock()
	return st
}
