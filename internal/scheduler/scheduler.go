package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/user/examslots/internal/config"
	"github.com/user/examslots/internal/crawler"
	"github.com/user/examslots/internal/metrics"
	"github.com/user/examslots/internal/model"
	"github.com/user/examslots/internal/reconcile"
	"github.com/user/examslots/internal/runlock"
	"github.com/user/examslots/internal/store"
)

// ErrCycleInProgress is returned when a trigger finds another cycle running
var ErrCycleInProgress = errors.New("scrape cycle already in progress")

// Reconciler merges one run's drafts into persisted state
type Reconciler interface {
	Reconcile(ctx context.Context, drafts []*model.SlotDraft, ts time.Time) (reconcile.Summary, error)
}

// CycleResult describes a finished scrape cycle
type CycleResult struct {
	Trigger   string
	StartedAt time.Time
	Duration  time.Duration
	Summary   reconcile.Summary
	Err       error
}

// Reporter receives the result of every finished cycle
type Reporter interface {
	ReportCycle(res CycleResult)
}

// Scheduler runs scrape cycles on demand and, when enabled, periodically
type Scheduler struct {
	crawler  crawler.Crawler
	engine   Reconciler
	slots    store.SlotStore
	locker   runlock.Locker
	config   *config.ScraperConfig
	reporter Reporter
	running  atomic.Bool
	mu       sync.Mutex // one cycle per process
	last     atomic.Pointer[CycleResult]
	now      func() time.Time
	delay    time.Duration // before the first periodic cycle
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a new scheduler instance. A nil locker serializes
// cycles only within this process.
func NewScheduler(
	crawler crawler.Crawler,
	engine Reconciler,
	slots store.SlotStore,
	locker runlock.Locker,
	cfg *config.ScraperConfig,
) *Scheduler {
	if locker == nil {
		locker = &runlock.LocalLocker{}
	}
	return &Scheduler{
		crawler: crawler,
		engine:  engine,
		slots:   slots,
		locker:  locker,
		config:  cfg,
		now:     time.Now,
		delay:   5 * time.Second,
		stopCh:  make(chan struct{}),
	}
}

// SetReporter registers the receiver of cycle results
func (s *Scheduler) SetReporter(r Reporter) {
	s.reporter = r
}

// Start begins periodic execution when scheduling is enabled. Stop cancels
// the context handed to periodic cycles.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.config.ScheduleEnabled {
		log.Info().Msg("Periodic scraping is disabled, cycles run on trigger only")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	log.Info().Dur("delay", s.delay).Msg("Scheduler starting with initial delay")

	select {
	case <-time.After(s.delay):
		s.executeScheduled(ctx)
	case <-s.stopCh:
		log.Info().Msg("Scheduler stopped during initial delay")
		return
	case <-ctx.Done():
		log.Info().Msg("Scheduler context cancelled during initial delay")
		return
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.config.Interval).Msg("Scheduler started periodic execution")

	for {
		select {
		case <-ticker.C:
			s.executeScheduled(ctx)
		case <-s.stopCh:
			log.Info().Msg("Scheduler stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Scheduler context cancelled")
			return
		}
	}
}

func (s *Scheduler) executeScheduled(ctx context.Context) {
	if _, err := s.TryRun(ctx, "schedule"); errors.Is(err, ErrCycleInProgress) {
		log.Warn().Msg("Scrape cycle already running, skipping this tick")
	}
}

// TryRun runs one cycle now unless another one holds the lock, in which
// case it returns ErrCycleInProgress without doing any work.
func (s *Scheduler) TryRun(ctx context.Context, trigger string) (reconcile.Summary, error) {
	if !s.mu.TryLock() {
		return reconcile.Summary{}, ErrCycleInProgress
	}
	defer s.mu.Unlock()

	release, err := s.locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, runlock.ErrHeld) {
			return reconcile.Summary{}, ErrCycleInProgress
		}
		return reconcile.Summary{}, err
	}
	defer release()

	s.running.Store(true)
	defer s.running.Store(false)

	start := s.now()
	log.Info().Str("trigger", trigger).Msg("Starting scrape cycle")

	summary, err := s.RunOnce(ctx)

	res := CycleResult{
		Trigger:   trigger,
		StartedAt: start,
		Duration:  s.now().Sub(start),
		Summary:   summary,
		Err:       err,
	}
	s.finish(ctx, res)

	return summary, err
}

// RunOnce scrapes the source and reconciles the result. It does not take
// the run lock; callers go through TryRun.
func (s *Scheduler) RunOnce(ctx context.Context) (reconcile.Summary, error) {
	drafts, err := s.crawler.ScrapeSlots(ctx)
	if err != nil {
		return reconcile.Summary{}, fmt.Errorf("scrape failed: %w", err)
	}

	log.Info().Int("count", len(drafts)).Msg("Scraped slot drafts")

	return s.engine.Reconcile(ctx, drafts, s.now())
}

func (s *Scheduler) finish(ctx context.Context, res CycleResult) {
	result := "success"
	switch {
	case errors.Is(res.Err, crawler.ErrSourceUnavailable):
		result = "source_unavailable"
	case res.Err != nil:
		result = "failed"
	}
	metrics.RecordCycle(result, res.Duration)
	metrics.RecordSlotChanges(res.Summary.Opened, res.Summary.Updated, res.Summary.Swept)

	if res.Err != nil {
		log.Error().
			Err(res.Err).
			Int("opened", res.Summary.Opened).
			Int("updated", res.Summary.Updated).
			Dur("duration", res.Duration).
			Msg("Scrape cycle failed")
	} else {
		log.Info().
			Int("opened", res.Summary.Opened).
			Int("updated", res.Summary.Updated).
			Int("total", res.Summary.Total).
			Dur("duration", res.Duration).
			Msg("Scrape cycle completed")
	}

	if s.slots != nil {
		if total, available, err := s.slots.CountSlots(ctx); err == nil {
			metrics.SetSlotCounts(total, available)
		}
	}

	s.last.Store(&res)
	if s.reporter != nil {
		s.reporter.ReportCycle(res)
	}
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	log.Info().Msg("Stopping scheduler...")
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.cancel != nil {
			s.cancel()
		}
	})
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

// IsRunning returns true if a cycle is currently running in this process
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// LastResult returns the most recent cycle result, or nil before the first cycle
func (s *Scheduler) LastResult() *CycleResult {
	return s.last.Load()
}
