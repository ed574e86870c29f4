// Package scheduler drives the nightly batch: one cron entry from the
// registry's scan schedule, and on every tick the selector picks the
// repositories and groups that get enqueued.
package scheduler

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/queue"
	"github.com/clonehoundhq/clonehound/internal/registry"
	"github.com/clonehoundhq/clonehound/internal/selector"
	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	cron   *cron.Cron
	queue  *queue.Queue
	reg    *registry.Registry
	sel    *selector.Selector
	logger *log.Logger

	// RunOnStartup triggers one scheduling pass immediately on Start instead
	// of waiting for the first tick.
	runOnStartup bool

	mu       sync.Mutex
	entry    cron.EntryID
	schedule string
}

func New(q *queue.Queue, reg *registry.Registry, sel *selector.Selector, runOnStartup bool, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		cron:         cron.New(),
		queue:        q,
		reg:          reg,
		sel:          sel,
		runOnStartup: runOnStartup,
		logger:       logger,
	}
}

func (s *Scheduler) Start() error {
	if err := s.Reschedule(); err != nil {
		return err
	}
	s.cron.Start()
	if s.runOnStartup {
		s.logger.Printf("scheduler: running startup pass")
		go s.Tick(time.Now())
	}
	return nil
}

// Stop halts the cron loop and waits for an in-flight tick to finish.
// Already-enqueued jobs keep running; stopping the queue is the caller's job.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Reschedule re-reads the registry's scan schedule and swaps the cron entry.
// Called at startup and whenever the registry document is reloaded.
func (s *Scheduler) Reschedule() error {
	cfg := s.reg.ScanConfig()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		if s.entry != 0 {
			s.cron.Remove(s.entry)
			s.entry = 0
			s.schedule = ""
		}
		s.logger.Printf("scheduler: scheduled scans disabled, manual triggers only")
		return nil
	}
	if cfg.Schedule == s.schedule && s.entry != 0 {
		return nil
	}

	entryID, err := s.cron.AddFunc(cfg.Schedule, func() {
		s.Tick(time.Now())
	})
	if err != nil {
		return err
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = entryID
	s.schedule = cfg.Schedule
	s.logger.Printf("scheduler: scan schedule %q", cfg.Schedule)
	return nil
}

// Tick runs one scheduling pass: select due work and enqueue it. A target
// that already has an active job is skipped, never duplicated; the tick is
// otherwise never skipped even if a previous batch is still running.
func (s *Scheduler) Tick(now time.Time) {
	selection := s.sel.Select(now)
	if len(selection.Repositories) == 0 && len(selection.Groups) == 0 {
		s.logger.Printf("scheduler: tick at %s selected nothing", now.Format(time.RFC3339))
		return
	}

	enqueued := 0
	for _, repo := range selection.Repositories {
		job, err := s.queue.Enqueue(model.ScanKindIntra, repo.Name, "scheduled")
		switch {
		case errors.Is(err, queue.ErrTargetBusy):
			s.logger.Printf("scheduler: skipping %s, job %s still active", repo.Name, job.ID)
		case err != nil:
			s.logger.Printf("scheduler: enqueue %s: %v", repo.Name, err)
		default:
			enqueued++
		}
	}
	for _, group := range selection.Groups {
		job, err := s.queue.Enqueue(model.ScanKindInter, group.Name, "scheduled")
		switch {
		case errors.Is(err, queue.ErrTargetBusy):
			s.logger.Printf("scheduler: skipping group %s, job %s still active", group.Name, job.ID)
		case err != nil:
			s.logger.Printf("scheduler: enqueue group %s: %v", group.Name, err)
		default:
			enqueued++
		}
	}
	s.logger.Printf("scheduler: tick enqueued %d of %d repositories and %d groups",
		enqueued, len(selection.Repositories), len(selection.Groups))
}
