package maintenance

import (
	"context"
	"fmt"
	"log"
	"sync"

	rcron "github.com/robfig/cron/v3"

	"github.com/stellarlinkco/clawmem/internal/memory"
)

// Scheduler runs periodic reindex passes against a memory backend on a
// cron schedule. Overlapping runs are skipped rather than queued.
type Scheduler struct {
	backend  memory.Backend
	schedule string

	mu      sync.Mutex
	cron    *rcron.Cron
	cancel  context.CancelFunc
	running bool
}

func NewScheduler(backend memory.Backend, schedule string) *Scheduler {
	return &Scheduler{backend: backend, schedule: schedule}
}

// Start registers the reindex job and begins the cron loop. An empty
// schedule disables the scheduler without error.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.schedule == "" {
		log.Printf("[maintenance] no schedule configured, scheduler idle")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel

	c := rcron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.runOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("maintenance: bad schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	log.Printf("[maintenance] scheduler started, schedule %q", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Printf("[maintenance] reindex still in progress, skipping run")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	summary, err := s.backend.Reindex(ctx)
	if err != nil {
		log.Printf("[maintenance] scheduled reindex failed: %v", err)
		return
	}
	log.Printf("[maintenance] scheduled reindex: %d indexed, %d backfilled, %d missing",
		summary.Rebuilt, summary.Backfilled, summary.StillMissing)
}

// Stop halts the cron loop and cancels any in-flight reindex.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}
