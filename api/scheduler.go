/*
scheduler.go - Background maintenance jobs

PURPOSE:
  Runs the periodic sweeps the request path never triggers on its own:

    overdue-billing  every hour   pending bills past their due date -> overdue
    trial-expiry     every hour   trials past their end date -> expired
    extension-resume every 5 min  off-day sagas left applying/reversing

DESIGN:
  - robfig/cron with SkipIfStillRunning: a slow sweep is never overlapped
  - Each job gets its own timeout context
  - Every sweep is idempotent, so a missed or repeated tick is harmless

USAGE:
  scheduler := NewScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - billing/manager.go: SweepOverdue
  - credits/ledger.go: ExpireTrials
  - meals/reconciler.go: ResumePending
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/smartmess/billing-engine/logging"
)

// Job is one scheduled sweep. Run reports how many records it touched.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (int, error)
}

// Scheduler runs maintenance jobs on cron schedules.
type Scheduler struct {
	Jobs    []Job
	Timeout time.Duration

	logger logging.Logger
	cron   *cron.Cron
	mu     sync.Mutex
}

// NewScheduler creates a scheduler with the standard jobs.
func NewScheduler(h *Handler) *Scheduler {
	return &Scheduler{
		Jobs: []Job{
			{Name: "overdue-billing", Schedule: "@every 1h", Run: h.Bills.SweepOverdue},
			{Name: "trial-expiry", Schedule: "@every 1h", Run: h.Credits.ExpireTrials},
			{Name: "extension-resume", Schedule: "@every 5m", Run: h.OffDays.ResumePending},
		},
		Timeout: 4 * time.Minute,
		logger:  h.Logger,
	}
}

// Start registers every job and starts the cron runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	for _, job := range s.Jobs {
		job := job
		if _, err := c.AddFunc(job.Schedule, func() { s.run(job) }); err != nil {
			return err
		}
	}
	c.Start()
	s.cron = c

	s.logger.Info("Scheduler", "Started", map[string]any{"jobs": len(s.Jobs)})
	return nil
}

// Stop stops the runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("Scheduler", "Stopped", nil)
}

// RunNow runs every job once, synchronously (for testing/admin).
func (s *Scheduler) RunNow() {
	for _, job := range s.Jobs {
		s.run(job)
	}
}

func (s *Scheduler) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	start := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		s.logger.Error("Scheduler", "Job failed", map[string]any{"job": job.Name, "error": err})
		return
	}
	if n > 0 {
		s.logger.Info("Scheduler", "Job completed", map[string]any{
			"job":         job.Name,
			"processed":   n,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}
