package jobs

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/avelens/spotigram/internal/store"
)

// Scheduler manages background jobs
type Scheduler struct {
	cron     *cron.Cron
	attempts *store.Attempts
	quotas   *store.Quotas
}

// NewScheduler creates a new job scheduler
func NewScheduler(attempts *store.Attempts, quotas *store.Quotas) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		attempts: attempts,
		quotas:   quotas,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	// Sweep expired authorization attempts every 10 minutes. Redemption
	// filters on TTL itself, the sweep only keeps the table small.
	s.cron.AddFunc("@every 10m", func() {
		s.sweepAttempts()
	})

	// Drop stale mix quota rows daily at 3:14 AM.
	s.cron.AddFunc("14 3 * * *", func() {
		s.cleanupQuotas()
	})

	s.cron.Start()
	log.Println("Job scheduler started")

	// Run the attempt sweep immediately so a restart does not leave a
	// backlog until the first tick.
	go s.sweepAttempts()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Job scheduler stopped")
}

func (s *Scheduler) sweepAttempts() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := s.attempts.DeleteExpired(ctx)
	if err != nil {
		log.Printf("Cleanup: failed to sweep authorization attempts: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("Cleanup: removed %d expired authorization attempts", removed)
	}
}

func (s *Scheduler) cleanupQuotas() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Keep a week of history for debugging quota complaints.
	cutoff := time.Now().UTC().AddDate(0, 0, -7).Format("2006-01-02")
	removed, err := s.quotas.DeleteBefore(ctx, cutoff)
	if err != nil {
		log.Printf("Cleanup: failed to remove old mix quotas: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("Cleanup: removed %d old mix quota rows", removed)
	}
}
