package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nest-haus/konfigurator-tracking/internal/tracking"
)

// Sweeper periodically finalizes ACTIVE sessions whose last activity is
// older than the idle threshold. Going through the Finalizer keeps the
// guarded transition and cache-eviction rules in one place.
type Sweeper struct {
	repository tracking.Repository
	finalizer  *tracking.Finalizer

	idleAfter time.Duration
	batchSize int

	cron *cron.Cron
}

// New creates a sweeper. idleAfter should match or exceed the cache TTL so
// a session is never abandoned while its snapshot is still warm.
func New(repository tracking.Repository, finalizer *tracking.Finalizer, idleAfter time.Duration, batchSize int) *Sweeper {
	return &Sweeper{
		repository: repository,
		finalizer:  finalizer,
		idleAfter:  idleAfter,
		batchSize:  batchSize,
		cron:       cron.New(),
	}
}

// Start schedules the sweep. schedule is a cron expression, e.g. "@every 15m".
func (s *Sweeper) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.Sweep(context.Background())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("[SWEEP] Scheduled stale-session sweep: %s (idle threshold %s)", schedule, s.idleAfter)
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep abandons one batch of stale sessions and returns how many were
// transitioned
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-s.idleAfter)

	ids, err := s.repository.StaleActiveSessions(ctx, cutoff, s.batchSize)
	if err != nil {
		log.Printf("[WARN] Stale-session scan failed: %v", err)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	swept := 0
	for _, id := range ids {
		// nil snapshot and nil predicate force ABANDONED; the stored
		// configuration data is left untouched
		status, err := s.finalizer.Finalize(ctx, id, nil, nil)
		if err != nil {
			log.Printf("[WARN] Failed to abandon stale session %s: %v", id, err)
			continue
		}
		if status == tracking.SessionStatusAbandoned {
			swept++
		}
	}

	log.Printf("[SWEEP] Abandoned %d of %d stale sessions", swept, len(ids))
	return swept
}
