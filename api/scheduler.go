/*
scheduler.go - Background growth jobs

PURPOSE:
  Two recurring jobs, previously external scheduled triggers, run
  in-process here:
  - Daily bonus: flat credit to every account
  - Level refresh: recompute levels from referral counts

DESIGN:
  One goroutine, one ticker. Each tick runs both jobs; each account is
  its own transaction, so a failure on one account never blocks the
  rest. Start is idempotent-ish per instance: call once, Stop on
  shutdown.

SEE ALSO:
  - rewards/service.go: DailyBonus / RefreshLevels
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartpicture/growth-engine/rewards"
)

// Scheduler drives the recurring reward jobs.
type Scheduler struct {
	Service  *rewards.Service
	Interval time.Duration
	Log      zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler with the default daily cadence.
func NewScheduler(svc *rewards.Service, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Service:  svc,
		Interval: 24 * time.Hour,
		Log:      log,
		stop:     make(chan struct{}),
	}
}

// Start begins the background loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run()
	s.Log.Info().Dur("interval", s.Interval).Msg("scheduler started")
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.Log.Info().Msg("scheduler stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	credited, err := s.Service.DailyBonus(ctx)
	if err != nil {
		s.Log.Error().Err(err).Int("credited", credited).Msg("daily bonus incomplete")
	} else {
		s.Log.Info().Int("credited", credited).Msg("daily bonus applied")
	}

	updated, err := s.Service.RefreshLevels(ctx)
	if err != nil {
		s.Log.Error().Err(err).Int("updated", updated).Msg("level refresh incomplete")
	} else {
		s.Log.Info().Int("updated", updated).Msg("levels refreshed")
	}
}
