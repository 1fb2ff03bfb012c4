/*
scheduler.go - Periodic full rebuild

PURPOSE:
  Runs RebuildAll over the whole history on a fixed interval so any drift
  between aggregates and the order collection is repaired without an
  operator.

DESIGN:
  - Background goroutine driven by a ticker
  - Runs once immediately on Start
  - A tick that finds a run already in progress is skipped
  - Every run is recorded through the RunStore for audit and the API

USAGE:
  s := replay.NewScheduler(engine, cfg.Replay.Interval, log)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - api/handlers.go: POST /api/replay (manual trigger)
*/
package replay

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/stock-ledger/stock"
)

type Scheduler struct {
	engine   *Engine
	interval time.Duration
	log      *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewScheduler(engine *Engine, interval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
		log:      log.Named("replay_scheduler"),
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.interval)
	s.wg.Add(1)
	go s.run(ctx)

	s.log.Info("scheduler started", zap.Duration("interval", s.interval))
}

// Stop cancels an in-flight run and waits for the goroutine to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return
	}

	s.ticker.Stop()
	s.cancel()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.RunNow(ctx)
	for {
		select {
		case <-s.ticker.C:
			s.RunNow(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunNow triggers an immediate full rebuild (for testing/admin).
func (s *Scheduler) RunNow(ctx context.Context) *stock.ReplayRun {
	run, err := s.engine.RebuildAll(ctx, stock.All)
	if errors.Is(err, stock.ErrReplayInProgress) {
		s.log.Info("replay already running; tick skipped")
		return nil
	}
	if err != nil {
		s.log.Error("scheduled replay failed", zap.Error(err))
		return nil
	}
	return run
}

// NextRunTime returns when the next scheduled rebuild will occur.
func (s *Scheduler) NextRunTime() time.Time {
	return time.Now().Add(s.interval)
}
