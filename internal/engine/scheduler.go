package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/intraday-trader/internal/broker"
)

// panicSecond is the offset into each minute at which the panic cycle runs.
// Polling earlier can observe partial, soon-to-be-revised bars; the offset
// gives the broker time to finalize its :30s recalculation.
const panicSecond = 35

// closedPollInterval is the idle cadence while the market is closed.
const closedPollInterval = time.Minute

// Clock abstracts wall time so the scheduler is deterministic under test.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until the context is cancelled.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the production Clock.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// Sleep implements Clock.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Scheduler is the single cooperative session loop. It aligns the entry,
// exit and panic cycles to their cadences and runs them in risk order:
// panic first, then exits, then entries.
type Scheduler struct {
	logger *zap.Logger
	clock  Clock
	broker broker.Broker
	engine *Engine
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *zap.Logger, clock Clock, b broker.Broker, e *Engine) *Scheduler {
	return &Scheduler{logger: logger, clock: clock, broker: b, engine: e}
}

// nextQuarterHour returns the first :00/:15/:30/:45 minute boundary strictly
// after t.
func nextQuarterHour(t time.Time) time.Time {
	return t.Truncate(15 * time.Minute).Add(15 * time.Minute)
}

// nextPanicTick returns the first :35s instant strictly after t.
func nextPanicTick(t time.Time) time.Time {
	base := t.Truncate(time.Minute).Add(panicSecond * time.Second)
	if base.After(t) {
		return base
	}
	return base.Add(time.Minute)
}

// Run drives the session until it ends or the context is cancelled.
// Returning nil means a normal session end; the supervisor restarts the
// process for the next session, forcing fresh calibration.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := s.clock.Now()

		mc, err := s.broker.GetClock(ctx)
		if err != nil {
			s.engine.recordBrokerError(err)
			s.logger.Warn("market clock unavailable", zap.Error(err))
			if err := s.clock.Sleep(ctx, closedPollInterval); err != nil {
				return err
			}
			continue
		}

		if !mc.IsOpen {
			if s.engine.Flattened() {
				s.logger.Info("session complete")
				return nil
			}
			s.logger.Debug("market closed",
				zap.Time("next_open", mc.NextOpen),
				zap.Int("tracked_positions", s.engine.ledger.Len()),
			)
			if err := s.clock.Sleep(ctx, closedPollInterval); err != nil {
				return err
			}
			continue
		}

		sessionEnd := mc.NextClose
		if s.engine.Flattened() {
			if !now.Before(sessionEnd) {
				s.logger.Info("session complete")
				return nil
			}
			remaining := sessionEnd.Sub(now)
			if remaining > closedPollInterval {
				remaining = closedPollInterval
			}
			if err := s.clock.Sleep(ctx, remaining); err != nil {
				return err
			}
			continue
		}

		next15 := nextQuarterHour(now)
		nextPanic := nextPanicTick(now)
		wake := next15
		if nextPanic.Before(wake) {
			wake = nextPanic
		}

		if err := s.clock.Sleep(ctx, wake.Sub(now)); err != nil {
			return err
		}
		now = s.clock.Now()

		// Risk checks run before new risk is taken on.
		if !now.Before(nextPanic) {
			s.engine.RunPanicCycle(ctx, now)
		}
		if !now.Before(next15) {
			s.engine.RunExitCycle(ctx, now)
			if s.entriesAllowed(now) {
				s.engine.RunEntryCycle(ctx, now)
			}
		}
	}
}

// entriesAllowed applies the time-of-day gates: no entries before the
// risk-on time, none after the no-more-entries time, and none once the
// end-of-day flatten has latched.
func (s *Scheduler) entriesAllowed(now time.Time) bool {
	if s.engine.Flattened() {
		return false
	}
	local := now.In(s.engine.loc)
	if local.Before(s.engine.cfg.RiskOnTime.On(local)) {
		return false
	}
	if !local.Before(s.engine.cfg.NoMoreEntriesTime.On(local)) {
		return false
	}
	return true
}
