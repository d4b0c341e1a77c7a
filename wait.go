package quenchprocessing

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
)

// Tick is the polling cadence of every wait; safety is re-evaluated at least
// once per tick.
const Tick = time.Second

// QuenchEvent is the result of one WaitForQuench call.
type QuenchEvent struct {
	Detected     bool
	WaitDuration time.Duration
}

// Waiter owns every suspension point of the procedure.
type Waiter struct {
	clock      clock.Clock
	cavity     *Cavity
	safety     *SafetyMonitor
	doseSettle time.Duration
	logger     logging.Logger
}

func NewWaiter(clk clock.Clock, cavity *Cavity, safety *SafetyMonitor, doseSettle time.Duration, logger logging.Logger) *Waiter {
	return &Waiter{
		clock:      clk,
		cavity:     cavity,
		safety:     safety,
		doseSettle: doseSettle,
		logger:     logger,
	}
}

func (w *Waiter) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.clock.After(d):
		return nil
	}
}

func (w *Waiter) elapsedSince(start time.Time) time.Duration {
	return w.clock.Now().Sub(start)
}

// WaitForQuench resets the interlocks and watches the latch for up to timeout.
// A WaitDuration shorter than timeout means the cavity quenched; a cavity that
// holds for the whole window reports exactly timeout.
func (w *Waiter) WaitForQuench(ctx context.Context, timeout time.Duration) (QuenchEvent, error) {
	if err := w.sleep(ctx, Tick); err != nil {
		return QuenchEvent{}, err
	}
	if err := w.ResetInterlocks(ctx); err != nil {
		return QuenchEvent{}, err
	}

	start := w.clock.Now()
	w.logger.Infof("waiting %v for %s to quench", timeout, w.cavity)

	for {
		elapsed := w.elapsedSince(start)
		if elapsed >= timeout {
			return QuenchEvent{Detected: false, WaitDuration: timeout}, nil
		}

		quenched, err := w.cavity.IsQuenched(ctx)
		if err != nil {
			return QuenchEvent{}, err
		}
		if quenched {
			return QuenchEvent{Detected: true, WaitDuration: elapsed}, nil
		}

		if err := w.safety.Check(ctx); err != nil {
			return QuenchEvent{}, err
		}
		if err := w.sleep(ctx, Tick); err != nil {
			return QuenchEvent{}, err
		}
	}
}

// ResetInterlocks clears the latch and, if the cavity is still quenched
// afterwards, lets the radiation monitors settle.
func (w *Waiter) ResetInterlocks(ctx context.Context) error {
	w.logger.Debugf("resetting interlocks for %s", w.cavity)
	if err := w.cavity.ClearInterlocks(ctx); err != nil {
		return err
	}
	return w.WaitForDoseSettle(ctx)
}

// WaitForDoseSettle waits the dose settle time when the cavity is quenched.
// Only the base policy is checked: the dose is expected to spike right now.
func (w *Waiter) WaitForDoseSettle(ctx context.Context) error {
	quenched, err := w.cavity.IsQuenched(ctx)
	if err != nil || !quenched {
		return err
	}

	w.logger.Infof("detected %s quench, waiting %v for dose monitors to settle", w.cavity, w.doseSettle)
	start := w.clock.Now()
	for w.elapsedSince(start) < w.doseSettle {
		if base := w.safety.Base(); base != nil {
			if err := base.Check(ctx); err != nil {
				return err
			}
		}
		if err := w.sleep(ctx, Tick); err != nil {
			return err
		}
	}
	return nil
}

// Settle waits d in whole ticks, checking safety before each tick and returning
// early once the cavity quenches. The sub-tick remainder is slept unpolled.
func (w *Waiter) Settle(ctx context.Context, d time.Duration) error {
	ticks := int(d / Tick)
	for i := 0; i < ticks; i++ {
		if err := w.safety.Check(ctx); err != nil {
			return err
		}
		if err := w.sleep(ctx, Tick); err != nil {
			return err
		}
		quenched, err := w.cavity.IsQuenched(ctx)
		if err != nil {
			return err
		}
		if quenched {
			return nil
		}
	}
	return w.sleep(ctx, d%Tick)
}
