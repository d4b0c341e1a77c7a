package quenchprocessing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.viam.com/rdk/logging"
)

// ErrQuenchedDuringWalk is returned when the cavity quenches while being walked
// to its starting amplitude, before quench processing proper begins.
var ErrQuenchedDuringWalk = errors.New("cavity quenched while walking amplitude")

// RampState is where a ramp stopped.
type RampState struct {
	Amplitude  float64
	Ceiling    float64
	StepSize   float64
	StepPeriod time.Duration
	Quenched   bool
}

// RampController steps the requested amplitude up toward a ceiling, settling
// between steps, until the cavity quenches or the ceiling is reached.
type RampController struct {
	cavity *Cavity
	safety *SafetyMonitor
	waiter *Waiter
	logger logging.Logger

	doseSettle time.Duration
}

func NewRampController(cavity *Cavity, safety *SafetyMonitor, waiter *Waiter, doseSettle time.Duration, logger logging.Logger) *RampController {
	return &RampController{
		cavity:     cavity,
		safety:     safety,
		waiter:     waiter,
		logger:     logger,
		doseSettle: doseSettle,
	}
}

// RampToQuench never lowers the amplitude and never writes above ceiling.
// The caller inspects RampState.Quenched to tell the two outcomes apart.
func (r *RampController) RampToQuench(ctx context.Context, ceiling, stepSize float64, stepPeriod time.Duration) (RampState, error) {
	state := RampState{Ceiling: ceiling, StepSize: stepSize, StepPeriod: stepPeriod}
	if stepSize <= 0 {
		return state, fmt.Errorf("step size must be positive, got %v", stepSize)
	}

	if err := r.waiter.ResetInterlocks(ctx); err != nil {
		return state, err
	}

	amp, err := r.cavity.Amplitude(ctx)
	if err != nil {
		return state, err
	}
	state.Amplitude = amp

	for {
		quenched, err := r.cavity.IsQuenched(ctx)
		if err != nil {
			return state, err
		}
		if quenched {
			state.Quenched = true
			return state, nil
		}
		if state.Amplitude >= ceiling {
			return state, nil
		}

		if err := r.safety.Check(ctx); err != nil {
			return state, err
		}

		next := math.Min(state.Amplitude+stepSize, ceiling)
		if err := r.cavity.SetAmplitude(ctx, next); err != nil {
			return state, fmt.Errorf("setting %s amplitude to %.2f: %w", r.cavity, next, err)
		}
		state.Amplitude = next
		r.logger.Debugf("%s amplitude %.2f MV (ceiling %.2f)", r.cavity, next, ceiling)

		if err := r.waiter.Settle(ctx, stepPeriod-r.doseSettle); err != nil {
			return state, err
		}
		if err := r.waiter.WaitForDoseSettle(ctx); err != nil {
			return state, err
		}
	}
}

// WalkAmplitude brings the requested amplitude to target one step per tick.
// A quench on the way is an error: the cavity should hold below its start point.
func (r *RampController) WalkAmplitude(ctx context.Context, target, stepSize float64) error {
	if stepSize <= 0 {
		return fmt.Errorf("step size must be positive, got %v", stepSize)
	}

	amp, err := r.cavity.Amplitude(ctx)
	if err != nil {
		return err
	}

	for amp < target {
		if err := r.safety.Check(ctx); err != nil {
			return err
		}
		quenched, err := r.cavity.IsQuenched(ctx)
		if err != nil {
			return err
		}
		if quenched {
			return fmt.Errorf("%s at %.2f MV: %w", r.cavity, amp, ErrQuenchedDuringWalk)
		}

		amp = math.Min(amp+stepSize, target)
		if err := r.cavity.SetAmplitude(ctx, amp); err != nil {
			return fmt.Errorf("setting %s amplitude to %.2f: %w", r.cavity, amp, err)
		}
		if err := r.waiter.sleep(ctx, Tick); err != nil {
			return err
		}
	}

	if amp > target {
		return r.cavity.SetAmplitude(ctx, target)
	}
	return nil
}
