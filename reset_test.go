package quenchprocessing

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestInterlockResetter(t *testing.T) {
	ctx := context.Background()

	t.Run("clears a spurious quench", func(t *testing.T) {
		r := newTestRig(t)
		r.energize(t, 10)
		r.sim.forceTrip()
		r.sim.setRealQuench(false)

		reset, est, err := r.resetter.ResetQuench(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, reset, test.ShouldBeTrue)
		test.That(t, est.IsReal, test.ShouldBeFalse)
		test.That(t, est.LoadedQ/simLoadedQ, test.ShouldAlmostEqual, 1.0, 1e-6)

		quenched, err := r.cavity.IsQuenched(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, quenched, test.ShouldBeFalse)
		test.That(t, r.elapsed(), test.ShouldEqual, waveformUpdateDelay+time.Second)
	})

	t.Run("leaves a real quench latched", func(t *testing.T) {
		r := newTestRig(t)
		r.energize(t, 10)
		r.sim.forceTrip()

		reset, est, err := r.resetter.ResetQuench(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, reset, test.ShouldBeFalse)
		test.That(t, est.IsReal, test.ShouldBeTrue)
		test.That(t, est.PreQuenchAmp, test.ShouldEqual, 10.0)

		quenched, err := r.cavity.IsQuenched(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, quenched, test.ShouldBeTrue)
	})

	t.Run("classifies a supplied waveform", func(t *testing.T) {
		r := newTestRig(t)
		r.energize(t, 10)
		r.sim.forceTrip()

		w := syntheticDecay(10, 3e7, frequencyStandard, 10e-6, 100, 1900)
		reset, est, err := r.resetter.AttemptReset(ctx, w, 4e7)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, est.Threshold(), test.ShouldAlmostEqual, 2.4e7, 1e-3)
		test.That(t, est.IsReal, test.ShouldBeFalse)
		test.That(t, reset, test.ShouldBeTrue)
	})

	t.Run("does not touch the latch when the fit fails", func(t *testing.T) {
		r := newTestRig(t)
		r.energize(t, 10)
		r.sim.forceTrip()

		flat := DecayWaveform{Time: []float64{0, 1, 2}, Amplitude: []float64{1, 1, 1}}
		reset, _, err := r.resetter.AttemptReset(ctx, flat, 4e7)
		test.That(t, errors.Is(err, ErrInsufficientDecay), test.ShouldBeTrue)
		test.That(t, reset, test.ShouldBeFalse)

		quenched, err := r.cavity.IsQuenched(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, quenched, test.ShouldBeTrue)
	})

	t.Run("validate without waiting for the waveform update", func(t *testing.T) {
		r := newTestRig(t)
		r.energize(t, 10)
		r.sim.forceTrip()

		est, err := r.resetter.ValidateQuench(ctx, false)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, est.BaselineQ, test.ShouldEqual, simLoadedQ)
		test.That(t, r.elapsed(), test.ShouldEqual, time.Duration(0))
	})
}
