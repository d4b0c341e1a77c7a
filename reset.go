package quenchprocessing

import (
	"context"
	"fmt"
	"time"

	"go.viam.com/rdk/logging"
)

// waveformUpdateDelay gives the fault waveforms time to refresh after a trip.
const waveformUpdateDelay = 100 * time.Millisecond

// InterlockResetter clears quench latches that the decay shows were spurious.
type InterlockResetter struct {
	cavity    *Cavity
	validator QuenchValidator
	waiter    *Waiter
	settle    time.Duration
	logger    logging.Logger
}

func NewInterlockResetter(cavity *Cavity, validator QuenchValidator, waiter *Waiter, settle time.Duration, logger logging.Logger) *InterlockResetter {
	return &InterlockResetter{
		cavity:    cavity,
		validator: validator,
		waiter:    waiter,
		settle:    settle,
		logger:    logger,
	}
}

// ValidateQuench reads the cavity's last fault capture and saved loaded Q and
// classifies the quench.
func (r *InterlockResetter) ValidateQuench(ctx context.Context, waitForUpdate bool) (QualityFactorEstimate, error) {
	if waitForUpdate {
		r.logger.Debugf("waiting %v to give %s waveforms a chance to update", waveformUpdateDelay, r.cavity)
		if err := r.waiter.sleep(ctx, waveformUpdateDelay); err != nil {
			return QualityFactorEstimate{}, err
		}
	}

	w, err := r.cavity.FaultWaveform(ctx)
	if err != nil {
		return QualityFactorEstimate{}, fmt.Errorf("reading %s fault waveform: %w", r.cavity, err)
	}
	baseline, err := r.cavity.SavedLoadedQ(ctx)
	if err != nil {
		return QualityFactorEstimate{}, fmt.Errorf("reading %s saved loaded Q: %w", r.cavity, err)
	}
	return r.classify(w, baseline)
}

func (r *InterlockResetter) classify(w DecayWaveform, baselineQ float64) (QualityFactorEstimate, error) {
	est, err := r.validator.Validate(w, baselineQ)
	if err != nil {
		return est, fmt.Errorf("%s: %w", r.cavity, err)
	}
	r.logger.Infof("%s saved loaded Q: %.2e", r.cavity, est.BaselineQ)
	r.logger.Infof("%s last recorded amplitude: %v", r.cavity, est.PreQuenchAmp)
	r.logger.Infof("%s threshold: %.2e", r.cavity, est.Threshold())
	r.logger.Infof("%s calculated loaded Q: %.2e", r.cavity, est.LoadedQ)
	return est, nil
}

// AttemptReset classifies w and clears the latch only if the quench was
// spurious. It reports whether the latch was cleared.
func (r *InterlockResetter) AttemptReset(ctx context.Context, w DecayWaveform, baselineQ float64) (bool, QualityFactorEstimate, error) {
	est, err := r.classify(w, baselineQ)
	if err != nil {
		return false, est, err
	}
	return r.apply(ctx, est)
}

// ResetQuench is AttemptReset on the cavity's own fault capture.
func (r *InterlockResetter) ResetQuench(ctx context.Context) (bool, QualityFactorEstimate, error) {
	est, err := r.ValidateQuench(ctx, true)
	if err != nil {
		return false, est, err
	}
	return r.apply(ctx, est)
}

func (r *InterlockResetter) apply(ctx context.Context, est QualityFactorEstimate) (bool, QualityFactorEstimate, error) {
	if est.IsReal {
		r.logger.Warnf("%s REAL quench detected, not resetting", r.cavity)
		return false, est, nil
	}

	r.logger.Infof("%s FAKE quench detected, resetting", r.cavity)
	if err := r.cavity.ClearInterlocks(ctx); err != nil {
		return false, est, fmt.Errorf("resetting %s interlocks: %w", r.cavity, err)
	}
	if err := r.waiter.sleep(ctx, r.settle); err != nil {
		return true, est, err
	}
	return true, est, nil
}
