package quenchprocessing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
)

// Phase is where the quench processing state machine currently is.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRampingPreQuench
	PhaseConfirming
	PhaseRetrying
	PhaseRampingToTarget
	PhaseStabilityProof
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRampingPreQuench:
		return "ramping_pre_quench"
	case PhaseConfirming:
		return "confirming"
	case PhaseRetrying:
		return "retrying"
	case PhaseRampingToTarget:
		return "ramping_to_target"
	case PhaseStabilityProof:
		return "stability_proof"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// initialAmplitude is the highest amplitude the cavity is switched on at.
const initialAmplitude = 5.0

// walkStepSize is the step used to bring the cavity to its start amplitude.
const walkStepSize = 0.2

// ProcessParams configures one quench processing run.
type ProcessParams struct {
	StartAmp             float64
	EndAmp               float64
	StepSize             float64
	StepPeriod           time.Duration
	PostQuenchStepPeriod time.Duration

	// QuenchWait is the standard confirmation window: a cavity that holds this
	// long after a reset is considered stable.
	QuenchWait time.Duration

	// RetryWait is the window of every retry after the first confirmation.
	RetryWait time.Duration

	// StableTime is how long the cavity must hold at the ceiling.
	StableTime time.Duration

	MaxRetries         int
	MaxStabilityProofs int

	// ValidateQuenches classifies each detected quench from its fault waveform.
	ValidateQuenches bool
}

func (p ProcessParams) validate() error {
	switch {
	case p.StepSize <= 0:
		return fmt.Errorf("step_size must be positive, got %v", p.StepSize)
	case p.EndAmp < p.StartAmp:
		return fmt.Errorf("end_amp %.2f is below start_amp %.2f", p.EndAmp, p.StartAmp)
	case p.QuenchWait <= 0:
		return errors.New("quench wait must be positive")
	case p.StableTime <= 0:
		return errors.New("stable time must be positive")
	case p.MaxRetries < 0:
		return fmt.Errorf("max_quench_retries must not be negative, got %d", p.MaxRetries)
	case p.MaxStabilityProofs <= 0:
		return fmt.Errorf("max stability proofs must be positive, got %d", p.MaxStabilityProofs)
	}
	return nil
}

// RetryBudget tracks the confirmation attempts of one quench event.
type RetryBudget struct {
	Attempts    int
	MaxAttempts int
	Durations   []time.Duration
}

func (b *RetryBudget) Record(d time.Duration) {
	b.Durations = append(b.Durations, d)
}

func (b *RetryBudget) Exhausted() bool {
	return b.Attempts >= b.MaxAttempts
}

// Report summarizes a finished run.
type Report struct {
	FinalAmplitude float64
	Ceiling        float64
	Quenches       int
	Confirmations  [][]time.Duration
	Validations    []QualityFactorEstimate
	ValidationErrs []string
	Duration       time.Duration
}

// Status is a snapshot of a run in progress.
type Status struct {
	Phase     Phase
	Amplitude float64
	Ceiling   float64
	Quenches  int
	Attempts  int
	Durations []time.Duration
	Err       error
}

// Process drives the quench processing procedure on one cavity. One Run at a
// time; Status may be called concurrently.
type Process struct {
	cavity   *Cavity
	safety   *SafetyMonitor
	waiter   *Waiter
	ramp     *RampController
	resetter *InterlockResetter
	logger   logging.Logger

	mu     sync.Mutex
	status Status
	last   *QualityFactorEstimate
}

func NewProcess(cavity *Cavity, safety *SafetyMonitor, waiter *Waiter, ramp *RampController, resetter *InterlockResetter, logger logging.Logger) *Process {
	return &Process{
		cavity:   cavity,
		safety:   safety,
		waiter:   waiter,
		ramp:     ramp,
		resetter: resetter,
		logger:   logger,
	}
}

func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.status
	s.Durations = append([]time.Duration(nil), p.status.Durations...)
	return s
}

// LastValidation returns the most recent quench classification, if any.
func (p *Process) LastValidation() (QualityFactorEstimate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return QualityFactorEstimate{}, false
	}
	return *p.last, true
}

func (p *Process) recordValidation(est QualityFactorEstimate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = &est
}

func (p *Process) update(f func(s *Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(&p.status)
}

func (p *Process) setPhase(phase Phase) {
	p.update(func(s *Status) { s.Phase = phase })
}

// Run ramps the cavity to EndAmp, processing every quench on the way, and
// proves the cavity holds there for StableTime. Safety aborts and exhausted
// retry budgets end the run with an error.
func (p *Process) Run(ctx context.Context, params ProcessParams) (Report, error) {
	p.update(func(s *Status) { *s = Status{Phase: PhaseRampingPreQuench} })
	start := p.waiter.clock.Now()

	report, err := p.run(ctx, params)
	report.Duration = p.waiter.elapsedSince(start)
	if amp, ampErr := p.cavity.Amplitude(ctx); ampErr == nil {
		report.FinalAmplitude = amp
	}

	if err != nil {
		p.logger.Errorf("quench processing on %s stopped: %v", p.cavity, err)
		p.update(func(s *Status) {
			s.Phase = PhaseFailed
			s.Err = err
		})
		return report, err
	}
	p.logger.Infof("%s held %.2f MV for %v, quench processing complete", p.cavity, report.Ceiling, params.StableTime)
	p.setPhase(PhaseDone)
	return report, nil
}

func (p *Process) run(ctx context.Context, params ProcessParams) (Report, error) {
	var report Report
	if err := params.validate(); err != nil {
		return report, err
	}

	ceiling := params.EndAmp
	maxAmp, err := p.cavity.MaxAmplitude(ctx)
	if err != nil {
		return report, err
	}
	if ceiling > maxAmp {
		p.logger.Infof("%.2f above AMAX, ramping to %.2f instead", ceiling, maxAmp)
		ceiling = maxAmp
	}
	report.Ceiling = ceiling
	p.update(func(s *Status) { s.Ceiling = ceiling })

	// the walk to the start amplitude stays under the ceiling too
	startAmp := params.StartAmp
	if startAmp > ceiling {
		p.logger.Infof("start amplitude %.2f above AMAX, starting at %.2f instead", startAmp, ceiling)
		startAmp = ceiling
	}
	if err := p.setup(ctx, startAmp); err != nil {
		return report, err
	}

	quenched := false
	for proofs := 0; ; proofs++ {
		if proofs >= params.MaxStabilityProofs {
			return report, fmt.Errorf("%s re-quenched in %d stability windows at %.2f MV: %w",
				p.cavity, proofs, ceiling, ErrQuenchProcessingFailed)
		}

		for {
			amp, err := p.cavity.Amplitude(ctx)
			if err != nil {
				return report, err
			}
			p.update(func(s *Status) { s.Amplitude = amp })
			if amp >= ceiling {
				break
			}
			if err := p.safety.Check(ctx); err != nil {
				return report, err
			}

			period := params.StepPeriod
			phase := PhaseRampingPreQuench
			if quenched {
				period = params.PostQuenchStepPeriod
				phase = PhaseRampingToTarget
			}
			p.setPhase(phase)
			p.logger.Infof("walking %s to quench", p.cavity)

			state, err := p.ramp.RampToQuench(ctx, ceiling, params.StepSize, period)
			p.update(func(s *Status) { s.Amplitude = state.Amplitude })
			if err != nil {
				return report, err
			}
			if !state.Quenched {
				continue
			}

			quenched = true
			if err := p.confirm(ctx, params, state.Amplitude, &report); err != nil {
				return report, err
			}
		}

		p.setPhase(PhaseStabilityProof)
		p.logger.Infof("%s made it to target amplitude, waiting %v to prove stability", p.cavity, params.StableTime)
		ev, err := p.waiter.WaitForQuench(ctx, params.StableTime)
		if err != nil {
			return report, err
		}
		if !ev.Detected {
			return report, nil
		}

		p.logger.Infof("%s quenched %v into the stability window", p.cavity, ev.WaitDuration)
		quenched = true
		if err := p.safety.Check(ctx); err != nil {
			return report, err
		}
		if err := p.confirm(ctx, params, ceiling, &report); err != nil {
			return report, err
		}
	}
}

func (p *Process) setup(ctx context.Context, startAmp float64) error {
	if err := p.cavity.TurnOff(ctx); err != nil {
		return fmt.Errorf("turning %s off: %w", p.cavity, err)
	}
	if err := p.cavity.SetSELAMode(ctx); err != nil {
		return fmt.Errorf("setting %s to SELA: %w", p.cavity, err)
	}
	initial := initialAmplitude
	if startAmp < initial {
		initial = startAmp
	}
	if err := p.cavity.SetAmplitude(ctx, initial); err != nil {
		return fmt.Errorf("setting %s initial amplitude: %w", p.cavity, err)
	}
	if err := p.cavity.TurnOn(ctx); err != nil {
		return fmt.Errorf("turning %s on: %w", p.cavity, err)
	}
	return p.ramp.WalkAmplitude(ctx, startAmp, walkStepSize)
}

// confirm waits out a quench. The cavity gets MaxRetries further windows to
// hold for QuenchWait; failing that the run is over.
func (p *Process) confirm(ctx context.Context, params ProcessParams, amp float64, report *Report) error {
	report.Quenches++
	p.logger.Infof("detected quench for %s at %.2f MV", p.cavity, amp)
	p.update(func(s *Status) {
		s.Phase = PhaseConfirming
		s.Quenches++
		s.Attempts = 0
		s.Durations = nil
	})

	if params.ValidateQuenches {
		p.classify(ctx, report)
	}

	budget := RetryBudget{MaxAttempts: params.MaxRetries}
	ev, err := p.waiter.WaitForQuench(ctx, params.QuenchWait)
	if err != nil {
		return err
	}
	p.record(&budget, ev)

	for ev.WaitDuration < params.QuenchWait && !budget.Exhausted() {
		if err := p.safety.Check(ctx); err != nil {
			return err
		}
		budget.Attempts++
		p.update(func(s *Status) {
			s.Phase = PhaseRetrying
			s.Attempts = budget.Attempts
		})
		ev, err = p.waiter.WaitForQuench(ctx, params.RetryWait)
		if err != nil {
			return err
		}
		p.record(&budget, ev)
	}
	report.Confirmations = append(report.Confirmations, budget.Durations)

	if ev.WaitDuration < params.QuenchWait {
		p.logger.Warnf("attempt: %d, running times: %v", budget.Attempts, budget.Durations)
		return &RetryExhaustedError{
			Cavity:        p.cavity.Name,
			Attempts:      budget.Attempts,
			Durations:     budget.Durations,
			LastAmplitude: amp,
		}
	}
	return nil
}

func (p *Process) record(budget *RetryBudget, ev QuenchEvent) {
	budget.Record(ev.WaitDuration)
	durations := append([]time.Duration(nil), budget.Durations...)
	p.update(func(s *Status) { s.Durations = durations })
}

// classify logs the validation of the quench just detected. A waveform that
// cannot be fitted is recorded as such; it never becomes a classification.
func (p *Process) classify(ctx context.Context, report *Report) {
	est, err := p.resetter.ValidateQuench(ctx, true)
	if err != nil {
		p.logger.Warnf("could not validate %s quench: %v", p.cavity, err)
		report.ValidationErrs = append(report.ValidationErrs, err.Error())
		return
	}
	report.Validations = append(report.Validations, est)
	p.recordValidation(est)
}
