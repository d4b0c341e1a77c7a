package quenchprocessing

import (
	"context"
	"fmt"
	"sync/atomic"
)

// SafetyPolicy fails with an error when the procedure must stop.
type SafetyPolicy interface {
	Check(ctx context.Context) error
}

// AbortFlag is the operator's abort request. It trips the next Check once and
// then clears itself.
type AbortFlag struct {
	cavity    string
	requested atomic.Bool
}

func NewAbortFlag(cavity string) *AbortFlag {
	return &AbortFlag{cavity: cavity}
}

func (f *AbortFlag) Request() {
	f.requested.Store(true)
}

// Reset drops a pending request, so an abort aimed at a finished run does not
// carry over into the next one.
func (f *AbortFlag) Reset() {
	f.requested.Store(false)
}

func (f *AbortFlag) Requested() bool {
	return f.requested.Load()
}

func (f *AbortFlag) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.requested.CompareAndSwap(true, false) {
		return &AbortError{Reason: ReasonAbortRequested, Cavity: f.cavity}
	}
	return nil
}

// SafetyMonitor adds the quench-processing aborts on top of a base policy:
// the radiation dose ceiling and the unreported-quench heuristic.
type SafetyMonitor struct {
	base   SafetyPolicy
	cavity *Cavity
	dose   DoseMonitor

	radiationLimit     float64
	quenchAmpThreshold float64
}

func NewSafetyMonitor(base SafetyPolicy, cavity *Cavity, dose DoseMonitor, radiationLimit, quenchAmpThreshold float64) *SafetyMonitor {
	return &SafetyMonitor{
		base:               base,
		cavity:             cavity,
		dose:               dose,
		radiationLimit:     radiationLimit,
		quenchAmpThreshold: quenchAmpThreshold,
	}
}

// Base returns the policy consulted before the quench-specific checks.
func (m *SafetyMonitor) Base() SafetyPolicy {
	return m.base
}

func (m *SafetyMonitor) Check(ctx context.Context) error {
	if m.base != nil {
		if err := m.base.Check(ctx); err != nil {
			return err
		}
	}

	dose, err := m.dose.MaxRawDose(ctx)
	if err != nil {
		return fmt.Errorf("checking radiation dose: %w", err)
	}
	if dose > m.radiationLimit {
		return &AbortError{Reason: ReasonDoseExceeded, Cavity: m.cavity.Name}
	}

	uncaught, err := m.hasUncaughtQuench(ctx)
	if err != nil {
		return fmt.Errorf("checking for unreported quench: %w", err)
	}
	if uncaught {
		return &AbortError{Reason: ReasonUnreportedQuench, Cavity: m.cavity.Name}
	}
	return nil
}

// hasUncaughtQuench is only meaningful in SELA, where the loop holds the
// amplitude at the setpoint; other modes let AACT wander.
func (m *SafetyMonitor) hasUncaughtQuench(ctx context.Context) (bool, error) {
	on, err := m.cavity.IsOn(ctx)
	if err != nil || !on {
		return false, err
	}
	mode, err := m.cavity.RFMode(ctx)
	if err != nil || mode != RFModeSELA {
		return false, err
	}
	aact, err := m.cavity.MeasuredAmplitude(ctx)
	if err != nil {
		return false, err
	}
	ades, err := m.cavity.Amplitude(ctx)
	if err != nil {
		return false, err
	}
	return aact <= m.quenchAmpThreshold*ades, nil
}
