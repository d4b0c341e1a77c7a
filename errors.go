package quenchprocessing

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrFatalAbort matches every AbortError.
	ErrFatalAbort = errors.New("fatal abort")

	// ErrQuenchProcessingFailed matches every RetryExhaustedError.
	ErrQuenchProcessingFailed = errors.New("quench processing failed")

	// ErrInsufficientDecay matches every ValidationError.
	ErrInsufficientDecay = errors.New("decay waveform insufficient for fit")

	// ErrQuenchLatchInvalid is returned when the quench latch reads with INVALID
	// severity. The quench state is unknown, not false.
	ErrQuenchLatchInvalid = errors.New("quench latch severity invalid")

	// ErrInterlockBypassed refuses operations that rely on the quench interlock
	// while it is bypassed.
	ErrInterlockBypassed = errors.New("quench interlock bypassed")
)

// Abort reasons.
const (
	ReasonDoseExceeded     = "dose exceeded"
	ReasonUnreportedQuench = "unreported quench"
	ReasonAbortRequested   = "abort requested"
)

// AbortError unwinds the whole procedure. It is never retried.
type AbortError struct {
	Reason string
	Cavity string
}

func (e *AbortError) Error() string {
	if e.Cavity == "" {
		return "fatal abort: " + e.Reason
	}
	return fmt.Sprintf("fatal abort on %s: %s", e.Cavity, e.Reason)
}

func (e *AbortError) Is(target error) bool {
	return target == ErrFatalAbort
}

// RetryExhaustedError reports a cavity that kept re-quenching through every
// confirmation window of one quench event.
type RetryExhaustedError struct {
	Cavity        string
	Attempts      int
	Durations     []time.Duration
	LastAmplitude float64
}

func (e *RetryExhaustedError) Error() string {
	times := make([]string, len(e.Durations))
	for i, d := range e.Durations {
		times[i] = fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("quench processing failed on %s after %d attempts at %.2f MV (running times: [%s])",
		e.Cavity, e.Attempts, e.LastAmplitude, strings.Join(times, " "))
}

func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrQuenchProcessingFailed
}

// ValidationError means a decay waveform could not be fitted.
type ValidationError struct {
	Reason  string
	Samples int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cannot fit decay (%d samples): %s", e.Samples, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInsufficientDecay
}
