package quenchprocessing

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DecayFloor is the amplitude (MV) below which the decay is treated as zero.
const DecayFloor = 0.002

// DecayWaveform is a fault capture. Time is in seconds relative to the trigger
// and includes negative pre-trigger samples; the slices are co-indexed.
type DecayWaveform struct {
	Time      []float64
	Amplitude []float64
}

func (w DecayWaveform) Len() int {
	return len(w.Time)
}

// QualityFactorEstimate is the outcome of classifying one decay.
type QualityFactorEstimate struct {
	LoadedQ        float64
	BaselineQ      float64
	ThresholdRatio float64
	PreQuenchAmp   float64
	Samples        int
	IsReal         bool
}

// Threshold is the loaded Q below which a quench counts as real.
func (e QualityFactorEstimate) Threshold() float64 {
	return e.ThresholdRatio * e.BaselineQ
}

// TrimDecay keeps samples from the first non-negative time up to, not
// including, the first amplitude under DecayFloor. The result shares storage
// with w and may be empty.
func TrimDecay(w DecayWaveform) DecayWaveform {
	n := len(w.Time)
	if len(w.Amplitude) < n {
		n = len(w.Amplitude)
	}

	start := n
	for i := 0; i < n; i++ {
		if w.Time[i] >= 0 {
			start = i
			break
		}
	}

	end := n
	for i := start; i < n; i++ {
		if w.Amplitude[i] < DecayFloor {
			end = i
			break
		}
	}

	return DecayWaveform{
		Time:      w.Time[start:end],
		Amplitude: w.Amplitude[start:end],
	}
}

// QuenchValidator decides whether a fault decay came from a real quench.
//
// A field decaying freely obeys A(t) = A0·exp(-π·f·t/QL), so ln(A0/A(t)) is a
// line through the origin with slope π·f/QL. The fitted QL is compared with the
// cavity's calibrated loaded Q; a real quench dumps energy into the helium and
// shows up as a markedly lower QL.
type QuenchValidator struct {
	Frequency      float64
	ThresholdRatio float64
}

func (v QuenchValidator) Validate(w DecayWaveform, baselineQ float64) (QualityFactorEstimate, error) {
	return Validate(w, baselineQ, v.Frequency, v.ThresholdRatio)
}

// Validate fits the trimmed decay and classifies it against baselineQ.
func Validate(w DecayWaveform, baselineQ, frequency, thresholdRatio float64) (QualityFactorEstimate, error) {
	trimmed := TrimDecay(w)
	n := trimmed.Len()
	if n < 2 {
		return QualityFactorEstimate{}, &ValidationError{Reason: "need at least two samples after trimming", Samples: n}
	}

	a0 := trimmed.Amplitude[0]
	logRatio := make([]float64, n)
	for i, a := range trimmed.Amplitude {
		logRatio[i] = math.Log(a0 / a)
	}
	if floats.HasNaN(logRatio) {
		return QualityFactorEstimate{}, &ValidationError{Reason: "amplitude is not finite", Samples: n}
	}

	_, slope := stat.LinearRegression(trimmed.Time, logRatio, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return QualityFactorEstimate{}, &ValidationError{Reason: "fit slope is not finite", Samples: n}
	}
	if slope <= 0 {
		return QualityFactorEstimate{}, &ValidationError{Reason: "amplitude does not decay", Samples: n}
	}

	loadedQ := math.Pi * frequency / slope
	return QualityFactorEstimate{
		LoadedQ:        loadedQ,
		BaselineQ:      baselineQ,
		ThresholdRatio: thresholdRatio,
		PreQuenchAmp:   a0,
		Samples:        n,
		IsReal:         loadedQ < thresholdRatio*baselineQ,
	}, nil
}
