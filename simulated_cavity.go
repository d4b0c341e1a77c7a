package quenchprocessing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
)

// Simulated cavity defaults.
const (
	simMaxAmplitude      = 21.0
	simQuenchField       = 16.0
	simProcessingGain    = 0.5
	simLoadedQ           = 4.0e7
	simRealQuenchQDrop   = 0.2
	simWaveformSamples   = 2048
	simWaveformStep      = 10e-6
	simPreTriggerSamples = simWaveformSamples / 10
)

// simulatedCavity stands in for the process variable gateway and dose monitor
// of a single cavity. It trips its quench latch whenever RF is on at or above
// the quench field; every trip raises the field a little, the way processing
// conditions a real cavity.
type simulatedCavity struct {
	prefix    string
	frequency float64

	mu             sync.Mutex
	ades           float64
	adesMax        float64
	rfOn           bool
	rfMode         int
	latched        bool
	latchInvalid   bool
	bypassed       bool
	loadedQ        float64
	quenchField    float64
	processingGain float64
	realQuench     bool
	measuredRatio  float64
	dose           float64
	faultAmp       float64
	quenches       int
	history        []float64
}

func newSimulatedCavity(prefix string, frequency float64) *simulatedCavity {
	return &simulatedCavity{
		prefix:         prefix,
		frequency:      frequency,
		adesMax:        simMaxAmplitude,
		rfMode:         RFModeSELAP,
		loadedQ:        simLoadedQ,
		quenchField:    simQuenchField,
		processingGain: simProcessingGain,
		realQuench:     true,
		measuredRatio:  1,
	}
}

func (s *simulatedCavity) suffix(point string) (string, error) {
	if !strings.HasPrefix(point, s.prefix) {
		return "", fmt.Errorf("simulated cavity %s has no point %q", s.prefix, point)
	}
	return strings.TrimPrefix(point, s.prefix), nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (s *simulatedCavity) Get(ctx context.Context, point string) (Reading, error) {
	suffix, err := s.suffix(point)
	if err != nil {
		return Reading{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch suffix {
	case pointADES:
		return Reading{Value: s.ades}, nil
	case pointAACT:
		if !s.rfOn {
			return Reading{Value: 0}, nil
		}
		return Reading{Value: s.ades * s.measuredRatio}, nil
	case pointADESMax:
		return Reading{Value: s.adesMax}, nil
	case pointRFState:
		return Reading{Value: boolValue(s.rfOn)}, nil
	case pointRFModeRbck:
		return Reading{Value: float64(s.rfMode)}, nil
	case pointQuenchLatch:
		r := Reading{Value: boolValue(s.latched)}
		if s.latchInvalid {
			r.Severity = SeverityInvalid
		}
		return r, nil
	case pointQuenchBypass:
		return Reading{Value: boolValue(s.bypassed)}, nil
	case pointLoadedQ:
		return Reading{Value: s.loadedQ}, nil
	default:
		return Reading{}, fmt.Errorf("simulated cavity cannot read %q", point)
	}
}

func (s *simulatedCavity) GetWaveform(ctx context.Context, point string) ([]float64, error) {
	suffix, err := s.suffix(point)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch suffix {
	case pointFaultTime:
		times := make([]float64, simWaveformSamples)
		for i := range times {
			times[i] = float64(i-simPreTriggerSamples) * simWaveformStep
		}
		return times, nil
	case pointFaultWaveform:
		q := s.loadedQ
		if s.realQuench {
			q *= simRealQuenchQDrop
		}
		amps := make([]float64, simWaveformSamples)
		for i := range amps {
			t := float64(i-simPreTriggerSamples) * simWaveformStep
			if t < 0 {
				amps[i] = s.faultAmp
				continue
			}
			amps[i] = s.faultAmp * math.Exp(-math.Pi*s.frequency*t/q)
		}
		return amps, nil
	default:
		return nil, fmt.Errorf("simulated cavity has no waveform %q", point)
	}
}

func (s *simulatedCavity) Put(ctx context.Context, point string, value float64) error {
	suffix, err := s.suffix(point)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch suffix {
	case pointADES:
		if value > s.adesMax {
			return fmt.Errorf("ADES %.2f above ADES_MAX %.2f", value, s.adesMax)
		}
		s.ades = value
		s.history = append(s.history, value)
	case pointRFControl:
		s.rfOn = value == 1 && !s.latched
	case pointRFModeCtrl:
		s.rfMode = int(value)
	case pointIntlkReset:
		if s.latched {
			s.latched = false
			s.rfOn = true
		}
	default:
		return fmt.Errorf("simulated cavity cannot write %q", point)
	}
	s.maybeTrip()
	return nil
}

func (s *simulatedCavity) maybeTrip() {
	if !s.rfOn || s.latched || s.ades < s.quenchField {
		return
	}
	s.latched = true
	s.rfOn = false
	s.faultAmp = s.ades
	s.quenches++
	s.quenchField += s.processingGain
}

func (s *simulatedCavity) MaxRawDose(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dose, nil
}

func (s *simulatedCavity) setDose(dose float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dose = dose
}

func (s *simulatedCavity) setQuenchField(field, gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quenchField = field
	s.processingGain = gain
}

func (s *simulatedCavity) setBypassed(bypassed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bypassed = bypassed
}

func (s *simulatedCavity) setRealQuench(isReal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realQuench = isReal
}

// setMeasuredRatio makes AACT read ratio×ADES while RF is on, the signature of
// a quench the latch did not catch.
func (s *simulatedCavity) setMeasuredRatio(ratio float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.measuredRatio = ratio
}

func (s *simulatedCavity) quenchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quenches
}

func (s *simulatedCavity) amplitudeHistory() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.history...)
}
