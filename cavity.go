package quenchprocessing

import (
	"context"
	"fmt"
)

// Process variable suffixes, appended to the cavity prefix.
const (
	pointADES          = "ADES"
	pointAACT          = "AACTMEAN"
	pointADESMax       = "ADES_MAX"
	pointRFState       = "RFSTATE"
	pointRFControl     = "RFCTRL"
	pointRFModeCtrl    = "RFMODECTRL"
	pointRFModeRbck    = "RFMODERBCK"
	pointQuenchLatch   = "QUENCH_LTCH"
	pointQuenchBypass  = "QUENCH_BYP_RBV"
	pointIntlkReset    = "INTLK_RESET_ALL"
	pointLoadedQ       = "QLOADED"
	pointFaultWaveform = "CAV:FLTAWF"
	pointFaultTime     = "CAV:FLTTWF"
)

// RF modes as enumerated by the LLRF controls.
const (
	RFModeSELAP  = 0
	RFModeSELA   = 1
	RFModeSEL    = 2
	RFModeSELRaw = 3
	RFModePulse  = 4
	RFModeChirp  = 5
)

// Cavity is a handle on one superconducting cavity's process variables.
type Cavity struct {
	Name      string
	Prefix    string
	Frequency float64

	telemetry Telemetry
}

func (c *Cavity) String() string {
	return c.Name
}

func (c *Cavity) addr(suffix string) string {
	return c.Prefix + suffix
}

func (c *Cavity) get(ctx context.Context, suffix string) (float64, error) {
	r, err := c.telemetry.Get(ctx, c.addr(suffix))
	if err != nil {
		return 0, err
	}
	return r.Value, nil
}

func (c *Cavity) put(ctx context.Context, suffix string, value float64) error {
	return c.telemetry.Put(ctx, c.addr(suffix), value)
}

// Amplitude returns the requested amplitude (ADES) in MV.
func (c *Cavity) Amplitude(ctx context.Context) (float64, error) {
	return c.get(ctx, pointADES)
}

func (c *Cavity) SetAmplitude(ctx context.Context, amp float64) error {
	return c.put(ctx, pointADES, amp)
}

// MeasuredAmplitude returns the averaged measured amplitude (AACT) in MV.
func (c *Cavity) MeasuredAmplitude(ctx context.Context) (float64, error) {
	return c.get(ctx, pointAACT)
}

func (c *Cavity) MaxAmplitude(ctx context.Context) (float64, error) {
	return c.get(ctx, pointADESMax)
}

func (c *Cavity) IsOn(ctx context.Context) (bool, error) {
	v, err := c.get(ctx, pointRFState)
	return v == 1, err
}

func (c *Cavity) TurnOn(ctx context.Context) error {
	return c.put(ctx, pointRFControl, 1)
}

func (c *Cavity) TurnOff(ctx context.Context) error {
	return c.put(ctx, pointRFControl, 0)
}

func (c *Cavity) RFMode(ctx context.Context) (int, error) {
	v, err := c.get(ctx, pointRFModeRbck)
	return int(v), err
}

func (c *Cavity) SetSELAMode(ctx context.Context) error {
	return c.put(ctx, pointRFModeCtrl, RFModeSELA)
}

// IsQuenched reads the quench latch. An INVALID latch yields ErrQuenchLatchInvalid.
func (c *Cavity) IsQuenched(ctx context.Context) (bool, error) {
	r, err := c.telemetry.Get(ctx, c.addr(pointQuenchLatch))
	if err != nil {
		return false, err
	}
	if r.Severity == SeverityInvalid {
		return false, fmt.Errorf("%s: %w", c.Name, ErrQuenchLatchInvalid)
	}
	return r.Value == 1, nil
}

func (c *Cavity) QuenchInterlockBypassed(ctx context.Context) (bool, error) {
	v, err := c.get(ctx, pointQuenchBypass)
	return v == 1, err
}

// ClearInterlocks writes the interlock reset; callers own any settle wait.
func (c *Cavity) ClearInterlocks(ctx context.Context) error {
	return c.put(ctx, pointIntlkReset, 1)
}

// SavedLoadedQ returns the loaded Q recorded during the last calibration.
func (c *Cavity) SavedLoadedQ(ctx context.Context) (float64, error) {
	return c.get(ctx, pointLoadedQ)
}

// FaultWaveform returns the decay captured around the last fault trigger.
func (c *Cavity) FaultWaveform(ctx context.Context) (DecayWaveform, error) {
	times, err := c.telemetry.GetWaveform(ctx, c.addr(pointFaultTime))
	if err != nil {
		return DecayWaveform{}, err
	}
	amps, err := c.telemetry.GetWaveform(ctx, c.addr(pointFaultWaveform))
	if err != nil {
		return DecayWaveform{}, err
	}
	if len(times) != len(amps) {
		return DecayWaveform{}, fmt.Errorf("%s: fault waveforms differ in length (time %d, amplitude %d)",
			c.Name, len(times), len(amps))
	}
	return DecayWaveform{Time: times, Amplitude: amps}, nil
}
