package quenchprocessing

import (
	"context"
	"testing"

	"go.viam.com/test"
)

func TestSimulatedCavityFaultWaveform(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)
	r.energize(t, 10)
	r.sim.forceTrip()

	w, err := r.cavity.FaultWaveform(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.Len(), test.ShouldEqual, simWaveformSamples)

	// the trigger sits a tenth of the way into the capture
	test.That(t, w.Time[simPreTriggerSamples], test.ShouldEqual, 0.0)
	test.That(t, w.Time[simPreTriggerSamples-1], test.ShouldBeLessThan, 0.0)
	for i := 0; i <= simPreTriggerSamples; i++ {
		test.That(t, w.Amplitude[i], test.ShouldEqual, 10.0)
	}
	test.That(t, w.Amplitude[simPreTriggerSamples+1], test.ShouldBeLessThan, 10.0)

	bypassed, err := r.cavity.QuenchInterlockBypassed(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bypassed, test.ShouldBeFalse)
	r.sim.setBypassed(true)
	bypassed, err = r.cavity.QuenchInterlockBypassed(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bypassed, test.ShouldBeTrue)
}
