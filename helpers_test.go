package quenchprocessing

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
)

// steppingClock advances the mock clock by the full duration whenever code
// waits on it, so every wait completes immediately and deterministically.
type steppingClock struct {
	*clock.Mock
}

func newSteppingClock() *steppingClock {
	return &steppingClock{Mock: clock.NewMock()}
}

func (c *steppingClock) After(d time.Duration) <-chan time.Time {
	c.Mock.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.Mock.Now()
	return ch
}

func (c *steppingClock) Sleep(d time.Duration) {
	c.Mock.Add(d)
}

// quenchSchedule trips the simulated cavity's latch once the clock reaches each
// scheduled time, as seen by the next latch read.
type quenchSchedule struct {
	*simulatedCavity
	clock *steppingClock

	mu sync.Mutex
	at []time.Time
}

func (q *quenchSchedule) Get(ctx context.Context, point string) (Reading, error) {
	if strings.HasSuffix(point, pointQuenchLatch) {
		q.mu.Lock()
		now := q.clock.Now()
		for len(q.at) > 0 && !now.Before(q.at[0]) {
			q.at = q.at[1:]
			q.simulatedCavity.forceTrip()
		}
		q.mu.Unlock()
	}
	return q.simulatedCavity.Get(ctx, point)
}

func (s *simulatedCavity) forceTrip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latched {
		return
	}
	s.latched = true
	s.rfOn = false
	s.faultAmp = s.ades
	s.quenches++
}

func (s *simulatedCavity) setLatchInvalid(invalid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latchInvalid = invalid
}

// testRig wires the procedure against a simulated cavity on CM03 cavity 6.
type testRig struct {
	sim      *simulatedCavity
	schedule *quenchSchedule
	cavity   *Cavity
	clock    *steppingClock
	abort    *AbortFlag
	safety   *SafetyMonitor
	waiter   *Waiter
	ramp     *RampController
	resetter *InterlockResetter
	process  *Process
}

const (
	testRadiationLimit = 2.0
	testDoseSettle     = 2 * time.Second
)

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	logger := logging.NewTestLogger(t)

	prefix, err := NewMachine(nil).Prefix("03", 6)
	if err != nil {
		t.Fatalf("Prefix failed: %v", err)
	}
	clk := newSteppingClock()
	sim := newSimulatedCavity(prefix, frequencyStandard)
	schedule := &quenchSchedule{simulatedCavity: sim, clock: clk}
	cavity, err := NewMachine(schedule).Cavity("03", 6)
	if err != nil {
		t.Fatalf("Cavity failed: %v", err)
	}

	abort := NewAbortFlag(cavity.Name)
	safety := NewSafetyMonitor(abort, cavity, sim, testRadiationLimit, defaultQuenchAmpThreshold)
	waiter := NewWaiter(clk, cavity, safety, testDoseSettle, logger)
	ramp := NewRampController(cavity, safety, waiter, testDoseSettle, logger)
	validator := QuenchValidator{Frequency: frequencyStandard, ThresholdRatio: defaultLoadedQChange}
	resetter := NewInterlockResetter(cavity, validator, waiter, time.Second, logger)

	return &testRig{
		sim:      sim,
		schedule: schedule,
		cavity:   cavity,
		clock:    clk,
		abort:    abort,
		safety:   safety,
		waiter:   waiter,
		ramp:     ramp,
		resetter: resetter,
		process:  NewProcess(cavity, safety, waiter, ramp, resetter, logger),
	}
}

// energize puts the simulated cavity on in SELA at amp without going through
// the procedure's setup.
func (r *testRig) energize(t *testing.T, amp float64) {
	t.Helper()
	r.sim.mu.Lock()
	r.sim.rfOn = true
	r.sim.rfMode = RFModeSELA
	r.sim.ades = amp
	r.sim.mu.Unlock()
}

// quenchAt schedules a quench d after the current mock time.
func (r *testRig) quenchAt(d time.Duration) {
	r.schedule.mu.Lock()
	defer r.schedule.mu.Unlock()
	r.schedule.at = append(r.schedule.at, r.clock.Now().Add(d))
}

func (r *testRig) elapsed() time.Duration {
	return r.clock.Now().Sub(time.Unix(0, 0))
}

// testParams keeps runs short: one-second steps of 1 MV, a 5 s confirmation
// window and a 20 s stability proof.
func testParams() ProcessParams {
	return ProcessParams{
		StartAmp:             5,
		EndAmp:               12,
		StepSize:             1,
		StepPeriod:           4 * time.Second,
		PostQuenchStepPeriod: 6 * time.Second,
		QuenchWait:           5 * time.Second,
		RetryWait:            12 * time.Second,
		StableTime:           20 * time.Second,
		MaxRetries:           4,
		MaxStabilityProofs:   3,
	}
}
