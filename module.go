package quenchprocessing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	generic "go.viam.com/rdk/services/generic"
	goutils "go.viam.com/utils"
)

var Controller = resource.NewModel("viamdemo", "quench-processing", "controller")

func init() {
	resource.RegisterService(generic.API, Controller,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newQuenchProcessingController,
		},
	)
}

// Defaults mirror the quench processing utilities used on the linac.
const (
	defaultQuenchAmpThreshold   = 0.7
	defaultLoadedQChange        = 0.6
	defaultMaxWaitForQuench     = 15 * time.Second
	defaultQuenchStableTime     = 10 * time.Minute
	defaultMaxQuenchRetries     = 100
	defaultDoseSettleTime       = 3 * time.Second
	defaultRadiationLimit       = 2.0
	defaultStartAmp             = 5.0
	defaultEndAmp               = 21.0
	defaultStepSize             = 0.2
	defaultStepTime             = 30 * time.Second
	defaultPostQuenchStepTime   = 3 * time.Minute
	defaultMaxStabilityProofs   = 10
	defaultResetSettle          = time.Second
	retryWaitStepTimeMultiplier = 3
)

type Config struct {
	Telemetry          string `json:"telemetry"`    // process variable gateway sensor
	DoseMonitor        string `json:"dose_monitor"` // radiation monitor sensor
	DoseKey            string `json:"dose_key,omitempty"`
	UseSimulatedCavity bool   `json:"use_simulated_cavity,omitempty"`

	Cryomodule  string  `json:"cryomodule"`
	Cavity      int     `json:"cavity"`
	FrequencyHz float64 `json:"frequency_hz,omitempty"`

	QuenchAmpThreshold     float64 `json:"quench_amp_threshold,omitempty"`
	LoadedQChangeForQuench float64 `json:"loaded_q_change_for_quench,omitempty"`
	MaxWaitForQuenchS      float64 `json:"max_wait_for_quench_s,omitempty"`
	QuenchStableTimeS      float64 `json:"quench_stable_time_s,omitempty"`
	MaxQuenchRetries       int     `json:"max_quench_retries,omitempty"`
	DoseSettleTimeS        float64 `json:"dose_settle_time_s,omitempty"`
	RadiationLimit         float64 `json:"radiation_limit,omitempty"`

	StartAmp            float64 `json:"start_amp,omitempty"`
	EndAmp              float64 `json:"end_amp,omitempty"`
	StepSize            float64 `json:"step_size,omitempty"`
	StepTimeS           float64 `json:"step_time_s,omitempty"`
	PostQuenchStepTimeS float64 `json:"post_quench_step_time_s,omitempty"`
	RetryWaitS          float64 `json:"retry_wait_s,omitempty"`
	MaxStabilityProofs  int     `json:"max_stability_proofs,omitempty"`
	ValidateQuenches    bool    `json:"validate_quenches,omitempty"`
}

func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.Cryomodule == "" {
		return nil, nil, fmt.Errorf("%s: cryomodule is required", path)
	}
	if _, err := NewMachine(nil).Prefix(cfg.Cryomodule, cfg.Cavity); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.UseSimulatedCavity {
		return nil, nil, nil
	}
	if cfg.Telemetry == "" {
		return nil, nil, fmt.Errorf("%s: telemetry is required", path)
	}
	if cfg.DoseMonitor == "" {
		return nil, nil, fmt.Errorf("%s: dose_monitor is required", path)
	}
	return []string{cfg.Telemetry, cfg.DoseMonitor}, nil, nil
}

func seconds(s float64, def time.Duration) time.Duration {
	if s <= 0 {
		return def
	}
	return time.Duration(s * float64(time.Second))
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func (cfg *Config) processParams() ProcessParams {
	stepTime := seconds(cfg.StepTimeS, defaultStepTime)
	maxRetries := cfg.MaxQuenchRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxQuenchRetries
	}
	proofs := cfg.MaxStabilityProofs
	if proofs <= 0 {
		proofs = defaultMaxStabilityProofs
	}
	return ProcessParams{
		StartAmp:             orDefault(cfg.StartAmp, defaultStartAmp),
		EndAmp:               orDefault(cfg.EndAmp, defaultEndAmp),
		StepSize:             orDefault(cfg.StepSize, defaultStepSize),
		StepPeriod:           stepTime,
		PostQuenchStepPeriod: seconds(cfg.PostQuenchStepTimeS, defaultPostQuenchStepTime),
		QuenchWait:           seconds(cfg.MaxWaitForQuenchS, defaultMaxWaitForQuench),
		RetryWait:            seconds(cfg.RetryWaitS, retryWaitStepTimeMultiplier*stepTime),
		StableTime:           seconds(cfg.QuenchStableTimeS, defaultQuenchStableTime),
		MaxRetries:           maxRetries,
		MaxStabilityProofs:   proofs,
		ValidateQuenches:     cfg.ValidateQuenches,
	}
}

// processRun is one background Run of the procedure.
type processRun struct {
	runID     string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

type quenchProcessingController struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	cfg    *Config
	clock  clock.Clock

	cavity   *Cavity
	abort    *AbortFlag
	process  *Process
	resetter *InterlockResetter
	defaults ProcessParams

	mu         sync.Mutex
	activeRun  *processRun
	lastRunID  string
	lastReport *Report
	lastErr    error

	cancelCtx  context.Context
	cancelFunc func()
}

func newQuenchProcessingController(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	return NewController(ctx, deps, rawConf.ResourceName(), conf, logger)
}

func NewController(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *Config, logger logging.Logger) (resource.Resource, error) {
	return newController(ctx, deps, name, conf, logger, clock.New())
}

func newController(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *Config, logger logging.Logger, clk clock.Clock) (*quenchProcessingController, error) {
	prefix, err := NewMachine(nil).Prefix(conf.Cryomodule, conf.Cavity)
	if err != nil {
		return nil, err
	}

	frequency := conf.FrequencyHz
	if frequency <= 0 {
		frequency = FrequencyFor(conf.Cryomodule)
	}

	var telemetry Telemetry
	var dose DoseMonitor
	if conf.UseSimulatedCavity {
		sim := newSimulatedCavity(prefix, frequency)
		telemetry, dose = sim, sim
		logger.Infof("quench processing using simulated cavity (use_simulated_cavity=true)")
	} else {
		gateway, err := sensor.FromDependencies(deps, conf.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("getting telemetry sensor: %w", err)
		}
		monitor, err := sensor.FromDependencies(deps, conf.DoseMonitor)
		if err != nil {
			return nil, fmt.Errorf("getting dose_monitor sensor: %w", err)
		}
		telemetry = newSensorTelemetry(gateway)
		dose = newSensorDoseMonitor(monitor, conf.DoseKey)
		logger.Infof("quench processing via gateway %q, dose monitor %q", conf.Telemetry, conf.DoseMonitor)
	}

	cavity, err := NewMachine(telemetry).Cavity(conf.Cryomodule, conf.Cavity)
	if err != nil {
		return nil, err
	}
	cavity.Frequency = frequency

	doseSettle := seconds(conf.DoseSettleTimeS, defaultDoseSettleTime)
	abort := NewAbortFlag(cavity.Name)
	safety := NewSafetyMonitor(abort, cavity, dose,
		orDefault(conf.RadiationLimit, defaultRadiationLimit),
		orDefault(conf.QuenchAmpThreshold, defaultQuenchAmpThreshold))
	waiter := NewWaiter(clk, cavity, safety, doseSettle, logger)
	ramp := NewRampController(cavity, safety, waiter, doseSettle, logger)
	validator := QuenchValidator{
		Frequency:      frequency,
		ThresholdRatio: orDefault(conf.LoadedQChangeForQuench, defaultLoadedQChange),
	}
	resetter := NewInterlockResetter(cavity, validator, waiter, defaultResetSettle, logger)

	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	s := &quenchProcessingController{
		name:       name,
		logger:     logger,
		cfg:        conf,
		clock:      clk,
		cavity:     cavity,
		abort:      abort,
		process:    NewProcess(cavity, safety, waiter, ramp, resetter, logger),
		resetter:   resetter,
		defaults:   conf.processParams(),
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	return s, nil
}

func (s *quenchProcessingController) Name() resource.Name {
	return s.name
}

func (s *quenchProcessingController) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'command' field")
	}

	switch command {
	case "start":
		return s.handleStart(ctx, cmd)
	case "abort":
		return s.handleAbort()
	case "stop":
		return s.handleStop()
	case "status":
		return s.GetState(), nil
	case "validate_quench":
		return s.handleValidateQuench(ctx, cmd)
	case "reset_quench":
		return s.handleResetQuench(ctx)
	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

func floatArg(cmd map[string]interface{}, key string, into *float64) error {
	raw, ok := cmd[key]
	if !ok {
		return nil
	}
	v, err := toFloat(key, raw)
	if err != nil {
		return err
	}
	*into = v
	return nil
}

func durationArg(cmd map[string]interface{}, key string, into *time.Duration) error {
	var secs float64
	if err := floatArg(cmd, key, &secs); err != nil {
		return err
	}
	if secs > 0 {
		*into = time.Duration(secs * float64(time.Second))
	}
	return nil
}

// startParams applies the start command's overrides to the configured
// defaults. An unconfigured retry window follows an overridden step time.
func (s *quenchProcessingController) startParams(cmd map[string]interface{}) (ProcessParams, error) {
	params := s.defaults
	for key, into := range map[string]*float64{
		"start_amp": &params.StartAmp,
		"end_amp":   &params.EndAmp,
		"step_size": &params.StepSize,
	} {
		if err := floatArg(cmd, key, into); err != nil {
			return params, err
		}
	}
	if err := durationArg(cmd, "step_time_s", &params.StepPeriod); err != nil {
		return params, err
	}
	if s.cfg.RetryWaitS <= 0 {
		params.RetryWait = retryWaitStepTimeMultiplier * params.StepPeriod
	}
	return params, params.validate()
}

// checkInterlock refuses to act on a cavity whose quench interlock is bypassed.
func (s *quenchProcessingController) checkInterlock(ctx context.Context, action string) error {
	bypassed, err := s.cavity.QuenchInterlockBypassed(ctx)
	if err != nil {
		return fmt.Errorf("reading %s quench interlock bypass: %w", s.cavity, err)
	}
	if bypassed {
		s.logger.Warnf("%s quench interlock is bypassed, refusing to %s", s.cavity, action)
		return fmt.Errorf("cannot %s %s: %w", action, s.cavity, ErrInterlockBypassed)
	}
	return nil
}

func (s *quenchProcessingController) handleStart(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	params, err := s.startParams(cmd)
	if err != nil {
		return nil, err
	}
	if err := s.checkInterlock(ctx, "start quench processing"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeRun != nil {
		return nil, fmt.Errorf("quench processing %s already running on %s", s.activeRun.runID, s.cavity)
	}

	now := s.clock.Now()
	runCtx, cancel := context.WithCancel(s.cancelCtx)
	run := &processRun{
		runID:     fmt.Sprintf("run-%s", now.Format("20060102-150405")),
		startedAt: now,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.activeRun = run
	s.lastRunID = run.runID
	s.abort.Reset()

	goutils.PanicCapturingGo(func() {
		defer close(run.done)
		report, err := s.process.Run(runCtx, params)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.lastReport = &report
		s.lastErr = err
		s.activeRun = nil
		cancel()
	})

	s.logger.Infof("started quench processing %s on %s: %.2f -> %.2f MV in %.2f MV steps every %v",
		run.runID, s.cavity, params.StartAmp, params.EndAmp, params.StepSize, params.StepPeriod)
	return map[string]interface{}{
		"status": "started",
		"run_id": run.runID,
	}, nil
}

// handleAbort trips the abort flag; the run fails at its next safety check.
func (s *quenchProcessingController) handleAbort() (map[string]interface{}, error) {
	s.mu.Lock()
	run := s.activeRun
	s.mu.Unlock()

	if run == nil {
		return nil, errors.New("no quench processing running")
	}
	s.abort.Request()
	s.logger.Warnf("abort requested for %s", run.runID)
	return map[string]interface{}{"status": "abort_requested", "run_id": run.runID}, nil
}

// handleStop cancels the run and waits for it to unwind.
func (s *quenchProcessingController) handleStop() (map[string]interface{}, error) {
	s.mu.Lock()
	run := s.activeRun
	s.mu.Unlock()

	if run == nil {
		return nil, errors.New("no quench processing running")
	}
	run.cancel()
	<-run.done
	return map[string]interface{}{"status": "stopped", "run_id": run.runID}, nil
}

func (s *quenchProcessingController) handleValidateQuench(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	wait, _ := cmd["wait_for_update"].(bool)
	est, err := s.resetter.ValidateQuench(ctx, wait)
	if err != nil {
		return nil, err
	}
	s.process.recordValidation(est)
	return estimateMap(est), nil
}

func (s *quenchProcessingController) handleResetQuench(ctx context.Context) (map[string]interface{}, error) {
	s.mu.Lock()
	running := s.activeRun != nil
	s.mu.Unlock()
	if running {
		return nil, errors.New("cannot reset quench while quench processing is running")
	}
	if err := s.checkInterlock(ctx, "reset quench"); err != nil {
		return nil, err
	}

	reset, est, err := s.resetter.ResetQuench(ctx)
	if err != nil {
		return nil, err
	}
	s.process.recordValidation(est)
	result := estimateMap(est)
	result["reset"] = reset
	return result, nil
}

func estimateMap(est QualityFactorEstimate) map[string]interface{} {
	return map[string]interface{}{
		"loaded_q":        est.LoadedQ,
		"baseline_q":      est.BaselineQ,
		"threshold_ratio": est.ThresholdRatio,
		"threshold":       est.Threshold(),
		"pre_quench_amp":  est.PreQuenchAmp,
		"samples":         est.Samples,
		"is_real":         est.IsReal,
	}
}

func secondsList(ds []time.Duration) []interface{} {
	out := make([]interface{}, len(ds))
	for i, d := range ds {
		out[i] = d.Seconds()
	}
	return out
}

// GetState is what the process sensor reports.
func (s *quenchProcessingController) GetState() map[string]interface{} {
	status := s.process.Status()

	s.mu.Lock()
	running := s.activeRun != nil
	var startedAt time.Time
	if running {
		startedAt = s.activeRun.startedAt
	}
	runID := s.lastRunID
	report := s.lastReport
	lastErr := s.lastErr
	s.mu.Unlock()

	state := "idle"
	if running {
		state = "running"
	}

	result := map[string]interface{}{
		"state":         state,
		"cavity":        s.cavity.Name,
		"run_id":        runID,
		"phase":         status.Phase.String(),
		"amplitude":     status.Amplitude,
		"ceiling":       status.Ceiling,
		"quenches":      status.Quenches,
		"attempts":      status.Attempts,
		"running_times": secondsList(status.Durations),
		"should_sync":   running,
	}
	if running {
		result["started_at"] = startedAt.Format(time.RFC3339)
	}
	if !running && report != nil {
		result["final_amplitude"] = report.FinalAmplitude
		result["duration_s"] = report.Duration.Seconds()
	}
	if !running && lastErr != nil {
		result["last_error"] = lastErr.Error()
	}
	return result
}

// LastValidation is what the validation sensor reports.
func (s *quenchProcessingController) LastValidation() map[string]interface{} {
	est, ok := s.process.LastValidation()
	if !ok {
		return map[string]interface{}{"cavity": s.cavity.Name, "validated": false}
	}
	result := estimateMap(est)
	result["cavity"] = s.cavity.Name
	result["validated"] = true
	return result
}

func (s *quenchProcessingController) Close(context.Context) error {
	s.cancelFunc()

	s.mu.Lock()
	run := s.activeRun
	s.mu.Unlock()
	if run != nil {
		<-run.done
	}
	return nil
}
