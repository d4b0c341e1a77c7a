package quenchprocessing

import (
	"context"
	"fmt"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var ValidationSensor = resource.NewModel("viamdemo", "quench-processing", "validation-sensor")

func init() {
	resource.RegisterComponent(sensor.API, ValidationSensor,
		resource.Registration[sensor.Sensor, *ValidationSensorConfig]{
			Constructor: newValidationSensor,
		},
	)
}

type ValidationSensorConfig struct {
	Controller string `json:"controller"`
}

func (cfg *ValidationSensorConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Controller == "" {
		return nil, nil, fmt.Errorf("%s: controller is required", path)
	}
	dep := resource.NewName(resource.APINamespaceRDK.WithServiceType("generic"), cfg.Controller)
	return []string{dep.String()}, nil, nil
}

type validationProvider interface {
	LastValidation() map[string]interface{}
}

// validationSensor publishes the latest real/fake quench classification so it
// can be captured alongside the fault waveforms.
type validationSensor struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	controller validationProvider
}

func newValidationSensor(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*ValidationSensorConfig](rawConf)
	if err != nil {
		return nil, err
	}

	ctrl, err := controllerFromDependencies(deps, conf.Controller)
	if err != nil {
		return nil, err
	}

	provider, ok := ctrl.(validationProvider)
	if !ok {
		return nil, fmt.Errorf("controller %q does not implement LastValidation", conf.Controller)
	}

	return &validationSensor{
		name:       rawConf.ResourceName(),
		logger:     logger,
		controller: provider,
	}, nil
}

func (s *validationSensor) Name() resource.Name {
	return s.name
}

func (s *validationSensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	return s.controller.LastValidation(), nil
}

func (s *validationSensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, fmt.Errorf("DoCommand not supported on validation-sensor")
}

func (s *validationSensor) Close(context.Context) error {
	return nil
}
