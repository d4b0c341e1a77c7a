package quenchprocessing

import (
	"context"
	"fmt"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var ProcessSensor = resource.NewModel("viamdemo", "quench-processing", "process-sensor")

func init() {
	resource.RegisterComponent(sensor.API, ProcessSensor,
		resource.Registration[sensor.Sensor, *ProcessSensorConfig]{
			Constructor: newProcessSensor,
		},
	)
}

type ProcessSensorConfig struct {
	Controller string `json:"controller"`
}

func (cfg *ProcessSensorConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Controller == "" {
		return nil, nil, fmt.Errorf("%s: controller is required", path)
	}
	// Return full resource name so Viam knows this is a generic service dependency
	dep := resource.NewName(resource.APINamespaceRDK.WithServiceType("generic"), cfg.Controller)
	return []string{dep.String()}, nil, nil
}

type stateProvider interface {
	GetState() map[string]interface{}
}

// controllerFromDependencies finds the quench processing controller a sensor reports on.
func controllerFromDependencies(deps resource.Dependencies, name string) (resource.Resource, error) {
	controllerName := resource.NewName(resource.APINamespaceRDK.WithServiceType("generic"), name)
	ctrl, ok := deps[controllerName]
	if !ok {
		return nil, fmt.Errorf("controller %q not found in dependencies", name)
	}
	return ctrl, nil
}

type processSensor struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	controller stateProvider
}

func newProcessSensor(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*ProcessSensorConfig](rawConf)
	if err != nil {
		return nil, err
	}

	ctrl, err := controllerFromDependencies(deps, conf.Controller)
	if err != nil {
		return nil, err
	}

	provider, ok := ctrl.(stateProvider)
	if !ok {
		return nil, fmt.Errorf("controller %q does not implement GetState", conf.Controller)
	}

	return &processSensor{
		name:       rawConf.ResourceName(),
		logger:     logger,
		controller: provider,
	}, nil
}

func (s *processSensor) Name() resource.Name {
	return s.name
}

func (s *processSensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	return s.controller.GetState(), nil
}

func (s *processSensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, fmt.Errorf("DoCommand not supported on process-sensor")
}

func (s *processSensor) Close(context.Context) error {
	return nil
}
