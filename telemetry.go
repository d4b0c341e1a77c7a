package quenchprocessing

import (
	"context"
	"fmt"

	"go.viam.com/rdk/components/sensor"
)

// Severity is the alarm severity attached to a process variable reading.
type Severity int

const (
	SeverityNoAlarm Severity = iota
	SeverityMinor
	SeverityMajor
	SeverityInvalid
)

func (s Severity) String() string {
	switch s {
	case SeverityNoAlarm:
		return "NO_ALARM"
	case SeverityMinor:
		return "MINOR"
	case SeverityMajor:
		return "MAJOR"
	case SeverityInvalid:
		return "INVALID"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Reading is a point-in-time scalar value and its severity.
type Reading struct {
	Value    float64
	Severity Severity
}

// Telemetry reads and writes named process variables.
type Telemetry interface {
	Get(ctx context.Context, point string) (Reading, error)
	GetWaveform(ctx context.Context, point string) ([]float64, error)
	Put(ctx context.Context, point string, value float64) error
}

// DoseMonitor reports the highest raw dose seen by the radiation monitors near a cavity.
type DoseMonitor interface {
	MaxRawDose(ctx context.Context) (float64, error)
}

// sensorTelemetry talks to a Viam sensor acting as a process variable gateway.
// Readings are keyed by full point name; "<point>.SEVR" carries severity when
// the gateway publishes it. Writes go through DoCommand.
type sensorTelemetry struct {
	sensor sensor.Sensor
}

func newSensorTelemetry(s sensor.Sensor) *sensorTelemetry {
	return &sensorTelemetry{sensor: s}
}

func (t *sensorTelemetry) Get(ctx context.Context, point string) (Reading, error) {
	readings, err := t.sensor.Readings(ctx, map[string]interface{}{"points": []interface{}{point}})
	if err != nil {
		return Reading{}, fmt.Errorf("reading %s: %w", point, err)
	}

	val, ok := readings[point]
	if !ok {
		return Reading{}, fmt.Errorf("gateway readings missing %q key", point)
	}
	v, err := toFloat(point, val)
	if err != nil {
		return Reading{}, err
	}

	sev := SeverityNoAlarm
	if raw, ok := readings[point+".SEVR"]; ok {
		s, err := toFloat(point+".SEVR", raw)
		if err != nil {
			return Reading{}, err
		}
		sev = Severity(int(s))
	}
	return Reading{Value: v, Severity: sev}, nil
}

func (t *sensorTelemetry) GetWaveform(ctx context.Context, point string) ([]float64, error) {
	readings, err := t.sensor.Readings(ctx, map[string]interface{}{"points": []interface{}{point}})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", point, err)
	}

	val, ok := readings[point]
	if !ok {
		return nil, fmt.Errorf("gateway readings missing %q key", point)
	}

	switch v := val.(type) {
	case []float64:
		out := make([]float64, len(v))
		copy(out, v)
		return out, nil
	case []interface{}:
		out := make([]float64, len(v))
		for i, elem := range v {
			f, err := toFloat(point, elem)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("gateway reading %q is not a waveform: %T", point, val)
	}
}

func (t *sensorTelemetry) Put(ctx context.Context, point string, value float64) error {
	_, err := t.sensor.DoCommand(ctx, map[string]interface{}{
		"command": "put",
		"point":   point,
		"value":   value,
	})
	if err != nil {
		return fmt.Errorf("writing %s=%v: %w", point, value, err)
	}
	return nil
}

// sensorDoseMonitor wraps a Viam sensor that aggregates radiation monitor readings.
type sensorDoseMonitor struct {
	sensor  sensor.Sensor
	doseKey string
}

func newSensorDoseMonitor(s sensor.Sensor, doseKey string) *sensorDoseMonitor {
	if doseKey == "" {
		doseKey = "max_raw_dose"
	}
	return &sensorDoseMonitor{sensor: s, doseKey: doseKey}
}

func (d *sensorDoseMonitor) MaxRawDose(ctx context.Context) (float64, error) {
	readings, err := d.sensor.Readings(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("reading dose monitor: %w", err)
	}

	val, ok := readings[d.doseKey]
	if !ok {
		return 0, fmt.Errorf("dose monitor readings missing %q key", d.doseKey)
	}
	return toFloat(d.doseKey, val)
}

func toFloat(key string, val interface{}) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("reading %q is not numeric: %T", key, val)
	}
}
