package quenchprocessing

import (
	"context"
	"errors"
	"testing"

	"go.viam.com/rdk/testutils/inject"
	"go.viam.com/test"
)

func TestSensorTelemetry(t *testing.T) {
	ctx := context.Background()
	const point = "ACCL:L1B:0360:QUENCH_LTCH"

	t.Run("reads a point and its severity", func(t *testing.T) {
		gw := inject.NewSensor("gateway")
		var asked interface{}
		gw.ReadingsFunc = func(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
			asked = extra["points"]
			return map[string]interface{}{point: true, point + ".SEVR": 3}, nil
		}

		r, err := newSensorTelemetry(gw).Get(ctx, point)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, r.Value, test.ShouldEqual, 1.0)
		test.That(t, r.Severity, test.ShouldEqual, SeverityInvalid)
		test.That(t, asked, test.ShouldResemble, []interface{}{point})
	})

	t.Run("defaults to no alarm", func(t *testing.T) {
		gw := inject.NewSensor("gateway")
		gw.ReadingsFunc = func(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{point: 0.0}, nil
		}

		r, err := newSensorTelemetry(gw).Get(ctx, point)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, r.Severity, test.ShouldEqual, SeverityNoAlarm)
	})

	t.Run("missing or non-numeric points fail", func(t *testing.T) {
		gw := inject.NewSensor("gateway")
		gw.ReadingsFunc = func(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"other": 1.0, point + "X": "on"}, nil
		}
		tel := newSensorTelemetry(gw)

		_, err := tel.Get(ctx, point)
		test.That(t, err, test.ShouldNotBeNil)
		_, err = tel.Get(ctx, point+"X")
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("wraps gateway errors", func(t *testing.T) {
		gw := inject.NewSensor("gateway")
		boom := errors.New("gateway down")
		gw.ReadingsFunc = func(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
			return nil, boom
		}

		_, err := newSensorTelemetry(gw).Get(ctx, point)
		test.That(t, errors.Is(err, boom), test.ShouldBeTrue)
	})

	t.Run("converts waveforms", func(t *testing.T) {
		gw := inject.NewSensor("gateway")
		gw.ReadingsFunc = func(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{
				"typed":   []float64{1, 0.5},
				"generic": []interface{}{1.0, 0.5, 1},
				"scalar":  2.0,
			}, nil
		}
		tel := newSensorTelemetry(gw)

		w, err := tel.GetWaveform(ctx, "typed")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, w, test.ShouldResemble, []float64{1, 0.5})

		w, err = tel.GetWaveform(ctx, "generic")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, w, test.ShouldResemble, []float64{1, 0.5, 1})

		_, err = tel.GetWaveform(ctx, "scalar")
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("writes through DoCommand", func(t *testing.T) {
		gw := inject.NewSensor("gateway")
		var got map[string]interface{}
		gw.DoFunc = func(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
			got = cmd
			return map[string]interface{}{}, nil
		}

		err := newSensorTelemetry(gw).Put(ctx, "ACCL:L1B:0360:ADES", 12.5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldResemble, map[string]interface{}{
			"command": "put",
			"point":   "ACCL:L1B:0360:ADES",
			"value":   12.5,
		})
	})
}

func TestSensorDoseMonitor(t *testing.T) {
	ctx := context.Background()

	t.Run("reads the default key", func(t *testing.T) {
		rad := inject.NewSensor("radiation")
		rad.ReadingsFunc = func(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"max_raw_dose": 1.5}, nil
		}

		dose, err := newSensorDoseMonitor(rad, "").MaxRawDose(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, dose, test.ShouldEqual, 1.5)
	})

	t.Run("reads a configured key", func(t *testing.T) {
		rad := inject.NewSensor("radiation")
		rad.ReadingsFunc = func(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"dose_rate": int64(3)}, nil
		}
		mon := newSensorDoseMonitor(rad, "dose_rate")

		dose, err := mon.MaxRawDose(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, dose, test.ShouldEqual, 3.0)

		_, err = newSensorDoseMonitor(rad, "").MaxRawDose(ctx)
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestSeverityString(t *testing.T) {
	test.That(t, SeverityNoAlarm.String(), test.ShouldEqual, "NO_ALARM")
	test.That(t, SeverityMajor.String(), test.ShouldEqual, "MAJOR")
	test.That(t, SeverityInvalid.String(), test.ShouldEqual, "INVALID")
	test.That(t, Severity(7).String(), test.ShouldEqual, "Severity(7)")
}
