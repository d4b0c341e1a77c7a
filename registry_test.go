package quenchprocessing

import (
	"testing"

	"go.viam.com/test"
)

func TestMachine(t *testing.T) {
	m := NewMachine(nil)

	t.Run("maps cryomodules to linac sections", func(t *testing.T) {
		for cm, want := range map[string]string{
			"01": "L0B",
			"02": "L1B",
			"H1": "L1B",
			"H2": "L1B",
			"04": "L2B",
			"15": "L2B",
			"16": "L3B",
			"35": "L3B",
		} {
			linac, err := m.Linac(cm)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, linac, test.ShouldEqual, want)
		}

		_, err := m.Linac("36")
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("builds process variable prefixes", func(t *testing.T) {
		prefix, err := m.Prefix("03", 6)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, prefix, test.ShouldEqual, "ACCL:L1B:0360:")

		prefix, err = m.Prefix("H1", 2)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, prefix, test.ShouldEqual, "ACCL:L1B:H120:")

		for _, n := range []int{0, 9} {
			_, err := m.Prefix("03", n)
			test.That(t, err, test.ShouldNotBeNil)
		}
	})

	t.Run("resolves cavities with their frequency", func(t *testing.T) {
		c, err := m.Cavity("H2", 8)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, c.Name, test.ShouldEqual, "L1B CMH2 Cavity 8")
		test.That(t, c.Prefix, test.ShouldEqual, "ACCL:L1B:H280:")
		test.That(t, c.Frequency, test.ShouldEqual, frequencyHarmonic)

		c, err = m.Cavity("20", 1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, c.Frequency, test.ShouldEqual, frequencyStandard)
		test.That(t, c.String(), test.ShouldEqual, "L3B CM20 Cavity 1")
	})
}
