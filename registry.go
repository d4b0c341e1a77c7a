package quenchprocessing

import "fmt"

const (
	frequencyStandard = 1.3e9
	frequencyHarmonic = 3.9e9
)

var linacCryomodules = map[string][]string{
	"L0B": {"01"},
	"L1B": {"02", "03", "H1", "H2"},
	"L2B": {"04", "05", "06", "07", "08", "09", "10", "11", "12", "13", "14", "15"},
	"L3B": {"16", "17", "18", "19", "20", "21", "22", "23", "24", "25", "26", "27",
		"28", "29", "30", "31", "32", "33", "34", "35"},
}

// Machine resolves cryomodule/cavity identifiers into cavity handles. Build one
// per process with NewMachine and pass it to whoever needs a cavity; it holds no
// state beyond the section table and the telemetry it binds cavities to.
type Machine struct {
	telemetry Telemetry
	sections  map[string]string
}

func NewMachine(telemetry Telemetry) *Machine {
	sections := make(map[string]string)
	for linac, cms := range linacCryomodules {
		for _, cm := range cms {
			sections[cm] = linac
		}
	}
	return &Machine{telemetry: telemetry, sections: sections}
}

// Linac returns the linac section holding the cryomodule.
func (m *Machine) Linac(cryomodule string) (string, error) {
	linac, ok := m.sections[cryomodule]
	if !ok {
		return "", fmt.Errorf("unknown cryomodule %q", cryomodule)
	}
	return linac, nil
}

// Prefix returns the process variable prefix of a cavity, e.g. ACCL:L1B:0360:.
func (m *Machine) Prefix(cryomodule string, number int) (string, error) {
	linac, err := m.Linac(cryomodule)
	if err != nil {
		return "", err
	}
	if number < 1 || number > 8 {
		return "", fmt.Errorf("cryomodule %s has no cavity %d", cryomodule, number)
	}
	return fmt.Sprintf("ACCL:%s:%s%d0:", linac, cryomodule, number), nil
}

func (m *Machine) Cavity(cryomodule string, number int) (*Cavity, error) {
	prefix, err := m.Prefix(cryomodule, number)
	if err != nil {
		return nil, err
	}
	return &Cavity{
		Name:      fmt.Sprintf("%s CM%s Cavity %d", m.sections[cryomodule], cryomodule, number),
		Prefix:    prefix,
		Frequency: FrequencyFor(cryomodule),
		telemetry: m.telemetry,
	}, nil
}

// FrequencyFor returns the RF frequency of the cavities in a cryomodule.
func FrequencyFor(cryomodule string) float64 {
	if cryomodule == "H1" || cryomodule == "H2" {
		return frequencyHarmonic
	}
	return frequencyStandard
}
