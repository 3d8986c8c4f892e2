// Package fluid holds the immutable property data for propellants and
// pressurant gases, plus the physical constants shared by the flow and
// tank models.
package fluid

import (
	"fmt"
	"sort"
	"strings"
)

// Physical constants.
const (
	AtmosphericPressure = 101325.0         // Pa
	RoomTemperature     = 293.15           // K
	GasConstant         = 8.31446261815324 // J/(mol*K)
	PSI                 = 6894.757         // Pa per psi
)

// Gas describes a pressurant or gaseous propellant.
type Gas struct {
	Name            string  `yaml:"name" json:"name"`
	MolecularWeight float64 `yaml:"molecular_weight_g_mol" json:"molecular_weight_g_mol"` // g/mol
	Kappa           float64 `yaml:"kappa" json:"kappa"`                                   // specific-heat ratio
}

// MolarMass returns the molecular weight in kg/mol.
func (g Gas) MolarMass() float64 {
	return g.MolecularWeight / 1000.0
}

// Density returns the ideal-gas density (kg/m^3) at pressure p (Pa) and
// temperature t (K).
func (g Gas) Density(p, t float64) float64 {
	return g.MolarMass() * p / (GasConstant * t)
}

// Validate reports whether the gas properties are physically usable.
func (g Gas) Validate() error {
	if g.MolecularWeight <= 0 {
		return fmt.Errorf("gas %q: molecular weight must be positive", g.Name)
	}
	if g.Kappa <= 1 {
		return fmt.Errorf("gas %q: kappa must be greater than 1, got %g", g.Name, g.Kappa)
	}
	return nil
}

// Liquid describes a liquid propellant. VaporPressure is zero for
// propellants that cannot pressurize their own tank.
type Liquid struct {
	Name          string  `yaml:"name" json:"name"`
	Density       float64 `yaml:"density_kg_m3" json:"density_kg_m3"`
	VaporPressure float64 `yaml:"vapor_pressure_pa,omitempty" json:"vapor_pressure_pa,omitempty"`
}

// SelfPressurizing reports whether the liquid has a usable vapor pressure.
func (l Liquid) SelfPressurizing() bool {
	return l.VaporPressure > 0
}

// Validate reports whether the liquid properties are physically usable.
func (l Liquid) Validate() error {
	if l.Density <= 0 {
		return fmt.Errorf("liquid %q: density must be positive", l.Name)
	}
	if l.VaporPressure < 0 {
		return fmt.Errorf("liquid %q: vapor pressure must not be negative", l.Name)
	}
	return nil
}

// Built-in gases.
var (
	Nitrogen          = Gas{Name: "nitrogen", MolecularWeight: 28.02, Kappa: 1.4}
	Helium            = Gas{Name: "helium", MolecularWeight: 4.003, Kappa: 1.66}
	Oxygen            = Gas{Name: "oxygen", MolecularWeight: 32.00, Kappa: 1.4}
	NitrousOxideVapor = Gas{Name: "nitrous_oxide_vapor", MolecularWeight: 44.01, Kappa: 1.27}
)

// Built-in liquids.
var (
	IsopropylAlcohol = Liquid{Name: "isopropyl_alcohol", Density: 846}
	Ethanol          = Liquid{Name: "ethanol", Density: 789}
	LiquidOxygen     = Liquid{Name: "liquid_oxygen", Density: 1141}
	NitrousOxide     = Liquid{Name: "nitrous_oxide", Density: 1220, VaporPressure: 5.137e6}
)

var gases = map[string]Gas{
	"nitrogen":            Nitrogen,
	"gn2":                 Nitrogen,
	"helium":              Helium,
	"oxygen":              Oxygen,
	"gox":                 Oxygen,
	"nitrous_oxide_vapor": NitrousOxideVapor,
}

var liquids = map[string]Liquid{
	"isopropyl_alcohol": IsopropylAlcohol,
	"ipa":               IsopropylAlcohol,
	"ethanol":           Ethanol,
	"liquid_oxygen":     LiquidOxygen,
	"lox":               LiquidOxygen,
	"nitrous_oxide":     NitrousOxide,
	"n2o":               NitrousOxide,
}

// LookupGas returns a built-in gas by name (case-insensitive).
func LookupGas(name string) (Gas, bool) {
	g, ok := gases[strings.ToLower(name)]
	return g, ok
}

// LookupLiquid returns a built-in liquid by name (case-insensitive).
func LookupLiquid(name string) (Liquid, bool) {
	l, ok := liquids[strings.ToLower(name)]
	return l, ok
}

// GasNames lists the built-in gas names, sorted.
func GasNames() []string {
	return sortedKeys(gases)
}

// LiquidNames lists the built-in liquid names, sorted.
func LiquidNames() []string {
	return sortedKeys(liquids)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
