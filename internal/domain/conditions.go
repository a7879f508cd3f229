package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Condition is a named preset threshold, e.g. "very hot".
type Condition struct {
	Name      string  `json:"name"`
	Label     string  `json:"label"`
	Threshold float64 `json:"threshold"`
	Unit      Unit    `json:"unit"`
}

var conditions = []Condition{
	{Name: "very_hot", Label: "Very hot", Threshold: 30, Unit: UnitCelsius},
	{Name: "very_cold", Label: "Very cold", Threshold: 0, Unit: UnitCelsius},
	{Name: "very_wet", Label: "Very wet", Threshold: 10, Unit: UnitMillimetre},
	{Name: "very_windy", Label: "Very windy", Threshold: 15, Unit: UnitMetrePerS},
	{Name: "very_uncomfortable", Label: "Very uncomfortable", Threshold: 30, Unit: UnitCelsius},
}

// Conditions returns the preset conditions.
func Conditions() []Condition {
	return slices.Clone(conditions)
}

// LookupCondition finds a preset by name ("very_hot", "Very hot").
func LookupCondition(name string) (Condition, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	for _, c := range conditions {
		if c.Name == key {
			return c, nil
		}
	}
	return Condition{}, fmt.Errorf("%w: unknown condition %q", ErrConfiguration, name)
}

// ThresholdFor returns the preset threshold for a variable stored in native
// unit. When the preset's quantity does not match the variable's (a
// temperature preset applied to precipitation) the raw preset value is used
// with an unknown unit, so no conversion is attempted.
func (c Condition) ThresholdFor(native Unit) (float64, Unit) {
	if native == UnitUnknown || native.Quantity() != c.Unit.Quantity() {
		return c.Threshold, UnitUnknown
	}
	return c.Threshold, c.Unit
}

var variableLabels = map[string]string{
	"t_2m:C":            "Temperature (°C)",
	"precip_1h:mm":      "Precipitation (mm)",
	"wind_speed_10m:ms": "Wind Speed (m/s)",
}

// VariableLabel returns the display label of a known field, or the field name.
func VariableLabel(name string) string {
	if l, ok := variableLabels[name]; ok {
		return l
	}
	return name
}
