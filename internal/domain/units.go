package domain

import (
	"fmt"
	"strings"
)

// Unit is a measurement unit tag as recorded for a source variable.
type Unit string

const (
	UnitUnknown    Unit = ""
	UnitCelsius    Unit = "C"
	UnitKelvin     Unit = "K"
	UnitFahrenheit Unit = "F"
	UnitMillimetre Unit = "mm"
	UnitCentimetre Unit = "cm"
	UnitMetre      Unit = "m"
	UnitInch       Unit = "in"
	UnitMetrePerS  Unit = "ms"
	UnitKmPerHour  Unit = "kmh"
	UnitMilePerH   Unit = "mph"
	UnitKnot       Unit = "kn"
)

// Quantity groups units that can be converted into each other.
type Quantity string

const (
	QuantityUnknown       Quantity = ""
	QuantityTemperature   Quantity = "temperature"
	QuantityPrecipitation Quantity = "precipitation"
	QuantitySpeed         Quantity = "speed"
)

// unitAliases maps spellings seen in CSV headers, grid attributes and API
// parameter names onto canonical tags.
var unitAliases = map[string]Unit{
	"c": UnitCelsius, "°c": UnitCelsius, "degc": UnitCelsius, "deg_c": UnitCelsius, "celsius": UnitCelsius,
	"k": UnitKelvin, "kelvin": UnitKelvin,
	"f": UnitFahrenheit, "°f": UnitFahrenheit, "degf": UnitFahrenheit, "fahrenheit": UnitFahrenheit,
	"mm": UnitMillimetre, "kg m-2": UnitMillimetre, "kg m**-2": UnitMillimetre,
	"cm": UnitCentimetre,
	"m":  UnitMetre,
	"in": UnitInch, "inch": UnitInch, "inches": UnitInch,
	"ms": UnitMetrePerS, "m/s": UnitMetrePerS, "m s-1": UnitMetrePerS, "m s**-1": UnitMetrePerS,
	"kmh": UnitKmPerHour, "km/h": UnitKmPerHour, "kph": UnitKmPerHour,
	"mph": UnitMilePerH,
	"kn": UnitKnot, "kt": UnitKnot, "knots": UnitKnot,
}

// ParseUnit maps a unit spelling onto a canonical tag. Unrecognized spellings
// return UnitUnknown.
func ParseUnit(s string) Unit {
	return unitAliases[strings.ToLower(strings.TrimSpace(s))]
}

// Quantity returns the physical quantity the unit measures.
func (u Unit) Quantity() Quantity {
	switch u {
	case UnitCelsius, UnitKelvin, UnitFahrenheit:
		return QuantityTemperature
	case UnitMillimetre, UnitCentimetre, UnitMetre, UnitInch:
		return QuantityPrecipitation
	case UnitMetrePerS, UnitKmPerHour, UnitMilePerH, UnitKnot:
		return QuantitySpeed
	default:
		return QuantityUnknown
	}
}

// UnitFromName extracts the unit suffix of a "name:unit" variable, e.g.
// "t_2m:C" -> C. Names without a recognized suffix return UnitUnknown.
func UnitFromName(name string) Unit {
	i := strings.LastIndex(name, ":")
	if i < 0 || i == len(name)-1 {
		return UnitUnknown
	}
	return ParseUnit(name[i+1:])
}

// linear factors to the base unit of each non-temperature quantity
// (mm for precipitation, m/s for speed).
var toBase = map[Unit]float64{
	UnitMillimetre: 1,
	UnitCentimetre: 10,
	UnitMetre:      1000,
	UnitInch:       25.4,
	UnitMetrePerS:  1,
	UnitKmPerHour:  1 / 3.6,
	UnitMilePerH:   0.44704,
	UnitKnot:       0.514444,
}

// ConvertThreshold expresses a threshold given in unit from in unit to.
// Unknown units on either side leave the value untouched; known units of
// different quantities are a configuration error.
func ConvertThreshold(v float64, from, to Unit) (float64, error) {
	if from == UnitUnknown || to == UnitUnknown || from == to {
		return v, nil
	}
	if from.Quantity() != to.Quantity() {
		return 0, fmt.Errorf("%w: cannot convert %s threshold to %s", ErrConfiguration, from, to)
	}
	if from.Quantity() == QuantityTemperature {
		return fromCelsius(toCelsius(v, from), to), nil
	}
	return v * toBase[from] / toBase[to], nil
}

func toCelsius(v float64, u Unit) float64 {
	switch u {
	case UnitKelvin:
		return v - 273.15
	case UnitFahrenheit:
		return (v - 32) * 5 / 9
	default:
		return v
	}
}

func fromCelsius(v float64, u Unit) float64 {
	switch u {
	case UnitKelvin:
		return v + 273.15
	case UnitFahrenheit:
		return v*9/5 + 32
	default:
		return v
	}
}
