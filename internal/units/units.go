// Package units provides shared constants and conversion for length units.
// The controller works natively in millimetres.
package units

import (
	"fmt"
	"math"
)

// Unit constants
const (
	MM   = "mm"
	CM   = "cm"
	M    = "m"
	INCH = "inch"
	MIL  = "mil"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MM, CM, M, INCH, MIL}

// millimetres per unit
var perUnit = map[string]float64{
	MM:   1,
	CM:   10,
	M:    1000,
	INCH: 25.4,
	MIL:  0.0254,
}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	_, ok := perUnit[unit]
	return ok
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mm, cm, m, inch, mil"
}

// ToMillimetres converts a length in the given unit to millimetres. NaN is
// preserved so that "axis not specified" survives conversion.
func ToMillimetres(v float64, unit string) (float64, error) {
	f, ok := perUnit[unit]
	if !ok {
		return 0, fmt.Errorf("unknown length unit %q (valid: %s)", unit, GetValidUnitsString())
	}
	if math.IsNaN(v) {
		return v, nil
	}
	return v * f, nil
}

// FromMillimetres converts a length in millimetres to the target unit.
func FromMillimetres(mm float64, unit string) (float64, error) {
	f, ok := perUnit[unit]
	if !ok {
		return 0, fmt.Errorf("unknown length unit %q (valid: %s)", unit, GetValidUnitsString())
	}
	if math.IsNaN(mm) {
		return mm, nil
	}
	return mm / f, nil
}
