// Package position tracks the absolute location of each machine head and
// resolves tool-relative locations from it.
package position

import (
	"fmt"
	"math"

	"github.com/banshee-data/smallsmt/internal/units"
)

// Location is a point in millimetres plus a rotation in degrees.
// A NaN axis means "not specified".
type Location struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Rotation float64 `json:"rotation"`
}

// Origin is the location every head starts at.
var Origin = Location{}

// Unspecified returns a location with every axis NaN.
func Unspecified() Location {
	nan := math.NaN()
	return Location{X: nan, Y: nan, Z: nan, Rotation: nan}
}

// FromUnits builds a Location from linear axes in unit. Rotation is in
// degrees and is not converted.
func FromUnits(x, y, z, rotation float64, unit string) (Location, error) {
	var l Location
	var err error
	if l.X, err = units.ToMillimetres(x, unit); err != nil {
		return Location{}, err
	}
	if l.Y, err = units.ToMillimetres(y, unit); err != nil {
		return Location{}, err
	}
	if l.Z, err = units.ToMillimetres(z, unit); err != nil {
		return Location{}, err
	}
	l.Rotation = rotation
	return l, nil
}

// Derive returns l with every non-NaN axis of update applied.
func (l Location) Derive(update Location) Location {
	return Location{
		X:        pick(l.X, update.X),
		Y:        pick(l.Y, update.Y),
		Z:        pick(l.Z, update.Z),
		Rotation: pick(l.Rotation, update.Rotation),
	}
}

func pick(prev, next float64) float64 {
	if math.IsNaN(next) {
		return prev
	}
	return next
}

// Add returns the axis-wise sum.
func (l Location) Add(o Location) Location {
	return Location{X: l.X + o.X, Y: l.Y + o.Y, Z: l.Z + o.Z, Rotation: l.Rotation + o.Rotation}
}

// Subtract returns the axis-wise difference.
func (l Location) Subtract(o Location) Location {
	return Location{X: l.X - o.X, Y: l.Y - o.Y, Z: l.Z - o.Z, Rotation: l.Rotation - o.Rotation}
}

func (l Location) String() string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f, %.4f mm)", l.X, l.Y, l.Z, l.Rotation)
}

// Mountable is a tool (nozzle or actuator) attached to a head at a fixed
// offset from the head's reference point.
type Mountable struct {
	Name   string   `json:"name"`
	Head   string   `json:"head"`
	Offset Location `json:"offset"`
}

func (m Mountable) String() string { return m.Name }
