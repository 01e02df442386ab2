// Package mount drives the two stepper axes of the equatorial mount: RA
// tracks the sky continuously, DEC executes finite nudges.
package mount

import (
	"math"
	"time"
)

// SiderealDaySeconds approximates one sky rotation with the solar day.
const SiderealDaySeconds = 24 * 60 * 60

// Mechanics describes the drive train between a motor and its axis.
type Mechanics struct {
	DegPerOutputRev float64 `json:"deg_per_output_rev"` // axis degrees per turn of the output gear
	GearIn          float64 `json:"gear_in"`
	GearOut         float64 `json:"gear_out"`
	StepsPerRev     float64 `json:"steps_per_rev"` // motor full steps per revolution
}

// DefaultMechanics is the 28BYJ-48 + worm drive the rig was built with.
func DefaultMechanics() Mechanics {
	return Mechanics{DegPerOutputRev: 4, GearIn: 64, GearOut: 4, StepsPerRev: 32}
}

// DegPerStep is the axis rotation produced by one motor phase step.
func (m Mechanics) DegPerStep() float64 {
	return m.DegPerOutputRev / (m.GearIn * m.GearOut * m.StepsPerRev)
}

// SiderealDegPerSecond is the apparent sky rotation rate.
func SiderealDegPerSecond() float64 {
	return 360.0 / SiderealDaySeconds
}

// GuideInterval is the RA step interval that matches the sidereal rate.
func (m Mechanics) GuideInterval() time.Duration {
	seconds := m.DegPerStep() / SiderealDegPerSecond()
	return time.Duration(math.Round(seconds * float64(time.Second)))
}

// StepsFor converts an angle to a signed step count.
func (m Mechanics) StepsFor(degrees float64) int64 {
	return int64(math.Round(degrees / m.DegPerStep()))
}

// Valid reports whether every ratio is positive.
func (m Mechanics) Valid() bool {
	return m.DegPerOutputRev > 0 && m.GearIn > 0 && m.GearOut > 0 && m.StepsPerRev > 0
}
