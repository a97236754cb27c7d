// Package heading turns noisy compass samples into a stable heading.
package heading

import "math"

// Alpha is the low-pass smoothing factor applied to every sample.
const Alpha = 0.15

// Sample is one raw orientation reading. CompassHeading is the platform's
// native heading when it has one; otherwise Alpha holds the device's
// rotation around the z axis.
type Sample struct {
	CompassHeading *float64 `json:"compassHeading,omitempty"`
	Alpha          *float64 `json:"alpha,omitempty"`
}

// Raw converts a sample to a heading in [0,360). ok is false when the
// sample carries neither field.
func Raw(s Sample) (float64, bool) {
	switch {
	case s.CompassHeading != nil:
		return wrap(*s.CompassHeading), true
	case s.Alpha != nil:
		return wrap(360 - *s.Alpha), true
	default:
		return 0, false
	}
}

// Smoother is an exponential filter over circular degrees. The zero value
// is ready to use; it is not safe for concurrent use.
type Smoother struct {
	value  float64
	seeded bool
}

// Add feeds one raw heading and returns the new smoothed value in [0,360).
func (s *Smoother) Add(raw float64) float64 {
	raw = wrap(raw)
	if !s.seeded {
		s.value = raw
		s.seeded = true
		return s.value
	}
	diff := raw - s.value
	if diff > 180 {
		diff -= 360
	} else if diff < -180 {
		diff += 360
	}
	s.value = wrap(s.value + Alpha*diff)
	return s.value
}

// Value is the unrounded smoothed heading.
func (s *Smoother) Value() float64 {
	return s.value
}

// Ready reports whether at least one sample was seen.
func (s *Smoother) Ready() bool {
	return s.seeded
}

// Display is the integer heading shown to the user and persisted on lock.
func (s *Smoother) Display() int {
	return Round(s.value)
}

// Reset forgets all samples; the next one seeds the filter again.
func (s *Smoother) Reset() {
	*s = Smoother{}
}

// Round maps a heading to the nearest whole degree in [0,359].
func Round(deg float64) int {
	return int(math.Round(wrap(deg))) % 360
}

func wrap(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// tiny negative inputs land on 360 after the shift
	if deg >= 360 {
		deg = 0
	}
	return deg
}
