package accel

import "math"

// Gravity is the standard gravitational acceleration subtracted from the
// combined magnitude, in m/s².
const Gravity = 9.81

// Magnitude combines the three filtered axis values into one signed,
// gravity-compensated scalar.
//
// The sign is taken from the z axis: the wearable is mounted with z
// pointing down through the chest, so a downward compression registers
// as positive magnitude and the return stroke as negative. Ports to a
// different mounting orientation must pick the matching axis here.
func Magnitude(fx, fy, fz float64) float64 {
	raw := math.Sqrt(fx*fx + fy*fy + fz*fz)
	if fz < 0 {
		raw = -raw
	}
	return raw - Gravity
}
