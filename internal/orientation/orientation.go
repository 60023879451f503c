// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
)

// Pose is the Euler attitude of the device, in radians.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Attitude is a pose together with its quaternion form.
type Attitude struct {
	Pose
	Quat Quaternion `json:"quat"`
}

// AttitudeFromPose fills in the quaternion for a pose.
func AttitudeFromPose(p Pose) Attitude {
	return Attitude{Pose: p, Quat: FromEuler(p.Roll, p.Pitch, p.Yaw)}
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is set to 0, it cannot be observed from gravity.
//
// Uses simple tilt formulas:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	return Pose{
		Roll:  math.Atan2(ay, az),
		Pitch: math.Atan2(-ax, math.Sqrt(ay*ay+az*az)),
	}
}

// GravityFromPose returns the unit gravity vector in the device frame for
// the given roll and pitch. It is the inverse of ComputePoseFromAccel.
func GravityFromPose(p Pose) (gx, gy, gz float64) {
	sr, cr := math.Sincos(p.Roll)
	sp, cp := math.Sincos(p.Pitch)
	return -sp, sr * cp, cr * cp
}

// DefaultAlpha is the gyro weight used at 100 Hz.
const DefaultAlpha = 0.98

// Complementary fuses gyro integration with accelerometer tilt.
// Alpha is the weight of the gyro path.
type Complementary struct {
	Alpha float64

	pose   Pose
	seeded bool
}

// NewComplementary returns a filter with the given gyro weight.
func NewComplementary(alpha float64) *Complementary {
	return &Complementary{Alpha: alpha}
}

// Update feeds one accel (any unit) and gyro (rad/s) reading taken dt seconds
// after the previous one and returns the fused pose. The first call seeds
// roll and pitch from the accelerometer.
func (c *Complementary) Update(ax, ay, az, gx, gy, gz, dt float64) Pose {
	tilt := ComputePoseFromAccel(ax, ay, az)
	if !c.seeded {
		c.pose = tilt
		c.seeded = true
		return c.pose
	}

	c.pose.Roll = c.Alpha*(c.pose.Roll+gx*dt) + (1-c.Alpha)*tilt.Roll
	c.pose.Pitch = c.Alpha*(c.pose.Pitch+gy*dt) + (1-c.Alpha)*tilt.Pitch
	c.pose.Yaw = wrapAngle(c.pose.Yaw + gz*dt)
	return c.pose
}

// Pose returns the last fused pose.
func (c *Complementary) Pose() Pose {
	return c.pose
}

// Reset forgets the filter state.
func (c *Complementary) Reset() {
	c.pose = Pose{}
	c.seeded = false
}

// wrapAngle maps a to (-pi, pi].
func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
