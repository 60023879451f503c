// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package motion holds the per-tick motion record and the sensor sources
// that produce it.
package motion

import (
	"math"
	"time"

	"github.com/relabs-tech/shot_detector/internal/orientation"
)

// Vec3 is a device-frame vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Norm returns the euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Hypot(math.Hypot(v.X, v.Y), v.Z)
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale returns v * k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Reading is one sensor update as delivered by a Sensor.
type Reading struct {
	Timestamp time.Time            // zero means "use the receiver's clock"
	Accel     Vec3                 // gravity compensated, g
	Rot       Vec3                 // rad/s
	Attitude  orientation.Attitude // radians
}

// Sample is one logged acquisition tick. Magnitudes are always derived from
// the components.
type Sample struct {
	Time  float64 // seconds since session start
	Accel Vec3
	Rot   Vec3

	Roll  float64
	Pitch float64
	Yaw   float64
	Quat  orientation.Quaternion
}

// NewSample builds a sample at elapsed time t from a reading.
func NewSample(t float64, r Reading) Sample {
	return Sample{
		Time:  t,
		Accel: r.Accel,
		Rot:   r.Rot,
		Roll:  r.Attitude.Roll,
		Pitch: r.Attitude.Pitch,
		Yaw:   r.Attitude.Yaw,
		Quat:  r.Attitude.Quat,
	}
}

// AccelMagnitude is ||accel||.
func (s Sample) AccelMagnitude() float64 {
	return s.Accel.Norm()
}

// RotMagnitude is ||rot||.
func (s Sample) RotMagnitude() float64 {
	return s.Rot.Norm()
}

// Pose returns the Euler attitude of the sample.
func (s Sample) Pose() orientation.Pose {
	return orientation.Pose{Roll: s.Roll, Pitch: s.Pitch, Yaw: s.Yaw}
}
