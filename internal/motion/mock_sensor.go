// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/shot_detector/internal/orientation"
)

// readingBuffer is how many readings a slow consumer may lag behind before
// ticks are dropped.
const readingBuffer = 64

// MockSensor generates smooth synthetic wrist motion, with a short "swing"
// burst every few seconds.
type MockSensor struct {
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewMockSensor creates a mock motion sensor.
func NewMockSensor() *MockSensor {
	return &MockSensor{}
}

// Available always reports true.
func (m *MockSensor) Available() bool { return true }

// Subscribe starts producing readings every interval.
func (m *MockSensor) Subscribe(interval time.Duration) (<-chan Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return nil, ErrAlreadySubscribed
	}

	out := make(chan Reading, readingBuffer)
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(interval, out, m.stop, m.done)
	return out, nil
}

// Unsubscribe stops the stream and waits for the producer to exit.
func (m *MockSensor) Unsubscribe() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *MockSensor) run(interval time.Duration, out chan<- Reading, stop, done chan struct{}) {
	defer close(done)
	defer close(out)

	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			r := mockReading(t, t.Sub(start).Seconds())
			select {
			case out <- r:
			default:
				// consumer is behind, drop the tick
			}
		}
	}
}

func mockReading(t time.Time, elapsed float64) Reading {
	pose := orientation.Pose{
		Roll:  0.35 * math.Sin(elapsed),
		Pitch: 0.26 * math.Cos(elapsed*0.7),
		Yaw:   math.Mod(elapsed*0.5, 2*math.Pi) - math.Pi,
	}

	// one 0.5 s swing every 4 s
	swing := 0.0
	if phase := math.Mod(elapsed, 4); phase < 0.5 {
		swing = math.Sin(phase * 2 * math.Pi)
	}

	return Reading{
		Timestamp: t,
		Accel: Vec3{
			X: 0.05*math.Sin(elapsed*3) + 2.5*swing,
			Y: 0.05 * math.Cos(elapsed*2),
			Z: 0.02*math.Sin(elapsed*5) + 0.8*swing,
		},
		Rot: Vec3{
			X: 0.35 * math.Cos(elapsed),
			Y: -0.18 * math.Sin(elapsed*0.7),
			Z: 0.5 + 8*swing,
		},
		Attitude: orientation.AttitudeFromPose(pose),
	}
}
