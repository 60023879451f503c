// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/shot_detector/internal/motion"
	"github.com/relabs-tech/shot_detector/internal/orientation"
)

// gyroLSBPerDPS is the sensitivity at the default ±250°/s range.
const gyroLSBPerDPS = 131.0

const readingBuffer = 64

// accelLSBPerG maps the accel range setting (0=±2g .. 3=±16g) to counts per g.
var accelLSBPerG = [4]float64{16384, 8192, 4096, 2048}

// IMUOptions selects the SPI wiring and range of the MPU9250.
type IMUOptions struct {
	SPIDevice  string
	CSPin      string
	AccelRange byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
}

// rawSample is one six axis read in device counts.
type rawSample struct {
	ax, ay, az int16
	gx, gy, gz int16
}

// MPU9250 is a motion.Sensor backed by an MPU9250 on SPI. The device is
// brought up on first use.
type MPU9250 struct {
	opts IMUOptions
	log  zerolog.Logger

	initOnce sync.Once
	dev      *mpu9250.MPU9250
	initErr  error

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewMPU9250 creates the sensor without touching hardware.
func NewMPU9250(opts IMUOptions, logger zerolog.Logger) *MPU9250 {
	if opts.AccelRange > 3 {
		opts.AccelRange = 3
	}
	return &MPU9250{
		opts: opts,
		log:  logger.With().Str("component", "imu").Logger(),
	}
}

// Available initializes the device if needed and reports whether it
// answered.
func (m *MPU9250) Available() bool {
	return m.init() == nil
}

func (m *MPU9250) init() error {
	m.initOnce.Do(func() {
		m.dev, m.initErr = m.open()
		if m.initErr != nil {
			m.log.Error().Err(m.initErr).Msg("IMU unavailable")
		}
	})
	return m.initErr
}

func (m *MPU9250) open() (*mpu9250.MPU9250, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(m.opts.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", m.opts.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(m.opts.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", m.opts.SPIDevice, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	if err := dev.SetAccelRange(m.opts.AccelRange); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	m.log.Info().
		Uint8("range", m.opts.AccelRange).
		Int("g", []int{2, 4, 8, 16}[m.opts.AccelRange]).
		Msg("accelerometer range set")

	if res, err := dev.SelfTest(); err != nil {
		m.log.Warn().Err(err).Msg("IMU self-test failed")
	} else {
		m.log.Info().
			Float64("accelDevX", res.AccelDeviation.X).
			Float64("accelDevY", res.AccelDeviation.Y).
			Float64("accelDevZ", res.AccelDeviation.Z).
			Float64("gyroDevX", res.GyroDeviation.X).
			Float64("gyroDevY", res.GyroDeviation.Y).
			Float64("gyroDevZ", res.GyroDeviation.Z).
			Msg("IMU self-test passed")
	}

	if err := dev.Calibrate(); err != nil {
		m.log.Warn().Err(err).Msg("IMU calibration failed")
	} else {
		m.log.Info().Msg("IMU calibration complete")
	}
	return dev, nil
}

// Subscribe starts sampling every interval.
func (m *MPU9250) Subscribe(interval time.Duration) (<-chan motion.Reading, error) {
	if err := m.init(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return nil, motion.ErrAlreadySubscribed
	}

	out := make(chan motion.Reading, readingBuffer)
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(interval, out, m.stop, m.done)
	return out, nil
}

// Unsubscribe stops sampling and waits for the loop to exit.
func (m *MPU9250) Unsubscribe() {
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

func (m *MPU9250) run(interval time.Duration, out chan<- motion.Reading, stop, done chan struct{}) {
	defer close(done)
	defer close(out)

	conv := newConverter(m.opts.AccelRange)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last time.Time
	errCount := 0
	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			raw, err := m.read()
			if err != nil {
				errCount++
				// log the first failure and every 100th
				if errCount%100 == 1 {
					m.log.Warn().Err(err).Int("failures", errCount).Msg("IMU read failed")
				}
				continue
			}

			dt := interval.Seconds()
			if !last.IsZero() {
				dt = t.Sub(last).Seconds()
			}
			last = t

			select {
			case out <- conv.reading(t, raw, dt):
			default:
				// consumer is behind, drop the tick
			}
		}
	}
}

func (m *MPU9250) read() (rawSample, error) {
	var s rawSample
	var err error
	get := func(f func() (int16, error)) int16 {
		if err != nil {
			return 0
		}
		var v int16
		v, err = f()
		return v
	}
	s.ax = get(m.dev.GetAccelerationX)
	s.ay = get(m.dev.GetAccelerationY)
	s.az = get(m.dev.GetAccelerationZ)
	s.gx = get(m.dev.GetRotationX)
	s.gy = get(m.dev.GetRotationY)
	s.gz = get(m.dev.GetRotationZ)
	if err != nil {
		return rawSample{}, fmt.Errorf("IMU: read: %w", err)
	}
	return s, nil
}

// converter turns raw counts into SI readings and tracks attitude.
type converter struct {
	lsbPerG float64
	filter  *orientation.Complementary
}

func newConverter(accelRange byte) *converter {
	return &converter{
		lsbPerG: accelLSBPerG[accelRange&3],
		filter:  orientation.NewComplementary(orientation.DefaultAlpha),
	}
}

func (c *converter) reading(t time.Time, raw rawSample, dt float64) motion.Reading {
	ax := float64(raw.ax) / c.lsbPerG
	ay := float64(raw.ay) / c.lsbPerG
	az := float64(raw.az) / c.lsbPerG

	const radPerCount = math.Pi / 180 / gyroLSBPerDPS
	gx := float64(raw.gx) * radPerCount
	gy := float64(raw.gy) * radPerCount
	gz := float64(raw.gz) * radPerCount

	pose := c.filter.Update(ax, ay, az, gx, gy, gz, dt)
	grx, gry, grz := orientation.GravityFromPose(pose)

	return motion.Reading{
		Timestamp: t,
		Accel:     motion.Vec3{X: ax - grx, Y: ay - gry, Z: az - grz},
		Rot:       motion.Vec3{X: gx, Y: gy, Z: gz},
		Attitude:  orientation.AttitudeFromPose(pose),
	}
}

var _ motion.Sensor = (*MPU9250)(nil)
