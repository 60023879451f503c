// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package detector runs one motion acquisition session at a time: it samples
// the sensor, tags marked windows and logs every sample to a CSV file which is
// handed off when the session stops.
package detector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relabs-tech/shot_detector/internal/csvlog"
	"github.com/relabs-tech/shot_detector/internal/markwindow"
	"github.com/relabs-tech/shot_detector/internal/motion"
	"github.com/relabs-tech/shot_detector/internal/naming"
	"github.com/relabs-tech/shot_detector/internal/observable"
	"github.com/relabs-tech/shot_detector/internal/orientation"
)

// ErrDeviceUnavailable is returned by Start when the sensor is missing.
var ErrDeviceUnavailable = errors.New("motion sensor unavailable")

// DefaultInterval is the sampling period (100 Hz).
const DefaultInterval = 10 * time.Millisecond

// Mode selects what happens to a session log.
type Mode string

const (
	// ModeRecord logs and hands the file off at Stop.
	ModeRecord Mode = "record"
	// ModeResearch is ModeRecord plus relative orientation telemetry.
	ModeResearch Mode = "research"
	// ModeTest keeps the log locally.
	ModeTest Mode = "test"
)

// ParseMode accepts record, research or test (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeRecord, ModeResearch, ModeTest:
		return m, nil
	case "":
		return ModeRecord, nil
	default:
		return "", fmt.Errorf("unknown detector mode %q", s)
	}
}

// FileHandoff takes ownership of a finished session log.
type FileHandoff interface {
	SendFile(path string, c naming.Classification) error
}

// Options configures a Detector. Zero values select defaults.
type Options struct {
	LogDir         string
	Prefix         string
	Interval       time.Duration
	WindowLength   int
	Mode           Mode
	Classification naming.Classification
}

func (o Options) withDefaults() Options {
	if o.LogDir == "" {
		o.LogDir = "."
	}
	if o.Prefix == "" {
		o.Prefix = naming.DefaultPrefix
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.WindowLength <= 0 {
		o.WindowLength = markwindow.DefaultLength
	}
	if o.Mode == "" {
		o.Mode = ModeRecord
	}
	return o
}

// Telemetry is the latest tick as seen by UI-facing code.
type Telemetry struct {
	Running  bool    `json:"running"`
	Time     float64 `json:"time"`
	AccelMag float64 `json:"accelMag"`
	RotMag   float64 `json:"rotMag"`
	Roll     float64 `json:"roll"`
	Pitch    float64 `json:"pitch"`
	Yaw      float64 `json:"yaw"`

	// Relative is the attitude relative to the first reading of the
	// session. Only set in research mode.
	Relative *orientation.Quaternion `json:"relative,omitempty"`

	InWindow bool   `json:"inWindow"`
	Samples  uint64 `json:"samples"`
	File     string `json:"file,omitempty"`
}

// Detector is the acquisition state machine (idle or running).
type Detector struct {
	sensor  motion.Sensor
	handoff FileHandoff
	window  *markwindow.Window
	opts    Options
	log     zerolog.Logger
	now     func() time.Time

	telemetry *observable.Value[Telemetry]

	mu   sync.Mutex
	sess *session
}

type session struct {
	start  time.Time
	writer *csvlog.Writer
	stop   chan struct{}
	done   chan struct{}

	// owned by the tick goroutine
	q0     orientation.Quaternion
	seeded bool
	last   float64 // last logged time, rounded as written
	count  uint64
}

// New creates an idle detector. handoff and cues may be nil.
func New(sensor motion.Sensor, handoff FileHandoff, cues markwindow.Cues, opts Options, logger zerolog.Logger) *Detector {
	opts = opts.withDefaults()
	return &Detector{
		sensor:    sensor,
		handoff:   handoff,
		window:    markwindow.New(opts.WindowLength, cues),
		opts:      opts,
		log:       logger.With().Str("component", "detector").Logger(),
		now:       time.Now,
		telemetry: observable.NewValue(Telemetry{}),
	}
}

// Telemetry exposes the latest tick.
func (d *Detector) Telemetry() *observable.Value[Telemetry] { return d.telemetry }

// Mode returns the configured mode.
func (d *Detector) Mode() Mode { return d.opts.Mode }

// Running reports whether a session is active.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess != nil
}

// Start opens a new session. Starting while running does nothing.
func (d *Detector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sess != nil {
		return nil
	}
	if !d.sensor.Available() {
		d.log.Warn().Msg("start refused, motion sensor unavailable")
		return ErrDeviceUnavailable
	}

	d.window.Reset()
	start := d.now()
	path := filepath.Join(d.opts.LogDir, naming.SessionFileName(d.opts.Prefix, start))

	w, err := csvlog.Create(path)
	if err != nil {
		d.log.Error().Err(err).Str("file", path).Msg("cannot open session log")
		return fmt.Errorf("start session: %w", err)
	}

	readings, err := d.sensor.Subscribe(d.opts.Interval)
	if err != nil {
		_ = w.Close()
		_ = os.Remove(path)
		d.log.Error().Err(err).Msg("sensor subscribe failed")
		return fmt.Errorf("start session: subscribe: %w", err)
	}

	s := &session{
		start:  start,
		writer: w,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	d.sess = s
	d.telemetry.Set(Telemetry{Running: true, File: path})
	go d.loop(s, readings)

	d.log.Info().
		Str("file", path).
		Str("mode", string(d.opts.Mode)).
		Dur("interval", d.opts.Interval).
		Msg("session started")
	return nil
}

// Stop ends the session, closes the log and hands it off. Stopping while
// idle does nothing. The file is not touched after the handoff.
func (d *Detector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.sess
	if s == nil {
		return nil
	}
	d.sess = nil

	d.sensor.Unsubscribe()
	close(s.stop)
	<-s.done
	d.window.Reset()

	path := s.writer.Path()
	d.telemetry.Update(func(t Telemetry) Telemetry {
		t.Running = false
		t.InWindow = false
		return t
	})

	if err := s.writer.Close(); err != nil {
		d.log.Error().Err(err).Str("file", path).Msg("session log close failed, file not handed off")
		return fmt.Errorf("stop session: %w", err)
	}
	d.log.Info().Str("file", path).Uint64("rows", s.writer.Rows()).Msg("session stopped")

	if d.opts.Mode == ModeTest || d.handoff == nil {
		return nil
	}
	if err := d.handoff.SendFile(path, d.opts.Classification); err != nil {
		d.log.Warn().Err(err).Str("file", path).Msg("handoff failed")
		return fmt.Errorf("stop session: handoff: %w", err)
	}
	return nil
}

// Mark arms the window. Ignored while idle.
func (d *Detector) Mark() {
	d.mu.Lock()
	running := d.sess != nil
	d.mu.Unlock()

	if !running {
		d.log.Debug().Msg("mark ignored, not running")
		return
	}
	d.window.Arm()
	d.log.Debug().Msg("mark window armed")
}

func (d *Detector) loop(s *session, readings <-chan motion.Reading) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case r, ok := <-readings:
			if !ok {
				d.log.Warn().Msg("sensor stream ended")
				return
			}
			d.tick(s, r)
		}
	}
}

func (d *Detector) tick(s *session, r motion.Reading) {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = d.now()
	}
	elapsed := ts.Sub(s.start).Seconds()
	logged := loggedTime(elapsed)
	if elapsed < 0 || (s.count > 0 && logged <= s.last) {
		d.log.Debug().Float64("elapsed", elapsed).Float64("last", s.last).Msg("dropping out of order tick")
		return
	}

	if !s.seeded {
		s.q0 = r.Attitude.Quat.Normalize()
		s.seeded = true
	}

	sample := motion.NewSample(elapsed, r)
	marked := d.window.Next()
	s.last = logged
	s.count++

	if err := s.writer.Append(sample, marked); err != nil {
		d.log.Error().Err(err).Msg("append failed")
	}

	t := Telemetry{
		Running:  true,
		Time:     elapsed,
		AccelMag: sample.AccelMagnitude(),
		RotMag:   sample.RotMagnitude(),
		Roll:     sample.Roll,
		Pitch:    sample.Pitch,
		Yaw:      sample.Yaw,
		InWindow: d.window.Inside(),
		Samples:  s.count,
		File:     s.writer.Path(),
	}
	if d.opts.Mode == ModeResearch {
		rel := sample.Quat.Relative(s.q0)
		t.Relative = &rel
	}
	d.telemetry.Set(t)
}

// loggedTime is elapsed as it reads back from the csv time column.
func loggedTime(elapsed float64) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(elapsed, 'f', 3, 64), 64)
	return v
}
