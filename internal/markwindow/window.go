// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package markwindow tags a fixed number of samples after each mark.
package markwindow

import "sync"

// DefaultLength is the window size in samples (2 s at 100 Hz).
const DefaultLength = 200

// Cues receives window edge notifications. Implementations must return
// quickly; they run on the sampling goroutine.
type Cues interface {
	WindowOpened()
	WindowClosed()
}

// CueFuncs adapts plain functions to Cues. Nil fields are skipped.
type CueFuncs struct {
	Opened func()
	Closed func()
}

func (c CueFuncs) WindowOpened() {
	if c.Opened != nil {
		c.Opened()
	}
}

func (c CueFuncs) WindowClosed() {
	if c.Closed != nil {
		c.Closed()
	}
}

// Multi fans cues out in order.
type Multi []Cues

func (m Multi) WindowOpened() {
	for _, c := range m {
		c.WindowOpened()
	}
}

func (m Multi) WindowClosed() {
	for _, c := range m {
		c.WindowClosed()
	}
}

// Window is the countdown state machine. Arm may be called from any
// goroutine; Next is called once per sample from the sampling goroutine.
type Window struct {
	length int
	cues   Cues

	mu        sync.Mutex
	countdown int
	inside    bool
}

// New creates a closed window of the given length. length <= 0 selects
// DefaultLength. cues may be nil.
func New(length int, cues Cues) *Window {
	if length <= 0 {
		length = DefaultLength
	}
	if cues == nil {
		cues = CueFuncs{}
	}
	return &Window{length: length, cues: cues}
}

// Length returns the configured window size.
func (w *Window) Length() int { return w.length }

// Arm restarts the countdown. Arming while inside extends the window
// without a second open cue.
func (w *Window) Arm() {
	w.mu.Lock()
	w.countdown = w.length
	w.mu.Unlock()
}

// Next advances by one sample and reports whether that sample is tagged.
func (w *Window) Next() bool {
	var opened, closed bool

	w.mu.Lock()
	if w.countdown > 0 && !w.inside {
		w.inside = true
		opened = true
	}
	tagged := w.countdown > 0
	if w.countdown > 0 {
		w.countdown--
	}
	if w.countdown == 0 && w.inside {
		w.inside = false
		closed = true
	}
	w.mu.Unlock()

	if opened {
		w.cues.WindowOpened()
	}
	if closed {
		w.cues.WindowClosed()
	}
	return tagged
}

// Inside reports whether the window is open.
func (w *Window) Inside() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inside
}

// Remaining returns the samples left in the current window.
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.countdown
}

// Reset closes the window silently.
func (w *Window) Reset() {
	w.mu.Lock()
	w.countdown = 0
	w.inside = false
	w.mu.Unlock()
}
