// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Buzzer drives a haptic or audio cue on a GPIO pin: one pulse when a mark
// window opens, two when it closes.
type Buzzer struct {
	pin   gpio.PinOut
	pulse time.Duration
	log   zerolog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan int
	done   chan struct{}
}

// NewBuzzer opens the named pin, e.g. "GPIO17".
func NewBuzzer(pinName string, pulse time.Duration, logger zerolog.Logger) (*Buzzer, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("buzzer: periph host init: %w", err)
	}
	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("buzzer: pin %q not found", pinName)
	}
	return newBuzzer(p, pulse, logger)
}

func newBuzzer(pin gpio.PinOut, pulse time.Duration, logger zerolog.Logger) (*Buzzer, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("buzzer: set %s low: %w", pin, err)
	}
	b := &Buzzer{
		pin:   pin,
		pulse: pulse,
		log:   logger.With().Str("component", "buzzer").Str("pin", pin.Name()).Logger(),
		queue: make(chan int, 8),
		done:  make(chan struct{}),
	}
	go b.run()
	return b, nil
}

// WindowOpened buzzes once.
func (b *Buzzer) WindowOpened() { b.enqueue(1) }

// WindowClosed buzzes twice.
func (b *Buzzer) WindowClosed() { b.enqueue(2) }

func (b *Buzzer) enqueue(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- n:
	default:
		b.log.Debug().Msg("cue dropped, buzzer busy")
	}
}

func (b *Buzzer) run() {
	defer close(b.done)
	for n := range b.queue {
		for i := 0; i < n; i++ {
			if err := b.pin.Out(gpio.High); err != nil {
				b.log.Warn().Err(err).Msg("buzzer write failed")
				break
			}
			time.Sleep(b.pulse)
			if err := b.pin.Out(gpio.Low); err != nil {
				b.log.Warn().Err(err).Msg("buzzer write failed")
				break
			}
			time.Sleep(b.pulse)
		}
	}
}

// Close plays queued cues, leaves the pin low and stops the buzzer.
func (b *Buzzer) Close() error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	<-b.done
	return b.pin.Out(gpio.Low)
}
