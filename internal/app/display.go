// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"
)

const (
	displayWidth  = 128
	displayHeight = 64
	lineHeight    = 13
)

// RunDisplay draws the wrist status on an SSD1306 OLED on the default I2C
// bus until ctx is done.
func RunDisplay(ctx context.Context, interval time.Duration, status func() Status, logger zerolog.Logger) error {
	log := logger.With().Str("component", "display").Logger()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Info().Msg("display initialized")

	if err := dev.Draw(dev.Bounds(), renderLines([]string{"Shot detector", "Starting..."}), image.Point{}); err != nil {
		log.Warn().Err(err).Msg("error showing splash")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last []string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		lines := statusLines(status())
		if equalLines(lines, last) {
			continue
		}
		if err := dev.Draw(dev.Bounds(), renderLines(lines), image.Point{}); err != nil {
			log.Warn().Err(err).Msg("display update error")
			continue
		}
		last = lines
	}
}

// statusLines lays the status out in at most four rows of 18 characters.
func statusLines(s Status) []string {
	rec := "IDLE"
	if s.Recording {
		rec = "REC"
	}
	link := "offline"
	switch {
	case s.Reachable:
		link = "linked"
	case s.Activated:
		link = "no peer"
	}
	lines := []string{fmt.Sprintf("%-4s %s", rec, link)}

	t := s.Telemetry
	if t == nil || !t.Running {
		return append(lines, "Waiting...")
	}
	mark := ""
	if t.InWindow {
		mark = " MARK"
	}
	return append(lines,
		fmt.Sprintf("t:%7.1fs%s", t.Time, mark),
		fmt.Sprintf("A:%5.2f R:%5.2f", t.AccelMag, t.RotMag),
		fmt.Sprintf("n:%d", t.Samples),
	)
}

func renderLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, l := range lines {
		if (i+1)*lineHeight > displayHeight {
			break
		}
		drawer.Dot = fixed.P(0, (i+1)*lineHeight)
		drawer.DrawString(l)
	}
	return img
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
