// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"github.com/rs/zerolog"

	"github.com/relabs-tech/shot_detector/internal/config"
	"github.com/relabs-tech/shot_detector/internal/markwindow"
	"github.com/relabs-tech/shot_detector/internal/sensors"
)

// logCues writes window edges to the log.
type logCues struct {
	log zerolog.Logger
}

func (c logCues) WindowOpened() { c.log.Info().Msg("mark window opened") }
func (c logCues) WindowClosed() { c.log.Info().Msg("mark window closed") }

// buildCues returns the log cue plus the GPIO buzzer when a pin is set.
// The returned close func releases the pin.
func buildCues(cfg *config.Config, logger zerolog.Logger) (markwindow.Cues, func()) {
	lc := logCues{log: logger.With().Str("component", "cue").Logger()}
	if cfg.CueGPIOPin == "" {
		return lc, func() {}
	}

	b, err := sensors.NewBuzzer(cfg.CueGPIOPin, cfg.CuePulse, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("buzzer unavailable, cues are logged only")
		return lc, func() {}
	}
	return markwindow.Multi{lc, b}, func() { b.Close() }
}
