// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/shot_detector/internal/config"
)

func TestBuildCues_LogOnlyWithoutPin(t *testing.T) {
	cfg := config.Default()
	cues, closeCues := buildCues(cfg, zerolog.Nop())
	defer closeCues()

	_, ok := cues.(logCues)
	assert.True(t, ok)
	cues.WindowOpened()
	cues.WindowClosed()
}
