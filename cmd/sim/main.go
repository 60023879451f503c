// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/shot_detector/internal/app"
	"github.com/relabs-tech/shot_detector/internal/config"
	"github.com/relabs-tech/shot_detector/internal/logging"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to configuration file")
	sessions := flag.Int("sessions", 1, "record cycles to run, 0 runs until interrupted")
	length := flag.Duration("length", 10*time.Second, "length of each session")
	markEvery := flag.Duration("mark-every", 3*time.Second, "interval between simulated trigger words")
	flag.Parse()

	log := logging.Console("info", "sim")
	log.Info().Msg("starting shot detector simulation (mock wrist + phone in one process)")

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Str("path", *configPath).Msg("no config file, using defaults")
	}
	log = logging.Console(cfg.LogLevel, "sim")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := app.SimOptions{Sessions: *sessions, SessionLength: *length, MarkEvery: *markEvery}
	if err := app.RunSimulation(ctx, cfg, opts, log); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
