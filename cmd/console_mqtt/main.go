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

	"github.com/relabs-tech/shot_detector/internal/app"
	"github.com/relabs-tech/shot_detector/internal/config"
	"github.com/relabs-tech/shot_detector/internal/logging"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to configuration file")
	flag.Parse()

	log := logging.Console("info", "console_mqtt")
	log.Info().Msg("starting shot detector console (MQTT subscriber)")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	log = logging.Console(cfg.LogLevel, "console_mqtt")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsoleMQTT(ctx, cfg, os.Stdout, log); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
