// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relabs-tech/shot_detector/internal/config"
	"github.com/relabs-tech/shot_detector/internal/link/memlink"
	"github.com/relabs-tech/shot_detector/internal/motion"
)

// SimOptions drives the in-process simulation.
type SimOptions struct {
	// Sessions is how many record cycles to run, 0 runs until ctx is done.
	Sessions      int
	SessionLength time.Duration
	MarkEvery     time.Duration
	// Pause separates sessions so that file names differ.
	Pause time.Duration
	// FileTimeout bounds the wait for each recording to arrive.
	FileTimeout time.Duration
}

func (o SimOptions) withDefaults() SimOptions {
	if o.SessionLength <= 0 {
		o.SessionLength = 10 * time.Second
	}
	if o.MarkEvery <= 0 {
		o.MarkEvery = 3 * time.Second
	}
	if o.Pause <= 0 {
		o.Pause = time.Second
	}
	if o.FileTimeout <= 0 {
		o.FileTimeout = 10 * time.Second
	}
	return o
}

// RunSimulation runs both peers in one process over an in-memory link with
// the mock sensor. The phone toggles recording and speaks the trigger word
// on a timer; recordings land in the phone inbox.
func RunSimulation(ctx context.Context, cfg *config.Config, opts SimOptions, logger zerolog.Logger) error {
	opts = opts.withDefaults()

	wristEnd, phoneEnd := memlink.NewPair(
		filepath.Join(cfg.StagingDir, "wrist"),
		filepath.Join(cfg.StagingDir, "phone"),
	)

	wcfg := *cfg
	wcfg.RemoteControl = true
	w, err := newWrist(motion.NewMockSensor(), wristEnd, &wcfg, logCues{log: logger.With().Str("component", "cue").Logger()}, logger.With().Str("peer", "wrist").Logger())
	if err != nil {
		return err
	}
	defer w.close()

	p, err := newPhone(phoneEnd, cfg, logger.With().Str("peer", "phone").Logger())
	if err != nil {
		return err
	}
	defer p.coord.Close()

	if err := w.coord.Activate(ctx); err != nil {
		return err
	}
	if err := p.coord.Activate(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.WebServerPort > 0 {
		srv := NewStatusServer(fmt.Sprintf(":%d", cfg.WebServerPort), p.status, p.controls(), logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("web server stopped")
			}
		}()
	}

	for n := 1; opts.Sessions == 0 || n <= opts.Sessions; n++ {
		if err := simulateSession(ctx, p, opts, logger); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("session %d: %w", n, err)
		}
		logger.Info().Int("session", n).Int("files", p.coord.FilesReceived().Get()).Msg("session delivered")

		if opts.Sessions != 0 && n == opts.Sessions {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.Pause):
		}
	}
	return nil
}

// simulateSession records one session from the phone side and waits until
// its file is stored.
func simulateSession(ctx context.Context, p *phone, opts SimOptions, logger zerolog.Logger) error {
	received, cancel := p.coord.FilesReceived().Subscribe()
	defer cancel()
	before := <-received

	if err := p.coord.SendRecordState(true); err != nil {
		return err
	}

	marks := time.NewTicker(opts.MarkEvery)
	defer marks.Stop()
	end := time.NewTimer(opts.SessionLength)
	defer end.Stop()

	utterance := "ok " + p.listener.Word()
recording:
	for {
		select {
		case <-ctx.Done():
			p.coord.SendRecordState(false)
			return ctx.Err()
		case <-marks.C:
			logger.Debug().Str("text", utterance).Msg("simulated utterance")
			p.listener.Feed(utterance)
		case <-end.C:
			break recording
		}
	}

	if err := p.coord.SendRecordState(false); err != nil {
		return err
	}

	timeout := time.NewTimer(opts.FileTimeout)
	defer timeout.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("no recording after %s", opts.FileTimeout)
		case n := <-received:
			if n > before {
				return nil
			}
		}
	}
}
