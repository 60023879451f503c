// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/relabs-tech/shot_detector/internal/config"
	"github.com/relabs-tech/shot_detector/internal/detector"
	"github.com/relabs-tech/shot_detector/internal/link"
	"github.com/relabs-tech/shot_detector/internal/link/mqttlink"
	"github.com/relabs-tech/shot_detector/internal/markwindow"
	"github.com/relabs-tech/shot_detector/internal/motion"
	"github.com/relabs-tech/shot_detector/internal/naming"
	"github.com/relabs-tech/shot_detector/internal/sensors"
)

// WristOptions selects the wrist runtime variant.
type WristOptions struct {
	// Mock replaces the MPU9250 with a synthetic swing generator.
	Mock bool
}

// wrist ties the detector to the link: marks from the phone open the
// window, and the mirrored record state drives the session when remote
// control is on.
type wrist struct {
	cfg   *config.Config
	det   *detector.Detector
	coord *link.Coordinator
	log   zerolog.Logger
}

func newWrist(sensor motion.Sensor, transport link.Transport, cfg *config.Config, cues markwindow.Cues, logger zerolog.Logger) (*wrist, error) {
	mode, err := detector.ParseMode(cfg.DetectorMode)
	if err != nil {
		return nil, err
	}
	class, ok := naming.ParseClassification(cfg.SwingType)
	if !ok && cfg.SwingType != "" {
		logger.Warn().Str("swing_type", cfg.SwingType).Msg("unknown swing type, recordings are sent unsorted")
	}

	w := &wrist{cfg: cfg, log: logger.With().Str("component", "wrist").Logger()}
	w.coord = link.New(transport, link.Options{
		InboxDir:       cfg.InboxDir,
		UnsortedFolder: cfg.UnsortedFolder,
		ConfirmGrace:   cfg.LinkConfirmGrace,
		DrainTimeout:   cfg.LinkDrainTimeout,
		OnMark:         w.onMark,
		OnRecordState:  w.onRecordState,
	}, logger)
	w.det = detector.New(sensor, w.coord, cues, detector.Options{
		LogDir:         cfg.LogDir,
		Prefix:         cfg.SessionPrefix,
		Interval:       cfg.SampleInterval(),
		WindowLength:   cfg.MarkWindowLen,
		Mode:           mode,
		Classification: class,
	}, logger)
	return w, nil
}

func (w *wrist) onMark() {
	if !w.det.Running() {
		w.log.Debug().Msg("mark ignored, not recording")
		return
	}
	w.det.Mark()
}

func (w *wrist) onRecordState(on bool) {
	if !w.cfg.RemoteControl {
		return
	}
	if on {
		if err := w.det.Start(); err != nil {
			w.log.Error().Err(err).Msg("remote start failed")
		}
		return
	}
	if err := w.det.Stop(); err != nil {
		w.log.Error().Err(err).Msg("remote stop failed")
	}
}

// setRecording starts or stops the local session and mirrors the state to
// the phone. A link failure does not undo the local change.
func (w *wrist) setRecording(on bool) error {
	var err error
	if on {
		if err = w.det.Start(); err != nil {
			return err
		}
	} else {
		err = w.det.Stop()
	}
	if sendErr := w.coord.SendRecordState(on); sendErr != nil {
		w.log.Warn().Err(sendErr).Bool("recording", on).Msg("record state not mirrored")
	}
	return err
}

func (w *wrist) status() Status {
	t := w.det.Telemetry().Get()
	return Status{
		Role:      "wrist",
		Recording: w.det.Running(),
		Activated: w.coord.Activated(),
		Reachable: w.coord.Reachable(),
		Telemetry: &t,
	}
}

func (w *wrist) controls() Controls {
	return Controls{
		SetRecording: w.setRecording,
		Mark: func() error {
			w.det.Mark()
			return nil
		},
	}
}

// close ends the session, hands the last file to the link and shuts the
// link down.
func (w *wrist) close() {
	if err := w.det.Stop(); err != nil {
		w.log.Error().Err(err).Msg("stop on shutdown")
	}
	if err := w.coord.Close(); err != nil {
		w.log.Warn().Err(err).Msg("link close")
	}
}

// RunWrist runs the wrist peer until ctx is done.
func RunWrist(ctx context.Context, cfg *config.Config, opts WristOptions, logger zerolog.Logger) error {
	var sensor motion.Sensor
	if opts.Mock {
		logger.Info().Msg("using mock motion sensor")
		sensor = motion.NewMockSensor()
	} else {
		sensor = sensors.NewMPU9250(sensors.IMUOptions{
			SPIDevice:  cfg.IMUSPIDevice,
			CSPin:      cfg.IMUCSPin,
			AccelRange: cfg.IMUAccelRange,
		}, logger)
	}

	transport := mqttlink.New(mqttlink.Options{
		Broker:         cfg.MQTTBroker,
		ClientID:       cfg.MQTTClientIDWrist,
		Prefix:         cfg.LinkTopicPrefix,
		Node:           cfg.LinkWristNode,
		Peer:           cfg.LinkPhoneNode,
		StagingDir:     cfg.StagingDir,
		ChunkSize:      cfg.LinkChunkSize,
		PublishTimeout: cfg.LinkPublishTimeout,
	}, logger)

	cues, closeCues := buildCues(cfg, logger)
	defer closeCues()

	w, err := newWrist(sensor, transport, cfg, cues, logger)
	if err != nil {
		return err
	}
	defer w.close()

	if err := w.coord.Activate(ctx); err != nil {
		logger.Error().Err(err).Msg("running without link, recordings stay on disk")
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.DisplayEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := RunDisplay(ctx, cfg.DisplayUpdateInterval, w.status, logger); err != nil {
				logger.Warn().Err(err).Msg("display disabled")
			}
		}()
	}
	if cfg.WebServerPort > 0 {
		srv := NewStatusServer(fmt.Sprintf(":%d", cfg.WebServerPort), w.status, w.controls(), logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("web server stopped")
			}
		}()
	}

	if !cfg.RemoteControl {
		if err := w.setRecording(true); err != nil {
			return fmt.Errorf("start recording: %w", err)
		}
	}

	logger.Info().Str("mode", string(w.det.Mode())).Bool("remote_control", cfg.RemoteControl).Msg("wrist ready")
	<-ctx.Done()
	logger.Info().Msg("wrist shutting down")
	return nil
}
