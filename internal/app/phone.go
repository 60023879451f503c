// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/relabs-tech/shot_detector/internal/config"
	"github.com/relabs-tech/shot_detector/internal/link"
	"github.com/relabs-tech/shot_detector/internal/link/mqttlink"
	"github.com/relabs-tech/shot_detector/internal/naming"
	"github.com/relabs-tech/shot_detector/internal/trigger"
)

// phone receives recordings and turns the trigger word into marks.
type phone struct {
	cfg      *config.Config
	coord    *link.Coordinator
	listener *trigger.Listener
	log      zerolog.Logger
}

func newPhone(transport link.Transport, cfg *config.Config, logger zerolog.Logger) (*phone, error) {
	p := &phone{cfg: cfg, log: logger.With().Str("component", "phone").Logger()}
	p.coord = link.New(transport, link.Options{
		InboxDir:       cfg.InboxDir,
		UnsortedFolder: cfg.UnsortedFolder,
		ConfirmGrace:   cfg.LinkConfirmGrace,
		DrainTimeout:   cfg.LinkDrainTimeout,
	}, logger)

	l, err := trigger.NewListener(cfg.TriggerWord, p.mark, logger)
	if err != nil {
		return nil, fmt.Errorf("trigger word: %w", err)
	}
	p.listener = l
	return p, nil
}

func (p *phone) mark() {
	if err := p.coord.SendMark(); err != nil {
		p.log.Debug().Err(err).Msg("mark not delivered")
	}
}

func (p *phone) recordings() *naming.Sorted {
	paths, err := naming.ListRecordings(p.cfg.InboxDir, naming.LogExt)
	if err != nil {
		p.log.Warn().Err(err).Msg("cannot list recordings")
		return nil
	}
	s := naming.Sort(paths)
	return &s
}

func (p *phone) status() Status {
	return Status{
		Role:          "phone",
		Recording:     p.coord.RecordState().Get(),
		Activated:     p.coord.Activated(),
		Reachable:     p.coord.Reachable(),
		FilesReceived: p.coord.FilesReceived().Get(),
		TriggerWord:   p.listener.Word(),
		Recordings:    p.recordings(),
	}
}

func (p *phone) controls() Controls {
	return Controls{
		SetRecording:   p.coord.SendRecordState,
		Mark:           p.coord.SendMark,
		ResetFiles:     p.coord.ResetFileCount,
		SetTriggerWord: p.listener.SetWord,
	}
}

// openTriggerInput returns the recognizer text stream: the serial port when
// one is configured, stdin otherwise.
func openTriggerInput(cfg *config.Config) (io.Reader, func(), error) {
	if cfg.TriggerSerialPort == "" {
		return os.Stdin, func() {}, nil
	}
	port, err := trigger.OpenSerial(cfg.TriggerSerialPort, cfg.TriggerBaudRate)
	if err != nil {
		return nil, nil, err
	}
	return port, func() { port.Close() }, nil
}

// RunPhone runs the phone peer until ctx is done.
func RunPhone(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	transport := mqttlink.New(mqttlink.Options{
		Broker:         cfg.MQTTBroker,
		ClientID:       cfg.MQTTClientIDPhone,
		Prefix:         cfg.LinkTopicPrefix,
		Node:           cfg.LinkPhoneNode,
		Peer:           cfg.LinkWristNode,
		StagingDir:     cfg.StagingDir,
		ChunkSize:      cfg.LinkChunkSize,
		PublishTimeout: cfg.LinkPublishTimeout,
	}, logger)

	p, err := newPhone(transport, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.coord.Close(); err != nil {
			logger.Warn().Err(err).Msg("link close")
		}
	}()

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

	in, closeIn, err := openTriggerInput(cfg)
	if err != nil {
		return fmt.Errorf("trigger input: %w", err)
	}
	defer closeIn()

	logger.Info().Str("trigger_word", p.listener.Word()).Str("inbox", cfg.InboxDir).Msg("phone ready")
	if err := p.listener.Run(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	// input ended, keep receiving files
	<-ctx.Done()
	logger.Info().Msg("phone shutting down")
	return nil
}
