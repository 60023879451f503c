// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package link

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relabs-tech/shot_detector/internal/naming"
	"github.com/relabs-tech/shot_detector/internal/observable"
)

// DefaultConfirmGrace is how long a transfer at 100% waits for the formal
// completion before giving up on it.
const DefaultConfirmGrace = 5 * time.Second

// DefaultDrainTimeout bounds how long Close waits for queued transfers to
// reach the peer.
const DefaultDrainTimeout = 10 * time.Second

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	// InboxDir is the root of received files on this peer.
	InboxDir string
	// UnsortedFolder receives files with no known swing type.
	UnsortedFolder string
	ConfirmGrace   time.Duration
	DrainTimeout   time.Duration

	// Remove deletes a sent file. Defaults to os.Remove.
	Remove func(path string) error

	OnMark        func()
	OnRecordState func(on bool)
	OnFile        func(path string, c naming.Classification)
}

// Coordinator is the application side of the link. Both peers run one.
type Coordinator struct {
	transport Transport
	opts      Options
	log       zerolog.Logger

	recordState   *observable.Value[bool]
	filesReceived *observable.Value[int]

	mu        sync.Mutex
	activated bool
	closed    bool

	closing chan struct{}
	wg      sync.WaitGroup
	// pending counts transfers whose file is still on disk
	pending sync.WaitGroup
}

// New creates a coordinator over transport.
func New(transport Transport, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.InboxDir == "" {
		opts.InboxDir = "."
	}
	if opts.UnsortedFolder == "" {
		opts.UnsortedFolder = naming.DefaultUnsortedFolder
	}
	if opts.ConfirmGrace <= 0 {
		opts.ConfirmGrace = DefaultConfirmGrace
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.Remove == nil {
		opts.Remove = os.Remove
	}
	return &Coordinator{
		transport:     transport,
		opts:          opts,
		log:           logger.With().Str("component", "link").Logger(),
		recordState:   observable.NewValue(false),
		filesReceived: observable.NewValue(0),
		closing:       make(chan struct{}),
	}
}

// RecordState mirrors the recording flag of the pair.
func (c *Coordinator) RecordState() *observable.Value[bool] { return c.recordState }

// FilesReceived counts files stored since start or the last reset.
func (c *Coordinator) FilesReceived() *observable.Value[int] { return c.filesReceived }

// Activate connects the transport. Calling it again after success does
// nothing. Failures are returned and not retried.
func (c *Coordinator) Activate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: coordinator closed", ErrLinkUnavailable)
	}
	if c.activated {
		return nil
	}
	if err := c.transport.Activate(ctx, c); err != nil {
		c.log.Error().Err(err).Msg("link activation failed")
		return fmt.Errorf("%w: activate: %v", ErrLinkUnavailable, err)
	}
	c.activated = true
	c.log.Info().Msg("link activated")
	return nil
}

// Activated reports whether Activate succeeded.
func (c *Coordinator) Activated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activated
}

// Reachable reports whether messages can currently be sent.
func (c *Coordinator) Reachable() bool {
	return c.Activated() && c.transport.Reachable()
}

// SendRecordState sets the local record state and tells the peer.
func (c *Coordinator) SendRecordState(on bool) error {
	c.recordState.Set(on)
	return c.send(RecordStateChanged(on))
}

// SendMark asks the peer to open a mark window.
func (c *Coordinator) SendMark() error {
	return c.send(MarkTriggered())
}

func (c *Coordinator) send(m Message) error {
	if !c.Reachable() {
		c.log.Warn().Stringer("msg", m).Msg("peer unreachable, message dropped")
		return ErrLinkUnavailable
	}
	if err := c.transport.SendMessage(m); err != nil {
		c.log.Warn().Err(err).Stringer("msg", m).Msg("send failed")
		return fmt.Errorf("%w: send %s: %v", ErrLinkUnavailable, m, err)
	}
	c.log.Debug().Stringer("msg", m).Msg("message sent")
	return nil
}

// SendFile queues path for transfer and takes ownership of it: once the
// transfer is complete the file is removed. An Unsorted classification sends
// no metadata.
func (c *Coordinator) SendFile(path string, class naming.Classification) error {
	if !c.Activated() {
		c.log.Warn().Str("file", path).Msg("link not activated, file kept")
		return ErrLinkUnavailable
	}

	var md *Metadata
	if class != naming.Unsorted {
		md = &Metadata{FileName: filepath.Base(path), SwingType: string(class)}
	}
	t := NewTransfer(path, md)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: coordinator closed", ErrLinkUnavailable)
	}
	c.wg.Add(1)
	c.pending.Add(1)
	c.mu.Unlock()

	if err := c.transport.TransferFile(t); err != nil {
		c.pending.Done()
		c.wg.Done()
		c.log.Error().Err(err).Str("file", path).Msg("transfer not queued, file kept")
		return fmt.Errorf("%w: transfer %s: %v", ErrLinkUnavailable, filepath.Base(path), err)
	}

	c.log.Info().Str("file", path).Str("id", t.ID).Stringer("class", class).Msg("transfer queued")
	go c.monitor(t)
	return nil
}

// monitor waits for the first of full progress or formal success and then
// removes the sent file exactly once.
func (c *Coordinator) monitor(t *Transfer) {
	defer c.wg.Done()
	release := sync.OnceFunc(c.pending.Done)
	defer release()
	log := c.log.With().Str("id", t.ID).Str("file", t.Path).Logger()

	cleaned := false
	cleanup := func(reason string) {
		if cleaned {
			return
		}
		cleaned = true
		defer release()
		if err := c.opts.Remove(t.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Msg("cannot remove sent file")
			return
		}
		log.Info().Str("reason", reason).Msg("transfer complete, local file removed")
	}

	var grace <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case p := <-t.Updates():
			log.Debug().Float64("progress", p).Msg("transfer progress")
			if p >= 1 && !cleaned {
				cleanup("progress")
				timer = time.NewTimer(c.opts.ConfirmGrace)
				grace = timer.C
			}

		case <-t.Done():
			if err := t.Err(); err != nil {
				switch {
				case cleaned:
					log.Warn().Err(err).Msg("transport reported failure after full progress")
				case t.Progress() >= 1:
					// full progress is authoritative even if the update was not read yet
					cleanup("progress")
					log.Warn().Err(err).Msg("transport reported failure after full progress")
				default:
					log.Error().Err(err).Float64("progress", t.Progress()).Msg("transfer failed, file kept")
				}
				return
			}
			cleanup("confirmed")
			return

		case <-grace:
			log.Warn().Err(ErrTransferAmbiguous).Dur("grace", c.opts.ConfirmGrace).Msg("treating full progress as complete")
			return

		case <-c.closing:
			if !cleaned {
				log.Warn().Float64("progress", t.Progress()).Msg("link closed before transfer completed, file kept")
			}
			return
		}
	}
}

// ResetFileCount zeroes FilesReceived.
func (c *Coordinator) ResetFileCount() {
	c.filesReceived.Set(0)
}

// Close waits up to DrainTimeout for queued transfers to reach the peer,
// then stops monitoring and closes the transport. Files still pending at
// that point are kept.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.drain()
	close(c.closing)
	c.wg.Wait()
	return c.transport.Close()
}

func (c *Coordinator) drain() {
	drained := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(drained)
	}()

	timer := time.NewTimer(c.opts.DrainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		c.log.Warn().Dur("timeout", c.opts.DrainTimeout).Msg("transfers still pending at close")
	}
}
