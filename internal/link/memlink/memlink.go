// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package memlink connects two link coordinators inside one process. It is
// used by the simulator and by tests.
package memlink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/relabs-tech/shot_detector/internal/link"
)

const inboxSize = 256

// progressSteps is how many progress reports a transfer makes.
const progressSteps = 4

var errInboxFull = errors.New("peer inbox full")

// Endpoint is one side of an in-memory link.
type Endpoint struct {
	staging string
	peer    *Endpoint

	mu             sync.Mutex
	active         bool
	online         bool
	dropCompletion bool
	closed         bool

	events chan func(link.Handler)
	stop   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewPair returns two connected endpoints that stage received files in
// stagingA and stagingB respectively.
func NewPair(stagingA, stagingB string) (*Endpoint, *Endpoint) {
	a := newEndpoint(stagingA)
	b := newEndpoint(stagingB)
	a.peer, b.peer = b, a
	return a, b
}

func newEndpoint(staging string) *Endpoint {
	return &Endpoint{
		staging: staging,
		online:  true,
		events:  make(chan func(link.Handler), inboxSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetOnline takes this endpoint on or off the link.
func (e *Endpoint) SetOnline(on bool) {
	e.mu.Lock()
	e.online = on
	e.mu.Unlock()
}

// DropCompletion makes outbound transfers report full progress but never
// finish formally.
func (e *Endpoint) DropCompletion(drop bool) {
	e.mu.Lock()
	e.dropCompletion = drop
	e.mu.Unlock()
}

// Activate starts delivering inbound events to h.
func (e *Endpoint) Activate(_ context.Context, h link.Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("memlink: endpoint closed")
	}
	if e.active {
		return nil
	}
	e.active = true
	go e.deliver(h)
	return nil
}

func (e *Endpoint) deliver(h link.Handler) {
	defer close(e.done)
	for {
		select {
		case ev := <-e.events:
			ev(h)
		case <-e.stop:
			return
		}
	}
}

func (e *Endpoint) isUp() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active && e.online && !e.closed
}

// Reachable reports whether both sides are up.
func (e *Endpoint) Reachable() bool {
	return e.isUp() && e.peer.isUp()
}

func (e *Endpoint) enqueue(ev func(link.Handler)) error {
	if !e.isUp() {
		return link.ErrLinkUnavailable
	}
	select {
	case e.events <- ev:
		return nil
	default:
		return errInboxFull
	}
}

// SendMessage delivers m to the peer through its JSON encoding.
func (e *Endpoint) SendMessage(m link.Message) error {
	if !e.Reachable() {
		return link.ErrLinkUnavailable
	}
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return e.peer.enqueue(func(h link.Handler) {
		msg, err := link.DecodeMessage(data)
		if err != nil {
			return
		}
		h.HandleMessage(msg)
	})
}

// TransferFile copies the file into the peer's staging dir in the
// background.
func (e *Endpoint) TransferFile(t *link.Transfer) error {
	if !e.Reachable() {
		return link.ErrLinkUnavailable
	}
	e.mu.Lock()
	drop := e.dropCompletion
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		err := e.send(t)
		if err != nil {
			t.Finish(err)
			return
		}
		if !drop {
			t.Finish(nil)
		}
	}()
	return nil
}

func (e *Endpoint) send(t *link.Transfer) error {
	data, err := os.ReadFile(t.Path)
	if err != nil {
		return fmt.Errorf("memlink: read %s: %w", t.Path, err)
	}
	if err := os.MkdirAll(e.peer.staging, 0o755); err != nil {
		return fmt.Errorf("memlink: staging: %w", err)
	}

	staged := filepath.Join(e.peer.staging, t.ID+"-"+t.Name())
	f, err := os.Create(staged)
	if err != nil {
		return fmt.Errorf("memlink: stage: %w", err)
	}
	chunk := (len(data) + progressSteps - 1) / progressSteps
	for i := 0; i < progressSteps; i++ {
		lo := min(i*chunk, len(data))
		hi := min(lo+chunk, len(data))
		if _, err := f.Write(data[lo:hi]); err != nil {
			f.Close()
			os.Remove(staged)
			return fmt.Errorf("memlink: write: %w", err)
		}
		t.ReportProgress(float64(i+1) / progressSteps)
	}
	if err := f.Close(); err != nil {
		os.Remove(staged)
		return fmt.Errorf("memlink: close: %w", err)
	}

	var md *link.Metadata
	if t.Metadata != nil {
		cp := *t.Metadata
		md = &cp
	}
	rf := link.ReceivedFile{Path: staged, SourceName: filepath.Base(t.Path), Metadata: md}
	if err := e.peer.enqueue(func(h link.Handler) { h.HandleFile(rf) }); err != nil {
		os.Remove(staged)
		return fmt.Errorf("memlink: deliver: %w", err)
	}
	return nil
}

// Close stops delivery and waits for outbound transfers.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	active := e.active
	e.mu.Unlock()

	e.wg.Wait()
	close(e.stop)
	if active {
		<-e.done
	}
	return nil
}

var _ link.Transport = (*Endpoint)(nil)
