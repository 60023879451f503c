// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package link

import (
	"math"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Transfer is one outbound file. The transport reports progress and, if it
// can, a formal completion through Finish.
type Transfer struct {
	ID       string
	Path     string
	Metadata *Metadata

	mu       sync.Mutex
	progress float64
	updates  chan float64

	once sync.Once
	done chan struct{}
	err  error
}

// NewTransfer creates a transfer for path with a fresh id.
func NewTransfer(path string, md *Metadata) *Transfer {
	return &Transfer{
		ID:       uuid.NewString(),
		Path:     path,
		Metadata: md,
		updates:  make(chan float64, 1),
		done:     make(chan struct{}),
	}
}

// Name is the file name sent to the peer.
func (t *Transfer) Name() string {
	if t.Metadata != nil && t.Metadata.FileName != "" {
		return t.Metadata.FileName
	}
	return filepath.Base(t.Path)
}

// ReportProgress records the completed fraction, clamped to [0, 1]. Progress
// never goes backwards. A slow reader of Updates sees only the latest value.
func (t *Transfer) ReportProgress(f float64) {
	if math.IsNaN(f) {
		return
	}
	f = math.Max(0, math.Min(1, f))

	t.mu.Lock()
	defer t.mu.Unlock()
	if f < t.progress {
		return
	}
	t.progress = f

	select {
	case <-t.updates:
	default:
	}
	t.updates <- f
}

// Updates carries progress values, latest wins.
func (t *Transfer) Updates() <-chan float64 { return t.updates }

// Progress returns the last reported fraction.
func (t *Transfer) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Finish signals formal completion. Only the first call counts.
func (t *Transfer) Finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done is closed by Finish.
func (t *Transfer) Done() <-chan struct{} { return t.done }

// Err is the Finish result. Valid after Done is closed.
func (t *Transfer) Err() error {
	<-t.done
	return t.err
}
