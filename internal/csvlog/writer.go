// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package csvlog writes session samples to an append-only CSV file without
// blocking the sampling path.
package csvlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/relabs-tech/shot_detector/internal/motion"
)

// Header is the first line of every session log.
const Header = "time,accelX,accelY,accelZ,accelMag,rotX,rotY,rotZ,rotMag,roll,pitch,yaw,qw,qx,qy,qz,isAddr"

var (
	// ErrIO wraps every file create, write or close failure.
	ErrIO = errors.New("csv log I/O error")
	// ErrClosed is returned by Append after Close.
	ErrClosed = errors.New("csv log closed")
)

// Writer appends rows on a dedicated goroutine so that Append never waits
// for the disk. Rows are written in Append order.
type Writer struct {
	path string
	file *os.File
	buf  *bufio.Writer

	mu      sync.Mutex
	pending []string
	closed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	rows     atomic.Uint64
	writeErr error // owned by the writer goroutine until done is closed
	closeErr error
}

// Create truncates or creates the file at path, writes the header and starts
// the writer goroutine. A stale file with the same name is replaced.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create log dir: %v", ErrIO, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: remove stale log %s: %v", ErrIO, path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrIO, path, err)
	}

	w := &Writer{
		path: path,
		file: f,
		buf:  bufio.NewWriterSize(f, 64*1024),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if _, err := w.buf.WriteString(Header + "\n"); err == nil {
		err = w.buf.Flush()
	}
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: write header: %v", ErrIO, err)
	}

	go w.loop()
	return w, nil
}

// Path returns the file being written.
func (w *Writer) Path() string { return w.path }

// Rows returns how many data rows reached the file buffer.
func (w *Writer) Rows() uint64 { return w.rows.Load() }

// Append formats the sample and queues it for writing.
func (w *Writer) Append(s motion.Sample, marked bool) error {
	line := FormatRow(s, marked)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.pending = append(w.pending, line)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close drains queued rows, flushes and closes the file. It always releases
// the file, and returns the first error seen by the writer. Calling Close
// again returns the same result.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return w.closeErr
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	<-w.done
	return w.closeErr
}

func (w *Writer) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.drain()
		case <-w.stop:
			w.drain()
			w.finish()
			return
		}
	}
}

// drain writes everything queued so far and flushes the buffer, so a crash
// loses at most the batch in flight.
func (w *Writer) drain() {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	for _, line := range batch {
		if _, err := w.buf.WriteString(line); err != nil {
			w.recordErr(fmt.Errorf("%w: write row: %v", ErrIO, err))
			continue
		}
		w.rows.Add(1)
	}
	if err := w.buf.Flush(); err != nil {
		w.recordErr(fmt.Errorf("%w: flush: %v", ErrIO, err))
	}
}

func (w *Writer) finish() {
	if err := w.buf.Flush(); err != nil {
		w.recordErr(fmt.Errorf("%w: flush: %v", ErrIO, err))
	}
	if err := w.file.Sync(); err != nil {
		w.recordErr(fmt.Errorf("%w: sync: %v", ErrIO, err))
	}
	if err := w.file.Close(); err != nil {
		w.recordErr(fmt.Errorf("%w: close: %v", ErrIO, err))
	}
	w.closeErr = w.writeErr
}

func (w *Writer) recordErr(err error) {
	if w.writeErr == nil {
		w.writeErr = err
	}
}

// FormatRow renders one sample as a newline-terminated CSV row.
func FormatRow(s motion.Sample, marked bool) string {
	flag := 0
	if marked {
		flag = 1
	}
	q := s.Quat
	return fmt.Sprintf(
		"%.3f,"+ // time
			"%.5f,%.5f,%.5f,%.3f,"+ // ax, ay, az, accelMag
			"%.5f,%.5f,%.5f,%.3f,"+ // rx, ry, rz, rotMag
			"%.5f,%.5f,%.5f,"+ // roll, pitch, yaw
			"%.5f,%.5f,%.5f,%.5f,"+ // qw, qx, qy, qz
			"%d\n",
		s.Time,
		s.Accel.X, s.Accel.Y, s.Accel.Z, s.AccelMagnitude(),
		s.Rot.X, s.Rot.Y, s.Rot.Z, s.RotMagnitude(),
		s.Roll, s.Pitch, s.Yaw,
		q.W, q.X, q.Y, q.Z,
		flag,
	)
}
