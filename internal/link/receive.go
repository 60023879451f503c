// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package link

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/relabs-tech/shot_detector/internal/naming"
)

// HandleMessage applies an inbound control message.
func (c *Coordinator) HandleMessage(m Message) {
	switch m.Kind() {
	case KindRecordState:
		on := *m.RecordState
		c.recordState.Set(on)
		c.log.Info().Bool("recording", on).Msg("peer record state")
		if c.opts.OnRecordState != nil {
			c.opts.OnRecordState(on)
		}
	case KindMark:
		c.log.Debug().Msg("mark received")
		if c.opts.OnMark != nil {
			c.opts.OnMark()
		}
	default:
		c.log.Warn().Err(ErrMalformedMessage).Msg("ignoring unknown message")
	}
}

// HandleFile files an inbound log by its classification and counts it.
func (c *Coordinator) HandleFile(f ReceivedFile) {
	log := c.log.With().Str("staged", f.Path).Logger()

	dest, class, err := c.destination(f)
	if err != nil {
		log.Error().Err(err).Msg("dropping received file")
		if rmErr := os.Remove(f.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn().Err(rmErr).Msg("cannot remove staged file")
		}
		return
	}

	if err := storeFile(f.Path, dest); err != nil {
		log.Error().Err(err).Str("dest", dest).Msg("cannot store received file")
		return
	}

	n := c.filesReceived.Update(func(n int) int { return n + 1 })
	log.Info().Str("dest", dest).Stringer("class", class).Int("files", n).Msg("file received")
	if c.opts.OnFile != nil {
		c.opts.OnFile(dest, class)
	}
}

func (c *Coordinator) destination(f ReceivedFile) (string, naming.Classification, error) {
	if f.Metadata == nil {
		name := filepath.Base(f.SourceName)
		if f.SourceName == "" || name == "." || name == ".." || name == string(filepath.Separator) {
			name = filepath.Base(f.Path)
		}
		return filepath.Join(c.opts.InboxDir, c.opts.UnsortedFolder, name), naming.Unsorted, nil
	}

	if err := f.Metadata.Validate(); err != nil {
		return "", naming.Unsorted, err
	}
	class, ok := naming.ParseClassification(f.Metadata.SwingType)
	if !ok && f.Metadata.SwingType != "" {
		c.log.Warn().Str("swingType", f.Metadata.SwingType).Msg("unknown swing type, filing as unsorted")
	}
	folder := class.Folder(c.opts.UnsortedFolder)
	return filepath.Join(c.opts.InboxDir, folder, f.Metadata.FileName), class, nil
}

// storeFile moves src to dest, replacing any existing file.
func storeFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove existing: %w", err)
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	// staging may live on another filesystem
	if err := copyFile(src, dest); err != nil {
		os.Remove(dest)
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open staged: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create dest: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy: %w", err)
	}
	return out.Close()
}
