// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package trigger turns recognized speech text into mark events. The text
// comes from an external recognizer, one utterance per line.
package trigger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// MaxWordLen is the longest accepted trigger word, in characters.
const MaxWordLen = 12

// DefaultWord is used when no word is configured.
const DefaultWord = "mark"

// ErrEmptyTriggerWord is returned for a blank trigger word.
var ErrEmptyTriggerWord = errors.New("empty trigger word")

// NormalizeWord trims, lower-cases and truncates w to MaxWordLen characters.
func NormalizeWord(w string) (string, error) {
	w = strings.ToLower(strings.TrimSpace(w))
	if w == "" {
		return "", ErrEmptyTriggerWord
	}
	if r := []rune(w); len(r) > MaxWordLen {
		w = strings.TrimSpace(string(r[:MaxWordLen]))
	}
	return w, nil
}

// Listener matches utterances against the trigger word and calls onMark on a
// hit.
type Listener struct {
	log    zerolog.Logger
	onMark func()

	mu   sync.RWMutex
	word string
}

// NewListener creates a listener for word. An empty word selects DefaultWord.
func NewListener(word string, onMark func(), logger zerolog.Logger) (*Listener, error) {
	if strings.TrimSpace(word) == "" {
		word = DefaultWord
	}
	l := &Listener{
		log:    logger.With().Str("component", "trigger").Logger(),
		onMark: onMark,
	}
	if err := l.SetWord(word); err != nil {
		return nil, err
	}
	return l, nil
}

// SetWord replaces the trigger word.
func (l *Listener) SetWord(w string) error {
	n, err := NormalizeWord(w)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.word = n
	l.mu.Unlock()
	l.log.Info().Str("word", n).Msg("trigger word set")
	return nil
}

// Word returns the current trigger word.
func (l *Listener) Word() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.word
}

// Feed checks one utterance and reports whether it contained the word.
func (l *Listener) Feed(text string) bool {
	word := l.Word()
	if !strings.Contains(strings.ToLower(text), word) {
		return false
	}
	l.log.Debug().Str("text", text).Msg("trigger word heard")
	if l.onMark != nil {
		l.onMark()
	}
	return true
}

// Run feeds every line of r until EOF or ctx is done. If ctx ends first and r
// is an io.Closer, Run closes it so the blocked read returns. A reader that
// cannot be interrupted, like a terminal stdin, keeps one goroutine parked
// until the next line or process exit.
func (l *Listener) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			if c, ok := r.(io.Closer); ok {
				c.Close()
			}
			return ctx.Err()
		case line := <-lines:
			if strings.TrimSpace(line) == "" {
				continue
			}
			l.Feed(line)
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("trigger input: %w", err)
			}
			return nil
		}
	}
}
