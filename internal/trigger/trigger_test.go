// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package trigger

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWord(t *testing.T) {
	w, err := NormalizeWord("  MARK ")
	require.NoError(t, err)
	assert.Equal(t, "mark", w)

	w, err = NormalizeWord("Supercalifragilistic")
	require.NoError(t, err)
	assert.Equal(t, "supercalifra", w)
	assert.Len(t, []rune(w), MaxWordLen)

	w, err = NormalizeWord("ÄÖÜäöüßéèêëï")
	require.NoError(t, err)
	assert.Equal(t, 12, len([]rune(w)))

	_, err = NormalizeWord("   ")
	assert.ErrorIs(t, err, ErrEmptyTriggerWord)
}

func TestListener_DefaultWordAndFeed(t *testing.T) {
	hits := 0
	l, err := NewListener("", func() { hits++ }, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultWord, l.Word())

	assert.True(t, l.Feed("okay MARK that one"))
	assert.True(t, l.Feed("bookmark"))
	assert.False(t, l.Feed("nothing here"))
	assert.Equal(t, 2, hits)

	require.NoError(t, l.SetWord("Now"))
	assert.False(t, l.Feed("mark"))
	assert.True(t, l.Feed("right now"))
	assert.ErrorIs(t, l.SetWord(""), ErrEmptyTriggerWord)
	assert.Equal(t, "now", l.Word())
}

func TestListener_RunReadsLines(t *testing.T) {
	hits := 0
	l, err := NewListener("mark", func() { hits++ }, zerolog.Nop())
	require.NoError(t, err)

	in := strings.NewReader("hello\nmark\n\nmark it\nbye")
	require.NoError(t, l.Run(context.Background(), in))
	assert.Equal(t, 2, hits)
}

func TestListener_RunStopsOnCancel(t *testing.T) {
	l, err := NewListener("mark", nil, zerolog.Nop())
	require.NoError(t, err)

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx, pr) }()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestListener_RunClosesReaderOnCancel(t *testing.T) {
	l, err := NewListener("mark", nil, zerolog.Nop())
	require.NoError(t, err)

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Run(ctx, pr), context.Canceled)

	// the reading side is gone, so a writer is not left hanging
	_, err = pw.Write([]byte("mark\n"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
