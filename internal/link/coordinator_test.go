// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package link_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/shot_detector/internal/link"
	"github.com/relabs-tech/shot_detector/internal/link/memlink"
	"github.com/relabs-tech/shot_detector/internal/naming"
)

type pair struct {
	wrist, phone       *link.Coordinator
	wristEnd, phoneEnd *memlink.Endpoint
	inbox              string
	removed            atomic.Int32
	marks              atomic.Int32
}

func newPair(t *testing.T, grace time.Duration) *pair {
	t.Helper()
	root := t.TempDir()
	p := &pair{inbox: filepath.Join(root, "inbox")}
	p.wristEnd, p.phoneEnd = memlink.NewPair(filepath.Join(root, "stage-w"), filepath.Join(root, "stage-p"))

	p.wrist = link.New(p.wristEnd, link.Options{
		ConfirmGrace: grace,
		Remove: func(path string) error {
			p.removed.Add(1)
			return os.Remove(path)
		},
		OnMark: func() { p.marks.Add(1) },
	}, zerolog.Nop())
	p.phone = link.New(p.phoneEnd, link.Options{InboxDir: p.inbox, ConfirmGrace: grace}, zerolog.Nop())

	ctx := context.Background()
	require.NoError(t, p.wrist.Activate(ctx))
	require.NoError(t, p.phone.Activate(ctx))
	t.Cleanup(func() {
		p.wrist.Close()
		p.phone.Close()
	})
	return p
}

func writeLog(t *testing.T, dir, name, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCoordinator_ActivateIdempotent(t *testing.T) {
	p := newPair(t, time.Second)
	require.NoError(t, p.wrist.Activate(context.Background()))
	assert.True(t, p.wrist.Activated())
	assert.True(t, p.wrist.Reachable())
}

func TestCoordinator_RecordStateMirrored(t *testing.T) {
	p := newPair(t, time.Second)

	require.NoError(t, p.phone.SendRecordState(true))
	assert.True(t, p.phone.RecordState().Get())
	require.Eventually(t, p.wrist.RecordState().Get, time.Second, time.Millisecond)

	require.NoError(t, p.phone.SendRecordState(false))
	require.Eventually(t, func() bool { return !p.wrist.RecordState().Get() }, time.Second, time.Millisecond)
}

func TestCoordinator_MarkRequiresReachability(t *testing.T) {
	p := newPair(t, time.Second)

	require.NoError(t, p.phone.SendMark())
	require.Eventually(t, func() bool { return p.marks.Load() == 1 }, time.Second, time.Millisecond)

	p.wristEnd.SetOnline(false)
	assert.False(t, p.phone.Reachable())
	assert.ErrorIs(t, p.phone.SendMark(), link.ErrLinkUnavailable)
	assert.ErrorIs(t, p.phone.SendRecordState(true), link.ErrLinkUnavailable)
	assert.True(t, p.phone.RecordState().Get())
}

func TestCoordinator_SendBeforeActivate(t *testing.T) {
	a, _ := memlink.NewPair(t.TempDir(), t.TempDir())
	c := link.New(a, link.Options{}, zerolog.Nop())
	defer c.Close()

	path := writeLog(t, t.TempDir(), "s.csv", "x")
	assert.ErrorIs(t, c.SendFile(path, naming.Unsorted), link.ErrLinkUnavailable)
	assert.ErrorIs(t, c.SendMark(), link.ErrLinkUnavailable)
	assert.FileExists(t, path)
}

func TestCoordinator_FileClassification(t *testing.T) {
	p := newPair(t, time.Second)
	src := t.TempDir()

	cases := []struct {
		name   string
		class  naming.Classification
		folder string
	}{
		{"address-collection-1.csv", naming.Unsorted, naming.DefaultUnsortedFolder},
		{"practice-1.csv", naming.Practice, naming.PracticeFolder},
		{"real-1.csv", naming.Real, naming.RealFolder},
	}
	for i, tc := range cases {
		path := writeLog(t, src, tc.name, tc.name)
		require.NoError(t, p.wrist.SendFile(path, tc.class))

		want := filepath.Join(p.inbox, tc.folder, tc.name)
		n := i + 1
		require.Eventually(t, func() bool { return p.phone.FilesReceived().Get() == n }, 2*time.Second, time.Millisecond)
		data, err := os.ReadFile(want)
		require.NoError(t, err)
		assert.Equal(t, tc.name, string(data))
		require.Eventually(t, func() bool { _, err := os.Stat(path); return errors.Is(err, os.ErrNotExist) }, time.Second, time.Millisecond)
	}

	got, err := naming.ListRecordings(p.inbox, naming.LogExt)
	require.NoError(t, err)
	sorted := naming.Sort(got)
	assert.Len(t, sorted.Practice, 1)
	assert.Len(t, sorted.Real, 1)
	assert.Len(t, sorted.Unsorted, 1)

	p.phone.ResetFileCount()
	assert.Zero(t, p.phone.FilesReceived().Get())
}

func TestCoordinator_ReceiveOverwritesExisting(t *testing.T) {
	p := newPair(t, time.Second)
	existing := writeLog(t, filepath.Join(p.inbox, naming.RealFolder), "s.csv", "old")

	path := writeLog(t, t.TempDir(), "s.csv", "new")
	require.NoError(t, p.wrist.SendFile(path, naming.Real))
	require.Eventually(t, func() bool { return p.phone.FilesReceived().Get() == 1 }, 2*time.Second, time.Millisecond)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestCoordinator_ProgressWithoutCompletionCleansOnce(t *testing.T) {
	p := newPair(t, 50*time.Millisecond)
	p.wristEnd.DropCompletion(true)

	path := writeLog(t, t.TempDir(), "s.csv", "0123456789")
	require.NoError(t, p.wrist.SendFile(path, naming.Unsorted))

	require.Eventually(t, func() bool { return p.phone.FilesReceived().Get() == 1 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return p.removed.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.NoFileExists(t, path)

	// past the grace period nothing else happens
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), p.removed.Load())
}

func TestCoordinator_CompletedTransferCleansOnce(t *testing.T) {
	p := newPair(t, time.Second)

	path := writeLog(t, t.TempDir(), "s.csv", "abc")
	require.NoError(t, p.wrist.SendFile(path, naming.Practice))
	require.Eventually(t, func() bool { return p.removed.Load() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, p.wrist.Close())
	assert.Equal(t, int32(1), p.removed.Load())
}

type failingTransport struct {
	mu        sync.Mutex
	transfers []*link.Transfer
}

func (f *failingTransport) Activate(context.Context, link.Handler) error { return nil }
func (f *failingTransport) Reachable() bool                              { return true }
func (f *failingTransport) SendMessage(link.Message) error               { return nil }
func (f *failingTransport) Close() error                                 { return nil }

func (f *failingTransport) TransferFile(t *link.Transfer) error {
	f.mu.Lock()
	f.transfers = append(f.transfers, t)
	f.mu.Unlock()
	t.ReportProgress(0.5)
	t.Finish(errors.New("peer went away"))
	return nil
}

func TestCoordinator_FailedTransferKeepsFile(t *testing.T) {
	var removed atomic.Int32
	c := link.New(&failingTransport{}, link.Options{
		Remove: func(string) error { removed.Add(1); return nil },
	}, zerolog.Nop())
	require.NoError(t, c.Activate(context.Background()))

	path := writeLog(t, t.TempDir(), "s.csv", "abc")
	require.NoError(t, c.SendFile(path, naming.Unsorted))
	require.NoError(t, c.Close())

	assert.Zero(t, removed.Load())
	assert.FileExists(t, path)
}

type directTransport struct{ failingTransport }

func TestCoordinator_MalformedMetadataDropped(t *testing.T) {
	inbox := t.TempDir()
	c := link.New(&directTransport{}, link.Options{InboxDir: inbox}, zerolog.Nop())

	staged := writeLog(t, t.TempDir(), "staged", "x")
	c.HandleFile(link.ReceivedFile{Path: staged, SourceName: "s.csv", Metadata: &link.Metadata{SwingType: "real"}})
	assert.Zero(t, c.FilesReceived().Get())
	assert.NoFileExists(t, staged)

	staged = writeLog(t, t.TempDir(), "staged", "x")
	c.HandleFile(link.ReceivedFile{Path: staged, Metadata: &link.Metadata{FileName: "../escape.csv"}})
	assert.Zero(t, c.FilesReceived().Get())
	assert.NoFileExists(t, filepath.Join(filepath.Dir(inbox), "escape.csv"))
}

func TestCoordinator_UnknownSwingTypeUnsorted(t *testing.T) {
	inbox := t.TempDir()
	c := link.New(&directTransport{}, link.Options{InboxDir: inbox, UnsortedFolder: "Inbox"}, zerolog.Nop())

	staged := writeLog(t, t.TempDir(), "staged", "x")
	c.HandleFile(link.ReceivedFile{Path: staged, Metadata: &link.Metadata{FileName: "s.csv", SwingType: "chip"}})

	assert.Equal(t, 1, c.FilesReceived().Get())
	assert.FileExists(t, filepath.Join(inbox, "Inbox", "s.csv"))
}

func TestCoordinator_HandleMessageCallbacks(t *testing.T) {
	var marks atomic.Int32
	var states []bool
	c := link.New(&directTransport{}, link.Options{
		OnMark:        func() { marks.Add(1) },
		OnRecordState: func(on bool) { states = append(states, on) },
	}, zerolog.Nop())

	c.HandleMessage(link.MarkTriggered())
	c.HandleMessage(link.RecordStateChanged(true))
	c.HandleMessage(link.Message{})

	assert.Equal(t, int32(1), marks.Load())
	assert.Equal(t, []bool{true}, states)
	assert.True(t, c.RecordState().Get())
}

type funcTransport struct {
	failingTransport
	transfer func(*link.Transfer)
}

func (f *funcTransport) TransferFile(t *link.Transfer) error {
	f.transfer(t)
	return nil
}

func TestCoordinator_FailureAfterFullProgressCleans(t *testing.T) {
	tr := &funcTransport{transfer: func(t *link.Transfer) {
		t.ReportProgress(1)
		t.Finish(errors.New("late ack lost"))
	}}

	for i := 0; i < 50; i++ {
		var removed atomic.Int32
		c := link.New(tr, link.Options{
			Remove: func(path string) error { removed.Add(1); return os.Remove(path) },
		}, zerolog.Nop())
		require.NoError(t, c.Activate(context.Background()))

		path := writeLog(t, t.TempDir(), "s.csv", "abc")
		require.NoError(t, c.SendFile(path, naming.Real))
		require.NoError(t, c.Close())

		assert.Equal(t, int32(1), removed.Load(), "iteration %d", i)
		assert.NoFileExists(t, path)
	}
}

func TestCoordinator_CloseWaitsForQueuedTransfer(t *testing.T) {
	tr := &funcTransport{transfer: func(t *link.Transfer) {
		go func() {
			time.Sleep(100 * time.Millisecond)
			t.ReportProgress(1)
			t.Finish(nil)
		}()
	}}
	var removed atomic.Int32
	c := link.New(tr, link.Options{
		DrainTimeout: 2 * time.Second,
		Remove:       func(path string) error { removed.Add(1); return os.Remove(path) },
	}, zerolog.Nop())
	require.NoError(t, c.Activate(context.Background()))

	path := writeLog(t, t.TempDir(), "s.csv", "abc")
	require.NoError(t, c.SendFile(path, naming.Practice))
	require.NoError(t, c.Close())

	assert.Equal(t, int32(1), removed.Load())
	assert.NoFileExists(t, path)
}

func TestCoordinator_CloseDrainIsBounded(t *testing.T) {
	tr := &funcTransport{transfer: func(t *link.Transfer) { t.ReportProgress(0.25) }}
	c := link.New(tr, link.Options{
		DrainTimeout: 50 * time.Millisecond,
		Remove:       func(string) error { return errors.New("must not be called") },
	}, zerolog.Nop())
	require.NoError(t, c.Activate(context.Background()))

	path := writeLog(t, t.TempDir(), "s.csv", "abc")
	require.NoError(t, c.SendFile(path, naming.Unsorted))

	start := time.Now()
	require.NoError(t, c.Close())
	assert.Less(t, time.Since(start), time.Second)
	assert.FileExists(t, path)
}

func TestCoordinator_CloseDeliversOverMemlink(t *testing.T) {
	p := newPair(t, time.Second)

	path := writeLog(t, t.TempDir(), "s.csv", "last session")
	require.NoError(t, p.wrist.SendFile(path, naming.Real))
	require.NoError(t, p.wrist.Close())

	assert.Equal(t, int32(1), p.removed.Load())
	assert.NoFileExists(t, path)
	require.Eventually(t, func() bool { return p.phone.FilesReceived().Get() == 1 }, 2*time.Second, time.Millisecond)
	assert.FileExists(t, filepath.Join(p.inbox, naming.RealFolder, "s.csv"))
}
