// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mqttlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/shot_detector/internal/link"
)

type recordingHandler struct {
	mu    sync.Mutex
	msgs  []link.Message
	files []link.ReceivedFile
}

func (h *recordingHandler) HandleMessage(m link.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, m)
}

func (h *recordingHandler) HandleFile(f link.ReceivedFile) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files = append(h.files, f)
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs), len(h.files)
}

type node struct {
	tr      *Transport
	handler *recordingHandler
}

func startNode(t *testing.T, b *fakeBroker, name, peer string, chunk int) *node {
	t.Helper()
	tr := newTransport(Options{
		ClientID:       "test-" + name,
		Node:           name,
		Peer:           peer,
		StagingDir:     filepath.Join(t.TempDir(), "staging"),
		ChunkSize:      chunk,
		PublishTimeout: time.Second,
	}, zerolog.Nop(), func(*mqtt.ClientOptions) brokerClient { return b.client() })

	h := &recordingHandler{}
	require.NoError(t, tr.Activate(context.Background(), h))
	t.Cleanup(func() { tr.Close() })
	return &node{tr: tr, handler: h}
}

func startPair(t *testing.T, chunk int) (*fakeBroker, *node, *node) {
	b := newFakeBroker()
	wrist := startNode(t, b, "wrist", "phone", chunk)
	phone := startNode(t, b, "phone", "wrist", chunk)
	require.Eventually(t, func() bool { return wrist.tr.Reachable() && phone.tr.Reachable() }, time.Second, time.Millisecond)
	return b, wrist, phone
}

func TestTransport_MessageRoundTrip(t *testing.T) {
	_, wrist, phone := startPair(t, 0)

	require.NoError(t, phone.tr.SendMessage(link.MarkTriggered()))
	require.NoError(t, phone.tr.SendMessage(link.RecordStateChanged(true)))

	require.Eventually(t, func() bool { n, _ := wrist.handler.counts(); return n == 2 }, time.Second, time.Millisecond)
	wrist.handler.mu.Lock()
	defer wrist.handler.mu.Unlock()
	assert.Equal(t, link.KindMark, wrist.handler.msgs[0].Kind())
	assert.Equal(t, link.KindRecordState, wrist.handler.msgs[1].Kind())
}

func TestTransport_UnreachableBeforePeerOnline(t *testing.T) {
	b := newFakeBroker()
	wrist := startNode(t, b, "wrist", "phone", 0)

	assert.False(t, wrist.tr.Reachable())
	assert.ErrorIs(t, wrist.tr.SendMessage(link.MarkTriggered()), link.ErrLinkUnavailable)
}

func TestTransport_FileChunkedWithAck(t *testing.T) {
	_, wrist, phone := startPair(t, 1000)

	body := bytes.Repeat([]byte("0.010,1.00000,2.00000\n"), 500)
	src := filepath.Join(t.TempDir(), "address-collection-1000.csv")
	require.NoError(t, os.WriteFile(src, body, 0o644))

	tr := link.NewTransfer(src, &link.Metadata{FileName: "address-collection-1000.csv", SwingType: "real"})
	require.NoError(t, wrist.tr.TransferFile(tr))

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("transfer not acknowledged")
	}
	require.NoError(t, tr.Err())
	assert.Equal(t, 1.0, tr.Progress())

	_, files := phone.handler.counts()
	require.Equal(t, 1, files)
	got := phone.handler.files[0]
	assert.Equal(t, "address-collection-1000.csv", got.SourceName)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, "real", got.Metadata.SwingType)

	data, err := os.ReadFile(got.Path)
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestTransport_LostAckLeavesTransferOpen(t *testing.T) {
	b, wrist, phone := startPair(t, 64)
	b.setDrop(func(topic string, _ []byte) bool { return strings.HasSuffix(topic, "/"+kindAck) })

	src := filepath.Join(t.TempDir(), "s.csv")
	require.NoError(t, os.WriteFile(src, []byte(strings.Repeat("x", 300)), 0o644))
	tr := link.NewTransfer(src, nil)
	require.NoError(t, wrist.tr.TransferFile(tr))

	require.Eventually(t, func() bool { _, n := phone.handler.counts(); return n == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return tr.Progress() == 1.0 }, time.Second, time.Millisecond)
	assert.Nil(t, phone.handler.files[0].Metadata)

	select {
	case <-tr.Done():
		t.Fatal("transfer finished without an ack")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransport_DuplicateFramesIgnored(t *testing.T) {
	b, wrist, phone := startPair(t, 0)

	src := filepath.Join(t.TempDir(), "s.csv")
	require.NoError(t, os.WriteFile(src, []byte("abc"), 0o644))
	tr := link.NewTransfer(src, nil)
	require.NoError(t, wrist.tr.TransferFile(tr))
	<-tr.Done()

	frame, err := json.Marshal(fileFrame{ID: tr.ID, Sender: "wrist", Name: "s.csv", Seq: 0, Total: 1, Data: []byte("abc")})
	require.NoError(t, err)
	b.client().Publish("shot/phone/file", 1, false, frame)
	b.client().Publish("shot/phone/file", 1, false, []byte("{not json"))
	b.client().Publish("shot/phone/file", 1, false, []byte(`{"id":"x","seq":3,"total":1}`))

	// a marker message proves the frames above were processed
	require.NoError(t, wrist.tr.SendMessage(link.MarkTriggered()))
	require.Eventually(t, func() bool { n, _ := phone.handler.counts(); return n == 1 }, time.Second, time.Millisecond)
	_, files := phone.handler.counts()
	assert.Equal(t, 1, files)
}

func TestTransport_CloseGoesOffline(t *testing.T) {
	_, wrist, phone := startPair(t, 0)

	require.NoError(t, phone.tr.Close())
	require.Eventually(t, func() bool { return !wrist.tr.Reachable() }, time.Second, time.Millisecond)
	assert.False(t, phone.tr.Reachable())
	assert.ErrorIs(t, phone.tr.TransferFile(link.NewTransfer("x", nil)), link.ErrLinkUnavailable)
}

func TestTransport_ActivateRequiresNames(t *testing.T) {
	tr := newTransport(Options{}, zerolog.Nop(), func(*mqtt.ClientOptions) brokerClient { return newFakeBroker().client() })
	assert.Error(t, tr.Activate(context.Background(), &recordingHandler{}))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "[MSG ] -> wrist mark", Describe("shot/wrist/message", []byte(`{"cmd":"mark"}`)))
	assert.Equal(t, "[MSG ] -> wrist recordState=true", Describe("shot/wrist/message", []byte(`{"recordState":true}`)))
	assert.Equal(t, "[PRES] phone online", Describe("shot/phone/presence", []byte("online")))
	assert.Equal(t, "[ACK ] -> wrist id=abc ok", Describe("shot/wrist/ack", []byte(`{"id":"abc"}`)))

	frame, _ := json.Marshal(fileFrame{ID: "abc", Sender: "wrist", Name: "s.csv", Seq: 1, Total: 3, Data: []byte("hey")})
	assert.Equal(t, "[FILE] -> phone from=wrist id=abc name=s.csv swing=- chunk=2/3 bytes=3", Describe("shot/phone/file", frame))

	assert.Contains(t, Describe("shot/wrist/message", []byte("{}")), "malformed")
}

func TestTransport_CompletedIDsBounded(t *testing.T) {
	tr := newTransport(Options{Node: "phone", Peer: "wrist"}, zerolog.Nop(), nil)

	n := completedLimit + 10
	for i := 0; i < n; i++ {
		tr.markCompleted(fmt.Sprintf("id-%d", i))
	}

	assert.Len(t, tr.completed, completedLimit)
	assert.Len(t, tr.doneOrder, completedLimit)
	assert.False(t, tr.completed["id-0"])
	assert.False(t, tr.completed["id-9"])
	assert.True(t, tr.completed["id-10"])
	assert.True(t, tr.completed[fmt.Sprintf("id-%d", n-1)])
}
