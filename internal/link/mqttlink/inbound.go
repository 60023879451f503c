// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mqttlink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/shot_detector/internal/link"
)

type assembly struct {
	name     string
	metadata *link.Metadata
	total    int
	parts    map[int][]byte
}

// dispatch hands work to the delivery goroutine. Called from paho
// callbacks, which must not wait on tokens.
func (t *Transport) dispatch(fn func(link.Handler)) {
	select {
	case t.inbox <- fn:
	case <-t.stop:
	}
}

func (t *Transport) deliver(h link.Handler) {
	defer close(t.done)
	for {
		select {
		case fn := <-t.inbox:
			fn(h)
		case <-t.stop:
			return
		}
	}
}

func (t *Transport) onMessage(_ mqtt.Client, msg mqtt.Message) {
	m, err := link.DecodeMessage(msg.Payload())
	if err != nil {
		t.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("dropping message")
		return
	}
	t.dispatch(func(h link.Handler) { h.HandleMessage(m) })
}

func (t *Transport) onPresence(_ mqtt.Client, msg mqtt.Message) {
	online := string(msg.Payload()) == presenceOnline
	if t.peerOnline.Swap(online) != online {
		t.log.Info().Str("peer", t.opts.Peer).Bool("online", online).Msg("peer presence")
	}
}

func (t *Transport) onAck(_ mqtt.Client, msg mqtt.Message) {
	var a ackFrame
	if err := json.Unmarshal(msg.Payload(), &a); err != nil || a.ID == "" {
		t.log.Warn().Str("payload", string(msg.Payload())).Msg("dropping malformed ack")
		return
	}

	t.mu.Lock()
	tr := t.outgoing[a.ID]
	delete(t.outgoing, a.ID)
	t.mu.Unlock()

	if tr == nil {
		t.log.Debug().Str("id", a.ID).Msg("ack for unknown transfer")
		return
	}
	if a.Error != "" {
		tr.Finish(fmt.Errorf("peer rejected file: %s", a.Error))
		return
	}
	tr.Finish(nil)
}

func (t *Transport) onFile(_ mqtt.Client, msg mqtt.Message) {
	var f fileFrame
	if err := json.Unmarshal(msg.Payload(), &f); err != nil {
		t.log.Warn().Err(err).Msg("dropping malformed file frame")
		return
	}
	if err := f.validate(); err != nil {
		t.log.Warn().Err(err).Msg("dropping file frame")
		return
	}
	t.dispatch(func(h link.Handler) { t.assemble(h, &f) })
}

// assemble runs on the delivery goroutine.
func (t *Transport) assemble(h link.Handler, f *fileFrame) {
	if t.completed[f.ID] {
		// the ack may have been lost, answer again
		t.ack(f.Sender, f.ID, "")
		return
	}

	a := t.assembling[f.ID]
	if a == nil {
		a = &assembly{
			name:     filepath.Base(f.Name),
			metadata: f.Metadata,
			total:    f.Total,
			parts:    make(map[int][]byte, f.Total),
		}
		t.assembling[f.ID] = a
	}
	if f.Total != a.total {
		t.log.Warn().Str("id", f.ID).Int("total", f.Total).Int("want", a.total).Msg("dropping inconsistent file frame")
		return
	}
	a.parts[f.Seq] = f.Data
	if len(a.parts) < a.total {
		return
	}

	delete(t.assembling, f.ID)
	t.markCompleted(f.ID)

	path, err := t.writeStaged(f.ID, a)
	if err != nil {
		t.log.Error().Err(err).Str("id", f.ID).Msg("cannot stage received file")
		t.ack(f.Sender, f.ID, err.Error())
		return
	}

	t.log.Info().Str("id", f.ID).Str("name", a.name).Msg("file received")
	h.HandleFile(link.ReceivedFile{Path: path, SourceName: a.name, Metadata: a.metadata})
	t.ack(f.Sender, f.ID, "")
}

// markCompleted remembers id for answering resent frames. Only the last
// completedLimit ids are kept.
func (t *Transport) markCompleted(id string) {
	t.completed[id] = true
	t.doneOrder = append(t.doneOrder, id)
	if len(t.doneOrder) <= completedLimit {
		return
	}
	delete(t.completed, t.doneOrder[0])
	t.doneOrder = t.doneOrder[1:]
}

func (t *Transport) writeStaged(id string, a *assembly) (string, error) {
	if err := os.MkdirAll(t.opts.StagingDir, 0o755); err != nil {
		return "", fmt.Errorf("staging dir: %w", err)
	}
	name := a.name
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "file"
	}
	path := t.stagedPath(id, name)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	for i := 0; i < a.total; i++ {
		if _, err := out.Write(a.parts[i]); err != nil {
			out.Close()
			os.Remove(path)
			return "", fmt.Errorf("write: %w", err)
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close: %w", err)
	}
	return path, nil
}

// ack publishes the formal completion without waiting.
func (t *Transport) ack(sender, id, errText string) {
	client, ok := t.connected()
	if !ok || sender == "" {
		return
	}
	payload, _ := json.Marshal(ackFrame{ID: id, Error: errText})
	tok := client.Publish(t.topic(sender, kindAck), 1, false, payload)
	go func() {
		if tok.WaitTimeout(t.opts.PublishTimeout) && tok.Error() != nil {
			t.log.Warn().Err(tok.Error()).Str("id", id).Msg("ack publish failed")
		}
	}()
}
