// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mqttlink carries link messages and files between peers through an
// MQTT broker.
//
// Each node owns <prefix>/<node>/{message,file,ack,presence}. Peers publish
// into the other node's message and file topics; the receiver answers a
// complete file on the sender's ack topic. Presence is retained and backed
// by the last will so a peer that drops off goes offline.
package mqttlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/shot_detector/internal/link"
)

const (
	DefaultPrefix         = "shot"
	DefaultChunkSize      = 32 * 1024
	DefaultPublishTimeout = 5 * time.Second

	inboxSize      = 256
	completedLimit = 128
)

var errClosed = errors.New("mqttlink: transport closed")

// Options configures a Transport.
type Options struct {
	Broker   string
	ClientID string

	Prefix string
	Node   string // this peer, e.g. "wrist"
	Peer   string // the other peer, e.g. "phone"

	// StagingDir receives inbound files before the handler moves them.
	StagingDir string

	ChunkSize      int
	PublishTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = DefaultPublishTimeout
	}
	if o.StagingDir == "" {
		o.StagingDir = os.TempDir()
	}
	return o
}

// brokerClient is the part of mqtt.Client the transport uses.
type brokerClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Transport implements link.Transport over MQTT.
type Transport struct {
	opts      Options
	log       zerolog.Logger
	newClient func(*mqtt.ClientOptions) brokerClient

	activateMu sync.Mutex

	mu       sync.Mutex
	client   brokerClient
	active   bool
	closed   bool
	outgoing map[string]*link.Transfer

	peerOnline atomic.Bool

	inbox chan func(link.Handler)
	stop  chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup

	// owned by the delivery goroutine
	assembling map[string]*assembly
	completed  map[string]bool
	doneOrder  []string // completed ids, oldest first
}

// New creates an inactive transport.
func New(opts Options, logger zerolog.Logger) *Transport {
	return newTransport(opts, logger, func(o *mqtt.ClientOptions) brokerClient {
		return mqtt.NewClient(o)
	})
}

func newTransport(opts Options, logger zerolog.Logger, newClient func(*mqtt.ClientOptions) brokerClient) *Transport {
	opts = opts.withDefaults()
	return &Transport{
		opts:       opts,
		log:        logger.With().Str("component", "mqttlink").Str("node", opts.Node).Logger(),
		newClient:  newClient,
		outgoing:   make(map[string]*link.Transfer),
		inbox:      make(chan func(link.Handler), inboxSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		assembling: make(map[string]*assembly),
		completed:  make(map[string]bool),
	}
}

func (t *Transport) topic(node, kind string) string {
	return topic(t.opts.Prefix, node, kind)
}

// Activate connects to the broker, subscribes to this node's topics and
// announces presence. A failed Activate closes the transport.
func (t *Transport) Activate(ctx context.Context, h link.Handler) error {
	t.activateMu.Lock()
	defer t.activateMu.Unlock()

	t.mu.Lock()
	closed, active := t.closed, t.active
	t.mu.Unlock()
	if closed {
		return errClosed
	}
	if active {
		return nil
	}
	if t.opts.Node == "" || t.opts.Peer == "" {
		return errors.New("mqttlink: node and peer names are required")
	}

	presence := t.topic(t.opts.Node, kindPresence)
	co := mqtt.NewClientOptions().
		AddBroker(t.opts.Broker).
		SetClientID(t.opts.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetWill(presence, presenceOffline, 1, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			t.log.Warn().Err(err).Msg("broker connection lost")
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			// runs on reconnect too; never wait on a token here
			c.Publish(presence, 1, true, presenceOnline)
		})

	client := t.newClient(co)
	if err := waitToken(ctx, client.Connect(), t.opts.PublishTimeout); err != nil {
		t.abort()
		return fmt.Errorf("mqttlink: connect %s: %w", t.opts.Broker, err)
	}
	t.log.Info().Str("broker", t.opts.Broker).Msg("connected to MQTT broker")

	t.mu.Lock()
	t.client = client
	t.active = true
	t.mu.Unlock()
	go t.deliver(h)

	subs := []struct {
		topic string
		cb    mqtt.MessageHandler
	}{
		{t.topic(t.opts.Peer, kindPresence), t.onPresence},
		{t.topic(t.opts.Node, kindAck), t.onAck},
		{t.topic(t.opts.Node, kindMessage), t.onMessage},
		{t.topic(t.opts.Node, kindFile), t.onFile},
	}
	for _, sub := range subs {
		if err := waitToken(ctx, client.Subscribe(sub.topic, 1, sub.cb), t.opts.PublishTimeout); err != nil {
			t.Close()
			return fmt.Errorf("mqttlink: subscribe %s: %w", sub.topic, err)
		}
		t.log.Debug().Str("topic", sub.topic).Msg("subscribed")
	}

	if err := waitToken(ctx, client.Publish(presence, 1, true, presenceOnline), t.opts.PublishTimeout); err != nil {
		t.log.Warn().Err(err).Msg("presence publish failed")
	}
	return nil
}

func (t *Transport) abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.stop)
	}
}

func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return errors.New("timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) connected() (brokerClient, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active || t.closed {
		return nil, false
	}
	return t.client, t.client.IsConnectionOpen()
}

// Reachable reports whether the broker connection is up and the peer
// announced itself online.
func (t *Transport) Reachable() bool {
	_, ok := t.connected()
	return ok && t.peerOnline.Load()
}

// SendMessage publishes m without waiting for the broker.
func (t *Transport) SendMessage(m link.Message) error {
	client, ok := t.connected()
	if !ok || !t.peerOnline.Load() {
		return link.ErrLinkUnavailable
	}
	data, err := m.Encode()
	if err != nil {
		return err
	}

	tok := client.Publish(t.topic(t.opts.Peer, kindMessage), 1, false, data)
	go func() {
		if tok.WaitTimeout(t.opts.PublishTimeout) && tok.Error() != nil {
			t.log.Warn().Err(tok.Error()).Stringer("msg", m).Msg("message publish failed")
		}
	}()
	return nil
}

// TransferFile publishes the file in chunks on a background goroutine.
// Progress advances as the broker accepts each chunk. The peer's ack
// finishes the transfer. The broker queues chunks for an offline peer, so
// only the broker connection is required.
func (t *Transport) TransferFile(tr *link.Transfer) error {
	client, ok := t.connected()
	if !ok {
		return link.ErrLinkUnavailable
	}

	t.mu.Lock()
	t.outgoing[tr.ID] = tr
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		if err := t.publishFile(client, tr); err != nil {
			t.mu.Lock()
			delete(t.outgoing, tr.ID)
			t.mu.Unlock()
			t.log.Warn().Err(err).Str("id", tr.ID).Msg("file publish failed")
			tr.Finish(err)
		}
	}()
	return nil
}

func (t *Transport) publishFile(client brokerClient, tr *link.Transfer) error {
	data, err := os.ReadFile(tr.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", tr.Path, err)
	}

	size := t.opts.ChunkSize
	total := (len(data) + size - 1) / size
	if total == 0 {
		total = 1
	}
	dest := t.topic(t.opts.Peer, kindFile)

	for seq := 0; seq < total; seq++ {
		select {
		case <-t.stop:
			return errClosed
		default:
		}

		lo := min(seq*size, len(data))
		hi := min(lo+size, len(data))
		payload, err := json.Marshal(fileFrame{
			ID:       tr.ID,
			Sender:   t.opts.Node,
			Name:     tr.Name(),
			Metadata: tr.Metadata,
			Seq:      seq,
			Total:    total,
			Data:     data[lo:hi],
		})
		if err != nil {
			return fmt.Errorf("encode chunk %d: %w", seq, err)
		}

		tok := client.Publish(dest, 1, false, payload)
		if !tok.WaitTimeout(t.opts.PublishTimeout) {
			return fmt.Errorf("chunk %d/%d: publish timed out", seq+1, total)
		}
		if err := tok.Error(); err != nil {
			return fmt.Errorf("chunk %d/%d: %w", seq+1, total, err)
		}
		tr.ReportProgress(float64(seq+1) / float64(total))
	}

	t.log.Debug().Str("id", tr.ID).Int("chunks", total).Int("bytes", len(data)).Msg("file published")
	return nil
}

// Close announces offline, stops delivery and disconnects.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	active, client := t.active, t.client
	t.mu.Unlock()

	close(t.stop)
	t.wg.Wait()
	if !active {
		return nil
	}
	<-t.done

	tok := client.Publish(t.topic(t.opts.Node, kindPresence), 1, true, presenceOffline)
	tok.WaitTimeout(t.opts.PublishTimeout)
	client.Disconnect(250)

	t.mu.Lock()
	pending := t.outgoing
	t.outgoing = map[string]*link.Transfer{}
	t.mu.Unlock()
	for _, tr := range pending {
		tr.Finish(errClosed)
	}
	t.log.Info().Msg("disconnected from MQTT broker")
	return nil
}

var _ link.Transport = (*Transport)(nil)

// stagedPath is where an inbound file is assembled.
func (t *Transport) stagedPath(id, name string) string {
	return filepath.Join(t.opts.StagingDir, id+"-"+name)
}
