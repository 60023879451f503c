// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mqttlink

import (
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// doneToken is an already completed mqtt.Token.
type doneToken struct {
	err error
}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                 { return t.err }

func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic    string
	payload  []byte
	retained bool
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return m.retained }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type subscription struct {
	filter string
	cb     mqtt.MessageHandler
}

// fakeBroker routes publishes between fake clients in order, on one
// goroutine, like a broker with a single connection per client.
type fakeBroker struct {
	mu       sync.Mutex
	subs     []subscription
	retained map[string][]byte
	queue    chan *fakeMessage

	// drop, when set, swallows matching publishes
	drop func(topic string, payload []byte) bool
}

func newFakeBroker() *fakeBroker {
	b := &fakeBroker{
		retained: make(map[string][]byte),
		queue:    make(chan *fakeMessage, 1024),
	}
	go b.run()
	return b
}

func (b *fakeBroker) run() {
	for m := range b.queue {
		b.mu.Lock()
		var cbs []mqtt.MessageHandler
		for _, s := range b.subs {
			if matches(s.filter, m.topic) {
				cbs = append(cbs, s.cb)
			}
		}
		b.mu.Unlock()
		for _, cb := range cbs {
			cb(nil, m)
		}
	}
}

func matches(filter, topic string) bool {
	if strings.HasSuffix(filter, "/#") {
		return strings.HasPrefix(topic, strings.TrimSuffix(filter, "#"))
	}
	return filter == topic
}

func (b *fakeBroker) publish(topic string, retained bool, payload []byte) {
	b.mu.Lock()
	drop := b.drop != nil && b.drop(topic, payload)
	if retained && !drop {
		b.retained[topic] = payload
	}
	b.mu.Unlock()
	if !drop {
		b.queue <- &fakeMessage{topic: topic, payload: payload, retained: retained}
	}
}

func (b *fakeBroker) setDrop(fn func(topic string, payload []byte) bool) {
	b.mu.Lock()
	b.drop = fn
	b.mu.Unlock()
}

func (b *fakeBroker) client() *fakeClient {
	return &fakeClient{broker: b}
}

type fakeClient struct {
	broker *fakeBroker

	mu   sync.Mutex
	open bool
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = append([]byte(nil), p...)
	case string:
		data = []byte(p)
	}
	c.broker.publish(topic, retained, data)
	return doneToken{}
}

func (c *fakeClient) Subscribe(filter string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	b := c.broker
	b.mu.Lock()
	b.subs = append(b.subs, subscription{filter: filter, cb: cb})
	var replay []*fakeMessage
	for tp, p := range b.retained {
		if matches(filter, tp) {
			replay = append(replay, &fakeMessage{topic: tp, payload: p, retained: true})
		}
	}
	b.mu.Unlock()
	for _, m := range replay {
		b.queue <- m
	}
	return doneToken{}
}
