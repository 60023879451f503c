// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mqttlink

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relabs-tech/shot_detector/internal/link"
)

// Topic kinds under <prefix>/<node>/.
const (
	kindMessage  = "message"
	kindFile     = "file"
	kindAck      = "ack"
	kindPresence = "presence"
)

const (
	presenceOnline  = "online"
	presenceOffline = "offline"
)

// fileFrame is one chunk of a file. Data is base64 in JSON.
type fileFrame struct {
	ID       string         `json:"id"`
	Sender   string         `json:"sender"`
	Name     string         `json:"name"`
	Metadata *link.Metadata `json:"metadata,omitempty"`
	Seq      int            `json:"seq"`
	Total    int            `json:"total"`
	Data     []byte         `json:"data"`
}

func (f *fileFrame) validate() error {
	switch {
	case f.ID == "":
		return fmt.Errorf("%w: file frame without id", link.ErrMalformedMessage)
	case f.Total <= 0 || f.Seq < 0 || f.Seq >= f.Total:
		return fmt.Errorf("%w: file frame %s seq %d of %d", link.ErrMalformedMessage, f.ID, f.Seq, f.Total)
	}
	return nil
}

// ackFrame confirms a fully received file.
type ackFrame struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

func topic(prefix, node, kind string) string {
	return prefix + "/" + node + "/" + kind
}

// splitTopic returns node and kind of a link topic.
func splitTopic(t string) (node, kind string, ok bool) {
	parts := strings.Split(t, "/")
	if len(parts) < 3 {
		return "", "", false
	}
	return parts[len(parts)-2], parts[len(parts)-1], true
}

// Describe renders a link frame as one line for the console.
func Describe(topic string, payload []byte) string {
	node, kind, ok := splitTopic(topic)
	if !ok {
		return fmt.Sprintf("[?] %s %d bytes", topic, len(payload))
	}

	switch kind {
	case kindMessage:
		m, err := link.DecodeMessage(payload)
		if err != nil {
			return fmt.Sprintf("[MSG ] -> %s malformed: %v", node, err)
		}
		return fmt.Sprintf("[MSG ] -> %s %s", node, m)

	case kindFile:
		var f fileFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			return fmt.Sprintf("[FILE] -> %s malformed: %v", node, err)
		}
		swing := "-"
		if f.Metadata != nil && f.Metadata.SwingType != "" {
			swing = f.Metadata.SwingType
		}
		return fmt.Sprintf("[FILE] -> %s from=%s id=%s name=%s swing=%s chunk=%d/%d bytes=%d",
			node, f.Sender, f.ID, f.Name, swing, f.Seq+1, f.Total, len(f.Data))

	case kindAck:
		var a ackFrame
		if err := json.Unmarshal(payload, &a); err != nil {
			return fmt.Sprintf("[ACK ] -> %s malformed: %v", node, err)
		}
		if a.Error != "" {
			return fmt.Sprintf("[ACK ] -> %s id=%s error=%q", node, a.ID, a.Error)
		}
		return fmt.Sprintf("[ACK ] -> %s id=%s ok", node, a.ID)

	case kindPresence:
		return fmt.Sprintf("[PRES] %s %s", node, string(payload))
	}
	return fmt.Sprintf("[?] %s %d bytes", topic, len(payload))
}
