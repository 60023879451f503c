// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package link keeps the wrist and phone peers in step: it mirrors the
// recording state, relays mark events and moves finished session logs from
// one peer to the other over a pluggable Transport.
package link

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrLinkUnavailable means the peer is unreachable or the link was never
	// activated. The send is dropped.
	ErrLinkUnavailable = errors.New("link unavailable")
	// ErrMalformedMessage is returned for control messages or file metadata
	// that cannot be understood.
	ErrMalformedMessage = errors.New("malformed link message")
	// ErrTransferAmbiguous is logged when a transfer reached 100% progress
	// but the transport never confirmed it.
	ErrTransferAmbiguous = errors.New("transfer completion not confirmed")
)

// CmdMark is the only command currently sent.
const CmdMark = "mark"

// Kind identifies a Message variant.
type Kind int

const (
	KindUnknown Kind = iota
	KindRecordState
	KindMark
)

func (k Kind) String() string {
	switch k {
	case KindRecordState:
		return "recordState"
	case KindMark:
		return "mark"
	default:
		return "unknown"
	}
}

// Message is a control message. Exactly one of RecordState or Cmd is set.
type Message struct {
	RecordState *bool  `json:"recordState,omitempty"`
	Cmd         string `json:"cmd,omitempty"`
}

// RecordStateChanged announces that recording started or stopped.
func RecordStateChanged(on bool) Message {
	return Message{RecordState: &on}
}

// MarkTriggered asks the wrist to open a mark window.
func MarkTriggered() Message {
	return Message{Cmd: CmdMark}
}

// Kind reports which variant m is.
func (m Message) Kind() Kind {
	switch {
	case m.RecordState != nil && m.Cmd == "":
		return KindRecordState
	case m.RecordState == nil && m.Cmd == CmdMark:
		return KindMark
	default:
		return KindUnknown
	}
}

func (m Message) String() string {
	if m.Kind() == KindRecordState {
		return fmt.Sprintf("recordState=%t", *m.RecordState)
	}
	return m.Kind().String()
}

// Encode renders m as JSON.
func (m Message) Encode() ([]byte, error) {
	if m.Kind() == KindUnknown {
		return nil, fmt.Errorf("%w: nothing to encode", ErrMalformedMessage)
	}
	return json.Marshal(m)
}

// DecodeMessage parses a control message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Kind() == KindUnknown {
		return Message{}, fmt.Errorf("%w: %s", ErrMalformedMessage, string(data))
	}
	return m, nil
}

// Metadata travels with a classified file.
type Metadata struct {
	FileName  string `json:"fileName"`
	SwingType string `json:"swingType,omitempty"`
}

// Validate checks that FileName is a bare file name.
func (m *Metadata) Validate() error {
	name := m.FileName
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: metadata without fileName", ErrMalformedMessage)
	case name == "." || name == "..":
		return fmt.Errorf("%w: invalid fileName %q", ErrMalformedMessage, name)
	case strings.ContainsAny(name, `/\`) || filepath.Base(name) != name:
		return fmt.Errorf("%w: fileName %q is not a bare name", ErrMalformedMessage, name)
	}
	return nil
}
