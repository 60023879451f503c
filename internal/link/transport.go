// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package link

import "context"

// ReceivedFile is a file staged by a transport. The handler owns Path.
type ReceivedFile struct {
	Path       string
	SourceName string    // file name on the sender
	Metadata   *Metadata // nil when the sender attached none
}

// Handler receives inbound events. A transport calls it from a single
// goroutine, one event at a time.
type Handler interface {
	HandleMessage(Message)
	HandleFile(ReceivedFile)
}

// Transport moves messages and files to the peer.
type Transport interface {
	// Activate connects and starts delivering inbound events to h.
	Activate(ctx context.Context, h Handler) error
	// Reachable reports whether the peer is believed to be online.
	Reachable() bool
	// SendMessage is best effort and does not wait for the peer.
	SendMessage(Message) error
	// TransferFile queues t. Progress and completion are reported on t.
	TransferFile(t *Transfer) error
	Close() error
}
