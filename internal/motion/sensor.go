// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"errors"
	"time"
)

// ErrAlreadySubscribed is returned by Subscribe while a subscription is live.
var ErrAlreadySubscribed = errors.New("sensor already subscribed")

// Sensor is anything that can stream motion readings at a fixed interval.
//
// Readings are delivered in order on the returned channel from a single
// goroutine; the channel is closed after Unsubscribe.
type Sensor interface {
	Available() bool
	Subscribe(interval time.Duration) (<-chan Reading, error)
	Unsubscribe()
}
