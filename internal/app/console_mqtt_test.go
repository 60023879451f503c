// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrintFrame(t *testing.T) {
	var buf bytes.Buffer
	at := time.Date(2026, 1, 2, 10, 4, 5, 120_000_000, time.UTC)

	printFrame(&buf, at, "shot/wrist/message", []byte(`{"cmd":"mark"}`))
	printFrame(&buf, at, "shot/phone/presence", []byte("online"))

	assert.Equal(t, "10:04:05.120 [MSG ] -> wrist mark\n10:04:05.120 [PRES] phone online\n", buf.String())
}
