// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package csvlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/relabs-tech/shot_detector/internal/motion"
)

// ErrFormat is returned when a file is not a session log.
var ErrFormat = errors.New("not a session log")

const columns = 17

// Record is one parsed row.
type Record struct {
	Sample motion.Sample
	Marked bool

	// Magnitudes as printed in the file.
	AccelMag float64
	RotMag   float64
}

// ReadFile parses a session log written by Writer.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses a session log from r.
func Read(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = columns
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}
	if strings.Join(header, ",") != Header {
		return nil, fmt.Errorf("%w: unexpected header %q", ErrFormat, strings.Join(header, ","))
	}

	var out []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
		}
		out = append(out, rec)
	}
}

func parseRow(row []string) (Record, error) {
	var v [columns - 1]float64
	for i := range v {
		f, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			return Record{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		v[i] = f
	}

	var marked bool
	switch row[columns-1] {
	case "0":
	case "1":
		marked = true
	default:
		return Record{}, fmt.Errorf("isAddr must be 0 or 1, got %q", row[columns-1])
	}

	s := motion.Sample{
		Time:  v[0],
		Accel: motion.Vec3{X: v[1], Y: v[2], Z: v[3]},
		Rot:   motion.Vec3{X: v[5], Y: v[6], Z: v[7]},
		Roll:  v[9],
		Pitch: v[10],
		Yaw:   v[11],
	}
	s.Quat.W, s.Quat.X, s.Quat.Y, s.Quat.Z = v[12], v[13], v[14], v[15]

	return Record{Sample: s, Marked: marked, AccelMag: v[4], RotMag: v[8]}, nil
}
