// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package naming derives session file names and classifies stored
// recordings as practice, real or unsorted.
package naming

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultPrefix is prepended to the session start timestamp.
const DefaultPrefix = "address-collection-"

// LogExt is the extension of session logs.
const LogExt = ".csv"

// Folder names used on the receiving peer.
const (
	PracticeFolder = "PracticeSwings"
	RealFolder     = "RealSwings"
	// DefaultUnsortedFolder receives files without a known swing type,
	// which includes the whole address-detector stream.
	DefaultUnsortedFolder = "Address-Detection"
)

// SessionName returns prefix followed by the integer Unix time of start.
// Two sessions started within the same second collide.
func SessionName(prefix string, start time.Time) string {
	return prefix + strconv.FormatInt(start.Unix(), 10)
}

// SessionFileName is SessionName plus the log extension.
func SessionFileName(prefix string, start time.Time) string {
	return SessionName(prefix, start) + LogExt
}

// Classification is the swing type of a recording.
type Classification string

const (
	Unsorted Classification = ""
	Practice Classification = "practice"
	Real     Classification = "real"
)

// ParseClassification maps a swingType tag to a Classification. Anything
// other than "practice" or "real" is Unsorted and reported as not ok.
func ParseClassification(tag string) (Classification, bool) {
	switch Classification(strings.ToLower(strings.TrimSpace(tag))) {
	case Practice:
		return Practice, true
	case Real:
		return Real, true
	default:
		return Unsorted, false
	}
}

// String returns the tag, or "unsorted".
func (c Classification) String() string {
	if c == Unsorted {
		return "unsorted"
	}
	return string(c)
}

// Folder returns the destination folder for c. unsorted is used for
// Unsorted; an empty value falls back to DefaultUnsortedFolder.
func (c Classification) Folder(unsorted string) string {
	switch c {
	case Practice:
		return PracticeFolder
	case Real:
		return RealFolder
	default:
		if unsorted == "" {
			return DefaultUnsortedFolder
		}
		return unsorted
	}
}

// Classify infers the classification of a stored file from its path.
func Classify(path string) Classification {
	switch {
	case strings.Contains(path, PracticeFolder):
		return Practice
	case strings.Contains(path, RealFolder):
		return Real
	default:
		return Unsorted
	}
}

// Sorted groups recordings by classification.
type Sorted struct {
	Practice []string `json:"practice"`
	Real     []string `json:"real"`
	Unsorted []string `json:"unsorted"`
}

// Sort buckets paths by Classify, keeping their order.
func Sort(paths []string) Sorted {
	s := Sorted{Practice: []string{}, Real: []string{}, Unsorted: []string{}}
	for _, p := range paths {
		switch Classify(p) {
		case Practice:
			s.Practice = append(s.Practice, p)
		case Real:
			s.Real = append(s.Real, p)
		default:
			s.Unsorted = append(s.Unsorted, p)
		}
	}
	return s
}

// ListRecordings walks root and returns every file with extension ext,
// newest file name first. A missing root yields an empty list.
func ListRecordings(root, ext string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext == "" || strings.EqualFold(filepath.Ext(path), ext) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return filepath.Base(out[i]) > filepath.Base(out[j])
	})
	return out, nil
}
