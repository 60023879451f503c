// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package naming

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionName(t *testing.T) {
	start := time.Unix(1000, 0)
	assert.Equal(t, "address-collection-1000", SessionName(DefaultPrefix, start))
	assert.Equal(t, "address-collection-1000.csv", SessionFileName(DefaultPrefix, start))

	// sub-second part is dropped
	assert.Equal(t, "s-1000", SessionName("s-", time.Unix(1000, 999_000_000)))
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		tag  string
		want Classification
		ok   bool
	}{
		{"practice", Practice, true},
		{"real", Real, true},
		{" Real ", Real, true},
		{"", Unsorted, false},
		{"warmup", Unsorted, false},
	}
	for _, tt := range tests {
		got, ok := ParseClassification(tt.tag)
		assert.Equal(t, tt.want, got, tt.tag)
		assert.Equal(t, tt.ok, ok, tt.tag)
	}
}

func TestClassification_Folder(t *testing.T) {
	assert.Equal(t, PracticeFolder, Practice.Folder(""))
	assert.Equal(t, RealFolder, Real.Folder("x"))
	assert.Equal(t, DefaultUnsortedFolder, Unsorted.Folder(""))
	assert.Equal(t, "Inbox", Unsorted.Folder("Inbox"))
	assert.Equal(t, "unsorted", Unsorted.String())
	assert.Equal(t, "practice", Practice.String())
}

func TestSort(t *testing.T) {
	paths := []string{
		"/docs/PracticeSwings/a.csv",
		"/docs/RealSwings/b.csv",
		"/docs/Address-Detection/c.csv",
		"/docs/d.csv",
		"/docs/PracticeSwings/e.csv",
	}
	s := Sort(paths)
	assert.Equal(t, []string{"/docs/PracticeSwings/a.csv", "/docs/PracticeSwings/e.csv"}, s.Practice)
	assert.Equal(t, []string{"/docs/RealSwings/b.csv"}, s.Real)
	assert.Equal(t, []string{"/docs/Address-Detection/c.csv", "/docs/d.csv"}, s.Unsorted)

	empty := Sort(nil)
	assert.NotNil(t, empty.Practice)
	assert.Empty(t, empty.Real)
}

func TestListRecordings(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{
		"PracticeSwings/address-collection-1700000001.csv",
		"RealSwings/address-collection-1700000003.csv",
		"Address-Detection/address-collection-1700000002.csv",
		"Address-Detection/notes.txt",
	} {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	}

	got, err := ListRecordings(root, LogExt)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "address-collection-1700000003.csv", filepath.Base(got[0]))
	assert.Equal(t, "address-collection-1700000002.csv", filepath.Base(got[1]))
	assert.Equal(t, "address-collection-1700000001.csv", filepath.Base(got[2]))

	s := Sort(got)
	assert.Len(t, s.Practice, 1)
	assert.Len(t, s.Real, 1)
	assert.Len(t, s.Unsorted, 1)
}

func TestListRecordings_MissingRoot(t *testing.T) {
	got, err := ListRecordings(filepath.Join(t.TempDir(), "nope"), LogExt)
	require.NoError(t, err)
	assert.Empty(t, got)
}
