// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
}

func TestScanProducesLexicographicLayers(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/b.md", "bb")
	writeFile(t, root, "core/a.md", "aaa")
	writeFile(t, root, "guidelines/x.md", "x")
	writeFile(t, root, "core/notes.txt", "ignored, not markdown")

	ix := New(root)
	snap, err := ix.Scan(context.Background())
	require.NoError(t, err)

	files := snap.Files("core")
	require.Len(t, files, 2)
	assert.Equal(t, "core/a.md", files[0].RelPath)
	assert.Equal(t, "core/b.md", files[1].RelPath)

	assert.Len(t, snap.Files("guidelines"), 1)
	assert.Equal(t, snap, ix.Current())
}

func TestScanIsSingleFlight(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/a.md", "aaa")
	ix := New(root)

	done := make(chan struct{})
	go func() {
		_, _ = ix.Scan(context.Background())
		close(done)
	}()
	snap, err := ix.Scan(context.Background())
	<-done
	require.NoError(t, err)
	assert.NotNil(t, snap)
}

func TestFingerprintChangesWithContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/a.md", "v1")
	ix := New(root)
	snap1, err := ix.Scan(context.Background())
	require.NoError(t, err)
	fp1 := snap1.Files("core")[0].Fingerprint

	writeFile(t, root, "core/a.md", "v2, different length")
	snap2, err := ix.Scan(context.Background())
	require.NoError(t, err)
	fp2 := snap2.Files("core")[0].Fingerprint

	assert.NotEqual(t, fp1, fp2)
}
