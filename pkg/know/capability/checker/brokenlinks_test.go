// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package checker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBrokenLinksFindsMissingRelativeLink(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "core"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "core", "exists.md"), []byte("x"), 0o640))

	content := "See [a](exists.md) and [b](missing.md) and [site](https://example.com) and [anchor](#top)."
	out, err := runBrokenLinks(context.Background(), Input{Content: content, ContentRoot: root, SourcePath: "core/doc.md"})
	require.NoError(t, err)

	result := out.(Output)
	assert.Equal(t, 4, result.Links)
	require.Len(t, result.Broken, 1)
	assert.Equal(t, "missing.md", result.Broken[0].Target)
}

func TestRunBrokenLinksRejectsWrongInputType(t *testing.T) {
	_, err := runBrokenLinks(context.Background(), 42)
	require.Error(t, err)
}
