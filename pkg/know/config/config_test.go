// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowctl/knowctl/pkg/know/index"
	"github.com/knowctl/knowctl/pkg/know/selector"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)

	s := Default(dir)
	s.Loading.Triggers = []TriggerSettings{
		{Name: "debugging", Keywords: []string{"bug", "crash"}, Layers: []string{"debug"}, Priority: "high"},
	}

	require.NoError(t, Save(s, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.ContentRoot, loaded.ContentRoot)
	assert.Equal(t, s.Cache.MaxEntries, loaded.Cache.MaxEntries)
	require.Len(t, loaded.Loading.Triggers, 1)
	assert.Equal(t, "debugging", loaded.Loading.Triggers[0].Name)
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)

	s := Default(dir)
	s.Version = "99"
	require.NoError(t, Save(s, path))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	require.NoError(t, Save(Default(dir), path))

	t.Setenv("KNOWCTL_CONTENT_ROOT", "/override/root")
	t.Setenv("KNOWCTL_MAX_TOKENS", "4096")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/override/root", loaded.ContentRoot)
	assert.Equal(t, 4096, loaded.Loading.MaxTokens)
}

func TestBuildWiresCollaboratorsAndTriggers(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "core"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "core", "a.md"), []byte("x"), 0o640))

	s := Default(root)
	s.Loading.Triggers = []TriggerSettings{
		{Name: "debugging", Pattern: `(?i)bug`, Layers: []string{"debug"}, Priority: "high"},
	}

	rt, err := Build(s, nil)
	require.NoError(t, err)

	require.NotNil(t, rt.Index)
	require.NotNil(t, rt.Cache)
	require.NotNil(t, rt.Breakers)
	require.NotNil(t, rt.Fallback)
	require.NotNil(t, rt.Timeouts)
	require.NotNil(t, rt.Layer)
	require.NotNil(t, rt.Bus)
	require.Len(t, rt.Triggers, 1)
	assert.Equal(t, selector.PriorityHigh, rt.Triggers[0].Priority)
	assert.True(t, rt.Triggers[0].Matches("there is a bug"))
	assert.Equal(t, []index.LayerID{"core"}, rt.Default)

	ld := rt.NewLoader()
	require.NotNil(t, ld)
}

func TestBuildRejectsInvalidTriggerPattern(t *testing.T) {
	s := Default(t.TempDir())
	s.Loading.Triggers = []TriggerSettings{{Name: "bad", Pattern: "(unclosed"}}

	_, err := Build(s, nil)
	assert.Error(t, err)
}
