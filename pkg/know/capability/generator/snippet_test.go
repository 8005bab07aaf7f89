// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package generator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSnippetRendersTemplateWithParams(t *testing.T) {
	out, err := runSnippet(context.Background(), Input{
		Name:   "greeting",
		Body:   "Hello, {{.Name}}! You are working on {{.Layer}}.",
		Params: map[string]any{"Name": "Ada", "Layer": "core"},
	})
	require.NoError(t, err)

	result := out.(Output)
	assert.Equal(t, "Hello, Ada! You are working on core.", result.Rendered)
}

func TestRunSnippetFailsOnMissingParam(t *testing.T) {
	_, err := runSnippet(context.Background(), Input{
		Body:   "{{.Missing}}",
		Params: map[string]any{},
	})
	require.Error(t, err)
}

func TestRunSnippetFailsOnMalformedTemplate(t *testing.T) {
	_, err := runSnippet(context.Background(), Input{Body: "{{.Unclosed"})
	require.Error(t, err)
}

func TestRunSnippetRejectsWrongInputType(t *testing.T) {
	_, err := runSnippet(context.Background(), "nope")
	require.Error(t, err)
}
