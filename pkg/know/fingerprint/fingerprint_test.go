// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfIsStableAndSensitiveToContent(t *testing.T) {
	a := Of([]byte("aaa"))
	b := Of([]byte("aaa"))
	c := Of([]byte("bbb"))

	require.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, string(a), 32)
}

func TestTokenEstimate(t *testing.T) {
	assert.Equal(t, 1, TokenEstimate([]byte("aaaa")))
	assert.Equal(t, 2, TokenEstimate([]byte("aaaaa"))) // rounds up, not down
	assert.Equal(t, 2, TokenEstimate([]byte("aaa\n\nbb"))) // spec S1: 7 bytes -> 2
	assert.Equal(t, 0, TokenEstimate(nil))
}
