package wager

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWinnerTokenShape(t *testing.T) {
	token, err := NewWinnerToken()
	require.NoError(t, err)

	require.Len(t, token, tokenLength+1)
	assert.True(t, strings.HasPrefix(token, "T"))
	for _, c := range token[1:] {
		assert.Contains(t, tokenAlphabet, string(c))
	}
}

func TestNewWinnerTokenIsUniqueEnough(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		token, err := NewWinnerToken()
		require.NoError(t, err)
		require.False(t, seen[token], "duplicate token %s", token)
		seen[token] = true
	}
}
