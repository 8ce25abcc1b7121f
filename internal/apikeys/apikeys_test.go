package apikeys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	raw, display, err := Generate()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, Prefix))
	assert.True(t, strings.HasPrefix(raw, display))
	assert.Len(t, display, len(Prefix)+8)

	other, _, err := Generate()
	require.NoError(t, err)
	assert.NotEqual(t, raw, other)
}

func TestHashIsStableAndTrimmed(t *testing.T) {
	assert.Equal(t, Hash("vbk_abc"), Hash("  vbk_abc\n"))
	assert.NotEqual(t, Hash("vbk_abc"), Hash("vbk_abd"))
	assert.Len(t, Hash("x"), 64)
}

func TestLooks(t *testing.T) {
	assert.True(t, Looks("vbk_123"))
	assert.False(t, Looks("eyJhbGciOiJIUzI1NiJ9.e30.sig"))
	assert.False(t, Looks(""))
}
