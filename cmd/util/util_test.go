package util

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "", WrapString("   "))
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions([]string{"compression=zstd", "cache_size=64", "sync=true", "path=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, persistence.Options{
		"compression": "zstd",
		"cache_size":  64,
		"sync":        true,
		"path":        "a=b",
		"empty":       "",
	}, opts)

	_, err = ParseOptions([]string{"novalue"})
	assert.Error(t, err)
	_, err = ParseOptions([]string{"=x"})
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "hello", FormatBytes([]byte("hello")))
	assert.Equal(t, "0xff00", FormatBytes([]byte{0xff, 0x00}))
}
