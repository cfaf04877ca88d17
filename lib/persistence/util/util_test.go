package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashStringMatchesHashBytes(t *testing.T) {
	for _, s := range []string{"", "a", "domain/shard/42", "\x00\xff"} {
		assert.Equal(t, HashString(s, 7), HashBytes([]byte(s), 7), "input %q", s)
	}
	assert.NotEqual(t, HashString("key", 1), HashString("key", 2), "seed must change the hash")
}

func TestDistributionStats(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10, 10})
	assert.InDelta(t, 1.0, even.DistributionQuality, 1e-9)
	assert.Equal(t, 10.0, even.Mean)

	skewed := NewDistributionStats([]float64{0, 0, 0, 40})
	assert.Less(t, skewed.DistributionQuality, 0.5)
	assert.Equal(t, 0.0, skewed.Min)
	assert.Equal(t, 40.0, skewed.Max)

	assert.Equal(t, DistributionStats{}.Stats, NewStats(nil))
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	assert.Equal(t, 0, h.MedianEstimate())

	for i := 0; i < 90; i++ {
		h.AddSample(10)
	}
	for i := 0; i < 10; i++ {
		h.AddSample(100000)
	}

	assert.Equal(t, int64(100), h.Count())
	assert.Equal(t, int64(90*10+10*100000), h.Sum())
	assert.Equal(t, 8, h.MedianEstimate())
	assert.Greater(t, h.PercentileEstimate(99), 65536)
	assert.Equal(t, 0, h.PercentileEstimate(101))
}

func TestDecodeOptions(t *testing.T) {
	var o struct {
		CacheSize int64         `mapstructure:"cache_size"`
		Sync      bool          `mapstructure:"sync_writes"`
		Interval  time.Duration `mapstructure:"interval"`
	}
	err := DecodeOptions(map[string]any{
		"cache_size":  "1024",
		"sync_writes": "true",
		"interval":    "2s",
		"compression": "zstd",
	}, &o)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), o.CacheSize)
	assert.True(t, o.Sync)
	assert.Equal(t, 2*time.Second, o.Interval)

	err = DecodeOptions(map[string]any{"cache_size": "lots"}, &o)
	assert.Error(t, err)
}
