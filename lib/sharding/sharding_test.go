package sharding

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/persistence/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashModKnownValues(t *testing.T) {
	// md5("hello") = 5d41402abc4b2a76b9719d911017c592, 2^128 is divisible
	// by 4 and 16, so the residues are given by the low bits
	s := HashMod{}
	assert.Equal(t, 0x92%4, s.ShardIndex([]byte("hello"), 4))
	assert.Equal(t, 0x2, s.ShardIndex([]byte("hello"), 16))
	assert.Equal(t, 0, s.ShardIndex([]byte("hello"), 1))
}

func TestSchemes(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			s, err := Lookup(kind)
			require.NoError(t, err)
			assert.Equal(t, kind, s.Kind())

			for _, n := range []int{1, 3, 4, 7, 64} {
				counts := make([]float64, n)
				for i := 0; i < 1000*n; i++ {
					key := []byte(fmt.Sprintf("key-%d", i))
					idx := s.ShardIndex(key, n)
					require.True(t, idx >= 0 && idx < n, "index %d out of range for %d shards", idx, n)
					require.Equal(t, idx, s.ShardIndex(key, n), "scheme must be deterministic")
					counts[idx]++
				}

				for i, c := range counts {
					assert.NotZero(t, c, "shard %d of %d never chosen", i, n)
				}
				stats := util.NewDistributionStats(counts)
				assert.Greater(t, stats.DistributionQuality, 0.8, "distribution over %d shards too uneven: %+v", n, stats)
			}
		})
	}
}

func TestUnknownScheme(t *testing.T) {
	_, err := Lookup("consistent")
	assert.True(t, errors.Is(err, errs.ErrInvalidSpec))
}
