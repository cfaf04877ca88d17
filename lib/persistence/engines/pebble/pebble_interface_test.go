package pebble

import (
	"testing"

	"github.com/ValentinKolb/edb/lib/persistence"
	ptesting "github.com/ValentinKolb/edb/lib/persistence/testing"
)

func Test(t *testing.T) {
	ptesting.RunCoordinatorTests(t, "Pebble", NewCoordinator, nil)
	ptesting.RunCoordinatorTests(t, "Pebble+Zstd", func() persistence.ICoordinator {
		return persistence.WithCompression(NewCoordinator(), persistence.CompressionZstd)
	}, persistence.Options{"cache_size": "1048576"})
}

func Benchmark(b *testing.B) {
	ptesting.RunCoordinatorBenchmarks(b, "Pebble", NewCoordinator, nil)
}
