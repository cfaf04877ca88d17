package maple

import (
	"testing"

	"github.com/ValentinKolb/edb/lib/persistence"
	ptesting "github.com/ValentinKolb/edb/lib/persistence/testing"
)

func Test(t *testing.T) {
	ptesting.RunCoordinatorTests(t, "Maple", NewCoordinator, nil)
	ptesting.RunCoordinatorTests(t, "Maple+Snappy", func() persistence.ICoordinator {
		return persistence.WithCompression(NewCoordinator(), persistence.CompressionSnappy)
	}, nil)
}

func Benchmark(b *testing.B) {
	ptesting.RunCoordinatorBenchmarks(b, "Maple", NewCoordinator, persistence.Options{"sync_writes": false})
}
