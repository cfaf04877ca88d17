package testing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/edb/lib/persistence"
)

// RunCoordinatorBenchmarks runs all benchmarks for a storage engine.
func RunCoordinatorBenchmarks(b *testing.B, name string, factory CoordinatorFactory, opts persistence.Options) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			benchmarkPut(b, factory(), opts)
		})

		b.Run("PutLargeValue", func(b *testing.B) {
			benchmarkPutLargeValue(b, factory(), opts)
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory(), opts)
		})

		b.Run("Get(not)", func(b *testing.B) {
			benchmarkGetMissing(b, factory(), opts)
		})

		b.Run("Iterate", func(b *testing.B) {
			benchmarkIterate(b, factory(), opts)
		})

		b.Run("WriteAndClose", func(b *testing.B) {
			benchmarkWriteAndClose(b, factory(), opts)
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

const benchShardSize = 10000

func benchDocs(n int, valueSize int) []persistence.Document {
	value := make([]byte, valueSize)
	rand.New(rand.NewSource(42)).Read(value)

	docs := make([]persistence.Document, n)
	for i := range docs {
		docs[i] = persistence.Document{Key: []byte(fmt.Sprintf("key-%08d", i)), Value: value}
	}
	return docs
}

func benchmarkPut(b *testing.B, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(b, coord, persistence.FeaturePut)

	p, err := coord.CreatePersistence(shardDir(b), opts)
	if err != nil {
		b.Fatalf("CreatePersistence failed: %v", err)
	}
	b.Cleanup(func() { _ = p.Close() })

	value := []byte("benchmark-value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := p.Index(persistence.Document{Key: []byte(fmt.Sprintf("key-%d", i)), Value: value}); err != nil {
			b.Fatalf("Index failed: %v", err)
		}
	}
}

func benchmarkPutLargeValue(b *testing.B, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(b, coord, persistence.FeaturePut)

	p, err := coord.CreatePersistence(shardDir(b), opts)
	if err != nil {
		b.Fatalf("CreatePersistence failed: %v", err)
	}
	b.Cleanup(func() { _ = p.Close() })

	value := make([]byte, 64*1024)
	b.SetBytes(int64(len(value)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := p.Index(persistence.Document{Key: []byte(fmt.Sprintf("key-%d", i%1000)), Value: value}); err != nil {
			b.Fatalf("Index failed: %v", err)
		}
	}
}

func benchmarkGet(b *testing.B, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(b, coord, persistence.FeatureGet)

	docs := benchDocs(benchShardSize, 100)
	path := shardDir(b)
	writeShard(b, coord, path, opts, docs...)
	r := openKV(b, coord, path, opts)
	b.Cleanup(func() { _ = r.Close() })

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, ok, err := r.Get(docs[i%len(docs)].Key); err != nil || !ok {
				b.Errorf("Get failed: ok=%v err=%v", ok, err)
				return
			}
			i++
		}
	})
}

func benchmarkGetMissing(b *testing.B, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(b, coord, persistence.FeatureGet)

	path := shardDir(b)
	writeShard(b, coord, path, opts, benchDocs(benchShardSize, 100)...)
	r := openKV(b, coord, path, opts)
	b.Cleanup(func() { _ = r.Close() })

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok, _ := r.Get([]byte(fmt.Sprintf("missing-%d", i))); ok {
			b.Fatalf("unexpected hit")
		}
	}
}

func benchmarkIterate(b *testing.B, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(b, coord, persistence.FeatureIterate)

	path := shardDir(b)
	writeShard(b, coord, path, opts, benchDocs(benchShardSize, 100)...)
	p, err := coord.OpenForRead(path, opts)
	if err != nil {
		b.Fatalf("OpenForRead failed: %v", err)
	}
	b.Cleanup(func() { _ = p.Close() })

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if n := len(readAll(b, p)); n != benchShardSize {
			b.Fatalf("expected %d documents, got %d", benchShardSize, n)
		}
	}
}

// benchmarkWriteAndClose measures a full shard build including the backend
// maintenance done on Close.
func benchmarkWriteAndClose(b *testing.B, coord persistence.ICoordinator, opts persistence.Options) {
	docs := benchDocs(1000, 100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		writeShard(b, coord, shardDir(b), opts, docs...)
	}
}
