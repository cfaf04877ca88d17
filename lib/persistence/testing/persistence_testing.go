package testing

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/persistence"
)

// CoordinatorFactory creates the coordinator under test.
type CoordinatorFactory func() persistence.ICoordinator

// RunCoordinatorTests runs the conformance suite for a coordinator. opts are
// passed to every open call (use nil for the engine defaults).
func RunCoordinatorTests(t *testing.T, name string, factory CoordinatorFactory, opts persistence.Options) {
	t.Run(name, func(t *testing.T) {
		t.Run("Create&Get", func(t *testing.T) {
			testCreateGet(t, factory(), opts)
		})

		t.Run("ReadMissingShard", func(t *testing.T) {
			testReadMissingShard(t, factory(), opts)
		})

		t.Run("EmptyShard", func(t *testing.T) {
			testEmptyShard(t, factory(), opts)
		})

		t.Run("Upsert", func(t *testing.T) {
			testUpsert(t, factory(), opts)
		})

		t.Run("Append", func(t *testing.T) {
			testAppend(t, factory(), opts)
		})

		t.Run("CreateDiscardsOldState", func(t *testing.T) {
			testCreateDiscardsOldState(t, factory(), opts)
		})

		t.Run("Iterate", func(t *testing.T) {
			testIterate(t, factory(), opts)
		})

		t.Run("IteratorEarlyClose", func(t *testing.T) {
			testIteratorEarlyClose(t, factory(), opts)
		})

		t.Run("BinaryData", func(t *testing.T) {
			testBinaryData(t, factory(), opts)
		})

		t.Run("ReadOnlyRejectsWrites", func(t *testing.T) {
			testReadOnlyRejectsWrites(t, factory(), opts)
		})

		t.Run("GetReturnsCopy", func(t *testing.T) {
			testGetReturnsCopy(t, factory(), opts)
		})

		t.Run("ConcurrentReads", func(t *testing.T) {
			testConcurrentReads(t, factory(), opts)
		})

		t.Run("Updaters", func(t *testing.T) {
			testUpdaters(t, factory(), opts)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the engine supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, coord persistence.ICoordinator, feature persistence.Feature) {
	if !coord.SupportsFeature(feature) {
		t.Skip()
	}
}

func shardDir(t testing.TB) string {
	return filepath.Join(t.TempDir(), "0")
}

// writeShard creates a shard at path holding docs and closes it.
func writeShard(t testing.TB, coord persistence.ICoordinator, path string, opts persistence.Options, docs ...persistence.Document) {
	t.Helper()
	p, err := coord.CreatePersistence(path, opts)
	if err != nil {
		t.Fatalf("CreatePersistence failed: %v", err)
	}
	for _, doc := range docs {
		if err := p.Index(doc); err != nil {
			t.Fatalf("Index(%s) failed: %v", doc, err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func openKV(t testing.TB, coord persistence.ICoordinator, path string, opts persistence.Options) persistence.IKeyValPersistence {
	t.Helper()
	p, err := coord.OpenForRead(path, opts)
	if err != nil {
		t.Fatalf("OpenForRead failed: %v", err)
	}
	kv, ok := p.(persistence.IKeyValPersistence)
	if !ok {
		t.Fatalf("persistence %T does not implement IKeyValPersistence", p)
	}
	return kv
}

func readAll(t testing.TB, p persistence.IPersistence) []persistence.Document {
	t.Helper()
	it, err := p.Iterator()
	if err != nil {
		t.Fatalf("Iterator failed: %v", err)
	}
	var docs []persistence.Document
	for doc, err := range persistence.All(it) {
		if err != nil {
			t.Fatalf("iteration failed: %v", err)
		}
		docs = append(docs, doc)
	}
	return docs
}

func doc(k, v string) persistence.Document {
	return persistence.Document{Key: []byte(k), Value: []byte(v)}
}

func expectValue(t testing.TB, kv persistence.IKeyValPersistence, key string, want string) {
	t.Helper()
	got, ok, err := kv.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if !ok {
		t.Errorf("Expected key %q to exist", key)
		return
	}
	if string(got) != want {
		t.Errorf("Expected value %q for key %q, got %q", want, key, got)
	}
}

func expectMissing(t testing.TB, kv persistence.IKeyValPersistence, key string) {
	t.Helper()
	got, ok, err := kv.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if ok {
		t.Errorf("Expected key %q to be missing, got %q", key, got)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testCreateGet(t *testing.T, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(t, coord, persistence.FeatureGet|persistence.FeaturePut)

	path := shardDir(t)
	p, err := coord.CreatePersistence(path, opts)
	if err != nil {
		t.Fatalf("CreatePersistence failed: %v", err)
	}
	kv := p.(persistence.IKeyValPersistence)

	if err := kv.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := kv.Index(doc("b", "2")); err != nil {
		t.Fatalf("Index failed: %v", err)
	}

	// reads on a write handle see the pending writes
	expectValue(t, kv, "a", "1")
	expectValue(t, kv, "b", "2")

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r := openKV(t, coord, path, opts)
	defer r.Close()

	expectValue(t, r, "a", "1")
	expectValue(t, r, "b", "2")
	expectMissing(t, r, "c")
}

func testReadMissingShard(t *testing.T, coord persistence.ICoordinator, opts persistence.Options) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	_, err := coord.OpenForRead(missing, opts)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected NotFound for missing shard, got %v", err)
	}
	if _, statErr := os.Stat(missing); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("OpenForRead must not create %s", missing)
	}

	empty := t.TempDir()
	_, err = coord.OpenForRead(empty, opts)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected NotFound for empty shard directory, got %v", err)
	}

	unrelated := t.TempDir()
	if err := os.WriteFile(filepath.Join(unrelated, "README"), []byte("not a shard"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	_, err = coord.OpenForRead(unrelated, opts)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected NotFound for directory without engine state, got %v", err)
	}

	file := filepath.Join(t.TempDir(), "shard")
	if err := os.WriteFile(file, []byte("not a shard"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	_, err = coord.OpenForRead(file, opts)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected NotFound for a regular file, got %v", err)
	}
}

func testEmptyShard(t *testing.T, coord persistence.ICoordinator, opts persistence.Options) {
	path := shardDir(t)
	writeShard(t, coord, path, opts)

	p, err := coord.OpenForRead(path, opts)
	if err != nil {
		t.Fatalf("OpenForRead of empty shard failed: %v", err)
	}
	defer p.Close()

	if docs := readAll(t, p); len(docs) != 0 {
		t.Errorf("Expected empty shard, got %d documents", len(docs))
	}
}

func testUpsert(t *testing.T, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(t, coord, persistence.FeatureGet|persistence.FeatureIterate)

	path := shardDir(t)
	writeShard(t, coord, path, opts, doc("k", "old"), doc("k", "new"))

	r := openKV(t, coord, path, opts)
	defer r.Close()

	expectValue(t, r, "k", "new")
	if docs := readAll(t, r); len(docs) != 1 {
		t.Errorf("Expected 1 document after upsert, got %d", len(docs))
	}
}

func testAppend(t *testing.T, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(t, coord, persistence.FeatureGet)

	path := shardDir(t)
	writeShard(t, coord, path, opts, doc("a", "1"), doc("b", "2"))

	p, err := coord.OpenForAppend(path, opts)
	if err != nil {
		t.Fatalf("OpenForAppend failed: %v", err)
	}
	if err := p.Index(doc("b", "3")); err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if err := p.Index(doc("c", "4")); err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r := openKV(t, coord, path, opts)
	defer r.Close()

	expectValue(t, r, "a", "1")
	expectValue(t, r, "b", "3")
	expectValue(t, r, "c", "4")

	// append on a path without state allocates a new shard
	fresh := shardDir(t)
	p, err = coord.OpenForAppend(fresh, opts)
	if err != nil {
		t.Fatalf("OpenForAppend on new path failed: %v", err)
	}
	if err := p.Index(doc("x", "y")); err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	r2 := openKV(t, coord, fresh, opts)
	defer r2.Close()
	expectValue(t, r2, "x", "y")
}

func testCreateDiscardsOldState(t *testing.T, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(t, coord, persistence.FeatureGet)

	path := shardDir(t)
	writeShard(t, coord, path, opts, doc("old", "1"))
	writeShard(t, coord, path, opts, doc("new", "2"))

	r := openKV(t, coord, path, opts)
	defer r.Close()

	expectMissing(t, r, "old")
	expectValue(t, r, "new", "2")
}

func testIterate(t *testing.T, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(t, coord, persistence.FeatureIterate)

	const n = 1000
	docs := make([]persistence.Document, n)
	for i := range docs {
		docs[i] = doc(fmt.Sprintf("key-%04d", i), fmt.Sprintf("value-%d", i))
	}

	path := shardDir(t)
	writeShard(t, coord, path, opts, docs...)

	p, err := coord.OpenForRead(path, opts)
	if err != nil {
		t.Fatalf("OpenForRead failed: %v", err)
	}
	defer p.Close()

	got := readAll(t, p)
	if len(got) != n {
		t.Fatalf("Expected %d documents, got %d", n, len(got))
	}

	seen := make(map[string]string, n)
	for _, d := range got {
		seen[string(d.Key)] = string(d.Value)
	}
	for _, d := range docs {
		if v, ok := seen[string(d.Key)]; !ok || v != string(d.Value) {
			t.Errorf("Document %s missing or wrong in iteration (got %q)", d, v)
		}
	}
}

func testIteratorEarlyClose(t *testing.T, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(t, coord, persistence.FeatureIterate)

	path := shardDir(t)
	writeShard(t, coord, path, opts, doc("a", "1"), doc("b", "2"), doc("c", "3"))

	p, err := coord.OpenForRead(path, opts)
	if err != nil {
		t.Fatalf("OpenForRead failed: %v", err)
	}

	it, err := p.Iterator()
	if err != nil {
		t.Fatalf("Iterator failed: %v", err)
	}
	if !it.Next() {
		t.Fatalf("Expected at least one document")
	}
	if err := it.Close(); err != nil {
		t.Errorf("early Close failed: %v", err)
	}
	if err := it.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if it.Next() {
		t.Errorf("Next after Close must return false")
	}

	// breaking out of All releases the cursor as well
	it, err = p.Iterator()
	if err != nil {
		t.Fatalf("Iterator failed: %v", err)
	}
	for _, err := range persistence.All(it) {
		if err != nil {
			t.Fatalf("iteration failed: %v", err)
		}
		break
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close after early iterator close failed: %v", err)
	}
}

func testBinaryData(t *testing.T, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(t, coord, persistence.FeatureGet)

	binKey := []byte{0x00, 0xff, 0x00, 0x10}
	bigValue := bytes.Repeat([]byte{0xab, 0x00}, 64*1024)

	path := shardDir(t)
	writeShard(t, coord, path, opts,
		persistence.Document{Key: binKey, Value: bigValue},
		persistence.Document{Key: []byte("empty"), Value: []byte{}},
	)

	r := openKV(t, coord, path, opts)
	defer r.Close()

	got, ok, err := r.Get(binKey)
	if err != nil || !ok {
		t.Fatalf("Get(binary key) = ok:%v err:%v", ok, err)
	}
	if !bytes.Equal(got, bigValue) {
		t.Errorf("Binary value mismatch (len %d vs %d)", len(got), len(bigValue))
	}

	got, ok, err = r.Get([]byte("empty"))
	if err != nil || !ok {
		t.Fatalf("Get(empty value) = ok:%v err:%v", ok, err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty value, got %d bytes", len(got))
	}
}

func testReadOnlyRejectsWrites(t *testing.T, coord persistence.ICoordinator, opts persistence.Options) {
	path := shardDir(t)
	writeShard(t, coord, path, opts, doc("a", "1"))

	p, err := coord.OpenForRead(path, opts)
	if err != nil {
		t.Fatalf("OpenForRead failed: %v", err)
	}
	defer p.Close()

	if err := p.Index(doc("b", "2")); err == nil {
		t.Errorf("Expected Index on a read handle to fail")
	}
}

func testGetReturnsCopy(t *testing.T, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(t, coord, persistence.FeatureGet)

	path := shardDir(t)
	writeShard(t, coord, path, opts, doc("k", "value"))

	r := openKV(t, coord, path, opts)
	defer r.Close()

	v, _, err := r.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	v[0] = 'X'

	expectValue(t, r, "k", "value")
}

func testConcurrentReads(t *testing.T, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(t, coord, persistence.FeatureGet)

	const n = 200
	docs := make([]persistence.Document, n)
	for i := range docs {
		docs[i] = doc(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
	}
	path := shardDir(t)
	writeShard(t, coord, path, opts, docs...)

	r := openKV(t, coord, path, opts)
	defer r.Close()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures int
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				idx := (i + offset) % n
				v, ok, err := r.Get(docs[idx].Key)
				if err != nil || !ok || !bytes.Equal(v, docs[idx].Value) {
					mu.Lock()
					failures++
					mu.Unlock()
				}
			}
		}(g * 17)
	}
	wg.Wait()

	if failures > 0 {
		t.Errorf("%d concurrent lookups returned wrong results", failures)
	}
}

func testUpdaters(t *testing.T, coord persistence.ICoordinator, opts persistence.Options) {
	requireFeature(t, coord, persistence.FeatureGet|persistence.FeaturePut)

	path := shardDir(t)
	p, err := coord.CreatePersistence(path, opts)
	if err != nil {
		t.Fatalf("CreatePersistence failed: %v", err)
	}

	appender := persistence.AppendUpdater{Separator: []byte(",")}
	for _, v := range []string{"a", "b", "c"} {
		if err := appender.Update(p, doc("list", v)); err != nil {
			t.Fatalf("AppendUpdater failed: %v", err)
		}
	}

	var replacer persistence.IUpdater = persistence.ReplaceUpdater{}
	for _, v := range []string{"1", "2"} {
		if err := replacer.Update(p, doc("single", v)); err != nil {
			t.Fatalf("ReplaceUpdater failed: %v", err)
		}
	}

	upper := persistence.UpdaterFunc(func(p persistence.IPersistence, d persistence.Document) error {
		return p.Index(persistence.Document{Key: d.Key, Value: bytes.ToUpper(d.Value)})
	})
	if err := upper.Update(p, doc("func", "shout")); err != nil {
		t.Fatalf("UpdaterFunc failed: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r := openKV(t, coord, path, opts)
	defer r.Close()

	expectValue(t, r, "list", "a,b,c")
	expectValue(t, r, "single", "2")
	expectValue(t, r, "func", "SHOUT")
}
