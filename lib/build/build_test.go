package build

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/persistence"
	_ "github.com/ValentinKolb/edb/lib/persistence/engines/all"
	"github.com/ValentinKolb/edb/lib/sharding"
	"github.com/ValentinKolb/edb/lib/spec"
	"github.com/ValentinKolb/edb/lib/store/dstore"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDomain(t *testing.T, fsys afero.Fs, root string, engine persistence.Kind, numShards int) *dstore.DomainStore {
	t.Helper()
	s, err := spec.New(numShards, engine, sharding.KindHashMod, nil)
	require.NoError(t, err)
	ds, err := dstore.Open(fsys, root, s, nil)
	require.NoError(t, err)
	return ds
}

// newWriter starts a writer for an explicit version id, so versions built
// back to back never collide on the clock.
func newWriter(t *testing.T, ds *dstore.DomainStore, version int64, opts Options) *Writer {
	t.Helper()
	path, err := ds.CreateVersionAt(version)
	require.NoError(t, err)
	opts.VersionPath = path
	if opts.TmpDirs == nil {
		opts.TmpDirs = []string{t.TempDir()}
	}
	w, err := NewWriter(ds, &opts)
	require.NoError(t, err)
	return w
}

// export collects a version as key -> value.
func export(t *testing.T, ds *dstore.DomainStore, version int64) map[string]string {
	t.Helper()
	out := map[string]string{}
	ss := ds.GetShardSet(version)
	err := Export(ds, version, []string{t.TempDir()}, func(shard int, doc persistence.Document) error {
		if want := ss.ShardIndexForBytes(doc.Key); want != shard {
			return fmt.Errorf("key %q exported from shard %d, belongs to %d", doc.Key, shard, want)
		}
		out[string(doc.Key)] = string(doc.Value)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestFullBuild(t *testing.T) {
	for _, engine := range []persistence.Kind{persistence.KindMaple, persistence.KindPebble, persistence.KindSQLite} {
		t.Run(string(engine), func(t *testing.T) {
			ds := openDomain(t, afero.NewOsFs(), t.TempDir(), engine, 4)
			w := newWriter(t, ds, 1, Options{ProgressEvery: 100})

			want := map[string]string{}
			for i := 0; i < 1000; i++ {
				k, v := fmt.Sprintf("key-%04d", i), fmt.Sprintf("value-%d", i)
				require.NoError(t, w.WriteKV(k, v))
				want[k] = v
			}
			assert.Equal(t, int64(1000), w.Written())

			version, err := w.Commit()
			require.NoError(t, err)
			assert.Equal(t, int64(1), version)

			ok, err := ds.HasVersion(1)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, want, export(t, ds, 1))
		})
	}
}

func TestBuildCreatesEveryShard(t *testing.T) {
	ds := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindPebble, 8)
	w := newWriter(t, ds, 1, Options{})
	require.NoError(t, w.WriteKV("only", "one"))
	_, err := w.Commit()
	require.NoError(t, err)

	shards, err := ds.GetShardSet(1).OpenAllForRead()
	require.NoError(t, err)
	for _, p := range shards {
		require.NoError(t, p.Close())
	}
	assert.Equal(t, map[string]string{"only": "one"}, export(t, ds, 1))
}

func TestIncrementalBuild(t *testing.T) {
	ds := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindMaple, 4)

	w := newWriter(t, ds, 1, Options{})
	for i := 0; i < 100; i++ {
		require.NoError(t, w.WriteKV(fmt.Sprintf("k%d", i), "v1"))
	}
	_, err := w.Commit()
	require.NoError(t, err)

	w = newWriter(t, ds, 2, Options{
		Incremental: true,
		Updater:     persistence.AppendUpdater{Separator: []byte(",")},
	})
	require.NoError(t, w.WriteKV("k0", "v2"))
	require.NoError(t, w.WriteKV("new", "v2"))
	_, err = w.Commit()
	require.NoError(t, err)

	got := export(t, ds, 2)
	assert.Len(t, got, 101)
	assert.Equal(t, "v1,v2", got["k0"])
	assert.Equal(t, "v2", got["new"])
	assert.Equal(t, "v1", got["k1"])

	// version 1 is untouched
	old := export(t, ds, 1)
	assert.Len(t, old, 100)
	assert.Equal(t, "v1", old["k0"])
}

func TestAbort(t *testing.T) {
	ds := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindMaple, 2)
	w := newWriter(t, ds, 1, Options{})
	require.NoError(t, w.WriteKV("a", "b"))
	require.NoError(t, w.Abort())

	exists, _ := afero.Exists(ds.Fs(), ds.VersionPath(1))
	assert.False(t, exists)
	_, ok, err := ds.MostRecentVersion()
	require.NoError(t, err)
	assert.False(t, ok)

	// the writer is unusable afterward
	assert.Error(t, w.WriteKV("c", "d"))
	_, err = w.Commit()
	assert.Error(t, err)
	assert.NoError(t, w.Abort())
}

func TestWriteRejectsInvalidShard(t *testing.T) {
	ds := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindMaple, 2)
	w := newWriter(t, ds, 1, Options{})
	defer w.Abort()

	err := w.Write(2, persistence.Document{Key: []byte("k"), Value: []byte("v")})
	assert.ErrorIs(t, err, errs.ErrInvalidShardIndex)
}

func TestRemoteDomain(t *testing.T) {
	fsys := afero.NewMemMapFs()
	ds := openDomain(t, fsys, "/remote/domain", persistence.KindPebble, 3)

	w := newWriter(t, ds, 1, Options{})
	for i := 0; i < 50; i++ {
		require.NoError(t, w.WriteKV(fmt.Sprintf("k%02d", i), "v"))
	}
	_, err := w.Commit()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, _ := afero.DirExists(fsys, fmt.Sprintf("/remote/domain/1/%d", i))
		assert.True(t, ok, "shard %d uploaded", i)
	}
	assert.Len(t, export(t, ds, 1), 50)

	// incremental builds download the previous shards
	w = newWriter(t, ds, 2, Options{Incremental: true})
	require.NoError(t, w.WriteKV("k00", "changed"))
	_, err = w.Commit()
	require.NoError(t, err)

	got := export(t, ds, 2)
	assert.Len(t, got, 50)
	assert.Equal(t, "changed", got["k00"])
}

func TestWriterLock(t *testing.T) {
	ds := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindMaple, 1)

	w := newWriter(t, ds, 1, Options{Lock: true, LockTimeout: time.Hour})

	path, err := ds.CreateVersionAt(2)
	require.NoError(t, err)
	_, err = NewWriter(ds, &Options{VersionPath: path, Lock: true, TmpDirs: []string{t.TempDir()}})
	assert.ErrorIs(t, err, errs.ErrLocked)

	_, err = w.Commit()
	require.NoError(t, err)

	w2, err := NewWriter(ds, &Options{VersionPath: path, Lock: true, TmpDirs: []string{t.TempDir()}})
	require.NoError(t, err)
	require.NoError(t, w2.Abort())
}

func TestExportMissingVersion(t *testing.T) {
	ds := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindMaple, 1)
	err := Export(ds, 5, nil, func(int, persistence.Document) error { return nil })
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestExportStopsOnCallbackError(t *testing.T) {
	ds := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindMaple, 1)
	w := newWriter(t, ds, 1, Options{})
	require.NoError(t, w.WriteKV("a", "1"))
	require.NoError(t, w.WriteKV("b", "2"))
	_, err := w.Commit()
	require.NoError(t, err)

	stop := fmt.Errorf("stop")
	var seen []string
	err = Export(ds, 1, []string{t.TempDir()}, func(_ int, doc persistence.Document) error {
		seen = append(seen, string(doc.Key))
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Len(t, seen, 1)
}

// --------------------------------------------------------------------------
// Local Manager
// --------------------------------------------------------------------------

func newLocalManager(t *testing.T, tmpDirs []string) *LocalManager {
	t.Helper()
	coord, err := persistence.Lookup(persistence.KindMaple)
	require.NoError(t, err)
	m, err := NewLocalManager(afero.NewOsFs(), coord, nil, tmpDirs)
	require.NoError(t, err)
	return m
}

func TestLocalManagerSelectsLeastLoadedDir(t *testing.T) {
	busy, idle := t.TempDir(), t.TempDir()
	require.NoError(t, os.MkdirAll(flagDir(busy), 0o755))
	for _, f := range []string{"a", "b"} {
		require.NoError(t, os.WriteFile(filepath.Join(flagDir(busy), f), nil, 0o644))
	}

	m := newLocalManager(t, []string{busy, idle})
	assert.Equal(t, idle, filepath.Dir(m.Root()))

	flags, err := os.ReadDir(flagDir(idle))
	require.NoError(t, err)
	assert.Len(t, flags, 1)

	require.NoError(t, m.Cleanup())
	flags, err = os.ReadDir(flagDir(idle))
	require.NoError(t, err)
	assert.Empty(t, flags)
	_, err = os.Stat(m.Root())
	assert.True(t, os.IsNotExist(err))
}

func TestLocalManagerClearsStaleFlags(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.MkdirAll(flagDir(tmp), 0o755))
	stale := filepath.Join(flagDir(tmp), "stale")
	require.NoError(t, os.WriteFile(stale, nil, 0o644))
	old := time.Now().Add(-2 * staleFlagAge)
	require.NoError(t, os.Chtimes(stale, old, old))

	m := newLocalManager(t, []string{tmp})
	defer m.Cleanup()

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadShard(t *testing.T) {
	remote := afero.NewMemMapFs()
	require.NoError(t, remote.MkdirAll("/r/0", 0o755))
	require.NoError(t, afero.WriteFile(remote, "/r/0/data", []byte("payload"), 0o644))
	require.NoError(t, afero.WriteFile(remote, "/r/0/.data.crc", []byte("crc"), 0o644))

	coord, err := persistence.Lookup(persistence.KindMaple)
	require.NoError(t, err)
	m, err := NewLocalManager(remote, coord, nil, []string{t.TempDir()})
	require.NoError(t, err)
	defer m.Cleanup()

	dir, err := m.DownloadShard("0", "/r/0")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	_, err = os.Stat(filepath.Join(dir, ".data.crc"))
	assert.True(t, os.IsNotExist(err), "checksum files are removed")

	// a missing remote shard yields an empty local shard
	dir, err = m.DownloadShard("1", "/r/1")
	require.NoError(t, err)
	p, err := coord.OpenForRead(dir, nil)
	require.NoError(t, err)
	docs := 0
	it, err := p.Iterator()
	require.NoError(t, err)
	for _, err := range persistence.All(it) {
		require.NoError(t, err)
		docs++
	}
	assert.Zero(t, docs)
	require.NoError(t, p.Close())

	_, err = m.OpenForRead("2", "/r/2")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestExportIsKeyOrderedPerShard(t *testing.T) {
	ds := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindSQLite, 2)
	w := newWriter(t, ds, 1, Options{})
	for _, k := range []string{"d", "a", "c", "b", "e"} {
		require.NoError(t, w.WriteKV(k, k))
	}
	_, err := w.Commit()
	require.NoError(t, err)

	perShard := map[int][]string{}
	require.NoError(t, Export(ds, 1, []string{t.TempDir()}, func(shard int, doc persistence.Document) error {
		perShard[shard] = append(perShard[shard], string(doc.Key))
		return nil
	}))
	for shard, keys := range perShard {
		assert.True(t, sort.StringsAreSorted(keys), "shard %d: %v", shard, keys)
	}
}
