package serve

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/edb/lib/build"
	"github.com/ValentinKolb/edb/lib/codec"
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

func openDomain(t *testing.T, fsys afero.Fs, root string, engine persistence.Kind, options ...spec.Option) *dstore.DomainStore {
	t.Helper()
	s, err := spec.New(4, engine, sharding.KindHashMod, nil, options...)
	require.NoError(t, err)
	ds, err := dstore.Open(fsys, root, s, nil)
	require.NoError(t, err)
	return ds
}

// buildVersion writes n keys "k<i>" with the value "<prefix><i>".
func buildVersion(t *testing.T, ds *dstore.DomainStore, version int64, n int, prefix string) {
	t.Helper()
	path, err := ds.CreateVersionAt(version)
	require.NoError(t, err)
	w, err := build.NewWriter(ds, &build.Options{VersionPath: path, TmpDirs: []string{t.TempDir()}})
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, w.WriteKV(fmt.Sprintf("k%d", i), fmt.Sprintf("%s%d", prefix, i)))
	}
	_, err = w.Commit()
	require.NoError(t, err)
}

func newLoader(t *testing.T, ds *dstore.DomainStore, opts Options) *Loader {
	t.Helper()
	opts.TmpDirs = []string{t.TempDir()}
	l, err := NewLoader(ds, &opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func expectValue(t *testing.T, l *Loader, key, want string) {
	t.Helper()
	v, found, err := l.Get(key)
	require.NoError(t, err)
	require.True(t, found, "key %s", key)
	assert.Equal(t, want, string(v))
}

func TestLoaderWithoutVersion(t *testing.T) {
	ds := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindMaple)
	l := newLoader(t, ds, Options{})

	swapped, err := l.Refresh()
	require.NoError(t, err)
	assert.False(t, swapped)

	_, _, err = l.Get("k0")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, ok := l.Version()
	assert.False(t, ok)
}

func TestLoaderServesLatestVersion(t *testing.T) {
	for _, engine := range []persistence.Kind{persistence.KindMaple, persistence.KindPebble, persistence.KindSQLite} {
		t.Run(string(engine), func(t *testing.T) {
			ds := openDomain(t, afero.NewOsFs(), t.TempDir(), engine)
			buildVersion(t, ds, 1, 100, "a")

			l := newLoader(t, ds, Options{})
			swapped, err := l.Refresh()
			require.NoError(t, err)
			assert.True(t, swapped)

			v, ok := l.Version()
			require.True(t, ok)
			assert.Equal(t, int64(1), v)

			for i := 0; i < 100; i++ {
				expectValue(t, l, fmt.Sprintf("k%d", i), fmt.Sprintf("a%d", i))
			}
			_, found, err := l.Get("missing")
			require.NoError(t, err)
			assert.False(t, found)

			swapped, err = l.Refresh()
			require.NoError(t, err)
			assert.False(t, swapped, "same version is not reopened")
		})
	}
}

func TestLoaderHotSwap(t *testing.T) {
	ds := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindPebble)
	buildVersion(t, ds, 1, 50, "old")

	l := newLoader(t, ds, Options{CacheSize: 1000})
	_, err := l.Refresh()
	require.NoError(t, err)
	expectValue(t, l, "k1", "old1")
	expectValue(t, l, "k1", "old1") // cached

	buildVersion(t, ds, 2, 50, "new")
	swapped, err := l.Refresh()
	require.NoError(t, err)
	assert.True(t, swapped)
	expectValue(t, l, "k1", "new1")

	v, _ := l.Version()
	assert.Equal(t, int64(2), v)
}

func TestLookupsDuringSwap(t *testing.T) {
	ds := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindMaple)
	buildVersion(t, ds, 1, 20, "v")

	l := newLoader(t, ds, Options{CacheSize: -1})
	_, err := l.Refresh()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				_, found, err := l.Get("k3")
				if !assert.NoError(t, err) || !assert.True(t, found) {
					return
				}
			}
		}()
	}

	for v := int64(2); v <= 4; v++ {
		buildVersion(t, ds, v, 20, "v")
		_, err := l.Refresh()
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()
}

func TestLoaderRemoteDomain(t *testing.T) {
	ds := openDomain(t, afero.NewMemMapFs(), "/remote/domain", persistence.KindSQLite)
	buildVersion(t, ds, 1, 30, "r")

	l := newLoader(t, ds, Options{})
	_, err := l.Refresh()
	require.NoError(t, err)
	expectValue(t, l, "k29", "r29")
}

func TestGetValueWithJSONCodec(t *testing.T) {
	type user struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	ds := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindMaple, spec.WithCodecs(codec.KindJSON, codec.KindJSON))

	path, err := ds.CreateVersionAt(1)
	require.NoError(t, err)
	w, err := build.NewWriter(ds, &build.Options{VersionPath: path, TmpDirs: []string{t.TempDir()}})
	require.NoError(t, err)
	require.NoError(t, w.WriteKV(42, user{Name: "ada", Age: 36}))
	_, err = w.Commit()
	require.NoError(t, err)

	l := newLoader(t, ds, Options{})
	_, err = l.Refresh()
	require.NoError(t, err)

	var u user
	found, err := l.GetValue(42, &u)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, user{Name: "ada", Age: 36}, u)

	found, err = l.GetValue(43, &u)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunPicksUpNewVersions(t *testing.T) {
	ds := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindMaple)
	buildVersion(t, ds, 1, 5, "a")

	l := newLoader(t, ds, Options{Watch: true, PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		v, ok := l.Version()
		return ok && v == 1
	}, 5*time.Second, 10*time.Millisecond)

	buildVersion(t, ds, 2, 5, "b")
	require.Eventually(t, func() bool {
		v, ok := l.Version()
		return ok && v == 2
	}, 5*time.Second, 10*time.Millisecond)
	expectValue(t, l, "k0", "b0")

	cancel()
	require.NoError(t, <-done)
}

func TestLoaderClose(t *testing.T) {
	ds := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindMaple)
	buildVersion(t, ds, 1, 5, "a")

	l, err := NewLoader(ds, &Options{TmpDirs: []string{t.TempDir()}})
	require.NoError(t, err)
	_, err = l.Refresh()
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, _, err = l.Get("k0")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = l.Refresh()
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	dsA := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindMaple)
	dsB := openDomain(t, afero.NewOsFs(), t.TempDir(), persistence.KindMaple)
	buildVersion(t, dsA, 1, 3, "a")
	buildVersion(t, dsB, 1, 3, "b")

	la, err := NewLoader(dsA, &Options{TmpDirs: []string{t.TempDir()}})
	require.NoError(t, err)
	lb, err := NewLoader(dsB, &Options{TmpDirs: []string{t.TempDir()}})
	require.NoError(t, err)

	require.NoError(t, r.Register("b", lb))
	require.NoError(t, r.Register("a", la))
	assert.ErrorIs(t, r.Register("a", lb), errs.ErrInvalidSpec)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	require.NoError(t, r.RefreshAll())
	got, ok := r.Get("b")
	require.True(t, ok)
	expectValue(t, got, "k1", "b1")

	require.NoError(t, r.Remove("a"))
	_, ok = r.Get("a")
	assert.False(t, ok)
	require.NoError(t, r.Remove("a"))

	require.NoError(t, r.Close())
	assert.Empty(t, r.Names())
}
