package vstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const root = "/data/domain"

func newStore(t *testing.T, opts *Options) (*storeImpl, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	vs, err := NewVersionedStore(fsys, root, opts)
	require.NoError(t, err)
	return vs.(*storeImpl), fsys
}

// publish creates a complete version with one file in it.
func publish(t *testing.T, s *storeImpl, v int64) string {
	t.Helper()
	path, err := s.CreateVersionAt(v)
	require.NoError(t, err)
	require.NoError(t, s.fs.MkdirAll(filepath.Join(path, "0"), 0o755))
	require.NoError(t, afero.WriteFile(s.fs, filepath.Join(path, "0", "data"), []byte("x"), 0o644))
	require.NoError(t, s.SucceedVersion(path))
	return path
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name string
		want int64
		ok   bool
	}{
		{"0", 0, true},
		{"42", 42, true},
		{"42.version", 42, true},
		{"1700000000000", 1700000000000, true},
		{"-1", 0, false},
		{"+5", 0, false},
		{"007", 0, false},
		{"abc", 0, false},
		{"domain-spec.yaml", 0, false},
		{".writer.lock", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		v, ok := ParseVersion(tt.name)
		if ok != tt.ok || v != tt.want {
			t.Errorf("ParseVersion(%q) = (%d, %v), want (%d, %v)", tt.name, v, ok, tt.want, tt.ok)
		}
	}
}

func TestParseVersionPath(t *testing.T) {
	s, _ := newStore(t, nil)

	v, err := s.ParseVersionPath(s.VersionPath(17))
	require.NoError(t, err)
	assert.Equal(t, int64(17), v)

	v, err = s.ParseVersionPath(root + "/17/")
	require.NoError(t, err)
	assert.Equal(t, int64(17), v)

	for _, p := range []string{"/other/17", root + "/17/0", root + "/abc", root + "/17.version"} {
		_, err := s.ParseVersionPath(p)
		assert.ErrorIs(t, err, errs.ErrInvalidVersion, p)
	}
}

func TestVersionLifecycle(t *testing.T) {
	s, fsys := newStore(t, nil)

	path, err := s.CreateVersionAt(10)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "10"), path)

	// in progress versions are invisible
	versions, err := s.GetAllVersions()
	require.NoError(t, err)
	assert.Empty(t, versions)
	ok, err := s.HasVersion(10)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, fsys.MkdirAll(path, 0o755))
	require.NoError(t, s.SucceedVersion(path))

	ok, err = s.HasVersion(10)
	require.NoError(t, err)
	assert.True(t, ok)

	latest, found, err := s.MostRecentVersionPath()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, path, latest)

	// complete versions can not be recreated
	_, err = s.CreateVersionAt(10)
	assert.ErrorIs(t, err, errs.ErrVersionExists)

	require.NoError(t, s.DeleteVersion(10))
	exists, _ := afero.Exists(fsys, path)
	assert.False(t, exists)
	_, found, err = s.MostRecentVersion()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCreateVersionUsesClock(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	s, _ := newStore(t, &Options{Now: func() time.Time { return now }})

	path, err := s.CreateVersion()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "1700000000123"), path)
}

func TestCreateVersionRemovesLeftovers(t *testing.T) {
	s, fsys := newStore(t, nil)

	stale := filepath.Join(s.VersionPath(5), "0", "stale")
	require.NoError(t, fsys.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, afero.WriteFile(fsys, stale, []byte("old"), 0o644))

	_, err := s.CreateVersionAt(5)
	require.NoError(t, err)
	exists, _ := afero.Exists(fsys, stale)
	assert.False(t, exists, "leftover of incomplete version must be removed")
}

func TestNegativeVersions(t *testing.T) {
	s, _ := newStore(t, nil)

	_, err := s.CreateVersionAt(-1)
	assert.ErrorIs(t, err, errs.ErrInvalidVersion)
	assert.ErrorIs(t, s.SucceedVersionAt(-1), errs.ErrInvalidVersion)
	assert.ErrorIs(t, s.DeleteVersion(-1), errs.ErrInvalidVersion)

	ok, err := s.HasVersion(-1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailVersion(t *testing.T) {
	s, fsys := newStore(t, nil)
	publish(t, s, 1)

	path, err := s.CreateVersionAt(2)
	require.NoError(t, err)
	require.NoError(t, fsys.MkdirAll(filepath.Join(path, "0"), 0o755))
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(path, "0", "data"), []byte("partial"), 0o644))
	require.NoError(t, s.FailVersion(path))

	exists, _ := afero.Exists(fsys, path)
	assert.False(t, exists)
	v, _, err := s.MostRecentVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	assert.ErrorIs(t, s.FailVersion("/somewhere/else/3"), errs.ErrInvalidVersion)
}

func TestVersionsAreSortedDescending(t *testing.T) {
	s, _ := newStore(t, nil)
	for _, v := range []int64{30, 5, 100, 7, 1000} {
		publish(t, s, v)
	}

	versions, err := s.GetAllVersions()
	require.NoError(t, err)
	assert.Equal(t, []int64{1000, 100, 30, 7, 5}, versions)
}

func TestMostRecentVersionAtMost(t *testing.T) {
	s, _ := newStore(t, nil)
	for _, v := range []int64{10, 20, 30} {
		publish(t, s, v)
	}
	// an incomplete newer version is ignored
	_, err := s.CreateVersionAt(25)
	require.NoError(t, err)

	tests := []struct {
		max   int64
		want  int64
		found bool
	}{
		{100, 30, true},
		{30, 30, true},
		{29, 20, true},
		{25, 20, true},
		{10, 10, true},
		{9, 0, false},
	}
	for _, tt := range tests {
		v, found, err := s.MostRecentVersionAtMost(tt.max)
		require.NoError(t, err)
		if found != tt.found || v != tt.want {
			t.Errorf("MostRecentVersionAtMost(%d) = (%d, %v), want (%d, %v)", tt.max, v, found, tt.want, tt.found)
		}
	}

	p, found, err := s.MostRecentVersionPathAtMost(29)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, s.VersionPath(20), p)
}

func TestCleanup(t *testing.T) {
	s, fsys := newStore(t, nil)
	for _, v := range []int64{1, 2, 3, 4} {
		publish(t, s, v)
	}
	// orphaned data directory without a marker
	require.NoError(t, fsys.MkdirAll(s.VersionPath(0), 0o755))
	// unrelated entries are untouched
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(root, "domain-spec.yaml"), []byte("num_shards: 1\n"), 0o644))

	require.NoError(t, s.Cleanup(2))

	versions, err := s.GetAllVersions()
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3}, versions)

	for _, v := range []int64{0, 1, 2} {
		exists, _ := afero.Exists(fsys, s.VersionPath(v))
		assert.False(t, exists, "version %d should be removed", v)
	}
	exists, _ := afero.Exists(fsys, filepath.Join(root, "domain-spec.yaml"))
	assert.True(t, exists)
}

func TestCleanupEdgeCases(t *testing.T) {
	t.Run("NegativeKeepsAll", func(t *testing.T) {
		s, _ := newStore(t, nil)
		publish(t, s, 1)
		publish(t, s, 2)
		require.NoError(t, s.Cleanup(-1))
		versions, _ := s.GetAllVersions()
		assert.Len(t, versions, 2)
	})

	t.Run("ZeroRemovesAll", func(t *testing.T) {
		s, _ := newStore(t, nil)
		publish(t, s, 1)
		publish(t, s, 2)
		require.NoError(t, s.Cleanup(0))
		versions, _ := s.GetAllVersions()
		assert.Empty(t, versions)
	})

	t.Run("KeepMoreThanExisting", func(t *testing.T) {
		s, _ := newStore(t, nil)
		publish(t, s, 1)
		require.NoError(t, s.Cleanup(10))
		versions, _ := s.GetAllVersions()
		assert.Equal(t, []int64{1}, versions)
	})

	t.Run("EmptyStore", func(t *testing.T) {
		s, _ := newStore(t, nil)
		require.NoError(t, s.Cleanup(1))
	})
}

func TestCleanupGracePeriod(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s, fsys := newStore(t, &Options{
		CleanupGracePeriod: time.Hour,
		Now:                func() time.Time { return now },
	})

	touch := func(v int64, at time.Time) {
		require.NoError(t, fsys.Chtimes(s.VersionPath(v), at, at))
		require.NoError(t, fsys.Chtimes(s.VersionPath(v)+MarkerSuffix, at, at))
	}

	publish(t, s, 1)
	publish(t, s, 2)
	publish(t, s, 3)
	touch(1, base.Add(-2*time.Hour))
	touch(2, base.Add(-10*time.Minute))
	touch(3, base.Add(-time.Minute))

	require.NoError(t, s.Cleanup(1))
	versions, err := s.GetAllVersions()
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, versions, "version 2 is inside the grace period")

	now = base.Add(time.Hour)
	require.NoError(t, s.Cleanup(1))
	versions, err = s.GetAllVersions()
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, versions)
}

func TestNewVersionedStore(t *testing.T) {
	_, err := NewVersionedStore(afero.NewMemMapFs(), root, &Options{CleanupGracePeriod: -time.Second})
	if !errors.Is(err, errs.ErrInvalidSpec) {
		t.Errorf("expected InvalidSpec for negative grace period, got %v", err)
	}

	fsys := afero.NewMemMapFs()
	vs, err := NewVersionedStore(fsys, root+"/", nil)
	require.NoError(t, err)
	assert.Equal(t, root, vs.Root())
	ok, _ := afero.DirExists(fsys, root)
	assert.True(t, ok)
}

func TestOsFs(t *testing.T) {
	dir := t.TempDir()
	vs, err := NewVersionedStore(nil, dir, nil)
	require.NoError(t, err)

	path, err := vs.CreateVersionAt(1)
	require.NoError(t, err)
	require.NoError(t, vs.Fs().MkdirAll(path, 0o755))
	require.NoError(t, vs.SucceedVersion(path))

	latest, ok, err := vs.MostRecentVersionPath()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "1"), latest)
}
