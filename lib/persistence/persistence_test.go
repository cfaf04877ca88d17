package persistence_test

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/persistence"
	_ "github.com/ValentinKolb/edb/lib/persistence/engines/maple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	c, err := persistence.Lookup(persistence.KindMaple)
	require.NoError(t, err)
	assert.Equal(t, persistence.KindMaple, c.Kind())
	assert.Contains(t, persistence.Kinds(), persistence.KindMaple)

	_, err = persistence.Lookup("berkeley")
	assert.True(t, errors.Is(err, errs.ErrInvalidSpec), "unknown engine must be an InvalidSpec error, got %v", err)

	assert.Panics(t, func() { persistence.Register(c) }, "duplicate registration must panic")
}

func TestResolveCompression(t *testing.T) {
	plain, err := persistence.Resolve(persistence.KindMaple, nil)
	require.NoError(t, err)

	zstd, err := persistence.Resolve(persistence.KindMaple, persistence.Options{"compression": "zstd"})
	require.NoError(t, err)
	assert.NotEqual(t, plain, zstd)

	_, err = persistence.Resolve(persistence.KindMaple, persistence.Options{"compression": "lz4"})
	assert.True(t, errors.Is(err, errs.ErrInvalidSpec))

	// values written through the decorator are stored compressed
	dir := t.TempDir()
	w, err := zstd.CreatePersistence(dir, nil)
	require.NoError(t, err)
	value := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, w.Index(persistence.Document{Key: []byte("k"), Value: value}))
	require.NoError(t, w.Close())

	raw, err := plain.OpenForRead(dir, nil)
	require.NoError(t, err)
	stored, ok, err := raw.(persistence.IKeyValPersistence).Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Less(t, len(stored), len(value))
	require.NoError(t, raw.Close())

	r, err := zstd.OpenForRead(dir, nil)
	require.NoError(t, err)
	defer r.Close()
	got, ok, err := r.(persistence.IKeyValPersistence).Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value, got)
}

func TestCompressionFromOptions(t *testing.T) {
	tests := []struct {
		opts    persistence.Options
		want    persistence.Compression
		wantErr bool
	}{
		{nil, persistence.CompressionNone, false},
		{persistence.Options{"compression": ""}, persistence.CompressionNone, false},
		{persistence.Options{"compression": "snappy"}, persistence.CompressionSnappy, false},
		{persistence.Options{"compression": "zstd"}, persistence.CompressionZstd, false},
		{persistence.Options{"compression": "gzip"}, "", true},
		{persistence.Options{"compression": []int{1}}, "", true},
	}
	for _, tt := range tests {
		got, err := persistence.CompressionFromOptions(tt.opts)
		if tt.wantErr {
			assert.Error(t, err, "%v", tt.opts)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestAllStopsEarly(t *testing.T) {
	docs := []persistence.Document{
		{Key: []byte("a")}, {Key: []byte("b")}, {Key: []byte("c")},
	}
	it := persistence.NewSliceIterator(docs)

	var seen []string
	for doc, err := range persistence.All(it) {
		require.NoError(t, err)
		seen = append(seen, string(doc.Key))
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.False(t, it.Next(), "iterator must be closed after break")
}

func TestAppendUpdaterRequiresKeyValue(t *testing.T) {
	err := persistence.AppendUpdater{}.Update(indexOnly{}, persistence.Document{Key: []byte("k")})
	assert.True(t, errors.Is(err, errs.ErrInvalidSpec))

	u, err := persistence.UpdaterByName("append", []byte("|"))
	require.NoError(t, err)
	assert.Equal(t, persistence.AppendUpdater{Separator: []byte("|")}, u)

	_, err = persistence.UpdaterByName("merge", nil)
	assert.Error(t, err)
}

// indexOnly is a persistence without point lookups.
type indexOnly struct{}

func (indexOnly) Index(persistence.Document) error { return nil }
func (indexOnly) Iterator() (persistence.IIterator, error) {
	return persistence.NewSliceIterator(nil), nil
}
func (indexOnly) Close() error { return nil }
