package dstore

import (
	"path/filepath"
	"strconv"

	"github.com/ValentinKolb/edb/lib/codec"
	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/ValentinKolb/edb/lib/sharding"
	"github.com/ValentinKolb/edb/lib/spec"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// shardSet is the view of one version directory. It is cheap to create and
// holds no open resources.
type shardSet struct {
	root        string
	fs          afero.Fs
	spec        *spec.DomainSpec
	coordinator persistence.ICoordinator
	scheme      sharding.IScheme
	keyCodec    codec.ICodec
	valueCodec  codec.ICodec
	opts        persistence.Options
}

// IsLocal reports whether fsys is the local OS filesystem. Engines open
// shards through their own file APIs and need real paths.
func IsLocal(fsys afero.Fs) bool {
	_, ok := fsys.(*afero.OsFs)
	return ok
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *shardSet) Root() string             { return s.root }
func (s *shardSet) Spec() *spec.DomainSpec   { return s.spec }
func (s *shardSet) NumShards() int           { return s.spec.NumShards() }
func (s *shardSet) KeyCodec() codec.ICodec   { return s.keyCodec }
func (s *shardSet) ValueCodec() codec.ICodec { return s.valueCodec }

func (s *shardSet) ShardPath(shard int) (string, error) {
	if shard < 0 || shard >= s.spec.NumShards() {
		return "", errs.New(errs.CodeInvalidShardIndex, "shard index out of range [0, %d)", s.spec.NumShards()).
			WithPath(s.root).WithShard(shard)
	}
	return filepath.Join(s.root, strconv.Itoa(shard)), nil
}

func (s *shardSet) ShardIndexFor(key any) (int, error) {
	b, err := s.keyCodec.Encode(key)
	if err != nil {
		return 0, errs.Wrap(errs.CodeInvalidSpec, err, "failed to encode key with %s codec", s.keyCodec.Kind())
	}
	return s.ShardIndexForBytes(b), nil
}

func (s *shardSet) ShardIndexForBytes(key []byte) int {
	return s.scheme.ShardIndex(key, s.spec.NumShards())
}

func (s *shardSet) OpenForRead(shard int) (persistence.IPersistence, error) {
	return s.open(shard, s.coordinator.OpenForRead)
}

func (s *shardSet) OpenForAppend(shard int) (persistence.IPersistence, error) {
	return s.open(shard, s.coordinator.OpenForAppend)
}

func (s *shardSet) CreateShard(shard int) (persistence.IPersistence, error) {
	return s.open(shard, s.coordinator.CreatePersistence)
}

func (s *shardSet) OpenAllForRead() ([]persistence.IPersistence, error) {
	shards := make([]persistence.IPersistence, 0, s.spec.NumShards())
	for i := 0; i < s.spec.NumShards(); i++ {
		p, err := s.OpenForRead(i)
		if err != nil {
			for _, opened := range shards {
				err = multierr.Append(err, opened.Close())
			}
			return nil, err
		}
		shards = append(shards, p)
	}
	return shards, nil
}

func (s *shardSet) open(shard int, fn func(string, persistence.Options) (persistence.IPersistence, error)) (persistence.IPersistence, error) {
	path, err := s.ShardPath(shard)
	if err != nil {
		return nil, err
	}
	if !IsLocal(s.fs) {
		return nil, errs.New(errs.CodeEngineIO, "shards can only be opened on the local filesystem, got %T", s.fs).
			WithPath(path).WithShard(shard)
	}
	p, err := fn(path, s.opts)
	if err != nil {
		return nil, errs.AtShard(err, shard, path)
	}
	return p, nil
}
