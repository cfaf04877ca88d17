package dstore

import (
	"errors"

	"github.com/ValentinKolb/edb/lib/codec"
	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/ValentinKolb/edb/lib/sharding"
	"github.com/ValentinKolb/edb/lib/spec"
	"github.com/ValentinKolb/edb/lib/store"
	"github.com/ValentinKolb/edb/lib/store/vstore"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/afero"
)

var log = logger.GetLogger("dstore")

// Options configure a domain store.
type Options struct {
	// Versions are passed to the underlying versioned store.
	Versions vstore.Options

	// SpecFormat selects the sidecar format written when a domain is
	// created. Defaults to spec.FormatYAML. Existing sidecars are read in
	// whatever format they have.
	SpecFormat spec.Format

	// CodecPool is shared by the codecs of the domain. A new pool is created
	// if nil.
	CodecPool *codec.Pool

	// SyncParallelism bounds the number of shards copied concurrently by
	// SynchronizeInProgressVersion. Defaults to 4.
	SyncParallelism int
}

// DomainStore is the default store.IDomainStore. On top of the interface it
// offers shard shortcuts addressed by version.
type DomainStore struct {
	store.IVersionedStore

	spec        *spec.DomainSpec
	coordinator persistence.ICoordinator
	scheme      sharding.IScheme
	keyCodec    codec.ICodec
	valueCodec  codec.ICodec
	parallelism int
}

var _ store.IDomainStore = (*DomainStore)(nil)

// Open opens the domain in root.
//
// If root already holds a domain spec, s may be nil. If it is not, it must
// equal the stored spec or Open fails with a SpecConflict error. If root has
// no spec yet, s is required and is persisted as the domain spec.
//
// The engine, sharding scheme and codecs of the spec are resolved once, so
// an engine that is not registered fails here and not on the first shard
// access.
func Open(fsys afero.Fs, root string, s *spec.DomainSpec, opts *Options) (*DomainStore, error) {
	if opts == nil {
		opts = &Options{}
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	vs, err := vstore.NewVersionedStore(fsys, root, &opts.Versions)
	if err != nil {
		return nil, err
	}
	root = vs.Root()

	existing, err := spec.ReadFrom(fsys, root)
	if err != nil {
		return nil, err
	}

	create := false
	switch {
	case existing != nil && s != nil && !existing.Equal(s):
		return nil, errs.New(errs.CodeSpecConflict, "supplied spec does not match the existing one\nsupplied:\n%s\nexisting:\n%s", s, existing).
			WithRoot(root)
	case existing != nil:
		s = existing
	case s == nil:
		return nil, errs.New(errs.CodeInvalidSpec, "a domain spec is required to create a domain").WithRoot(root)
	default:
		create = true
	}

	ds := &DomainStore{
		IVersionedStore: vs,
		spec:            s,
		parallelism:     opts.SyncParallelism,
	}
	if ds.parallelism <= 0 {
		ds.parallelism = 4
	}
	if err := ds.resolve(opts.CodecPool); err != nil {
		return nil, err
	}

	if create {
		format := opts.SpecFormat
		if format == "" {
			format = spec.FormatYAML
		}
		if err := spec.WriteTo(fsys, root, s, format); err != nil {
			return nil, err
		}
		log.Infof("created domain %s (%d shards, engine %s)", root, s.NumShards(), s.Engine())
	}
	return ds, nil
}

// resolve looks up everything the spec names.
func (d *DomainStore) resolve(pool *codec.Pool) error {
	if err := d.spec.Validate(); err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			return e.WithRoot(d.Root())
		}
		return err
	}

	var err error
	if d.coordinator, err = persistence.Resolve(d.spec.Engine(), d.spec.PersistenceOpts()); err != nil {
		return err
	}
	if d.scheme, err = sharding.Lookup(d.spec.ShardingScheme()); err != nil {
		return err
	}
	if pool == nil {
		pool = codec.NewPool()
	}
	if d.keyCodec, err = codec.New(d.spec.KeyCodec(), pool); err != nil {
		return err
	}
	d.valueCodec, err = codec.New(d.spec.ValueCodec(), pool)
	return err
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (d *DomainStore) Spec() *spec.DomainSpec { return d.spec }

func (d *DomainStore) GetShardSet(version int64) store.IShardSet {
	return d.shardSet(d.VersionPath(version))
}

func (d *DomainStore) GetShardSetAt(path string) (store.IShardSet, error) {
	if _, err := d.ParseVersionPath(path); err != nil {
		return nil, err
	}
	return d.shardSet(path), nil
}

func (d *DomainStore) shardSet(path string) *shardSet {
	return &shardSet{
		root:        path,
		fs:          d.Fs(),
		spec:        d.spec,
		coordinator: d.coordinator,
		scheme:      d.scheme,
		keyCodec:    d.keyCodec,
		valueCodec:  d.valueCodec,
		opts:        d.spec.PersistenceOpts(),
	}
}

func (d *DomainStore) SynchronizeInProgressVersion(newPath string) error {
	version, err := d.ParseVersionPath(newPath)
	if err != nil {
		return err
	}
	complete, err := d.HasVersion(version)
	if err != nil {
		return err
	}
	if complete {
		return errs.New(errs.CodeInvalidVersion, "version is already complete, synchronize before marking it as succeeded").
			WithRoot(d.Root()).WithVersion(version)
	}

	oldPath, ok, err := d.MostRecentVersionPath()
	if err != nil || !ok {
		return err
	}
	return synchronize(d.Fs(), d.spec, oldPath, newPath, d.parallelism)
}

// --------------------------------------------------------------------------
// Version Addressed Shortcuts
// --------------------------------------------------------------------------

// Coordinator returns the resolved engine of the domain (including the
// compression decorator if the spec asks for one).
func (d *DomainStore) Coordinator() persistence.ICoordinator { return d.coordinator }

// KeyCodec returns the codec for keys named by the spec.
func (d *DomainStore) KeyCodec() codec.ICodec { return d.keyCodec }

// ValueCodec returns the codec for values named by the spec.
func (d *DomainStore) ValueCodec() codec.ICodec { return d.valueCodec }

// ShardPath returns the directory of shard in version.
func (d *DomainStore) ShardPath(shard int, version int64) (string, error) {
	return d.GetShardSet(version).ShardPath(shard)
}

// OpenShardForRead opens shard of version read-only.
func (d *DomainStore) OpenShardForRead(shard int, version int64) (persistence.IPersistence, error) {
	return d.GetShardSet(version).OpenForRead(shard)
}

// OpenShardForAppend opens shard of version for writing.
func (d *DomainStore) OpenShardForAppend(shard int, version int64) (persistence.IPersistence, error) {
	return d.GetShardSet(version).OpenForAppend(shard)
}

// CreateShard allocates an empty shard in version and returns a write handle.
func (d *DomainStore) CreateShard(shard int, version int64) (persistence.IPersistence, error) {
	return d.GetShardSet(version).CreateShard(shard)
}

// latest resolves the most recent complete version or fails with NotFound.
func (d *DomainStore) latest() (int64, error) {
	v, ok, err := d.MostRecentVersion()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errs.New(errs.CodeNotFound, "domain has no complete version").WithRoot(d.Root())
	}
	return v, nil
}

// OpenLatestShardForRead opens shard of the most recent complete version.
func (d *DomainStore) OpenLatestShardForRead(shard int) (persistence.IPersistence, error) {
	v, err := d.latest()
	if err != nil {
		return nil, err
	}
	return d.OpenShardForRead(shard, v)
}
