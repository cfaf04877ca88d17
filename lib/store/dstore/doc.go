// Package dstore implements store.IDomainStore: a versioned store whose
// versions are split into shards according to a domain spec.
//
// Opening a domain:
//
//	s, _ := spec.New(8, persistence.KindPebble, sharding.KindHashMod, nil)
//	ds, err := dstore.Open(afero.NewOsFs(), "/data/users", s, nil)
//
// The first Open of a root persists the spec as a sidecar file. Later opens
// may pass nil to use the stored spec, or a spec that must equal the stored
// one (SpecConflict otherwise). The engine, sharding scheme and codecs are
// resolved once per Open.
//
// Writing a version:
//
//	path, _ := ds.CreateVersion()
//	shards, _ := ds.GetShardSetAt(path)
//	for i := 0; i < shards.NumShards(); i++ {
//		p, _ := shards.CreateShard(i)
//		// ... Index documents routed by shards.ShardIndexFor(key) ...
//		_ = p.Close() // flushes and compacts
//	}
//	_ = ds.SynchronizeInProgressVersion(path) // only for incremental builds
//	_ = ds.SucceedVersion(path)
//
// Incremental builds only touch the shards that received records. Before
// the version is marked as succeeded, SynchronizeInProgressVersion copies
// every other shard from the most recent complete version. Copies are
// plain file copies through the afero filesystem, so they work on any
// filesystem. Opening shards with an engine however requires the local OS
// filesystem (afero.OsFs).
package dstore
