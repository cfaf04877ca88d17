// Package store defines the storage layout of edb: versioned directories,
// the shards inside a version and the domain that ties both to a spec.
//
// The package focuses on:
//   - Crash safe publication of versions using only directories and marker files
//   - A per-version view (IShardSet) that maps keys to shards and opens them
//   - Incremental builds that reuse unchanged shards of the previous version
//
// Filesystem layout of a domain:
//
//	<root>/domain-spec.yaml          the domain spec (one per domain)
//	<root>/<version>/                data of a version
//	<root>/<version>/<shard>/        engine state of one shard
//	<root>/<version>.version         marker: the version is complete
//
// A reader only ever sees versions with a marker. A writer creates the
// version directory, fills its shards, closes them (which flushes and
// compacts the engine state) and creates the marker as the very last step.
// A failed build removes the directory again, so no partial state becomes
// visible.
//
// Implementations:
//
//   - Versioned Store (vstore): IVersionedStore on top of an afero.Fs.
//     Available in the "github.com/ValentinKolb/edb/lib/store/vstore" package.
//
//   - Domain Store (dstore): IDomainStore and IShardSet. It reads or creates
//     the domain spec, resolves the engine, sharding scheme and codecs once
//     and synchronizes shards between versions.
//     Available in the "github.com/ValentinKolb/edb/lib/store/dstore" package.
//
// Limitations:
//
// Cleanup is count based and not reference counted. A reader that resolved
// a version before Cleanup removed it will fail mid-read. Choose the number
// of versions to keep (and optionally a grace period, see vstore.Options)
// relative to how long readers hold on to a version.
package store
