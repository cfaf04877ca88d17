// Package persistence defines the storage engine contract of edb: the
// interfaces every local key-value backend implements so that a domain can
// be built and served without knowing which backend holds its shards.
//
// The package focuses on:
//   - A stateless factory (ICoordinator) that opens shard state in a mode it chooses
//   - An open handle per shard (IPersistence, IKeyValPersistence)
//   - Feature discovery through capability flags
//   - Cross-cutting decorators that work for any key-value engine
//
// Key Components:
//
//   - ICoordinator: Created once per engine and registered under its Kind.
//     OpenForRead never allocates anything on disk and fails with
//     errs.ErrNotFound for a missing or empty shard. OpenForAppend and
//     CreatePersistence return write handles.
//
//   - IPersistence: Owns the backend handle for one shard directory. Close
//     on a write handle flushes all state and runs the backend maintenance
//     (compaction, vacuum, snapshot) before it returns. A shard that was
//     closed successfully is complete and can be copied or opened read-only.
//
//   - IIterator: A single-pass cursor over all documents of a shard. The
//     All helper adapts it to a range-over-func sequence.
//
//   - Registry: Engines register themselves in their init function. Resolve
//     returns the registered coordinator wrapped with the decorators that
//     the domain options ask for (value compression with snappy or zstd).
//
//   - Updaters: IUpdater decides how a record is merged into a shard that
//     may already hold the key (ReplaceUpdater, AppendUpdater, UpdaterFunc).
//
// Related Packages:
//
// The engines/pebble, engines/sqlite and engines/maple packages provide the
// reference backends (LSM tree, B-tree and an in-memory snapshot engine).
// Import engines/all to register all of them.
//
// The testing package provides a conformance suite (RunCoordinatorTests) and
// benchmarks (RunCoordinatorBenchmarks) for any ICoordinator.
//
// The util package provides hashing, distribution statistics and the option
// decoding helpers shared by the engines.
package persistence
