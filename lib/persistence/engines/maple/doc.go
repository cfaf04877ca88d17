// Package maple implements an in-memory storage engine for edb shards.
//
// A maple shard lives entirely in a concurrent hash map (xsync.MapOf) while it
// is open. Write handles persist the map as a single snapshot file
// ("maple.snap") when they are closed, read handles load that snapshot.
//
// Snapshot format (little endian):
//
//	magic    "MAPLESNP"
//	version  uint8
//	count    uint64
//	entries  count x (keyLen uint32, key, valueLen uint32, value)
//
// Entries are written in key order, so two shards with the same content have
// byte-identical snapshots and iteration is ordered.
//
// Options ("persistence_opts"):
//
//	sync_writes  bool  fsync the snapshot on close (default true)
//
// Maple is the engine of choice for tests and small lookup domains. Use
// pebble or sqlite for data that does not fit in memory.
package maple
