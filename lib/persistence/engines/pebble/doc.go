// Package pebble implements the LSM tree storage engine of edb on top of
// github.com/cockroachdb/pebble.
//
// Every shard is one pebble database. Write handles buffer writes in the
// memtable and, on Close, flush it and compact the entire key range so the
// finished shard consists of a few sorted, non-overlapping tables that are
// cheap to copy and fast to read. Read handles open the database with
// ReadOnly and ErrorIfNotExists, so they never create files in a shard.
//
// Options ("persistence_opts"):
//
//	cache_size      int   block cache size in bytes (default 8 MiB)
//	sync_writes     bool  fsync the WAL on every write (default false)
//	max_open_files  int   limit of open table files
//	skip_compact    bool  skip the full range compaction on close
package pebble
