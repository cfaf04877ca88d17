// Package sqlite implements the B-tree storage engine of edb on top of
// SQLite (github.com/mattn/go-sqlite3, requires cgo).
//
// Every shard directory holds one database file (shard.db) with a single
// table kv(k BLOB PRIMARY KEY, v BLOB) without rowid, so the table itself is
// the key-ordered B-tree. Write handles batch upserts in transactions of
// batch_size writes. Close commits, runs VACUUM to rebuild a compact file and
// PRAGMA optimize. Read handles open the file with mode=ro.
//
// Options ("persistence_opts"):
//
//	batch_size     int   writes per transaction (default 10000)
//	cache_size_kb  int   page cache size in KiB (default 8192)
//	sync_writes    bool  PRAGMA synchronous=FULL (default OFF)
//	skip_vacuum    bool  skip VACUUM on close
package sqlite
