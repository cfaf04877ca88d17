// Package sharding maps encoded keys to shard indexes.
//
// A domain fixes its scheme in its spec when it is created. Build processes
// use the scheme to route records, readers use it to find the shard that
// holds a key, so both sides must agree bit for bit. hashmod is the default
// and matches the assignment of existing domains; xxhash is a faster
// alternative for new domains.
package sharding
