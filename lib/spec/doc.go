// Package spec implements the DomainSpec: the immutable description of a
// domain's layout (shard count, storage engine and its options, sharding
// scheme, key and value codec).
//
// The spec of a domain is written once, when the domain is created, into a
// sidecar file at the domain root:
//
//	<root>/domain-spec.yaml   (default)
//	<root>/domain-spec.toml
//
// A sidecar looks like this:
//
//	num_shards: 32
//	engine: pebble
//	sharding_scheme: hashmod
//	persistence_opts:
//	  cache_size: 67108864
//	  compression: snappy
//	codec:
//	  key: binary
//	  value: json
//
// Every sidecar is validated against an embedded CUE schema before it is
// decoded. Option values are normalized (integers to int64, floats to
// float64, nested maps to map[string]any) so a spec compares Equal to itself
// after a write and read round trip, independent of the format.
package spec
