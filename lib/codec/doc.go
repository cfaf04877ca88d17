// Package codec converts application keys and values into the bytes that
// are stored in shards and hashed by the sharding scheme.
//
// The package focuses on:
//   - A small interface (ICodec) that every codec implements
//   - Explicit construction: a domain resolves its key and value codec once
//     when it is opened, nothing is looked up through globals
//   - Reusing scratch buffers through an explicit Pool
//
// Key Components:
//
//   - binaryCodecImpl: Raw bytes, strings and order preserving fixed width
//     integers. The binary-nfc variant normalizes strings to Unicode NFC so
//     that canonically equal keys always land in the same shard.
//
//   - jsonCodecImpl: JSON, for structured values that other tools read.
//
//   - gobCodecImpl: Go's gob format for arbitrary Go values. Larger and
//     slower than the other codecs, and only readable from Go.
//
// Keys must be encoded deterministically: the same key has to produce the
// same bytes in the build process and in every reader, otherwise it is
// routed to a different shard. binary and binary-nfc are deterministic for
// all supported types. json is deterministic for structs and maps (map keys
// are sorted). gob is not recommended for keys.
//
// Usage:
//
//	pool := codec.NewPool()
//	c, err := codec.New(codec.KindJSON, pool)
//	data, err := c.Encode(value)
//	err = c.Decode(data, &value)
package codec
