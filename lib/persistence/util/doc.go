// Package util provides utility components shared by the storage engines
// and the tooling that inspects them.
//
// The package contains:
//   - functions: Seeded hash functions and seed generation
//   - statistics: Distribution statistics (used to judge how evenly keys spread
//     over shards) and a SizeHistogram for value sizes
//   - options: Decoding of loosely typed engine options into typed structs
package util
