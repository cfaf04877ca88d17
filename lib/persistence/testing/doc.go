// Package testing provides a standardized conformance suite and benchmarks
// for storage engines that implement persistence.ICoordinator.
//
// The package contains:
//   - testing: Tests for the coordinator/persistence contract (open modes,
//     NotFound on missing shards, close semantics, iteration, updaters)
//   - benchmark: Throughput of writes, point lookups and full scans
//
// Example usage:
//
//	factory := func() persistence.ICoordinator {
//		return mybackend.NewCoordinator()
//	}
//
//	// Running the standard test suite
//	ptesting.RunCoordinatorTests(t, "MyBackend", factory)
//
//	// Running performance benchmarks
//	ptesting.RunCoordinatorBenchmarks(b, "MyBackend", factory)
package testing
