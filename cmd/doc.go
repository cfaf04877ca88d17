// Package cmd implements the command-line interface of edb. It provides a
// hierarchical command structure for creating domains, building and
// managing their versions and reading them back.
//
// The package is organized into several subpackages:
//
//   - domain: Commands to create a domain and describe it (create, info)
//   - version: The binary version and the version management of a domain (list, cleanup, delete)
//   - build: Builds a new version from a JSON lines or CSV file
//   - query: Reads a version (get, dump, inspect) and benchmarks lookups (bench)
//   - serve: Answers lookups from stdin while hot-swapping new versions
//   - lock: Takes or releases the writer lock of a domain by hand
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See edb -help for a list of all commands.
package cmd
