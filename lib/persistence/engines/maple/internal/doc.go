// Package internal contains the in-memory table and the snapshot file
// format of the maple engine.
package internal
