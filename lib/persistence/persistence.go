package persistence

import (
	"bytes"
	"fmt"
	"iter"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// Kind identifies a storage engine. It is the value stored as "engine" in a
// domain spec.
type Kind string

const (
	KindPebble Kind = "pebble"
	KindSQLite Kind = "sqlite"
	KindMaple  Kind = "maple"
)

// Feature represents engine features as bit flags
type Feature uint64

const (
	FeatureGet     Feature = 1 << iota // Support for point lookups (Get)
	FeaturePut                         // Support for Put on write handles
	FeatureIterate                     // Support for full shard iteration
	FeatureCompact                     // Close performs backend maintenance on write handles
)

func (f Feature) String() string {
	switch f {
	case FeatureGet:
		return "Get"
	case FeaturePut:
		return "Put"
	case FeatureIterate:
		return "Iterate"
	case FeatureCompact:
		return "Compact"
	default:
		return "Unknown"
	}
}

// Options are the engine specific options of a domain ("persistence_opts").
type Options map[string]any

// Document is a single record of a shard.
type Document struct {
	Key   []byte
	Value []byte
}

// Equal reports whether both documents hold the same key and value.
func (d Document) Equal(o Document) bool {
	return bytes.Equal(d.Key, o.Key) && bytes.Equal(d.Value, o.Value)
}

func (d Document) String() string {
	return fmt.Sprintf("Document{Key: %q, Value: %d bytes}", d.Key, len(d.Value))
}

// --------------------------------------------------------------------------
// Engine Interfaces
// --------------------------------------------------------------------------

// ICoordinator is a stateless factory for the persistences of one engine.
// A coordinator never holds open resources itself; every method returns a
// new handle owned by the caller.
//
// The coordinator, not the persistence, decides in which mode the backend is
// opened: OpenForRead never creates anything on disk, OpenForAppend and
// CreatePersistence may.
type ICoordinator interface {
	// Kind returns the identifier of the engine.
	Kind() Kind

	// OpenForRead opens an existing shard read-only.
	// It fails with errs.ErrNotFound if path holds no valid engine state.
	OpenForRead(path string, opts Options) (IPersistence, error)

	// OpenForAppend opens an existing shard for writing or allocates a new one
	// if path is empty. Existing data is never truncated.
	OpenForAppend(path string, opts Options) (IPersistence, error)

	// CreatePersistence allocates a brand new, empty shard at path and returns
	// a writable handle to it. Callers that only want an empty shard on disk
	// close the handle right away:
	//
	//	p, err := coord.CreatePersistence(dir, opts)
	//	if err == nil {
	//		err = p.Close()
	//	}
	CreatePersistence(path string, opts Options) (IPersistence, error)

	// SupportsFeature checks if the engine supports the specified feature(s).
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) bool
}

// IPersistence is an open handle to the engine state of one shard.
// Handles are not safe for concurrent writers.
type IPersistence interface {
	// Index upserts the document by its key.
	Index(doc Document) error

	// Iterator returns a single-pass iterator over all documents of the shard.
	// The iterator must be closed independently of the persistence and must
	// not be used after the persistence was closed.
	Iterator() (IIterator, error)

	// Close releases the handle. It must be called exactly once. For write
	// handles it durably flushes all state and runs the backend maintenance
	// (compaction, vacuum, ...) before it returns, so the shard directory is
	// complete and optimized for read-only opens afterward. Maintenance
	// failures are returned, not swallowed.
	Close() error
}

// IKeyValPersistence is implemented by persistences of key-value shaped engines.
type IKeyValPersistence interface {
	IPersistence

	// Get returns the value stored for key. A missing key is not an error,
	// it is reported with ok=false.
	Get(key []byte) (value []byte, ok bool, err error)

	// Put is a shorthand for Index(Document{Key: key, Value: value}).
	Put(key, value []byte) error
}

// IIterator iterates the documents of a shard.
//
//	it, err := p.Iterator()
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//		doc := it.Document()
//	}
//	if err := it.Err(); err != nil { ... }
type IIterator interface {
	// Next advances to the next document and reports whether there is one.
	Next() bool
	// Document returns the current document. The returned slices are owned by the caller.
	Document() Document
	// Err returns the first error encountered during iteration.
	Err() error
	// Close releases the underlying cursor. It is safe to call Close more than once
	// and after the iterator was exhausted.
	Close() error
}

// --------------------------------------------------------------------------
// Iterator Helper
// --------------------------------------------------------------------------

// All adapts an IIterator to a range-over-func sequence. The iterator is
// closed when the sequence ends, including on an early break. An iteration
// error is yielded once as the last element.
//
//	for doc, err := range persistence.All(it) {
//		if err != nil { return err }
//		...
//	}
func All(it IIterator) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		defer it.Close()
		for it.Next() {
			if !yield(it.Document(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(Document{}, err)
			return
		}
		if err := it.Close(); err != nil {
			yield(Document{}, err)
		}
	}
}

// SliceIterator is an IIterator over an in-memory slice of documents.
type SliceIterator struct {
	docs []Document
	pos  int
}

// NewSliceIterator creates a new iterator over docs.
func NewSliceIterator(docs []Document) *SliceIterator {
	return &SliceIterator{docs: docs, pos: -1}
}

func (s *SliceIterator) Next() bool {
	if s.pos+1 >= len(s.docs) {
		s.pos = len(s.docs)
		return false
	}
	s.pos++
	return true
}

func (s *SliceIterator) Document() Document {
	if s.pos < 0 || s.pos >= len(s.docs) {
		return Document{}
	}
	return s.docs[s.pos]
}

func (s *SliceIterator) Err() error { return nil }

func (s *SliceIterator) Close() error {
	s.docs = nil
	return nil
}

// copyBytes returns a copy of b that does not alias backend owned memory.
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// CopyDocument returns a document whose key and value do not alias the
// memory of doc. Engines use it before handing documents to callers.
func CopyDocument(key, value []byte) Document {
	return Document{Key: copyBytes(key), Value: copyBytes(value)}
}
