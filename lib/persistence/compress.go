package persistence

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cast"
)

// --------------------------------------------------------------------------
// Compression Algorithms
// --------------------------------------------------------------------------

// Compression names a value compression algorithm ("compression" option).
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionZstd   Compression = "zstd"

	// OptCompression is the persistence option key selecting the algorithm.
	OptCompression = "compression"
)

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

// initZstd lazily creates the shared encoder and decoder.
// Both are safe for concurrent use through EncodeAll/DecodeAll.
func initZstd() error {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithZeroFrames(true))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdErr
}

// CompressionFromOptions reads the compression option. A missing option means none.
func CompressionFromOptions(opts Options) (Compression, error) {
	raw, ok := opts[OptCompression]
	if !ok || raw == nil {
		return CompressionNone, nil
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return "", errs.Wrap(errs.CodeInvalidSpec, err, "invalid %s option", OptCompression)
	}
	switch c := Compression(s); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionSnappy, CompressionZstd:
		return c, nil
	default:
		return "", errs.New(errs.CodeInvalidSpec, "unknown compression %q (expected none, snappy or zstd)", s)
	}
}

func (c Compression) compress(src []byte) ([]byte, error) {
	switch c {
	case CompressionSnappy:
		return snappy.Encode(nil, src), nil
	case CompressionZstd:
		if err := initZstd(); err != nil {
			return nil, err
		}
		return zstdEnc.EncodeAll(src, nil), nil
	default:
		return src, nil
	}
}

func (c Compression) decompress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}
	switch c {
	case CompressionSnappy:
		return snappy.Decode(nil, src)
	case CompressionZstd:
		if err := initZstd(); err != nil {
			return nil, err
		}
		return zstdDec.DecodeAll(src, nil)
	default:
		return src, nil
	}
}

// --------------------------------------------------------------------------
// Coordinator Decorator
// --------------------------------------------------------------------------

// WithCompression wraps a key-value coordinator so that every value is
// compressed before it reaches the engine and decompressed on the way out.
// Keys are stored verbatim so the engine's key order is preserved.
func WithCompression(inner ICoordinator, algo Compression) ICoordinator {
	return &compressedCoordinator{inner: inner, algo: algo}
}

type compressedCoordinator struct {
	inner ICoordinator
	algo  Compression
}

func (c *compressedCoordinator) Kind() Kind { return c.inner.Kind() }

func (c *compressedCoordinator) SupportsFeature(feature Feature) bool {
	return c.inner.SupportsFeature(feature)
}

func (c *compressedCoordinator) OpenForRead(path string, opts Options) (IPersistence, error) {
	return c.wrap(c.inner.OpenForRead(path, opts))
}

func (c *compressedCoordinator) OpenForAppend(path string, opts Options) (IPersistence, error) {
	return c.wrap(c.inner.OpenForAppend(path, opts))
}

func (c *compressedCoordinator) CreatePersistence(path string, opts Options) (IPersistence, error) {
	return c.wrap(c.inner.CreatePersistence(path, opts))
}

func (c *compressedCoordinator) wrap(p IPersistence, err error) (IPersistence, error) {
	if err != nil {
		return nil, err
	}
	kv, ok := p.(IKeyValPersistence)
	if !ok {
		_ = p.Close()
		return nil, errs.New(errs.CodeInvalidSpec, "engine %s is not key-value shaped, cannot compress", c.inner.Kind())
	}
	return &compressedPersistence{inner: kv, algo: c.algo}, nil
}

type compressedPersistence struct {
	inner IKeyValPersistence
	algo  Compression
}

func (p *compressedPersistence) Index(doc Document) error {
	v, err := p.algo.compress(doc.Value)
	if err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "%s compression failed", p.algo)
	}
	return p.inner.Index(Document{Key: doc.Key, Value: v})
}

func (p *compressedPersistence) Put(key, value []byte) error {
	return p.Index(Document{Key: key, Value: value})
}

func (p *compressedPersistence) Get(key []byte) ([]byte, bool, error) {
	v, ok, err := p.inner.Get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	out, err := p.algo.decompress(v)
	if err != nil {
		return nil, false, errs.Wrap(errs.CodeEngineIO, err, "%s decompression failed for key %q", p.algo, key)
	}
	return out, true, nil
}

func (p *compressedPersistence) Iterator() (IIterator, error) {
	it, err := p.inner.Iterator()
	if err != nil {
		return nil, err
	}
	return &compressedIterator{inner: it, algo: p.algo}, nil
}

func (p *compressedPersistence) Close() error {
	return p.inner.Close()
}

type compressedIterator struct {
	inner IIterator
	algo  Compression
	cur   Document
	err   error
}

func (it *compressedIterator) Next() bool {
	if it.err != nil || !it.inner.Next() {
		return false
	}
	doc := it.inner.Document()
	v, err := it.algo.decompress(doc.Value)
	if err != nil {
		it.err = fmt.Errorf("%s decompression failed for key %q: %w", it.algo, doc.Key, err)
		return false
	}
	it.cur = Document{Key: doc.Key, Value: v}
	return true
}

func (it *compressedIterator) Document() Document { return it.cur }

func (it *compressedIterator) Err() error {
	if it.err != nil {
		return errs.Wrap(errs.CodeEngineIO, it.err, "iteration failed")
	}
	return it.inner.Err()
}

func (it *compressedIterator) Close() error { return it.inner.Close() }
