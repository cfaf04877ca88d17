package pebble

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/ValentinKolb/edb/lib/persistence/util"
	"github.com/cockroachdb/pebble"
	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/multierr"
)

var log = logger.GetLogger("persistence")

func init() {
	persistence.Register(NewCoordinator())
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

const defaultCacheSize = 8 << 20

// Options are the pebble specific persistence options.
type Options struct {
	CacheSize    int64 `mapstructure:"cache_size"`     // Block cache size in bytes
	SyncWrites   bool  `mapstructure:"sync_writes"`    // fsync the WAL on every write
	MaxOpenFiles int   `mapstructure:"max_open_files"` // Limit of open table files (0 = pebble default)
	SkipCompact  bool  `mapstructure:"skip_compact"`   // Skip the full compaction on close
}

// DefaultOptions returns the options used for keys that are not set.
func DefaultOptions() Options {
	return Options{CacheSize: defaultCacheSize}
}

func parseOptions(opts persistence.Options) (Options, error) {
	o := DefaultOptions()
	if err := util.DecodeOptions(opts, &o); err != nil {
		return o, errs.Wrap(errs.CodeInvalidSpec, err, "pebble")
	}
	if o.CacheSize < 0 {
		return o, errs.New(errs.CodeInvalidSpec, "pebble: cache_size must not be negative")
	}
	return o, nil
}

// --------------------------------------------------------------------------
// Coordinator
// --------------------------------------------------------------------------

type coordinator struct{}

// NewCoordinator returns the coordinator for the pebble LSM engine.
func NewCoordinator() persistence.ICoordinator {
	return coordinator{}
}

func (coordinator) Kind() persistence.Kind { return persistence.KindPebble }

func (coordinator) SupportsFeature(feature persistence.Feature) bool {
	supported := persistence.FeatureGet |
		persistence.FeaturePut |
		persistence.FeatureIterate |
		persistence.FeatureCompact
	return supported&feature == feature
}

func (coordinator) OpenForRead(path string, opts persistence.Options) (persistence.IPersistence, error) {
	o, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}
	if ok, err := hasManifest(path); err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to stat shard").WithPath(path)
	} else if !ok {
		return nil, errs.New(errs.CodeNotFound, "no pebble database in shard").WithPath(path)
	}
	return open(path, o, true)
}

func (coordinator) OpenForAppend(path string, opts persistence.Options) (persistence.IPersistence, error) {
	o, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}
	return open(path, o, false)
}

func (coordinator) CreatePersistence(path string, opts persistence.Options) (persistence.IPersistence, error) {
	o, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to clear shard directory").WithPath(path)
	}
	return open(path, o, false)
}

func open(path string, o Options, readOnly bool) (*pebbleImpl, error) {
	cache := pebble.NewCache(o.CacheSize)
	db, err := pebble.Open(path, &pebble.Options{
		Cache:            cache,
		ReadOnly:         readOnly,
		ErrorIfNotExists: readOnly,
		MaxOpenFiles:     o.MaxOpenFiles,
	})
	cache.Unref()
	if err != nil {
		code := errs.CodeEngineIO
		if readOnly && errors.Is(err, fs.ErrNotExist) {
			code = errs.CodeNotFound
		}
		return nil, errs.Wrap(code, err, "failed to open pebble database").WithPath(path)
	}

	writeOpts := pebble.NoSync
	if o.SyncWrites {
		writeOpts = pebble.Sync
	}

	log.Debugf("pebble: opened %s (read-only: %v)", path, readOnly)
	return &pebbleImpl{
		path:      path,
		db:        db,
		opts:      o,
		writeOpts: writeOpts,
		readOnly:  readOnly,
	}, nil
}

// hasManifest reports whether path is a directory holding a pebble manifest.
func hasManifest(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "MANIFEST-") {
			return true, nil
		}
	}
	return false, nil
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

type pebbleImpl struct {
	path      string
	db        *pebble.DB
	opts      Options
	writeOpts *pebble.WriteOptions
	readOnly  bool
	closed    bool
}

func (p *pebbleImpl) Index(doc persistence.Document) error {
	return p.Put(doc.Key, doc.Value)
}

func (p *pebbleImpl) Put(key, value []byte) error {
	if p.readOnly {
		return errs.New(errs.CodeEngineIO, "pebble shard is opened read-only").WithPath(p.path)
	}
	if err := p.db.Set(key, value, p.writeOpts); err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "pebble set failed").WithPath(p.path)
	}
	return nil
}

func (p *pebbleImpl) Get(key []byte) ([]byte, bool, error) {
	v, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.CodeEngineIO, err, "pebble get failed").WithPath(p.path)
	}
	defer closer.Close()

	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (p *pebbleImpl) Iterator() (persistence.IIterator, error) {
	it, err := p.db.NewIter(nil)
	if err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to create pebble iterator").WithPath(p.path)
	}
	return &iterator{it: it}, nil
}

// Close flushes the memtable and compacts the whole key range into a
// minimal set of sorted tables before closing write handles.
func (p *pebbleImpl) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var err error
	if !p.readOnly {
		err = p.finalize()
	}
	if cerr := p.db.Close(); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	if err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to close pebble database").WithPath(p.path)
	}
	return nil
}

func (p *pebbleImpl) finalize() error {
	if err := p.db.Flush(); err != nil {
		return err
	}
	if p.opts.SkipCompact {
		return nil
	}

	first, last, err := p.bounds()
	if err != nil || first == nil {
		return err
	}
	// the end key is exclusive
	end := append(last, 0x00)
	log.Debugf("pebble: compacting %s", p.path)
	return p.db.Compact(first, end, true)
}

// bounds returns the smallest and largest key, or nil if the database is empty.
func (p *pebbleImpl) bounds() (first, last []byte, err error) {
	it, err := p.db.NewIter(nil)
	if err != nil {
		return nil, nil, err
	}
	if it.First() {
		first = append([]byte(nil), it.Key()...)
	}
	if it.Last() {
		last = append([]byte(nil), it.Key()...)
	}
	return first, last, multierr.Append(it.Error(), it.Close())
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

type iterator struct {
	it      *pebble.Iterator
	started bool
	closed  bool
	cur     persistence.Document
}

func (i *iterator) Next() bool {
	if i.closed {
		return false
	}
	var ok bool
	if !i.started {
		i.started = true
		ok = i.it.First()
	} else {
		ok = i.it.Next()
	}
	if !ok {
		return false
	}
	i.cur = persistence.CopyDocument(i.it.Key(), i.it.Value())
	return true
}

func (i *iterator) Document() persistence.Document { return i.cur }

func (i *iterator) Err() error {
	if i.closed {
		return nil
	}
	if err := i.it.Error(); err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "pebble iteration failed")
	}
	return nil
}

func (i *iterator) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	if err := i.it.Close(); err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to close pebble iterator")
	}
	return nil
}
