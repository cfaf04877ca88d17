package maple

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/ValentinKolb/edb/lib/persistence/engines/maple/internal"
	"github.com/ValentinKolb/edb/lib/persistence/util"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("persistence")

func init() {
	persistence.Register(NewCoordinator())
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options are the maple specific persistence options.
type Options struct {
	// SyncWrites fsyncs the snapshot file and its directory on close.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// DefaultOptions returns the options used for keys that are not set.
func DefaultOptions() Options {
	return Options{SyncWrites: true}
}

func parseOptions(opts persistence.Options) (Options, error) {
	o := DefaultOptions()
	if err := util.DecodeOptions(opts, &o); err != nil {
		return o, errs.Wrap(errs.CodeInvalidSpec, err, "maple")
	}
	return o, nil
}

// --------------------------------------------------------------------------
// Coordinator
// --------------------------------------------------------------------------

type coordinator struct{}

// NewCoordinator returns the maple coordinator. Maple keeps the whole shard
// in memory and persists it as a single snapshot file when a write handle
// is closed. It is meant for small domains and tests.
func NewCoordinator() persistence.ICoordinator {
	return coordinator{}
}

func (coordinator) Kind() persistence.Kind { return persistence.KindMaple }

func (coordinator) SupportsFeature(feature persistence.Feature) bool {
	supported := persistence.FeatureGet |
		persistence.FeaturePut |
		persistence.FeatureIterate
	return supported&feature == feature
}

func (coordinator) OpenForRead(path string, opts persistence.Options) (persistence.IPersistence, error) {
	o, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}
	table, err := load(path)
	if err != nil {
		return nil, err
	}
	return &mapleImpl{path: path, table: table, opts: o, readOnly: true}, nil
}

func (coordinator) OpenForAppend(path string, opts persistence.Options) (persistence.IPersistence, error) {
	o, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to create shard directory").WithPath(path)
	}

	table, err := load(path)
	if errors.Is(err, errs.ErrNotFound) {
		table, err = internal.NewTable(), nil
	}
	if err != nil {
		return nil, err
	}
	return &mapleImpl{path: path, table: table, opts: o}, nil
}

func (coordinator) CreatePersistence(path string, opts persistence.Options) (persistence.IPersistence, error) {
	o, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to create shard directory").WithPath(path)
	}
	return &mapleImpl{path: path, table: internal.NewTable(), opts: o}, nil
}

// load reads the snapshot of the shard at path.
func load(path string) (*internal.Table, error) {
	f, err := os.Open(filepath.Join(path, internal.SnapshotFile))
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return nil, errs.New(errs.CodeNotFound, "no maple snapshot in shard").WithPath(path)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to open maple snapshot").WithPath(path)
	}
	defer f.Close()

	table, err := internal.ReadTable(f)
	if err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to read maple snapshot").WithPath(path)
	}
	return table, nil
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

type mapleImpl struct {
	path     string
	table    *internal.Table
	opts     Options
	readOnly bool
	closed   atomic.Bool
}

func (m *mapleImpl) Index(doc persistence.Document) error {
	return m.Put(doc.Key, doc.Value)
}

func (m *mapleImpl) Put(key, value []byte) error {
	if m.readOnly {
		return errs.New(errs.CodeEngineIO, "maple shard is opened read-only").WithPath(m.path)
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.table.Data.Store(string(key), v)
	return nil
}

func (m *mapleImpl) Get(key []byte) ([]byte, bool, error) {
	v, ok := m.table.Data.Load(string(key))
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Iterator returns the documents in key order.
func (m *mapleImpl) Iterator() (persistence.IIterator, error) {
	keys := m.table.SortedKeys()
	docs := make([]persistence.Document, 0, len(keys))
	for _, k := range keys {
		if v, ok := m.table.Data.Load(k); ok {
			docs = append(docs, persistence.CopyDocument([]byte(k), v))
		}
	}
	return persistence.NewSliceIterator(docs), nil
}

// Close writes the snapshot for write handles. The file is written to a
// temporary name and renamed so that a crash never leaves a torn snapshot.
func (m *mapleImpl) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.readOnly {
		return nil
	}

	target := filepath.Join(m.path, internal.SnapshotFile)
	tmp := target + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to create maple snapshot").WithPath(m.path)
	}
	n, err := m.table.WriteTo(f)
	if err == nil && m.opts.SyncWrites {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return errs.Wrap(errs.CodeEngineIO, err, "failed to write maple snapshot").WithPath(m.path)
	}

	if err := os.Rename(tmp, target); err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to install maple snapshot").WithPath(m.path)
	}
	if m.opts.SyncWrites {
		if d, err := os.Open(m.path); err == nil {
			_ = d.Sync()
			_ = d.Close()
		}
	}

	log.Debugf("maple: wrote snapshot with %d entries (%d bytes) to %s", m.table.Data.Size(), n, target)
	m.table = internal.NewTable()
	return nil
}
