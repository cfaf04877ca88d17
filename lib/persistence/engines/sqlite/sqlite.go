package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/ValentinKolb/edb/lib/persistence/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
)

var log = logger.GetLogger("persistence")

func init() {
	persistence.Register(NewCoordinator())
}

// DBFile is the name of the database file inside a shard directory.
const DBFile = "shard.db"

const (
	schema    = `CREATE TABLE IF NOT EXISTS kv (k BLOB PRIMARY KEY, v BLOB NOT NULL) WITHOUT ROWID`
	upsertSQL = `INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`
	getSQL    = `SELECT v FROM kv WHERE k = ?`
	scanSQL   = `SELECT k, v FROM kv ORDER BY k`
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options are the sqlite specific persistence options.
type Options struct {
	BatchSize   int  `mapstructure:"batch_size"`    // Writes per transaction
	CacheSizeKB int  `mapstructure:"cache_size_kb"` // Page cache size (PRAGMA cache_size)
	SyncWrites  bool `mapstructure:"sync_writes"`   // PRAGMA synchronous = FULL instead of OFF
	SkipVacuum  bool `mapstructure:"skip_vacuum"`   // Skip VACUUM on close
}

// DefaultOptions returns the options used for keys that are not set.
func DefaultOptions() Options {
	return Options{BatchSize: 10000, CacheSizeKB: 8192}
}

func parseOptions(opts persistence.Options) (Options, error) {
	o := DefaultOptions()
	if err := util.DecodeOptions(opts, &o); err != nil {
		return o, errs.Wrap(errs.CodeInvalidSpec, err, "sqlite")
	}
	if o.BatchSize <= 0 {
		return o, errs.New(errs.CodeInvalidSpec, "sqlite: batch_size must be positive, got %d", o.BatchSize)
	}
	return o, nil
}

// --------------------------------------------------------------------------
// Coordinator
// --------------------------------------------------------------------------

type coordinator struct{}

// NewCoordinator returns the coordinator for the sqlite B-tree engine.
func NewCoordinator() persistence.ICoordinator {
	return coordinator{}
}

func (coordinator) Kind() persistence.Kind { return persistence.KindSQLite }

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
	file := filepath.Join(path, DBFile)
	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return nil, errs.New(errs.CodeNotFound, "no sqlite database in shard").WithPath(path)
	} else if err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to stat shard").WithPath(path)
	}

	db, err := sql.Open("sqlite3", dsn(file, "ro"))
	if err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to open sqlite database").WithPath(path)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA cache_size = -%d", o.CacheSizeKB)); err != nil {
		_ = db.Close()
		code := errs.CodeEngineIO
		if isInvalidShard(err) {
			code = errs.CodeNotFound
		}
		return nil, errs.Wrap(code, err, "failed to configure sqlite database").WithPath(path)
	}
	// a file that is not a sqlite database only fails on first use
	if _, err := db.Exec(`SELECT 1 FROM kv LIMIT 1`); err != nil {
		_ = db.Close()
		code := errs.CodeEngineIO
		if isInvalidShard(err) {
			code = errs.CodeNotFound
		}
		return nil, errs.Wrap(code, err, "invalid sqlite shard").WithPath(path)
	}

	return &sqliteImpl{path: path, db: db, opts: o, readOnly: true}, nil
}

func (coordinator) OpenForAppend(path string, opts persistence.Options) (persistence.IPersistence, error) {
	o, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}
	return openWritable(path, o)
}

func (coordinator) CreatePersistence(path string, opts persistence.Options) (persistence.IPersistence, error) {
	o, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to clear shard directory").WithPath(path)
	}
	return openWritable(path, o)
}

func openWritable(path string, o Options) (*sqliteImpl, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to create shard directory").WithPath(path)
	}

	db, err := sql.Open("sqlite3", dsn(filepath.Join(path, DBFile), "rwc"))
	if err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to open sqlite database").WithPath(path)
	}
	// one connection, so the pragmas and the open transaction apply to every statement
	db.SetMaxOpenConns(1)

	synchronous := "OFF"
	if o.SyncWrites {
		synchronous = "FULL"
	}
	stmts := []string{
		"PRAGMA journal_mode = DELETE",
		"PRAGMA synchronous = " + synchronous,
		fmt.Sprintf("PRAGMA cache_size = -%d", o.CacheSizeKB),
		schema,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			_ = db.Close()
			return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to prepare sqlite database").WithPath(path)
		}
	}

	p := &sqliteImpl{path: path, db: db, opts: o}
	if err := p.begin(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func dsn(file, mode string) string {
	if abs, err := filepath.Abs(file); err == nil {
		file = abs
	}
	u := url.URL{Scheme: "file", Path: file}
	q := url.Values{}
	q.Set("mode", mode)
	u.RawQuery = q.Encode()
	return u.String()
}

// isInvalidShard reports whether err means the file holds no shard: it is
// not a sqlite database or lacks the kv table.
func isInvalidShard(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrNotADB || strings.Contains(se.Error(), "no such table")
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

type sqliteImpl struct {
	path     string
	db       *sql.DB
	opts     Options
	readOnly bool
	closed   bool

	// write state
	tx      *sql.Tx
	upsert  *sql.Stmt
	pending int
}

func (p *sqliteImpl) begin() error {
	tx, err := p.db.Begin()
	if err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to begin sqlite transaction").WithPath(p.path)
	}
	stmt, err := tx.Prepare(upsertSQL)
	if err != nil {
		_ = tx.Rollback()
		return errs.Wrap(errs.CodeEngineIO, err, "failed to prepare sqlite statement").WithPath(p.path)
	}
	p.tx, p.upsert, p.pending = tx, stmt, 0
	return nil
}

func (p *sqliteImpl) commit() error {
	if p.tx == nil {
		return nil
	}
	err := multierr.Append(p.upsert.Close(), p.tx.Commit())
	p.tx, p.upsert = nil, nil
	if err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to commit sqlite transaction").WithPath(p.path)
	}
	return nil
}

func (p *sqliteImpl) Index(doc persistence.Document) error {
	return p.Put(doc.Key, doc.Value)
}

func (p *sqliteImpl) Put(key, value []byte) error {
	if p.readOnly {
		return errs.New(errs.CodeEngineIO, "sqlite shard is opened read-only").WithPath(p.path)
	}
	if value == nil {
		value = []byte{}
	}
	if _, err := p.upsert.Exec(key, value); err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "sqlite upsert failed").WithPath(p.path)
	}
	p.pending++
	if p.pending >= p.opts.BatchSize {
		if err := p.commit(); err != nil {
			return err
		}
		return p.begin()
	}
	return nil
}

func (p *sqliteImpl) queryer() interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
} {
	if p.tx != nil {
		return p.tx
	}
	return p.db
}

func (p *sqliteImpl) Get(key []byte) ([]byte, bool, error) {
	var v []byte
	err := p.queryer().QueryRow(getSQL, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.CodeEngineIO, err, "sqlite get failed").WithPath(p.path)
	}
	if v == nil {
		v = []byte{}
	}
	return v, true, nil
}

// Iterator scans the shard in key order. Write handles must not be written
// to while an iterator is open.
func (p *sqliteImpl) Iterator() (persistence.IIterator, error) {
	rows, err := p.queryer().Query(scanSQL)
	if err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "sqlite scan failed").WithPath(p.path)
	}
	return &iterator{rows: rows}, nil
}

// Close commits the open transaction of write handles, then rebuilds the
// database file (VACUUM) and refreshes the query planner statistics.
func (p *sqliteImpl) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var err error
	if !p.readOnly {
		err = p.commit()
		if err == nil && !p.opts.SkipVacuum {
			log.Debugf("sqlite: vacuuming %s", p.path)
			_, err = p.db.Exec("VACUUM")
		}
		if err == nil {
			_, err = p.db.Exec("PRAGMA optimize")
		}
	}
	if cerr := p.db.Close(); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	if err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to close sqlite database").WithPath(p.path)
	}
	return nil
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

type iterator struct {
	rows   *sql.Rows
	cur    persistence.Document
	err    error
	closed bool
}

func (i *iterator) Next() bool {
	if i.closed || i.err != nil || !i.rows.Next() {
		return false
	}
	var k, v []byte
	if err := i.rows.Scan(&k, &v); err != nil {
		i.err = err
		return false
	}
	if v == nil {
		v = []byte{}
	}
	i.cur = persistence.Document{Key: k, Value: v}
	return true
}

func (i *iterator) Document() persistence.Document { return i.cur }

func (i *iterator) Err() error {
	err := i.err
	if err == nil && !i.closed {
		err = i.rows.Err()
	}
	if err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "sqlite iteration failed")
	}
	return nil
}

func (i *iterator) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	return i.rows.Close()
}
