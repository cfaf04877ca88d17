package build

import (
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/lockmgr"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/ValentinKolb/edb/lib/store"
	"github.com/ValentinKolb/edb/lib/store/dstore"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

var log = logger.GetLogger("build")

// WriterLockKey is the lock key used when Options.Lock is set. The lock
// file is "<domain root>/.writer.lock".
const WriterLockKey = "writer"

// Options configure a Writer. The zero value builds a fresh version with
// the replace updater.
type Options struct {
	// VersionPath is an in-progress version created by the caller. If empty,
	// the writer creates a new version.
	VersionPath string

	// Incremental starts every shard from its state in the most recent
	// complete version and copies untouched shards forward on Commit.
	Incremental bool

	// Updater applies records to shards. Defaults to persistence.ReplaceUpdater.
	Updater persistence.IUpdater

	// TmpDirs are the local directories shards are built in.
	// Defaults to DefaultTmpDirs().
	TmpDirs []string

	// Parallelism bounds the number of shards closed and uploaded
	// concurrently on Commit. Defaults to 4.
	Parallelism int

	// Lock takes the advisory writer lock of the domain for the lifetime of
	// the writer. LockTimeout lets a lock of a crashed writer expire.
	Lock        bool
	LockTimeout time.Duration

	// ProgressEvery is the number of records between two progress log lines.
	// Defaults to 25000.
	ProgressEvery int
}

// Writer builds one version of a domain. Records are written to local
// shards, which are closed (flushed and compacted) and uploaded to the
// version directory on Commit. Nothing becomes visible to readers before
// Commit succeeds.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	domain   *dstore.DomainStore
	shards   store.IShardSet
	local    *LocalManager
	opts     Options
	previous string

	open map[int]persistence.IPersistence
	done bool

	lock    lockmgr.ILockManager
	ownerID []byte

	written       int64
	meter         gometrics.Meter
	lastProgress  time.Time
	progressEvery int64
}

// NewWriter prepares a new version of domain.
func NewWriter(domain *dstore.DomainStore, opts *Options) (_ *Writer, err error) {
	if opts == nil {
		opts = &Options{}
	}
	w := &Writer{
		domain:        domain,
		opts:          *opts,
		open:          make(map[int]persistence.IPersistence),
		progressEvery: int64(opts.ProgressEvery),
	}
	if w.opts.Updater == nil {
		w.opts.Updater = persistence.ReplaceUpdater{}
	}
	if w.opts.Parallelism <= 0 {
		w.opts.Parallelism = 4
	}
	if w.progressEvery <= 0 {
		w.progressEvery = 25000
	}

	if w.opts.Lock {
		w.lock = lockmgr.NewLockManager(domain.Fs(), domain.Root())
		var ok bool
		ok, w.ownerID, err = w.lock.AcquireLock(WriterLockKey, w.opts.LockTimeout)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.New(errs.CodeLocked, "domain is locked by another writer").
				WithRoot(domain.Root()).WithPath(lockmgr.LockPath(domain.Root(), WriterLockKey))
		}
		defer func() {
			if err != nil {
				w.releaseLock()
			}
		}()
	}

	if w.opts.Incremental {
		if w.previous, _, err = domain.MostRecentVersionPath(); err != nil {
			return nil, err
		}
	}

	path := w.opts.VersionPath
	if path == "" {
		if path, err = domain.CreateVersion(); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				_ = domain.FailVersion(path)
			}
		}()
	}
	if w.shards, err = domain.GetShardSetAt(path); err != nil {
		return nil, err
	}

	if w.local, err = NewLocalManager(domain.Fs(), domain.Coordinator(), domain.Spec().PersistenceOpts(), w.opts.TmpDirs); err != nil {
		return nil, err
	}

	w.meter = gometrics.NewMeter()
	w.lastProgress = time.Now()
	log.Infof("writing version %s (incremental=%v, previous=%q)", path, w.opts.Incremental, w.previous)
	return w, nil
}

// VersionPath returns the directory of the version being written.
func (w *Writer) VersionPath() string { return w.shards.Root() }

// Written returns the number of records written so far.
func (w *Writer) Written() int64 { return w.written }

// Write applies doc to shard using the configured updater.
func (w *Writer) Write(shard int, doc persistence.Document) error {
	if w.done {
		return errs.New(errs.CodeInvalidVersion, "writer is already committed or aborted").WithPath(w.VersionPath())
	}
	p, err := w.retrieveShard(shard)
	if err != nil {
		return err
	}
	if err := w.opts.Updater.Update(p, doc); err != nil {
		return errs.AtShard(err, shard, w.local.LocalShardDir(strconv.Itoa(shard)))
	}
	w.bumpProgress()
	return nil
}

// WriteKV encodes key and value with the codecs of the domain and writes
// the record to the shard the key belongs to.
func (w *Writer) WriteKV(key, value any) error {
	k, err := w.shards.KeyCodec().Encode(key)
	if err != nil {
		return errs.Wrap(errs.CodeInvalidSpec, err, "failed to encode key")
	}
	v, err := w.shards.ValueCodec().Encode(value)
	if err != nil {
		return errs.Wrap(errs.CodeInvalidSpec, err, "failed to encode value")
	}
	return w.Write(w.shards.ShardIndexForBytes(k), persistence.Document{Key: k, Value: v})
}

// retrieveShard returns the open local shard, preparing it on first use.
func (w *Writer) retrieveShard(shard int) (persistence.IPersistence, error) {
	if p, ok := w.open[shard]; ok {
		return p, nil
	}
	if _, err := w.shards.ShardPath(shard); err != nil {
		return nil, err
	}

	id := strconv.Itoa(shard)
	remote := ""
	if w.previous != "" {
		remote = filepath.Join(w.previous, id)
	}
	dir, err := w.local.DownloadShard(id, remote)
	if err != nil {
		return nil, errs.AtShard(err, shard, remote)
	}
	p, err := w.domain.Coordinator().OpenForAppend(dir, w.domain.Spec().PersistenceOpts())
	if err != nil {
		return nil, errs.AtShard(err, shard, dir)
	}
	w.open[shard] = p
	w.local.Progress()
	return p, nil
}

func (w *Writer) bumpProgress() {
	w.written++
	w.meter.Mark(1)
	recordsTotal.Inc()
	if w.written%w.progressEvery == 0 {
		now := time.Now()
		log.Infof("wrote last %d records in %d ms (%.0f records/s)",
			w.progressEvery, now.Sub(w.lastProgress).Milliseconds(), w.meter.Rate1())
		w.lastProgress = now
		w.local.Progress()
	}
}

// Commit closes and uploads all written shards, creates empty shards for
// the ones that got no records (after copying them from the previous
// version for incremental builds) and marks the version as complete. It
// returns the version id. On failure the version is removed.
func (w *Writer) Commit() (int64, error) {
	if w.done {
		return 0, errs.New(errs.CodeInvalidVersion, "writer is already committed or aborted").WithPath(w.VersionPath())
	}
	w.done = true
	start := time.Now()

	version, err := w.commit()
	if err != nil {
		versionsFailed.Inc()
		return 0, multierr.Append(err, w.abort())
	}

	versionsSucceeded.Inc()
	commitDuration.Update(time.Since(start).Seconds())
	log.Infof("committed version %d of %s with %d records in %s", version, w.domain.Root(), w.written, time.Since(start))
	return version, w.finish()
}

func (w *Writer) commit() (int64, error) {
	version, err := w.domain.ParseVersionPath(w.VersionPath())
	if err != nil {
		return 0, err
	}

	shards := make([]int, 0, len(w.open))
	for shard := range w.open {
		shards = append(shards, shard)
	}
	sort.Ints(shards)

	p := pool.New().WithMaxGoroutines(w.opts.Parallelism).WithErrors()
	for _, shard := range shards {
		handle := w.open[shard]
		p.Go(func() error {
			return w.finalizeShard(shard, handle)
		})
	}
	err = p.Wait()
	w.open = map[int]persistence.IPersistence{}
	if err != nil {
		return 0, err
	}

	if w.opts.Incremental {
		if err := w.domain.SynchronizeInProgressVersion(w.VersionPath()); err != nil {
			return 0, err
		}
	}
	if err := w.fillEmptyShards(); err != nil {
		return 0, err
	}
	if err := w.domain.SucceedVersionAt(version); err != nil {
		return 0, err
	}
	return version, nil
}

// finalizeShard closes the local shard and uploads it into the version.
func (w *Writer) finalizeShard(shard int, handle persistence.IPersistence) error {
	id := strconv.Itoa(shard)
	dir := w.local.LocalShardDir(id)
	log.Debugf("closing shard %d at %s", shard, dir)
	if err := handle.Close(); err != nil {
		return errs.AtShard(err, shard, dir)
	}

	remote, err := w.shards.ShardPath(shard)
	if err != nil {
		return err
	}
	if err := w.local.Upload(id, remote); err != nil {
		return errs.AtShard(err, shard, remote)
	}
	shardsTotal.Inc()
	w.local.Progress()
	return w.local.Remove(id)
}

// fillEmptyShards creates an empty shard for every shard the version does
// not have yet, so readers can open all of them.
func (w *Writer) fillEmptyShards() error {
	for shard := 0; shard < w.shards.NumShards(); shard++ {
		remote, err := w.shards.ShardPath(shard)
		if err != nil {
			return err
		}
		exists, err := afero.DirExists(w.domain.Fs(), remote)
		if err != nil {
			return errs.AtShard(err, shard, remote)
		}
		if exists {
			continue
		}
		id := "empty-" + strconv.Itoa(shard)
		if _, err := w.local.DownloadShard(id, ""); err != nil {
			return errs.AtShard(err, shard, remote)
		}
		if err := w.local.Upload(id, remote); err != nil {
			return errs.AtShard(err, shard, remote)
		}
		if err := w.local.Remove(id); err != nil {
			return errs.AtShard(err, shard, remote)
		}
	}
	return nil
}

// Abort discards all written data and removes the version.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	versionsFailed.Inc()
	return w.abort()
}

func (w *Writer) abort() error {
	var err error
	for shard, p := range w.open {
		err = multierr.Append(err, errs.AtShard(p.Close(), shard, ""))
	}
	w.open = map[int]persistence.IPersistence{}
	err = multierr.Append(err, w.domain.FailVersion(w.VersionPath()))
	log.Warningf("aborted version %s after %d records", w.VersionPath(), w.written)
	return multierr.Append(err, w.finish())
}

// finish releases the local resources and the lock.
func (w *Writer) finish() error {
	w.meter.Stop()
	err := w.local.Cleanup()
	w.releaseLock()
	return err
}

func (w *Writer) releaseLock() {
	if w.lock == nil || w.ownerID == nil {
		return
	}
	if ok, err := w.lock.ReleaseLock(WriterLockKey, w.ownerID); err != nil || !ok {
		log.Warningf("failed to release writer lock of %s (released=%v): %v", w.domain.Root(), ok, err)
	}
	w.ownerID = nil
}
