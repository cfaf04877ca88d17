package serve

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/edb/lib/build"
	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/store/dstore"
	"github.com/ValentinKolb/edb/lib/store/vstore"
	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru"
	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/multierr"
)

var log = logger.GetLogger("serve")

// Options configure a Loader.
type Options struct {
	// CacheSize is the number of lookups kept in the LRU cache. Zero selects
	// 10000, a negative value disables the cache.
	CacheSize int

	// PollInterval is the interval in which Run checks for a new version.
	// Defaults to 30 seconds.
	PollInterval time.Duration

	// Watch makes Run react to new version markers right away (fsnotify).
	// Only supported on the local filesystem, polling continues in any case.
	Watch bool

	// TmpDirs receive the shards of a domain on a non local filesystem.
	TmpDirs []string
}

// Loader serves lookups from the most recent complete version of a domain
// and swaps to newer versions on Refresh. It is safe for concurrent use.
type Loader struct {
	domain *dstore.DomainStore
	opts   Options
	local  *build.LocalManager
	cache  *lru.Cache

	refreshMu sync.Mutex // serializes Refresh
	mu        sync.RWMutex
	current   *snapshot
	closed    bool
}

type cacheKey struct {
	version int64
	key     string
}

type cacheEntry struct {
	value []byte
	found bool
}

// NewLoader creates a loader for domain. It does not open any version
// until Refresh is called.
func NewLoader(domain *dstore.DomainStore, opts *Options) (*Loader, error) {
	if opts == nil {
		opts = &Options{}
	}
	l := &Loader{domain: domain, opts: *opts}
	if l.opts.PollInterval <= 0 {
		l.opts.PollInterval = 30 * time.Second
	}
	if l.opts.CacheSize == 0 {
		l.opts.CacheSize = 10000
	}
	if l.opts.CacheSize > 0 {
		cache, err := lru.New(l.opts.CacheSize)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInvalidSpec, err, "invalid cache size %d", l.opts.CacheSize)
		}
		l.cache = cache
	}

	local, err := build.NewLocalManager(domain.Fs(), domain.Coordinator(), domain.Spec().PersistenceOpts(), l.opts.TmpDirs)
	if err != nil {
		return nil, err
	}
	l.local = local
	return l, nil
}

// Domain returns the served domain.
func (l *Loader) Domain() *dstore.DomainStore { return l.domain }

// Version returns the version currently served.
func (l *Loader) Version() (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.current == nil {
		return 0, false
	}
	return l.current.version, true
}

// Refresh opens the most recent complete version if it differs from the
// served one and swaps to it. The previous version is closed after the
// lookups still running on it returned. It reports whether it swapped.
func (l *Loader) Refresh() (bool, error) {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return false, errs.New(errs.CodeEngineIO, "loader is closed").WithRoot(l.domain.Root())
	}

	version, ok, err := l.domain.MostRecentVersion()
	if err != nil {
		refreshErrors.Inc()
		return false, err
	}
	if !ok {
		return false, nil
	}
	if current, serving := l.Version(); serving && current == version {
		return false, nil
	}

	next, err := openSnapshot(l.local, l.domain.GetShardSet(version), version)
	if err != nil {
		refreshErrors.Inc()
		return false, err
	}

	l.mu.Lock()
	old := l.current
	l.current = next
	l.mu.Unlock()

	swapsTotal.Inc()
	log.Infof("serving version %d of %s", version, l.domain.Root())

	if old != nil {
		if l.cache != nil {
			l.cache.Purge()
		}
		if err := old.drainAndClose(l.local); err != nil {
			log.Warningf("failed to close version %d of %s: %v", old.version, l.domain.Root(), err)
		}
	}
	return true, nil
}

// acquire returns the served snapshot registered for one lookup. The
// caller must call inflight.Done.
func (l *Loader) acquire() (*snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.current == nil {
		return nil, errs.New(errs.CodeNotFound, "no version is served").WithRoot(l.domain.Root())
	}
	l.current.inflight.Add(1)
	return l.current, nil
}

// GetBytes looks up an encoded key.
func (l *Loader) GetBytes(key []byte) ([]byte, bool, error) {
	lookupsTotal.Inc()
	snap, err := l.acquire()
	if err != nil {
		return nil, false, err
	}
	defer snap.inflight.Done()

	ck := cacheKey{version: snap.version, key: string(key)}
	if l.cache != nil {
		if e, ok := l.cache.Get(ck); ok {
			cacheHitsTotal.Inc()
			entry := e.(cacheEntry)
			return entry.value, entry.found, nil
		}
	}

	value, found, err := snap.get(key)
	if err != nil {
		return nil, false, err
	}
	if l.cache != nil {
		l.cache.Add(ck, cacheEntry{value: value, found: found})
	}
	return value, found, nil
}

// Get encodes key with the key codec of the domain and looks it up.
func (l *Loader) Get(key any) ([]byte, bool, error) {
	k, err := l.domain.KeyCodec().Encode(key)
	if err != nil {
		return nil, false, errs.Wrap(errs.CodeInvalidSpec, err, "failed to encode key")
	}
	return l.GetBytes(k)
}

// GetValue looks up key and decodes the value into out with the value
// codec of the domain.
func (l *Loader) GetValue(key any, out any) (bool, error) {
	value, found, err := l.Get(key)
	if err != nil || !found {
		return false, err
	}
	if err := l.domain.ValueCodec().Decode(value, out); err != nil {
		return false, errs.Wrap(errs.CodeInvalidSpec, err, "failed to decode value")
	}
	return true, nil
}

// Run refreshes the loader until ctx is done: every PollInterval and, with
// Options.Watch, whenever a version marker appears. Refresh errors are
// logged and retried on the next tick.
func (l *Loader) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if l.opts.Watch {
		if !dstore.IsLocal(l.domain.Fs()) {
			log.Warningf("watching %s is only supported on the local filesystem, falling back to polling", l.domain.Root())
		} else {
			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return errs.Wrap(errs.CodeEngineIO, err, "failed to create watcher").WithRoot(l.domain.Root())
			}
			defer watcher.Close()
			if err := watcher.Add(l.domain.Root()); err != nil {
				return errs.Wrap(errs.CodeEngineIO, err, "failed to watch domain").WithRoot(l.domain.Root())
			}
			events, watchErrs = watcher.Events, watcher.Errors
		}
	}

	refresh := func() {
		if _, err := l.Refresh(); err != nil {
			log.Errorf("refresh of %s failed: %v", l.domain.Root(), err)
		}
	}
	refresh()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			refresh()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if isMarkerEvent(ev) {
				log.Debugf("version marker %s appeared", ev.Name)
				refresh()
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			log.Warningf("watch error on %s: %v", l.domain.Root(), err)
		}
	}
}

func isMarkerEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	name := filepath.Base(ev.Name)
	if !strings.HasSuffix(name, vstore.MarkerSuffix) {
		return false
	}
	_, ok := vstore.ParseVersion(name)
	return ok
}

// Close stops serving and releases all resources.
func (l *Loader) Close() error {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	l.mu.Lock()
	old := l.current
	l.current = nil
	l.closed = true
	l.mu.Unlock()

	var err error
	if old != nil {
		err = old.drainAndClose(l.local)
	}
	return multierr.Append(err, l.local.Cleanup())
}
