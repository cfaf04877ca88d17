package build

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/ValentinKolb/edb/lib/store/dstore"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// staleFlagAge is the age after which a flag file is considered left over
// by a crashed process.
const staleFlagAge = time.Hour

// LocalManager owns a private working directory on the local disk in which
// shards are built before they are uploaded to the domain filesystem (and
// into which shards of a remote domain are downloaded for reading).
//
// When several tmp dirs are configured, the one with the fewest active
// managers is chosen. Every manager marks its choice with a flag file
// "<tmp>/flags/<uuid>", so concurrent processes spread over the disks.
type LocalManager struct {
	domainFs    afero.Fs
	local       afero.Fs
	coordinator persistence.ICoordinator
	opts        persistence.Options
	root        string
	flag        string
}

// DefaultTmpDirs is used when no tmp dirs are configured.
func DefaultTmpDirs() []string {
	return []string{os.TempDir()}
}

// NewLocalManager selects a tmp dir and creates the private working
// directory in it.
func NewLocalManager(domainFs afero.Fs, coordinator persistence.ICoordinator, opts persistence.Options, tmpDirs []string) (*LocalManager, error) {
	if len(tmpDirs) == 0 {
		tmpDirs = DefaultTmpDirs()
	}
	m := &LocalManager{
		domainFs:    domainFs,
		local:       afero.NewOsFs(),
		coordinator: coordinator,
		opts:        opts,
	}
	if err := m.selectAndFlagRoot(tmpDirs); err != nil {
		return nil, err
	}
	return m, nil
}

// Root returns the private working directory.
func (m *LocalManager) Root() string { return m.root }

// LocalShardDir returns the local directory for the shard with id.
func (m *LocalManager) LocalShardDir(id string) string {
	return filepath.Join(m.root, id)
}

// DownloadShard prepares the local directory for id. If remotePath is
// empty or does not exist on the domain filesystem, an empty shard is
// created. Otherwise the remote shard is copied.
func (m *LocalManager) DownloadShard(id, remotePath string) (string, error) {
	dir := m.LocalShardDir(id)

	exists := false
	if remotePath != "" {
		var err error
		if exists, err = afero.DirExists(m.domainFs, remotePath); err != nil {
			return "", errs.Wrap(errs.CodeEngineIO, err, "failed to stat remote shard").WithPath(remotePath)
		}
	}

	if !exists {
		p, err := m.coordinator.CreatePersistence(dir, m.opts)
		if err != nil {
			return "", err
		}
		if err := p.Close(); err != nil {
			return "", err
		}
		return dir, nil
	}

	if err := m.local.RemoveAll(dir); err != nil {
		return "", errs.Wrap(errs.CodeEngineIO, err, "failed to clear local shard").WithPath(dir)
	}
	if err := dstore.CopyTree(m.domainFs, remotePath, m.local, dir); err != nil {
		return "", errs.Wrap(errs.CodeEngineIO, err, "failed to download shard").WithPath(remotePath)
	}
	if err := m.removeChecksums(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// removeChecksums deletes the ".crc" side files some remote filesystems
// leave behind on download.
func (m *LocalManager) removeChecksums(dir string) error {
	return afero.Walk(m.local, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, ".crc") {
			return err
		}
		return m.local.Remove(path)
	})
}

// OpenForRead opens the shard at remotePath read-only. On a local domain
// filesystem the shard is opened in place, otherwise it is downloaded to
// the local directory id first. A missing remote shard is a NotFound error.
func (m *LocalManager) OpenForRead(id, remotePath string) (persistence.IPersistence, error) {
	if dstore.IsLocal(m.domainFs) {
		return m.coordinator.OpenForRead(remotePath, m.opts)
	}
	exists, err := afero.DirExists(m.domainFs, remotePath)
	if err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to stat remote shard").WithPath(remotePath)
	}
	if !exists {
		return nil, errs.New(errs.CodeNotFound, "shard does not exist").WithPath(remotePath)
	}
	dir, err := m.DownloadShard(id, remotePath)
	if err != nil {
		return nil, err
	}
	return m.coordinator.OpenForRead(dir, m.opts)
}

// Upload replaces remotePath on the domain filesystem with the local
// directory of id.
func (m *LocalManager) Upload(id, remotePath string) error {
	if err := m.domainFs.RemoveAll(remotePath); err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to delete existing shard").WithPath(remotePath)
	}
	if err := dstore.CopyTree(m.local, m.LocalShardDir(id), m.domainFs, remotePath); err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to upload shard").WithPath(remotePath)
	}
	return nil
}

// Remove deletes the local directory of id.
func (m *LocalManager) Remove(id string) error {
	return m.local.RemoveAll(m.LocalShardDir(id))
}

// Progress marks the manager as alive, so its flag is not reclaimed as stale.
func (m *LocalManager) Progress() {
	now := time.Now()
	_ = m.local.Chtimes(m.flag, now, now)
}

// Cleanup removes the working directory and the flag.
func (m *LocalManager) Cleanup() error {
	err := m.local.RemoveAll(m.root)
	if rerr := m.local.Remove(m.flag); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
		err = multierr.Append(err, rerr)
	}
	return err
}

// --------------------------------------------------------------------------
// Tmp Dir Selection
// --------------------------------------------------------------------------

func flagDir(tmpDir string) string {
	return filepath.Join(tmpDir, "flags")
}

// clearStaleFlags deletes flags that were not touched for staleFlagAge.
func (m *LocalManager) clearStaleFlags(tmpDirs []string) {
	cutoff := time.Now().Add(-staleFlagAge)
	for _, tmp := range tmpDirs {
		flags, err := afero.ReadDir(m.local, flagDir(tmp))
		if err != nil {
			continue
		}
		for _, f := range flags {
			if f.ModTime().Before(cutoff) {
				log.Debugf("removing stale flag %s", f.Name())
				_ = m.local.Remove(filepath.Join(flagDir(tmp), f.Name()))
			}
		}
	}
}

func (m *LocalManager) selectAndFlagRoot(tmpDirs []string) error {
	m.clearStaleFlags(tmpDirs)

	best, bestCount := "", -1
	for _, tmp := range tmpDirs {
		if err := m.local.MkdirAll(flagDir(tmp), 0o755); err != nil {
			return errs.Wrap(errs.CodeEngineIO, err, "failed to create flag dir").WithPath(tmp)
		}
		flags, err := afero.ReadDir(m.local, flagDir(tmp))
		if err != nil {
			return errs.Wrap(errs.CodeEngineIO, err, "failed to list flags").WithPath(tmp)
		}
		if bestCount < 0 || len(flags) < bestCount {
			best, bestCount = tmp, len(flags)
		}
	}

	token := uuid.NewString()
	m.flag = filepath.Join(flagDir(best), token)
	m.root = filepath.Join(best, token)

	if err := afero.WriteFile(m.local, m.flag, nil, 0o644); err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to create flag").WithPath(m.flag)
	}
	if err := m.local.MkdirAll(m.root, 0o755); err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to create working dir").WithPath(m.root)
	}
	log.Debugf("local manager uses %s", m.root)
	return nil
}
