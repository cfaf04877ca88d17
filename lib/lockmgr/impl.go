package lockmgr

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/afero"
)

var log = logger.GetLogger("lockmgr")

type fileLockMgrImpl struct {
	fs  afero.Fs
	dir string
	now func() time.Time
}

// NewLockManager creates a lock manager that keeps its locks as files
// "<dir>/.<key>.lock" on fsys.
func NewLockManager(fsys afero.Fs, dir string) ILockManager {
	return &fileLockMgrImpl{
		fs:  fsys,
		dir: dir,
		now: time.Now,
	}
}

// LockPath returns the file that holds the lock for key in dir.
func LockPath(dir, key string) string {
	return filepath.Join(dir, "."+key+".lock")
}

func (lm *fileLockMgrImpl) AcquireLock(key string, timeout time.Duration) (bool, []byte, error) {
	ownerID := generateOwnerID()
	rec := lockRecord{owner: ownerID}
	if timeout > 0 {
		rec.expiry = lm.now().Add(timeout).UnixMilli()
	}
	path := LockPath(lm.dir, key)

	if err := lm.fs.MkdirAll(lm.dir, 0o755); err != nil {
		return false, nil, errs.Wrap(errs.CodeEngineIO, err, "failed to create lock directory").WithPath(lm.dir)
	}

	// Try to create the lock file exclusively, an expired lock is removed once
	for attempt := 0; attempt < 2; attempt++ {
		created, err := lm.create(path, rec)
		if err != nil {
			return false, nil, err
		}
		if created {
			break
		}

		current, found, err := lm.read(path)
		if err != nil {
			return false, nil, err
		}
		if found && !current.expired(lm.now()) {
			return false, nil, nil
		}
		log.Infof("removing expired lock %s", path)
		if err := lm.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, nil, errs.Wrap(errs.CodeEngineIO, err, "failed to remove expired lock").WithPath(path)
		}
	}

	// Check if the lock was acquired BY US
	current, found, err := lm.read(path)
	if err != nil {
		return false, nil, err
	}
	if found && bytes.Equal(current.owner, ownerID) {
		return true, ownerID, nil
	}
	return false, nil, nil
}

func (lm *fileLockMgrImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	path := LockPath(lm.dir, key)

	current, found, err := lm.read(path)
	if err != nil || !found {
		return err == nil, err
	}

	// Check if the lock is owned by us
	if !bytes.Equal(ownerID, current.owner) {
		return false, nil
	}

	if err := lm.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, errs.Wrap(errs.CodeEngineIO, err, "failed to release lock").WithPath(path)
	}
	return true, nil
}

// create writes rec to path if path does not exist yet.
func (lm *fileLockMgrImpl) create(path string, rec lockRecord) (bool, error) {
	f, err := lm.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.CodeEngineIO, err, "failed to create lock").WithPath(path)
	}
	_, err = f.Write(rec.marshal())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = lm.fs.Remove(path)
		return false, errs.Wrap(errs.CodeEngineIO, err, "failed to write lock").WithPath(path)
	}
	return true, nil
}

// partialLockGrace is how long an unreadable lock file counts as held. A
// writer creates the file before it writes its record.
const partialLockGrace = 10 * time.Second

// read returns the record in path. Unreadable records are treated as held
// while the file is younger than partialLockGrace and as expired afterward.
func (lm *fileLockMgrImpl) read(path string) (lockRecord, bool, error) {
	data, err := afero.ReadFile(lm.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		return lockRecord{}, false, nil
	}
	if err != nil {
		return lockRecord{}, false, errs.Wrap(errs.CodeEngineIO, err, "failed to read lock").WithPath(path)
	}
	rec, ok := parseLockRecord(data)
	if ok {
		return rec, true, nil
	}

	info, err := lm.fs.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return lockRecord{}, false, nil
	}
	if err != nil {
		return lockRecord{}, false, errs.Wrap(errs.CodeEngineIO, err, "failed to stat lock").WithPath(path)
	}
	if lm.now().Sub(info.ModTime()) < partialLockGrace {
		return lockRecord{}, true, nil
	}
	log.Warningf("lock file %s is corrupt, treating it as expired", path)
	return lockRecord{expiry: 1}, true, nil
}
