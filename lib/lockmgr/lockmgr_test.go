package lockmgr

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(fsys afero.Fs) *fileLockMgrImpl {
	return NewLockManager(fsys, "/domain").(*fileLockMgrImpl)
}

func TestAcquireRelease(t *testing.T) {
	fsys := afero.NewMemMapFs()
	lm := newManager(fsys)

	ok, owner, err := lm.AcquireLock("writer", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, owner, ownerIDLength)

	exists, _ := afero.Exists(fsys, "/domain/.writer.lock")
	assert.True(t, exists)

	// a second requester does not get the lock
	ok, other, err := lm.AcquireLock("writer", 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, other)

	// other keys are independent
	ok, _, err = lm.AcquireLock("other", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	released, err := lm.ReleaseLock("writer", owner)
	require.NoError(t, err)
	assert.True(t, released)

	ok, _, err = lm.AcquireLock("writer", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseForeignLock(t *testing.T) {
	lm := newManager(afero.NewMemMapFs())

	ok, _, err := lm.AcquireLock("writer", 0)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := lm.ReleaseLock("writer", []byte("not the owner"))
	require.NoError(t, err)
	assert.False(t, released)

	// releasing a lock that does not exist succeeds
	released, err = lm.ReleaseLock("missing", []byte("x"))
	require.NoError(t, err)
	assert.True(t, released)
}

func TestExpiredLockIsTakenOver(t *testing.T) {
	lm := newManager(afero.NewMemMapFs())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lm.now = func() time.Time { return now }

	ok, first, err := lm.AcquireLock("writer", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(30 * time.Second)
	ok, _, err = lm.AcquireLock("writer", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock is still valid")

	now = now.Add(time.Minute)
	ok, second, err := lm.AcquireLock("writer", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lock must be taken over")
	assert.NotEqual(t, first, second)

	// the previous owner lost the lock
	released, err := lm.ReleaseLock("writer", first)
	require.NoError(t, err)
	assert.False(t, released)
}

func TestCorruptLockCountsAsExpired(t *testing.T) {
	fsys := afero.NewMemMapFs()
	path := LockPath("/domain", "writer")
	require.NoError(t, afero.WriteFile(fsys, path, []byte("garbage"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, fsys.Chtimes(path, old, old))

	ok, _, err := newManager(fsys).AcquireLock("writer", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFreshEmptyLockIsHeld(t *testing.T) {
	// the creator of a lock file has not written its record yet
	fsys := afero.NewMemMapFs()
	path := LockPath("/domain", "writer")
	require.NoError(t, afero.WriteFile(fsys, path, nil, 0o644))

	lm := newManager(fsys)
	ok, owner, err := lm.AcquireLock("writer", 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, owner)

	exists, err := afero.Exists(fsys, path)
	require.NoError(t, err)
	assert.True(t, exists, "a fresh lock file must not be removed")

	// once the grace period is over it counts as abandoned
	lm.now = func() time.Time { return time.Now().Add(2 * partialLockGrace) }
	ok, _, err = lm.AcquireLock("writer", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentAcquire(t *testing.T) {
	// exclusive create is only atomic on a real filesystem
	fsys := afero.NewOsFs()
	dir := t.TempDir()
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := NewLockManager(fsys, dir).AcquireLock("writer", 0)
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestLockRecord(t *testing.T) {
	rec := lockRecord{owner: []byte{0xde, 0xad}, expiry: 42}
	parsed, ok := parseLockRecord(rec.marshal())
	require.True(t, ok)
	assert.Equal(t, rec, parsed)

	assert.False(t, lockRecord{}.expired(time.Now()))
	assert.True(t, lockRecord{expiry: 1}.expired(time.Now()))
}
