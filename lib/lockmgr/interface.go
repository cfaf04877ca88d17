package lockmgr

import "time"

// ILockManager defines the interface for a lockmgr provider.
type ILockManager interface {
	// AcquireLock acquires the lock for the given key. A timeout greater than
	// zero lets the lock expire, so a crashed holder does not block others forever.
	// Return a boolean indicating whether the lock was acquired, an owner ID, and an error if any.
	AcquireLock(key string, timeout time.Duration) (ok bool, ownerID []byte, err error)

	// ReleaseLock releases the lock for the given key.
	// Return a boolean indicating whether the lock was released, and an error if any.
	// The method will also return True if the lock did not exist.
	ReleaseLock(key string, ownerID []byte) (ok bool, err error)
}
