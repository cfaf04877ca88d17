// Package lockmgr implements advisory locks as files on an afero.Fs. edb
// uses it to keep two builds from writing versions of the same domain at the
// same time (lock file "<root>/.writer.lock").
//
// The lockmgr keeps no state besides the lock files. Therefor it is safe to
// be created multiple times on the same directory, even by different
// processes sharing the filesystem.
//
// Implementation Approach:
//
//   - Lock Acquisition: The lock file is created with O_CREATE|O_EXCL, which
//     guarantees that only one requester can create it. The file holds a
//     randomly generated owner ID and the expiry time.
//
//   - Lock Verification: A successful create is followed by a read to
//     confirm the file holds our owner ID.
//
//   - Timeouts: A lock acquired with a timeout expires. The next requester
//     removes an expired lock file and retries once. A lock file that can
//     not be parsed counts as expired.
//
//   - Safe Release: ReleaseLock compares the owner IDs before it removes
//     the file.
//
// Usage Example:
//
//	lm := lockmgr.NewLockManager(afero.NewOsFs(), "/data/users")
//
//	acquired, ownerID, err := lm.AcquireLock("writer", time.Hour)
//	if err != nil {
//	    // Handle error
//	}
//	if acquired {
//	    // ... build the version ...
//	    released, err := lm.ReleaseLock("writer", ownerID)
//	}
//
// Limitations:
//
//	The locks are advisory. Readers never take them and writers that do not
//	use the lockmgr are not stopped. Removing an expired lock is not atomic
//	with respect to other requesters doing the same, so two requesters that
//	race on the same expired lock may both read it as free. The verification
//	step makes this unlikely, not impossible.
package lockmgr
