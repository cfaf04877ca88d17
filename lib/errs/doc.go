// Package errs defines the error taxonomy shared by all edb packages.
//
// Every failure is reported as an *Error carrying a Code (InvalidSpec,
// SpecConflict, InvalidVersion, VersionExists, InvalidShardIndex, NotFound,
// EngineIO) plus the location context that was known when it happened
// (domain root, version path, version id, shard index). Callers classify
// errors with errors.Is against the exported sentinels:
//
//	if errors.Is(err, errs.ErrVersionExists) {
//		// pick another version id
//	}
//
// Configuration and programmer errors (InvalidSpec, SpecConflict,
// InvalidVersion, VersionExists, InvalidShardIndex) are never retried by
// edb itself. EngineIO errors wrap the backend specific cause, which stays
// reachable through errors.Unwrap.
package errs
