// Package vstore implements store.IVersionedStore on top of an afero.Fs.
//
// A version is published by creating an empty marker file "<v>.version"
// next to the version directory "<v>". Only versions with a marker are
// returned by GetAllVersions and the MostRecent* lookups, so a crashed or
// failed build never becomes visible. Version ids default to the current
// time in milliseconds but any non-negative id may be used.
//
// Usage:
//
//	vs, err := vstore.NewVersionedStore(afero.NewOsFs(), "/data/users", nil)
//	if err != nil { ... }
//
//	path, err := vs.CreateVersion()
//	// ... write shards below path ...
//	if err := vs.SucceedVersion(path); err != nil { ... }
//
//	latest, ok, err := vs.MostRecentVersionPath()
package vstore
