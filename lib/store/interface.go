package store

import (
	"github.com/ValentinKolb/edb/lib/codec"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/ValentinKolb/edb/lib/spec"
	"github.com/spf13/afero"
)

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// IVersionedStore manages the versions below one root directory. A version
// is a directory root/<id>. It becomes visible (complete) when the zero byte
// marker root/<id>.version is created, which is the last step of every
// successful build. All discovery methods only report complete versions.
//
// Only one writer may create versions at a time. Readers need no locking.
type IVersionedStore interface {
	// Root returns the root directory.
	Root() string
	// Fs returns the filesystem the store operates on.
	Fs() afero.Fs

	// VersionPath returns root/<version>. It does not check whether the version exists.
	VersionPath(version int64) string
	// ParseVersionPath returns the version a path points to. It fails with an
	// InvalidVersion error if the parent of path is not the root or its base
	// name is not a version id.
	ParseVersionPath(path string) (int64, error)

	// CreateVersion is CreateVersionAt with the current time in milliseconds.
	CreateVersion() (string, error)
	// CreateVersionAt prepares version and returns its (not yet existing)
	// path. It fails with a VersionExists error if the version is complete.
	// Leftovers of an incomplete attempt are removed first.
	CreateVersionAt(version int64) (string, error)
	// SucceedVersion marks the version at path complete.
	SucceedVersion(path string) error
	// SucceedVersionAt is SucceedVersion for a version id.
	SucceedVersionAt(version int64) error
	// FailVersion removes the version at path and its marker. It does not
	// fail if neither exists.
	FailVersion(path string) error
	// DeleteVersion is FailVersion for a version id.
	DeleteVersion(version int64) error

	// GetAllVersions returns all complete versions, most recent first.
	GetAllVersions() ([]int64, error)
	// HasVersion reports whether version is complete.
	HasVersion(version int64) (bool, error)
	// MostRecentVersion returns the highest complete version.
	MostRecentVersion() (version int64, ok bool, err error)
	// MostRecentVersionAtMost returns the highest complete version <= max.
	MostRecentVersionAtMost(max int64) (version int64, ok bool, err error)
	// MostRecentVersionPath returns the path of MostRecentVersion.
	MostRecentVersionPath() (path string, ok bool, err error)
	// MostRecentVersionPathAtMost returns the path of MostRecentVersionAtMost.
	MostRecentVersionPathAtMost(max int64) (path string, ok bool, err error)

	// Cleanup keeps the versionsToKeep most recent complete versions and
	// removes every other version directory and marker, including data
	// directories that never got a marker. A negative value keeps everything.
	Cleanup(versionsToKeep int) error
}

// IShardSet binds a domain spec to one version directory.
type IShardSet interface {
	// Root returns the version directory.
	Root() string
	// Spec returns the domain spec.
	Spec() *spec.DomainSpec
	// NumShards returns the number of shards of the domain.
	NumShards() int
	// KeyCodec and ValueCodec return the codecs named by the domain spec.
	KeyCodec() codec.ICodec
	ValueCodec() codec.ICodec

	// ShardPath returns root/<shard>, or an InvalidShardIndex error.
	ShardPath(shard int) (string, error)
	// ShardIndexFor encodes key with the domain's key codec and returns the
	// shard the sharding scheme assigns it to.
	ShardIndexFor(key any) (int, error)
	// ShardIndexForBytes is ShardIndexFor for an already encoded key.
	ShardIndexForBytes(key []byte) int

	// OpenForRead opens a shard read-only. A shard that was never created
	// yields a NotFound error.
	OpenForRead(shard int) (persistence.IPersistence, error)
	// OpenForAppend opens a shard for writing without truncating it.
	OpenForAppend(shard int) (persistence.IPersistence, error)
	// CreateShard allocates a new, empty shard and returns a write handle.
	CreateShard(shard int) (persistence.IPersistence, error)
	// OpenAllForRead opens every shard read-only. On failure, the shards
	// opened so far are closed again.
	OpenAllForRead() ([]persistence.IPersistence, error)
}

// IDomainStore is the entry point to a domain: a versioned store whose
// versions are sharded according to the domain spec.
type IDomainStore interface {
	IVersionedStore

	// Spec returns the spec of the domain.
	Spec() *spec.DomainSpec
	// GetShardSet returns the shard set of version.
	GetShardSet(version int64) IShardSet
	// GetShardSetAt returns the shard set of the version directory path.
	GetShardSetAt(path string) (IShardSet, error)

	// SynchronizeInProgressVersion copies every shard that exists in the most
	// recent complete version but not in the in-progress version at newPath.
	// It must be called before the new version is marked complete and fails
	// with an InvalidVersion error afterward.
	SynchronizeInProgressVersion(newPath string) error
}
