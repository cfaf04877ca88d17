package build

import (
	"path/filepath"
	"strconv"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/ValentinKolb/edb/lib/store/dstore"
	"go.uber.org/multierr"
)

// ExportFunc receives every document of an exported version. Returning an
// error stops the export.
type ExportFunc func(shard int, doc persistence.Document) error

// Export streams every document of every shard of version to fn, shard by
// shard in key order. Shards of a domain on a non local filesystem are
// downloaded to tmpDirs first (nil selects DefaultTmpDirs).
func Export(domain *dstore.DomainStore, version int64, tmpDirs []string, fn ExportFunc) (err error) {
	ok, err := domain.HasVersion(version)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.CodeNotFound, "version is not complete").WithRoot(domain.Root()).WithVersion(version)
	}

	local, err := NewLocalManager(domain.Fs(), domain.Coordinator(), domain.Spec().PersistenceOpts(), tmpDirs)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, local.Cleanup())
	}()

	shards := domain.GetShardSet(version)
	for shard := 0; shard < shards.NumShards(); shard++ {
		if err := exportShard(local, shards.Root(), shard, fn); err != nil {
			return errs.AtShard(err, shard, shards.Root())
		}
	}
	return nil
}

func exportShard(local *LocalManager, versionPath string, shard int, fn ExportFunc) (err error) {
	id := strconv.Itoa(shard)
	p, err := local.OpenForRead(id, filepath.Join(versionPath, id))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, p.Close())
		err = multierr.Append(err, local.Remove(id))
	}()

	it, err := p.Iterator()
	if err != nil {
		return err
	}
	for doc, err := range persistence.All(it) {
		if err != nil {
			return err
		}
		if err := fn(shard, doc); err != nil {
			return err
		}
	}
	return nil
}
