package dstore

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/spec"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
)

// SynchronizeVersions copies every shard directory that exists below
// oldPath but not below newPath. Shards present in both are left alone, so
// calling it again after a partial failure only copies what is missing. An
// empty oldPath is a no-op.
func SynchronizeVersions(fsys afero.Fs, s *spec.DomainSpec, oldPath, newPath string) error {
	return synchronize(fsys, s, oldPath, newPath, 4)
}

func synchronize(fsys afero.Fs, s *spec.DomainSpec, oldPath, newPath string, parallelism int) error {
	if oldPath == "" {
		return nil
	}
	if filepath.Clean(oldPath) == filepath.Clean(newPath) {
		return errs.New(errs.CodeInvalidVersion, "cannot synchronize a version with itself").WithPath(newPath)
	}

	p := pool.New().WithMaxGoroutines(parallelism).WithErrors()
	for i := 0; i < s.NumShards(); i++ {
		src := filepath.Join(oldPath, strconv.Itoa(i))
		dst := filepath.Join(newPath, strconv.Itoa(i))
		p.Go(func() error {
			srcExists, err := afero.DirExists(fsys, src)
			if err != nil || !srcExists {
				return wrapSync(err, i, src)
			}
			dstExists, err := afero.Exists(fsys, dst)
			if err != nil || dstExists {
				return wrapSync(err, i, dst)
			}
			log.Debugf("synchronizing shard %d from %s", i, oldPath)
			if err := CopyTree(fsys, src, fsys, dst); err != nil {
				_ = fsys.RemoveAll(dst)
				return wrapSync(err, i, dst)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}
	log.Infof("synchronized %s with %s", newPath, oldPath)
	return nil
}

func wrapSync(err error, shard int, path string) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(errs.CodeEngineIO, err, "failed to synchronize shard").WithShard(shard).WithPath(path)
}

// CopyTree copies the tree below src on srcFs to dst on dstFs byte by byte.
// Both filesystems may be the same. Files are synced before they are closed.
func CopyTree(srcFs afero.Fs, src string, dstFs afero.Fs, dst string) error {
	return afero.Walk(srcFs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return dstFs.MkdirAll(target, 0o755)
		}
		return copyFile(srcFs, path, dstFs, target, info.Mode().Perm())
	})
}

func copyFile(srcFs afero.Fs, src string, dstFs afero.Fs, dst string, perm os.FileMode) (err error) {
	if perm == 0 {
		perm = 0o644
	}
	in, err := srcFs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := dstFs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
