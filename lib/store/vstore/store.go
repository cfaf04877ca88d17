package vstore

import (
	"cmp"
	"errors"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/afero"
	"golang.org/x/exp/slices"
)

var log = logger.GetLogger("vstore")

// MarkerSuffix is appended to a version id to form the name of its marker file.
const MarkerSuffix = ".version"

// Options configure a versioned store.
type Options struct {
	// CleanupGracePeriod protects young versions from Cleanup: a version
	// whose directory or marker was modified less than this duration ago is
	// never removed, even if it is not among the versions to keep. Zero
	// disables the grace period.
	CleanupGracePeriod time.Duration

	// Now returns the current time. Used for new version ids and the grace
	// period. Defaults to time.Now.
	Now func() time.Time
}

type storeImpl struct {
	fs    afero.Fs
	root  string
	grace time.Duration
	now   func() time.Time
}

// NewVersionedStore creates a store for the versions below root, creating
// root if it does not exist. A nil fs selects the local filesystem, nil opts
// the defaults.
func NewVersionedStore(fsys afero.Fs, root string, opts *Options) (store.IVersionedStore, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if opts == nil {
		opts = &Options{}
	}
	if opts.CleanupGracePeriod < 0 {
		return nil, errs.New(errs.CodeInvalidSpec, "cleanup grace period must not be negative").WithRoot(root)
	}

	s := &storeImpl{
		fs:    fsys,
		root:  filepath.Clean(root),
		grace: opts.CleanupGracePeriod,
		now:   opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	if err := fsys.MkdirAll(s.root, 0o755); err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to create store root").WithRoot(s.root)
	}
	return s, nil
}

// ParseVersion parses a directory or marker name ("42" or "42.version").
// Ids must be canonical non-negative decimal numbers.
func ParseVersion(name string) (int64, bool) {
	s := strings.TrimSuffix(name, MarkerSuffix)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 || strconv.FormatInt(v, 10) != s {
		return 0, false
	}
	return v, true
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Root() string { return s.root }

func (s *storeImpl) Fs() afero.Fs { return s.fs }

func (s *storeImpl) VersionPath(version int64) string {
	return filepath.Join(s.root, strconv.FormatInt(version, 10))
}

func (s *storeImpl) markerPath(version int64) string {
	return s.VersionPath(version) + MarkerSuffix
}

func (s *storeImpl) ParseVersionPath(path string) (int64, error) {
	clean := filepath.Clean(path)
	if filepath.Dir(clean) != s.root {
		return 0, errs.New(errs.CodeInvalidVersion, "path is not a direct child of the store root").
			WithRoot(s.root).WithPath(path)
	}
	base := filepath.Base(clean)
	v, ok := ParseVersion(base)
	if !ok || strings.HasSuffix(base, MarkerSuffix) {
		return 0, errs.New(errs.CodeInvalidVersion, "%q is not a version id", base).
			WithRoot(s.root).WithPath(path)
	}
	return v, nil
}

func (s *storeImpl) checkVersion(version int64) error {
	if version < 0 {
		return errs.New(errs.CodeInvalidVersion, "version must not be negative").
			WithRoot(s.root).WithVersion(version)
	}
	return nil
}

func (s *storeImpl) CreateVersion() (string, error) {
	return s.CreateVersionAt(s.now().UnixMilli())
}

func (s *storeImpl) CreateVersionAt(version int64) (string, error) {
	if err := s.checkVersion(version); err != nil {
		return "", err
	}
	complete, err := s.HasVersion(version)
	if err != nil {
		return "", err
	}
	if complete {
		return "", errs.New(errs.CodeVersionExists, "version is already complete").
			WithRoot(s.root).WithVersion(version)
	}

	path := s.VersionPath(version)
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return "", errs.Wrap(errs.CodeEngineIO, err, "failed to stat version").WithRoot(s.root).WithVersion(version)
	}
	if exists {
		log.Warningf("removing leftover of incomplete version %d in %s", version, s.root)
		if err := s.fs.RemoveAll(path); err != nil {
			return "", errs.Wrap(errs.CodeEngineIO, err, "failed to remove incomplete version").
				WithRoot(s.root).WithVersion(version)
		}
	}

	log.Infof("created version %d in %s", version, s.root)
	return path, nil
}

func (s *storeImpl) SucceedVersion(path string) error {
	version, err := s.ParseVersionPath(path)
	if err != nil {
		return err
	}
	return s.SucceedVersionAt(version)
}

func (s *storeImpl) SucceedVersionAt(version int64) error {
	if err := s.checkVersion(version); err != nil {
		return err
	}
	f, err := s.fs.Create(s.markerPath(version))
	if err == nil {
		err = f.Close()
	}
	if err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to create version marker").
			WithRoot(s.root).WithVersion(version)
	}
	log.Infof("version %d of %s is complete", version, s.root)
	return nil
}

func (s *storeImpl) FailVersion(path string) error {
	version, err := s.ParseVersionPath(path)
	if err != nil {
		return err
	}
	log.Warningf("failing version %d of %s", version, s.root)
	return s.DeleteVersion(version)
}

// DeleteVersion removes the marker before the data, so readers stop seeing
// the version before its shards disappear.
func (s *storeImpl) DeleteVersion(version int64) error {
	if err := s.checkVersion(version); err != nil {
		return err
	}
	if err := s.fs.Remove(s.markerPath(version)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to remove version marker").
			WithRoot(s.root).WithVersion(version)
	}
	if err := s.fs.RemoveAll(s.VersionPath(version)); err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to remove version directory").
			WithRoot(s.root).WithVersion(version)
	}
	log.Debugf("deleted version %d of %s", version, s.root)
	return nil
}

func (s *storeImpl) GetAllVersions() ([]int64, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to list versions").WithRoot(s.root)
	}

	versions := make([]int64, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), MarkerSuffix) {
			continue
		}
		if v, ok := ParseVersion(e.Name()); ok {
			versions = append(versions, v)
		}
	}
	slices.SortFunc(versions, func(a, b int64) int { return cmp.Compare(b, a) })
	return versions, nil
}

func (s *storeImpl) HasVersion(version int64) (bool, error) {
	if version < 0 {
		return false, nil
	}
	info, err := s.fs.Stat(s.markerPath(version))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.CodeEngineIO, err, "failed to stat version marker").
			WithRoot(s.root).WithVersion(version)
	}
	return !info.IsDir(), nil
}

func (s *storeImpl) MostRecentVersion() (int64, bool, error) {
	versions, err := s.GetAllVersions()
	if err != nil || len(versions) == 0 {
		return 0, false, err
	}
	return versions[0], true, nil
}

func (s *storeImpl) MostRecentVersionAtMost(max int64) (int64, bool, error) {
	versions, err := s.GetAllVersions()
	if err != nil {
		return 0, false, err
	}
	for _, v := range versions {
		if v <= max {
			return v, true, nil
		}
	}
	return 0, false, nil
}

func (s *storeImpl) MostRecentVersionPath() (string, bool, error) {
	v, ok, err := s.MostRecentVersion()
	if err != nil || !ok {
		return "", false, err
	}
	return s.VersionPath(v), true, nil
}

func (s *storeImpl) MostRecentVersionPathAtMost(max int64) (string, bool, error) {
	v, ok, err := s.MostRecentVersionAtMost(max)
	if err != nil || !ok {
		return "", false, err
	}
	return s.VersionPath(v), true, nil
}

func (s *storeImpl) Cleanup(versionsToKeep int) error {
	if versionsToKeep < 0 {
		return nil
	}

	versions, err := s.GetAllVersions()
	if err != nil {
		return err
	}
	keep := make(map[int64]struct{}, versionsToKeep)
	for i := 0; i < versionsToKeep && i < len(versions); i++ {
		keep[versions[i]] = struct{}{}
	}

	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to list versions").WithRoot(s.root)
	}

	// newest modification time per version id, over its directory and marker
	candidates := make(map[int64]time.Time)
	for _, e := range entries {
		v, ok := ParseVersion(e.Name())
		if !ok {
			continue
		}
		if _, kept := keep[v]; kept {
			continue
		}
		if t, seen := candidates[v]; !seen || e.ModTime().After(t) {
			candidates[v] = e.ModTime()
		}
	}

	ids := make([]int64, 0, len(candidates))
	for v := range candidates {
		ids = append(ids, v)
	}
	slices.Sort(ids)

	now := s.now()
	for _, v := range ids {
		if s.grace > 0 && now.Sub(candidates[v]) < s.grace {
			log.Infof("cleanup: keeping version %d of %s (younger than grace period %s)", v, s.root, s.grace)
			continue
		}
		if err := s.DeleteVersion(v); err != nil {
			return err
		}
	}

	log.Infof("cleanup of %s kept %d version(s), removed %d", s.root, len(keep), len(ids))
	return nil
}
