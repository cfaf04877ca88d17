// Package build writes versions of a domain. It is the local, single
// process counterpart of a distributed bulk build: records are routed to
// shards, each shard is built in a private local directory, closed (which
// flushes and compacts it) and uploaded into the version directory. The
// version is marked complete only after every shard is in place.
//
// Full build:
//
//	w, err := build.NewWriter(domain, nil)
//	for _, r := range records {
//		if err := w.WriteKV(r.Key, r.Value); err != nil {
//			_ = w.Abort()
//			return err
//		}
//	}
//	version, err := w.Commit()
//
// Incremental build (Options.Incremental): every shard that receives
// records starts from its state in the most recent complete version, so an
// updater like persistence.AppendUpdater can merge new values into old ones.
// Shards without records are copied forward unchanged.
//
// Shards are always built on the local disk (see LocalManager), so the
// domain itself may live on any afero filesystem.
//
// Records can also come from a file: NewRecordReader reads JSON lines or
// CSV and Load writes them with the domain codecs.
//
// Export streams all documents of a version, for example to rebuild a
// domain with a different spec.
package build
