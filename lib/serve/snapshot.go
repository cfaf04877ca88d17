package serve

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/edb/lib/build"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/ValentinKolb/edb/lib/store"
	"go.uber.org/multierr"
)

// snapshot holds the open read handles of one version. Lookups register
// in inflight, so the snapshot is only closed after they returned.
type snapshot struct {
	version  int64
	shardSet store.IShardSet
	shards   []persistence.IKeyValPersistence
	ids      []string
	inflight sync.WaitGroup
}

// openSnapshot opens every shard of version read-only. Shards of a non
// local domain are downloaded by local first.
func openSnapshot(local *build.LocalManager, shardSet store.IShardSet, version int64) (*snapshot, error) {
	s := &snapshot{version: version, shardSet: shardSet}
	for i := 0; i < shardSet.NumShards(); i++ {
		path, err := shardSet.ShardPath(i)
		if err != nil {
			return nil, multierr.Append(err, s.close(local))
		}
		id := fmt.Sprintf("%d-%d", version, i)
		p, err := local.OpenForRead(id, path)
		if err != nil {
			return nil, multierr.Append(err, s.close(local))
		}
		s.ids = append(s.ids, id)

		kv, ok := p.(persistence.IKeyValPersistence)
		if !ok {
			err = fmt.Errorf("engine %s does not support point lookups", shardSet.Spec().Engine())
			err = multierr.Append(err, p.Close())
			return nil, multierr.Append(err, s.close(local))
		}
		s.shards = append(s.shards, kv)
	}
	return s, nil
}

func (s *snapshot) get(key []byte) ([]byte, bool, error) {
	shard := s.shardSet.ShardIndexForBytes(key)
	return s.shards[shard].Get(key)
}

// close releases all handles and local copies.
func (s *snapshot) close(local *build.LocalManager) error {
	var err error
	for _, p := range s.shards {
		err = multierr.Append(err, p.Close())
	}
	for _, id := range s.ids {
		err = multierr.Append(err, local.Remove(id))
	}
	s.shards, s.ids = nil, nil
	return err
}

// drainAndClose waits for all lookups on s and closes it. The snapshot
// must not be reachable for new lookups anymore.
func (s *snapshot) drainAndClose(local *build.LocalManager) error {
	s.inflight.Wait()
	return s.close(local)
}
