// Package serve answers point lookups from the most recent complete
// version of a domain.
//
// A Loader opens every shard of a version read-only and keeps them open
// until a newer version appears. Refresh (or Run in the background) swaps to
// the new version atomically: new lookups use the new shards right away,
// the old shards are closed after the lookups still running on them
// returned. Lookups are cached in an LRU cache keyed by version and key.
//
//	loader, err := serve.NewLoader(domain, &serve.Options{Watch: true})
//	go loader.Run(ctx)
//	value, found, err := loader.Get("user:42")
//
// Shards of a domain on a non local filesystem are downloaded into a local
// tmp dir before they are opened.
//
// A Registry holds the loaders of many domains by name.
package serve
