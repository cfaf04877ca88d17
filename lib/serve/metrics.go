package serve

import (
	"github.com/VictoriaMetrics/metrics"
)

var (
	lookupsTotal   = metrics.GetOrCreateCounter("edb_serve_lookups_total")
	cacheHitsTotal = metrics.GetOrCreateCounter("edb_serve_cache_hits_total")
	swapsTotal     = metrics.GetOrCreateCounter("edb_serve_version_swaps_total")
	refreshErrors  = metrics.GetOrCreateCounter("edb_serve_refresh_errors_total")
)
