package build

import (
	"github.com/VictoriaMetrics/metrics"
)

// Process wide counters, exposed with metrics.WritePrometheus.
var (
	recordsTotal      = metrics.GetOrCreateCounter("edb_build_records_total")
	shardsTotal       = metrics.GetOrCreateCounter("edb_build_shards_total")
	versionsSucceeded = metrics.GetOrCreateCounter(`edb_build_versions_total{result="success"}`)
	versionsFailed    = metrics.GetOrCreateCounter(`edb_build_versions_total{result="failure"}`)
	commitDuration    = metrics.GetOrCreateHistogram("edb_build_commit_duration_seconds")
)
