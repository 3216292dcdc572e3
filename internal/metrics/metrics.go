// Package metrics holds the prometheus collectors for a sync run. A run is a batch job, so the
// collectors live on a private registry that the CLI writes to a node-exporter textfile.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "catalogsync"

// Registry holds every collector of this package.
var Registry = prometheus.NewRegistry()

// SourceCacheLookups counts cache lookups by namespace and result (hit or miss).
var SourceCacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_cache_lookups_total",
		Help:      "How many source platform reads were answered from the cache, by namespace and result.",
	},
	[]string{"namespace", "result"},
)

// SourceRequests counts requests issued to the source platform.
var SourceRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_requests_total",
		Help:      "How many requests were sent to the source platform, by endpoint and result.",
	},
	[]string{"endpoint", "result"},
)

// CatalogUpserts counts entity upserts by blueprint and result.
var CatalogUpserts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_upserts_total",
		Help:      "How many entity upserts were sent to the catalog, by blueprint and result.",
	},
	[]string{"blueprint", "result"},
)

// StageDuration observes how long each sync stage took.
var StageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Wall time of each sync stage.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	},
	[]string{"stage"},
)

// LastRunSuccess is 1 when the last run completed every stage and 0 otherwise.
var LastRunSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "last_run_success",
	Help:      "Whether the last sync run completed successfully.",
})

func init() {
	Registry.MustRegister(SourceCacheLookups)
	Registry.MustRegister(SourceRequests)
	Registry.MustRegister(CatalogUpserts)
	Registry.MustRegister(StageDuration)
	Registry.MustRegister(LastRunSuccess)
}

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// WriteTextfile writes the registry in the text exposition format to path.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
