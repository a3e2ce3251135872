package cache

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mydylms_cache_hits_total",
		Help: "Cache lookups served from a fresh entry.",
	}, []string{"entry"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mydylms_cache_misses_total",
		Help: "Cache lookups that fell through to the portal.",
	}, []string{"entry", "reason"})
	cacheWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mydylms_cache_writes_total",
		Help: "Cache entries written.",
	}, []string{"entry"})
	cacheInvalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mydylms_cache_invalidations_total",
		Help: "Cache entries invalidated.",
	}, []string{"entry"})
)

// metricName folds per-id entries like course_123 into course_id to bound
// label cardinality.
func metricName(name string) string {
	idx := strings.LastIndexByte(name, '_')
	if idx < 0 || idx == len(name)-1 {
		return name
	}
	for _, c := range name[idx+1:] {
		if c < '0' || c > '9' {
			return name
		}
	}
	return name[:idx] + "_id"
}
