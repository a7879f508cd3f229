package cache

import (
	"strings"

	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
	"github.com/couchcryptid/weather-exceedance-service/internal/observability"
)

// ViewKey identifies a derived view: a source narrowed by a selector and a season.
type ViewKey struct {
	Source   string
	Selector string
	Season   domain.Season
}

func (k ViewKey) String() string {
	return k.Source + "\x00" + k.Selector + "\x00" + string(k.Season)
}

// ViewCache stores spatially selected, season-filtered records.
type ViewCache struct {
	cache   *LRU[[]domain.SeasonalRecord]
	metrics *observability.Metrics
}

// NewViewCache creates a view cache holding at most maxEntries views.
func NewViewCache(maxEntries int, metrics *observability.Metrics) *ViewCache {
	return &ViewCache{cache: NewLRU[[]domain.SeasonalRecord](maxEntries), metrics: metrics}
}

// Get returns a cached view. Callers must not modify the returned slice.
func (v *ViewCache) Get(key ViewKey) ([]domain.SeasonalRecord, bool) {
	records, ok := v.cache.Get(key.String())
	result := "miss"
	if ok {
		result = "hit"
	}
	v.metrics.CacheLookups.WithLabelValues("view", result).Inc()
	return records, ok
}

// Put stores a view.
func (v *ViewCache) Put(key ViewKey, records []domain.SeasonalRecord) {
	v.cache.Put(key.String(), records)
}

// InvalidateSource drops every view derived from a source identity.
func (v *ViewCache) InvalidateSource(sourceKey string) int {
	prefix := sourceKey + "\x00"
	return v.cache.RemoveFunc(func(key string) bool { return strings.HasPrefix(key, prefix) })
}
