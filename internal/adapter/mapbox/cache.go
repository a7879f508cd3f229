package mapbox

import (
	"context"
	"strings"

	"github.com/couchcryptid/weather-exceedance-service/internal/adapter/cache"
	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
	"github.com/couchcryptid/weather-exceedance-service/internal/observability"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache keyed by the
// normalized query text.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *cache.LRU[domain.GeocodingResult]
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   cache.NewLRU[domain.GeocodingResult](maxEntries),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) ForwardGeocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	key := strings.ToLower(strings.Join(strings.Fields(query), " "))
	if result, ok := c.cache.Get(key); ok {
		c.metrics.CacheLookups.WithLabelValues("geocode", "hit").Inc()
		return result, nil
	}
	c.metrics.CacheLookups.WithLabelValues("geocode", "miss").Inc()

	result, err := c.inner.ForwardGeocode(ctx, query)
	if err != nil {
		return result, err
	}
	// Only cache non-empty results so transient "not found" responses can be retried.
	if result.FormattedAddress != "" {
		c.cache.Put(key, result)
	}
	return result, nil
}
