package cache

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
	"github.com/couchcryptid/weather-exceedance-service/internal/observability"
)

// CachedProvider wraps a SourceProvider with a dataset cache keyed by source
// identity. Concurrent loads of the same source share one fetch. Failed loads
// are not cached.
//
// A shared load is detached from the caller that started it and bounded by
// its own timeout instead, so one caller giving up does not fail the others
// waiting on the same source.
type CachedProvider struct {
	inner       domain.SourceProvider
	cache       *LRU[domain.Dataset]
	group       singleflight.Group
	loadTimeout time.Duration
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewCachedProvider creates a cache decorator around a provider. loadTimeout
// bounds each shared load; zero means one minute.
func NewCachedProvider(inner domain.SourceProvider, maxEntries int, loadTimeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *CachedProvider {
	if loadTimeout <= 0 {
		loadTimeout = time.Minute
	}
	return &CachedProvider{
		inner:       inner,
		cache:       NewLRU[domain.Dataset](maxEntries),
		loadTimeout: loadTimeout,
		metrics:     metrics,
		logger:      logger,
	}
}

// Fetch returns the cached dataset or loads it. The caller stops waiting
// when ctx is done; the load itself carries on for anyone else sharing it.
func (p *CachedProvider) Fetch(ctx context.Context, src domain.SourceDescriptor) (domain.Dataset, error) {
	key := src.Key()
	if ds, ok := p.cache.Get(key); ok {
		p.metrics.CacheLookups.WithLabelValues("source", "hit").Inc()
		return ds, nil
	}
	p.metrics.CacheLookups.WithLabelValues("source", "miss").Inc()

	ch := p.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.loadTimeout)
		defer cancel()

		start := time.Now()
		ds, err := p.inner.Fetch(loadCtx, src)
		p.metrics.SourceLoadDuration.WithLabelValues(string(src.Format)).Observe(time.Since(start).Seconds())
		if err != nil {
			p.metrics.SourceLoads.WithLabelValues(string(src.Format), "error").Inc()
			return domain.Dataset{}, err
		}
		p.metrics.SourceLoads.WithLabelValues(string(src.Format), "success").Inc()
		p.metrics.RecordsLoaded.Observe(float64(len(ds.Records)))
		p.cache.Put(key, ds)
		p.logger.Info("source loaded",
			"source", src.Name,
			"format", src.Format,
			"records", len(ds.Records),
			"dropped", ds.Dropped,
			"duration", time.Since(start),
		)
		return ds, nil
	})

	select {
	case <-ctx.Done():
		return domain.Dataset{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Dataset{}, res.Err
		}
		if res.Shared {
			p.logger.Debug("source load shared", "source", src.Name)
		}
		return res.Val.(domain.Dataset), nil
	}
}

// Invalidate drops the cached dataset of a source.
func (p *CachedProvider) Invalidate(src domain.SourceDescriptor) bool {
	return p.cache.Remove(src.Key())
}

// Cached reports whether the source's dataset is in the cache.
func (p *CachedProvider) Cached(src domain.SourceDescriptor) bool {
	_, ok := p.cache.Get(src.Key())
	return ok
}
