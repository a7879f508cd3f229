package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/weather-exceedance-service/internal/adapter/cache"
	"github.com/couchcryptid/weather-exceedance-service/internal/catalog"
	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
	"github.com/couchcryptid/weather-exceedance-service/internal/observability"
)

// Publisher receives every computed report.
type Publisher interface {
	Publish(ctx context.Context, report domain.Report) error
}

// Options tunes a Pipeline. Zero values pick defaults; nil Geocoder disables
// place lookup and nil Publisher disables publication.
type Options struct {
	SourceTimeout   time.Duration
	SourceCacheSize int
	ViewCacheSize   int
	Geocoder        domain.Geocoder
	Publisher       Publisher
}

// VariableInfo describes a variable available in a source.
type VariableInfo struct {
	Name  string      `json:"name"`
	Label string      `json:"label"`
	Unit  domain.Unit `json:"unit,omitempty"`
}

const warmAttempts = 3

// Pipeline runs exceedance queries against catalog sources. Normalized
// datasets and derived views are cached; invalidation happens only when a
// catalog reload changes a descriptor.
type Pipeline struct {
	mu      sync.RWMutex
	catalog *catalog.Catalog

	sources   *cache.CachedProvider
	views     *cache.ViewCache
	geocoder  domain.Geocoder
	publisher Publisher
	timeout   time.Duration

	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
}

// New creates a Pipeline over a catalog and a source provider.
func New(cat *catalog.Catalog, provider domain.SourceProvider, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = time.Minute
	}
	if opts.SourceCacheSize <= 0 {
		opts.SourceCacheSize = 32
	}
	if opts.ViewCacheSize <= 0 {
		opts.ViewCacheSize = 256
	}
	return &Pipeline{
		catalog:   cat,
		sources:   cache.NewCachedProvider(provider, opts.SourceCacheSize, opts.SourceTimeout, metrics, logger),
		views:     cache.NewViewCache(opts.ViewCacheSize, metrics),
		geocoder:  opts.Geocoder,
		publisher: opts.Publisher,
		timeout:   opts.SourceTimeout,
		logger:    logger,
		metrics:   metrics,
	}
}

// Sources returns the catalog's descriptors in file order.
func (p *Pipeline) Sources() []domain.SourceDescriptor {
	return p.currentCatalog().Sources()
}

// Source returns one descriptor by name.
func (p *Pipeline) Source(name string) (domain.SourceDescriptor, error) {
	cat := p.currentCatalog()
	if name == "" {
		if src, ok := cat.Default(); ok {
			return src, nil
		}
	}
	src, ok := cat.Get(name)
	if !ok {
		return domain.SourceDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return src, nil
}

// Run executes one query. Configuration errors and source failures fail the
// whole query; failures of individual variables are isolated in their
// VariableResult.
func (p *Pipeline) Run(ctx context.Context, q Query) (domain.Report, error) {
	start := time.Now()
	report, err := p.run(ctx, q)
	p.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.QueriesTotal.WithLabelValues("error").Inc()
		p.logger.Warn("query failed", "source", q.Source, "error", err)
		return domain.Report{}, err
	}
	p.metrics.QueriesTotal.WithLabelValues("ok").Inc()
	p.publish(ctx, report)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, q Query) (domain.Report, error) {
	q, cond, err := q.normalize()
	if err != nil {
		return domain.Report{}, err
	}
	src, err := p.Source(q.Source)
	if err != nil {
		return domain.Report{}, err
	}
	sel, place, err := domain.ResolvePlace(ctx, q.Place, q.Selector, p.geocoder, p.logger)
	if err != nil {
		return domain.Report{}, err
	}

	ds, err := p.load(ctx, src)
	if err != nil {
		return domain.Report{}, err
	}
	view := p.view(ds, sel, q.Season)

	report := domain.Report{
		ID:          uuid.NewString(),
		Source:      src.Name,
		Selector:    sel,
		Place:       place,
		Season:      q.Season,
		TargetDate:  q.TargetDate,
		Condition:   q.Condition,
		GeneratedAt: domain.Now(),
	}
	thresholds := make(map[string]float64, len(q.Variables))
	for _, vq := range q.Variables {
		res := p.evaluate(ds, view, q, vq, cond)
		p.metrics.VariableOutcomes.WithLabelValues(string(res.Outcome)).Inc()
		if res.Outcome == domain.OutcomeOK {
			thresholds[vq.Name] = res.Result.NativeThreshold
		}
		report.Variables = append(report.Variables, res)
	}
	if len(thresholds) > 1 {
		report.Comparison = domain.Compare(view, thresholds)
	}

	p.logger.Info("query completed",
		"report_id", report.ID,
		"source", src.Name,
		"selector", sel.Key(),
		"season", q.Season,
		"variables", len(report.Variables),
	)
	return report, nil
}

// evaluate computes one variable in isolation. It never returns an error: the
// outcome and message are carried in the result.
func (p *Pipeline) evaluate(ds domain.Dataset, view []domain.SeasonalRecord, q Query, vq VariableQuery, cond *domain.Condition) domain.VariableResult {
	res := domain.VariableResult{Variable: vq.Name, Label: domain.VariableLabel(vq.Name)}
	fail := func(err error) domain.VariableResult {
		res.Outcome = domain.OutcomeError
		res.Error = err.Error()
		p.logger.Warn("variable failed", "source", ds.Source.Name, "variable", vq.Name, "error", err)
		return res
	}

	if !ds.HasVariable(vq.Name) {
		return fail(fmt.Errorf("%w: variable %q not in source %s", domain.ErrSchema, vq.Name, ds.Source.Name))
	}
	nativeUnit := ds.Unit(vq.Name)

	threshold, unit := 0.0, vq.Unit
	if vq.Threshold != nil {
		threshold = *vq.Threshold
	} else {
		threshold, unit = cond.ThresholdFor(nativeUnit)
	}
	tq := domain.ThresholdQuery{
		Variable:   vq.Name,
		Threshold:  threshold,
		Unit:       unit,
		Season:     q.Season,
		TargetDate: q.TargetDate,
	}
	if err := tq.Validate(); err != nil {
		return fail(err)
	}
	native, err := domain.ConvertThreshold(threshold, unit, nativeUnit)
	if err != nil {
		return fail(err)
	}

	ex, err := domain.EvaluateSeasonal(view, tq, native, nativeUnit)
	switch {
	case errors.Is(err, domain.ErrEmptyResult):
		res.Outcome = domain.OutcomeNoData
		res.Error = err.Error()
		res.Result = &ex
	case err != nil:
		return fail(err)
	default:
		res.Outcome = domain.OutcomeOK
		res.Result = &ex
	}
	return res
}

// Records returns the spatially selected, season-filtered records of a
// source, for export.
func (p *Pipeline) Records(ctx context.Context, q ExportQuery) ([]domain.Record, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}
	src, err := p.Source(q.Source)
	if err != nil {
		return nil, err
	}
	sel, _, err := domain.ResolvePlace(ctx, q.Place, q.Selector, p.geocoder, p.logger)
	if err != nil {
		return nil, err
	}
	ds, err := p.load(ctx, src)
	if err != nil {
		return nil, err
	}
	for _, v := range q.Variables {
		if !ds.HasVariable(v) {
			return nil, fmt.Errorf("%w: variable %q not in source %s", domain.ErrSchema, v, src.Name)
		}
	}

	view := p.view(ds, sel, q.Season)
	out := make([]domain.Record, 0, len(view))
	for _, r := range view {
		if len(q.Variables) > 0 && !slices.Contains(q.Variables, r.Variable) {
			continue
		}
		out = append(out, r.Record)
	}
	return out, nil
}

// Variables lists the variables a source provides, sorted by name.
func (p *Pipeline) Variables(ctx context.Context, source string) ([]VariableInfo, error) {
	src, err := p.Source(source)
	if err != nil {
		return nil, err
	}
	ds, err := p.load(ctx, src)
	if err != nil {
		return nil, err
	}
	names := ds.Variables()
	out := make([]VariableInfo, len(names))
	for i, n := range names {
		out[i] = VariableInfo{Name: n, Label: domain.VariableLabel(n), Unit: ds.Unit(n)}
	}
	return out, nil
}

func (p *Pipeline) load(ctx context.Context, src domain.SourceDescriptor) (domain.Dataset, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.sources.Fetch(ctx, src)
}

// view returns the selected, season-filtered records of a dataset, computing
// them at most once per (source, selector, season).
func (p *Pipeline) view(ds domain.Dataset, sel domain.LocationSelector, season domain.Season) []domain.SeasonalRecord {
	key := cache.ViewKey{Source: ds.Source.Key(), Selector: sel.Key(), Season: season}
	if records, ok := p.views.Get(key); ok {
		return records
	}
	records := domain.FilterSeason(domain.Select(ds.Records, sel), season)
	p.views.Put(key, records)
	return records
}

func (p *Pipeline) publish(ctx context.Context, report domain.Report) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, report); err != nil {
		p.metrics.ReportsPublished.WithLabelValues("error").Inc()
		p.logger.Warn("publish report failed", "report_id", report.ID, "error", err)
		return
	}
	p.metrics.ReportsPublished.WithLabelValues("success").Inc()
}

// Warm pre-loads every catalog source. Unavailable sources are retried with
// exponential backoff (200ms doubling, capped at 5s) a few times; the
// pipeline reports ready once every source was attempted, loaded or not.
func (p *Pipeline) Warm(ctx context.Context) {
	sources := p.Sources()
	loaded := 0
	for _, src := range sources {
		if p.warmSource(ctx, src) {
			loaded++
		}
		if ctx.Err() != nil {
			return
		}
	}
	p.ready.Store(true)
	p.metrics.SourcesReady.Set(1)
	p.logger.Info("sources warmed", "sources", len(sources), "loaded", loaded)
}

func (p *Pipeline) warmSource(ctx context.Context, src domain.SourceDescriptor) bool {
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for attempt := 1; ; attempt++ {
		_, err := p.load(ctx, src)
		if err == nil {
			return true
		}
		if !errors.Is(err, domain.ErrSourceUnavailable) || attempt == warmAttempts || ctx.Err() != nil {
			p.logger.Error("warm source failed", "source", src.Name, "attempts", attempt, "error", err)
			return false
		}
		p.logger.Warn("warm source retrying", "source", src.Name, "error", err, "backoff", backoff)
		if !sleepWithContext(ctx, backoff) {
			return false
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

// CheckReadiness returns nil once start-up warming finished, or an error
// describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("sources have not been warmed yet")
	}
	return nil
}

// ReplaceCatalog swaps in a reloaded catalog. Cached datasets and views of
// sources that were removed or whose descriptor changed are dropped; the
// rest stay warm.
func (p *Pipeline) ReplaceCatalog(next *catalog.Catalog) {
	p.mu.Lock()
	prev := p.catalog
	p.catalog = next
	p.mu.Unlock()

	invalidated := 0
	for _, old := range prev.Sources() {
		cur, ok := next.Get(old.Name)
		if ok && cur.Key() == old.Key() {
			continue
		}
		p.sources.Invalidate(old)
		p.views.InvalidateSource(old.Key())
		invalidated++
	}
	p.logger.Info("catalog replaced", "sources", next.Len(), "invalidated", invalidated)
}

func (p *Pipeline) currentCatalog() *catalog.Catalog {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.catalog
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
