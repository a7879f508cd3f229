package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-exceedance-service/internal/catalog"
	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
	"github.com/couchcryptid/weather-exceedance-service/internal/observability"
	"github.com/couchcryptid/weather-exceedance-service/internal/pipeline"
)

// --- mocks ---

type mockProvider struct {
	records []domain.Record
	units   map[string]domain.Unit
	errs    []error // returned by successive calls before succeeding
	calls   atomic.Int32
}

func (m *mockProvider) Fetch(_ context.Context, src domain.SourceDescriptor) (domain.Dataset, error) {
	n := int(m.calls.Add(1))
	if n <= len(m.errs) {
		return domain.Dataset{}, m.errs[n-1]
	}
	return domain.Dataset{Source: src, Records: m.records, Units: m.units}, nil
}

type mockPublisher struct {
	mu      sync.Mutex
	reports []domain.Report
	err     error
}

func (m *mockPublisher) Publish(_ context.Context, r domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return m.err
}

type mockGeocoder struct {
	result domain.GeocodingResult
}

func (m *mockGeocoder) ForwardGeocode(context.Context, string) (domain.GeocodingResult, error) {
	return m.result, nil
}

// --- fixtures ---

var (
	bern   = domain.Geo{Lat: 46.9, Lon: 7.4}
	zurich = domain.Geo{Lat: 47.4, Lon: 8.5}
)

func threshold(v float64) *float64 { return &v }

// dailyRecords returns 2021-2023 daily temperatures at Bern and Zurich plus
// precipitation at Bern. At Bern, 19 July (day 200) is 31, 32 and 29 degrees;
// Zurich is always 5 degrees cooler. Every other day is 10 degrees.
func dailyRecords() []domain.Record {
	day200 := map[int]float64{2021: 31, 2022: 32, 2023: 29}
	var out []domain.Record
	for y := 2021; y <= 2023; y++ {
		for d := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC); d.Year() == y; d = d.AddDate(0, 0, 1) {
			v := 10.0
			if d.YearDay() == 200 {
				v = day200[y]
			}
			b, z := bern, zurich
			out = append(out,
				domain.Record{Time: d, Geo: &b, Variable: "t_2m:C", Value: v},
				domain.Record{Time: d, Geo: &z, Variable: "t_2m:C", Value: v - 5},
				domain.Record{Time: d, Geo: &b, Variable: "precip_1h:mm", Value: 1},
			)
		}
	}
	return out
}

func newProvider() *mockProvider {
	return &mockProvider{
		records: dailyRecords(),
		units:   map[string]domain.Unit{"t_2m:C": domain.UnitCelsius, "precip_1h:mm": domain.UnitMillimetre},
	}
}

func testCatalog(location string) *catalog.Catalog {
	return catalog.New(domain.SourceDescriptor{Name: "swiss", Format: domain.FormatCSV, Location: location})
}

func newTestPipeline(provider domain.SourceProvider, opts pipeline.Options) (*pipeline.Pipeline, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return pipeline.New(testCatalog("swiss.csv"), provider, opts, logger, metrics), metrics
}

var day200 = time.Date(2025, time.July, 19, 0, 0, 0, 0, time.UTC)

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	pub := &mockPublisher{}
	p, metrics := newTestPipeline(newProvider(), pipeline.Options{Publisher: pub})

	report, err := p.Run(t.Context(), pipeline.Query{
		Source:     "swiss",
		Selector:   domain.PointSelector(46.95, 7.45),
		TargetDate: day200,
		Variables: []pipeline.VariableQuery{
			{Name: "t_2m:C", Threshold: threshold(30)},
			{Name: "precip_1h:mm", Threshold: threshold(0.5)},
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "swiss", report.Source)
	assert.Equal(t, domain.SeasonAllYear, report.Season)
	require.Len(t, report.Variables, 2)

	temp := report.Variables[0]
	assert.Equal(t, domain.OutcomeOK, temp.Outcome)
	assert.Equal(t, "Temperature (°C)", temp.Label)
	require.NotNil(t, temp.Result)
	assert.InDelta(t, 66.7, temp.Result.Day.Probability, 0.05)

	rain := report.Variables[1]
	assert.Equal(t, domain.OutcomeOK, rain.Outcome)
	assert.Equal(t, 100.0, rain.Result.Day.Probability)

	require.Len(t, report.Comparison, 2)
	assert.NotEmpty(t, report.Comparison["t_2m:C"])

	require.Len(t, pub.reports, 1)
	assert.Equal(t, report.ID, pub.reports[0].ID)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.QueriesTotal.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ReportsPublished.WithLabelValues("success")), 0)
}

func TestPipeline_Run_NoSelectorAveragesAllPoints(t *testing.T) {
	p, _ := newTestPipeline(newProvider(), pipeline.Options{})

	report, err := p.Run(t.Context(), pipeline.Query{
		Source:     "swiss",
		TargetDate: day200,
		Variables:  []pipeline.VariableQuery{{Name: "t_2m:C", Threshold: threshold(26)}},
	})
	require.NoError(t, err)

	// Means of Bern and Zurich on day 200 are 28.5, 29.5 and 26.5.
	day := report.Variables[0].Result.Day
	assert.Equal(t, 3, day.Samples)
	assert.Equal(t, 3, day.Exceeding)
}

func TestPipeline_Run_VariableIsolation(t *testing.T) {
	p, metrics := newTestPipeline(newProvider(), pipeline.Options{})

	report, err := p.Run(t.Context(), pipeline.Query{
		Source:     "swiss",
		Selector:   domain.PointSelector(46.9, 7.4),
		TargetDate: day200,
		Variables: []pipeline.VariableQuery{
			{Name: "missing", Threshold: threshold(1)},
			{Name: "t_2m:C", Threshold: threshold(30), Unit: domain.UnitMillimetre},
			{Name: "t_2m:C ", Threshold: threshold(303.15), Unit: domain.UnitKelvin},
		},
	})
	require.Error(t, err, "duplicate names after trimming are a configuration error")
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	report, err = p.Run(t.Context(), pipeline.Query{
		Source:     "swiss",
		Selector:   domain.PointSelector(46.9, 7.4),
		TargetDate: day200,
		Variables: []pipeline.VariableQuery{
			{Name: "missing", Threshold: threshold(1)},
			{Name: "precip_1h:mm", Threshold: threshold(30), Unit: domain.UnitCelsius},
			{Name: "t_2m:C", Threshold: threshold(303.15), Unit: domain.UnitKelvin},
		},
	})
	require.NoError(t, err)
	require.Len(t, report.Variables, 3)

	assert.Equal(t, domain.OutcomeError, report.Variables[0].Outcome)
	assert.Contains(t, report.Variables[0].Error, "not in source")
	assert.Equal(t, domain.OutcomeError, report.Variables[1].Outcome)
	assert.Equal(t, domain.OutcomeOK, report.Variables[2].Outcome)
	assert.InDelta(t, 30, report.Variables[2].Result.NativeThreshold, 1e-9)
	assert.Nil(t, report.Comparison, "a single evaluated variable has nothing to compare")
	assert.False(t, report.Failed())
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.VariableOutcomes.WithLabelValues("error")), 0)
}

func TestPipeline_Run_EmptyDayIsNoData(t *testing.T) {
	p, _ := newTestPipeline(newProvider(), pipeline.Options{})

	report, err := p.Run(t.Context(), pipeline.Query{
		Source:     "swiss",
		Season:     domain.SeasonWinter,
		TargetDate: day200,
		Variables:  []pipeline.VariableQuery{{Name: "t_2m:C", Threshold: threshold(30)}},
	})
	require.NoError(t, err)

	res := report.Variables[0]
	assert.Equal(t, domain.OutcomeNoData, res.Outcome)
	require.NotNil(t, res.Result)
	assert.True(t, res.Result.Day.NoData)
	assert.NotEmpty(t, res.Result.Curve, "winter days still have a curve")
}

func TestPipeline_Run_ComparisonSkipsNoDataVariables(t *testing.T) {
	provider := newProvider()
	// Snow is only recorded in January, so day 200 has no samples.
	b := bern
	for y := 2021; y <= 2023; y++ {
		provider.records = append(provider.records,
			domain.Record{Time: time.Date(y, time.January, 10, 0, 0, 0, 0, time.UTC), Geo: &b, Variable: "snow:cm", Value: 4})
	}
	provider.units["snow:cm"] = domain.UnitCentimetre
	p, _ := newTestPipeline(provider, pipeline.Options{})

	report, err := p.Run(t.Context(), pipeline.Query{
		Source:     "swiss",
		Selector:   domain.PointSelector(46.9, 7.4),
		TargetDate: day200,
		Variables: []pipeline.VariableQuery{
			{Name: "t_2m:C", Threshold: threshold(30)},
			{Name: "precip_1h:mm", Threshold: threshold(0.5)},
			{Name: "snow:cm", Threshold: threshold(1)},
		},
	})
	require.NoError(t, err)
	require.Len(t, report.Variables, 3)
	assert.Equal(t, domain.OutcomeNoData, report.Variables[2].Outcome)

	require.Len(t, report.Comparison, 2)
	assert.Contains(t, report.Comparison, "t_2m:C")
	assert.Contains(t, report.Comparison, "precip_1h:mm")
	assert.NotContains(t, report.Comparison, "snow:cm")
}

func TestPipeline_Run_Condition(t *testing.T) {
	provider := &mockProvider{
		records: []domain.Record{{Time: day200, Variable: "t2m", Value: 304}},
		units:   map[string]domain.Unit{"t2m": domain.UnitKelvin},
	}
	p, _ := newTestPipeline(provider, pipeline.Options{})

	report, err := p.Run(t.Context(), pipeline.Query{
		Source:     "swiss",
		TargetDate: day200,
		Condition:  "Very hot",
		Variables:  []pipeline.VariableQuery{{Name: "t2m"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "very_hot", report.Condition)
	res := report.Variables[0].Result
	require.NotNil(t, res)
	assert.InDelta(t, 303.15, res.NativeThreshold, 1e-9)
	assert.Equal(t, 100.0, res.Day.Probability)
}

func TestPipeline_Run_DefaultTargetDateIsToday(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2026, time.July, 19, 12, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })

	p, _ := newTestPipeline(newProvider(), pipeline.Options{})
	report, err := p.Run(t.Context(), pipeline.Query{
		Variables: []pipeline.VariableQuery{{Name: "t_2m:C", Threshold: threshold(30)}},
	})
	require.NoError(t, err)

	assert.Equal(t, "swiss", report.Source, "empty source picks the first catalog entry")
	assert.Equal(t, 200, report.TargetDate.YearDay())
	assert.Equal(t, time.Date(2026, time.July, 19, 12, 0, 0, 0, time.UTC), report.GeneratedAt)
}

func TestPipeline_Run_ConfigurationErrorsSkipLoading(t *testing.T) {
	tests := []struct {
		name  string
		query pipeline.Query
	}{
		{"no variables", pipeline.Query{Source: "swiss"}},
		{"no threshold or condition", pipeline.Query{Variables: []pipeline.VariableQuery{{Name: "t_2m:C"}}}},
		{"unknown condition", pipeline.Query{Condition: "balmy", Variables: []pipeline.VariableQuery{{Name: "t_2m:C"}}}},
		{"unknown season", pipeline.Query{Season: "monsoon", Variables: []pipeline.VariableQuery{{Name: "t_2m:C", Threshold: threshold(1)}}}},
		{"unknown unit", pipeline.Query{Variables: []pipeline.VariableQuery{{Name: "t_2m:C", Threshold: threshold(1), Unit: "furlong"}}}},
		{"bad selector", pipeline.Query{Selector: domain.PointSelector(100, 0), Variables: []pipeline.VariableQuery{{Name: "t_2m:C", Threshold: threshold(1)}}}},
		{"place without geocoder", pipeline.Query{Place: "Bern", Variables: []pipeline.VariableQuery{{Name: "t_2m:C", Threshold: threshold(1)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newProvider()
			p, _ := newTestPipeline(provider, pipeline.Options{})

			_, err := p.Run(t.Context(), tt.query)
			require.ErrorIs(t, err, domain.ErrConfiguration)
			assert.Zero(t, provider.calls.Load())
		})
	}
}

func TestPipeline_Run_UnknownSource(t *testing.T) {
	p, _ := newTestPipeline(newProvider(), pipeline.Options{})

	_, err := p.Run(t.Context(), pipeline.Query{
		Source:    "nowhere",
		Variables: []pipeline.VariableQuery{{Name: "t_2m:C", Threshold: threshold(1)}},
	})
	assert.ErrorIs(t, err, pipeline.ErrUnknownSource)
}

func TestPipeline_Run_SourceFailureIsSurfaced(t *testing.T) {
	provider := newProvider()
	provider.errs = []error{domain.ErrSourceUnavailable}
	p, metrics := newTestPipeline(provider, pipeline.Options{})

	_, err := p.Run(t.Context(), pipeline.Query{
		Variables: []pipeline.VariableQuery{{Name: "t_2m:C", Threshold: threshold(1)}},
	})
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.QueriesTotal.WithLabelValues("error")), 0)
}

func TestPipeline_Run_PlaceResolvesToPoint(t *testing.T) {
	geocoder := &mockGeocoder{result: domain.GeocodingResult{Lat: 47.37, Lon: 8.54, FormattedAddress: "Zurich, Switzerland"}}
	p, _ := newTestPipeline(newProvider(), pipeline.Options{Geocoder: geocoder})

	report, err := p.Run(t.Context(), pipeline.Query{
		Place:      "Zurich",
		TargetDate: day200,
		Variables:  []pipeline.VariableQuery{{Name: "t_2m:C", Threshold: threshold(25)}},
	})
	require.NoError(t, err)

	require.NotNil(t, report.Place)
	assert.Equal(t, "Zurich, Switzerland", report.Place.FormattedAddress)
	assert.Equal(t, domain.SelectorPoint, report.Selector.Kind)
	// Zurich is 26, 27 and 24 on day 200.
	assert.Equal(t, 2, report.Variables[0].Result.Day.Exceeding)
}

func TestPipeline_Run_PublishFailureDoesNotFailQuery(t *testing.T) {
	pub := &mockPublisher{err: errors.New("broker down")}
	p, metrics := newTestPipeline(newProvider(), pipeline.Options{Publisher: pub})

	_, err := p.Run(t.Context(), pipeline.Query{
		TargetDate: day200,
		Variables:  []pipeline.VariableQuery{{Name: "t_2m:C", Threshold: threshold(30)}},
	})
	require.NoError(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ReportsPublished.WithLabelValues("error")), 0)
}

func TestPipeline_CachesDatasetsAndViews(t *testing.T) {
	provider := newProvider()
	p, metrics := newTestPipeline(provider, pipeline.Options{})
	q := pipeline.Query{
		TargetDate: day200,
		Selector:   domain.PointSelector(46.9, 7.4),
		Variables:  []pipeline.VariableQuery{{Name: "t_2m:C", Threshold: threshold(30)}},
	}

	for range 3 {
		_, err := p.Run(t.Context(), q)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), provider.calls.Load())
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("view", "hit")), 0)
}

func TestPipeline_ReplaceCatalog(t *testing.T) {
	provider := newProvider()
	p, _ := newTestPipeline(provider, pipeline.Options{})
	q := pipeline.Query{
		TargetDate: day200,
		Variables:  []pipeline.VariableQuery{{Name: "t_2m:C", Threshold: threshold(30)}},
	}

	_, err := p.Run(t.Context(), q)
	require.NoError(t, err)

	p.ReplaceCatalog(testCatalog("swiss.csv"))
	_, err = p.Run(t.Context(), q)
	require.NoError(t, err)
	assert.Equal(t, int32(1), provider.calls.Load(), "unchanged descriptor stays cached")

	p.ReplaceCatalog(testCatalog("swiss-v2.csv"))
	_, err = p.Run(t.Context(), q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), provider.calls.Load(), "changed descriptor is reloaded")
}

func TestPipeline_Records(t *testing.T) {
	p, _ := newTestPipeline(newProvider(), pipeline.Options{})

	records, err := p.Records(t.Context(), pipeline.ExportQuery{
		Selector:  domain.PointSelector(47.4, 8.5),
		Season:    domain.SeasonSummer,
		Variables: []string{"t_2m:C"},
	})
	require.NoError(t, err)

	assert.Len(t, records, 3*92)
	for _, r := range records {
		assert.Equal(t, zurich, *r.Geo)
		assert.Equal(t, "t_2m:C", r.Variable)
	}

	_, err = p.Records(t.Context(), pipeline.ExportQuery{Variables: []string{"snow"}})
	assert.ErrorIs(t, err, domain.ErrSchema)
}

func TestPipeline_Variables(t *testing.T) {
	p, _ := newTestPipeline(newProvider(), pipeline.Options{})

	vars, err := p.Variables(t.Context(), "swiss")
	require.NoError(t, err)
	assert.Equal(t, []pipeline.VariableInfo{
		{Name: "precip_1h:mm", Label: "Precipitation (mm)", Unit: domain.UnitMillimetre},
		{Name: "t_2m:C", Label: "Temperature (°C)", Unit: domain.UnitCelsius},
	}, vars)
}

func TestPipeline_Warm(t *testing.T) {
	provider := newProvider()
	provider.errs = []error{domain.ErrSourceUnavailable, domain.ErrSourceUnavailable}
	p, metrics := newTestPipeline(provider, pipeline.Options{})

	require.Error(t, p.CheckReadiness(t.Context()))

	p.Warm(t.Context())

	require.NoError(t, p.CheckReadiness(t.Context()))
	assert.Equal(t, int32(3), provider.calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SourcesReady), 0)
}

func TestPipeline_WarmGivesUpOnSchemaErrors(t *testing.T) {
	provider := newProvider()
	provider.errs = []error{domain.ErrSchema}
	p, _ := newTestPipeline(provider, pipeline.Options{})

	p.Warm(t.Context())

	require.NoError(t, p.CheckReadiness(t.Context()), "ready once every source was attempted")
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestPipeline_WarmStopsOnCancel(t *testing.T) {
	provider := newProvider()
	provider.errs = []error{domain.ErrSourceUnavailable, domain.ErrSourceUnavailable}
	p, _ := newTestPipeline(provider, pipeline.Options{})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	p.Warm(ctx)

	assert.Error(t, p.CheckReadiness(t.Context()))
}

func TestProviderSet(t *testing.T) {
	set := pipeline.ProviderSet{domain.FormatCSV: newProvider()}

	_, err := set.Fetch(t.Context(), domain.SourceDescriptor{Format: domain.FormatCSV})
	require.NoError(t, err)

	_, err = set.Fetch(t.Context(), domain.SourceDescriptor{Format: domain.FormatXLSX})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
