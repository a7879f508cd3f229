package pipeline_test

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-exceedance-service/internal/adapter/fetch"
	"github.com/couchcryptid/weather-exceedance-service/internal/adapter/tabular"
	"github.com/couchcryptid/weather-exceedance-service/internal/catalog"
	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
	"github.com/couchcryptid/weather-exceedance-service/internal/observability"
	"github.com/couchcryptid/weather-exceedance-service/internal/pipeline"
)

// writeMockCSV writes a wide station file shaped like the API exports the
// dashboard used: validdate, lat, lon and one column per parameter.
func writeMockCSV(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("validdate,lat,lon,t_2m:C,precip_1h:mm,wind_speed_10m:ms\n")
	for y := 2020; y <= 2023; y++ {
		for d := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC); d.Year() == y; d = d.AddDate(0, 0, 1) {
			temp := 5.0
			if d.Month() == time.July {
				temp = float64(25 + y - 2020) // 25, 26, 27, 28
			}
			fmt.Fprintf(&b, "%s,47.37,8.54,%g,%g,%g\n", d.Format(time.RFC3339), temp, 0.5, 3.0)
		}
	}
	path := filepath.Join(dir, "zurich.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func newCSVPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	dir := t.TempDir()
	writeMockCSV(t, dir)
	cat, err := catalog.Parse([]byte("sources:\n  - name: zurich\n    format: csv\n    location: zurich.csv\n"), dir)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	providers := pipeline.ProviderSet{
		domain.FormatCSV: tabular.NewProvider(fetch.NewOpener(nil), logger),
	}
	return pipeline.New(cat, providers, pipeline.Options{}, logger, observability.NewMetricsForTesting())
}

func TestPipeline_WithMockCSVData(t *testing.T) {
	p := newCSVPipeline(t)

	cases := []struct {
		name      string
		variable  string
		threshold float64
		date      time.Time
		season    domain.Season
		want      float64
		outcome   domain.Outcome
	}{
		{"hot july day", "t_2m:C", 26, time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC), domain.SeasonSummer, 50, domain.OutcomeOK},
		{"equal is not exceeding", "t_2m:C", 28, time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC), domain.SeasonAllYear, 0, domain.OutcomeOK},
		{"winter day in summer season", "t_2m:C", 0, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), domain.SeasonSummer, 0, domain.OutcomeNoData},
		{"calm wind", "wind_speed_10m:ms", 15, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), domain.SeasonSpring, 0, domain.OutcomeOK},
		{"light rain", "precip_1h:mm", 0.1, time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC), domain.SeasonAutumn, 100, domain.OutcomeOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report, err := p.Run(t.Context(), pipeline.Query{
				Source:     "zurich",
				Selector:   domain.PointSelector(47.4, 8.5),
				Season:     tc.season,
				TargetDate: tc.date,
				Variables:  []pipeline.VariableQuery{{Name: tc.variable, Threshold: &tc.threshold}},
			})
			require.NoError(t, err)
			res := report.Variables[0]
			require.Equal(t, tc.outcome, res.Outcome, res.Error)
			if tc.outcome == domain.OutcomeOK {
				assert.InDelta(t, tc.want, res.Result.Day.Probability, 1e-9)
			}
		})
	}
}

func TestPipeline_ExportRoundTrip(t *testing.T) {
	p := newCSVPipeline(t)

	records, err := p.Records(t.Context(), pipeline.ExportQuery{
		Source:    "zurich",
		Season:    domain.SeasonSummer,
		Variables: []string{"t_2m:C"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, records)

	var buf bytes.Buffer
	require.NoError(t, domain.WriteCSV(&buf, records))

	table, err := tabular.ReadCSV(&buf)
	require.NoError(t, err)
	ds, err := domain.NormalizeTable(domain.SourceDescriptor{Name: "export"}, table)
	require.NoError(t, err)
	assert.Equal(t, records, ds.Records)
}
