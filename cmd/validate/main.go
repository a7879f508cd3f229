// Command validate performs end-to-end data integrity checks over every
// source in a catalog. For each source it loads and normalizes the data,
// exports it to delimited text, re-normalizes the export and requires the
// same records back, then sanity-checks the exceedance statistics.
//
// Usage:
//
//	go run ./cmd/validate --catalog data/mock/sources.yaml
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/couchcryptid/weather-exceedance-service/internal/adapter/tabular"
	"github.com/couchcryptid/weather-exceedance-service/internal/app"
	"github.com/couchcryptid/weather-exceedance-service/internal/catalog"
	"github.com/couchcryptid/weather-exceedance-service/internal/config"
	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// loaded is one successfully normalized source.
type loaded struct {
	src domain.SourceDescriptor
	ds  domain.Dataset
}

var cli struct {
	Catalog string        `default:"sources.yaml" type:"existingfile" help:"Source catalog to validate."`
	Timeout time.Duration `default:"2m" help:"Overall deadline."`
}

func main() {
	kong.Parse(&cli, kong.Description("Check every catalog source normalizes, exports and re-normalizes losslessly."))

	ctx, cancel := context.WithTimeout(context.Background(), cli.Timeout)
	defer cancel()

	if code := run(ctx, cli.Catalog); code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context, catalogPath string) int {
	fmt.Println("=== Weather Source Integrity Validation ===")
	fmt.Println()

	cat, err := catalog.Load(catalogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load catalog: %v\n", err)
		return 1
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		return 1
	}
	providers := app.NewProviders(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	load, sets := validateLoad(ctx, providers, cat.Sources())
	phases := []*phase{
		load,
		validateRoundTrip(sets),
		validateStatistics(sets),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	for _, s := range sets {
		fmt.Printf("%-20s %8d records  %d variables  %d dropped\n",
			s.src.Name, len(s.ds.Records), len(s.ds.Variables()), s.ds.Dropped)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Load ──
// Every source normalizes into a non-empty record set with real timestamps.

func validateLoad(ctx context.Context, providers domain.SourceProvider, sources []domain.SourceDescriptor) (*phase, []loaded) {
	p := &phase{name: "Phase 1: Load and normalize"}
	var out []loaded
	for _, src := range sources {
		ds, err := providers.Fetch(ctx, src)
		if err != nil {
			p.errorf("%s: %v", src.Name, err)
			continue
		}
		if len(ds.Records) == 0 {
			p.errorf("%s: no records", src.Name)
			continue
		}
		for i, r := range ds.Records {
			if r.Time.IsZero() {
				p.errorf("%s record %d: zero timestamp", src.Name, i)
			}
			if math.IsNaN(r.Value) {
				p.errorf("%s record %d: NaN value", src.Name, i)
			}
		}
		for _, v := range ds.Variables() {
			if ds.Unit(v) == domain.UnitUnknown {
				fmt.Printf("  Note: %s: variable %q has no known unit\n", src.Name, v)
			}
		}
		out = append(out, loaded{src: src, ds: ds})
	}
	return p, out
}

// ── Phase 2: Export round trip ──
// Exported text must normalize back to exactly the records it came from.

func validateRoundTrip(sets []loaded) *phase {
	p := &phase{name: "Phase 2: Export round trip"}
	for _, s := range sets {
		var buf bytes.Buffer
		if err := domain.WriteCSV(&buf, s.ds.Records); err != nil {
			p.errorf("%s: export: %v", s.src.Name, err)
			continue
		}
		table, err := tabular.ReadCSV(&buf)
		if err != nil {
			p.errorf("%s: re-read: %v", s.src.Name, err)
			continue
		}
		again, err := domain.NormalizeTable(domain.SourceDescriptor{Name: s.src.Name + "-export", Format: domain.FormatCSV}, table)
		if err != nil {
			p.errorf("%s: re-normalize: %v", s.src.Name, err)
			continue
		}
		if again.Dropped > 0 {
			p.errorf("%s: %d exported rows dropped on re-read", s.src.Name, again.Dropped)
		}
		if diff := cmp.Diff(s.ds.Records, again.Records, cmpopts.EquateEmpty()); diff != "" {
			p.errorf("%s: records differ after round trip (-loaded +exported):\n%s", s.src.Name, diff)
		}
	}
	return p
}

// ── Phase 3: Statistics ──
// Day-of-year curves stay within bounds and never report a day without
// samples.

func validateStatistics(sets []loaded) *phase {
	p := &phase{name: "Phase 3: Exceedance statistics"}
	for _, s := range sets {
		seasonal := domain.FilterSeason(s.ds.Records, domain.SeasonAllYear)
		for _, v := range s.ds.Variables() {
			values := domain.CollapseByTime(seasonal, v)
			if len(values) == 0 {
				p.errorf("%s/%s: no values after collapsing", s.src.Name, v)
				continue
			}
			threshold := median(values)
			curve := domain.AggregateByDay(values, domain.Exceeds(threshold))
			checkCurve(p, s.src.Name+"/"+v, curve)
		}
	}
	return p
}

func checkCurve(p *phase, label string, curve domain.ProbabilityCurve) {
	prev := 0
	for _, pt := range curve {
		if pt.DOY <= prev || pt.DOY > 366 {
			p.errorf("%s: day %d out of order or range", label, pt.DOY)
		}
		prev = pt.DOY
		if pt.Samples == 0 {
			p.errorf("%s: day %d has no samples", label, pt.DOY)
		}
		if pt.Exceeding > pt.Samples {
			p.errorf("%s: day %d: %d exceeding of %d samples", label, pt.DOY, pt.Exceeding, pt.Samples)
		}
		if pt.Probability < 0 || pt.Probability > 100 {
			p.errorf("%s: day %d: probability %g outside [0, 100]", label, pt.DOY, pt.Probability)
		}
	}
}

func median(values []domain.DailyValue) float64 {
	vs := make([]float64, len(values))
	for i, v := range values {
		vs[i] = v.Value
	}
	slices.Sort(vs)
	return vs[len(vs)/2]
}
