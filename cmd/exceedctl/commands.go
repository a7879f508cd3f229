package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/couchcryptid/weather-exceedance-service/internal/app"
	"github.com/couchcryptid/weather-exceedance-service/internal/config"
	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
	"github.com/couchcryptid/weather-exceedance-service/internal/observability"
	"github.com/couchcryptid/weather-exceedance-service/internal/pipeline"
)

// Globals are flags shared by every command.
type Globals struct {
	Catalog  string `help:"Source catalog file." env:"SOURCES_FILE" default:"sources.yaml" type:"path"`
	LogLevel string `help:"Log level." env:"LOG_LEVEL" default:"warn" enum:"debug,info,warn,error"`

	out io.Writer
}

func (g *Globals) pipeline() (*pipeline.Pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.SourcesFile = g.Catalog
	cfg.LogLevel = g.LogLevel
	logger := observability.NewLogger(cfg)
	return app.NewPipeline(cfg, nil, observability.NewMetricsForTesting(), logger)
}

// LocationFlags select a point, a bounding box or a place name.
type LocationFlags struct {
	Point string `help:"Nearest point as lat,lon." xor:"location"`
	BBox  string `name:"bbox" help:"Region mean as lat_min,lat_max,lon_min,lon_max." xor:"location"`
	Place string `help:"Place name to geocode (needs MAPBOX_ENABLED)." xor:"location"`
}

func (l LocationFlags) selector() (domain.LocationSelector, error) {
	switch {
	case l.Point != "":
		v, err := parseFloats(l.Point, 2)
		if err != nil {
			return domain.LocationSelector{}, fmt.Errorf("--point: %w", err)
		}
		return domain.PointSelector(v[0], v[1]), nil
	case l.BBox != "":
		v, err := parseFloats(l.BBox, 4)
		if err != nil {
			return domain.LocationSelector{}, fmt.Errorf("--bbox: %w", err)
		}
		return domain.BoxSelector(v[0], v[1], v[2], v[3]), nil
	default:
		return domain.NoSelector(), nil
	}
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("%w: want %d comma-separated numbers, got %q", domain.ErrConfiguration, n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", domain.ErrConfiguration, p)
		}
		out[i] = v
	}
	return out, nil
}

// parseVariable reads "name", "name=threshold" or "name=threshold@unit".
// The name may itself contain ':' (t_2m:C), so the last '=' splits.
func parseVariable(s string) (pipeline.VariableQuery, error) {
	i := strings.LastIndex(s, "=")
	if i < 0 {
		return pipeline.VariableQuery{Name: strings.TrimSpace(s)}, nil
	}
	vq := pipeline.VariableQuery{Name: strings.TrimSpace(s[:i])}
	value := s[i+1:]
	if j := strings.LastIndex(value, "@"); j >= 0 {
		vq.Unit = domain.Unit(strings.TrimSpace(value[j+1:]))
		value = value[:j]
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return pipeline.VariableQuery{}, fmt.Errorf("%w: threshold of %q is not a number", domain.ErrConfiguration, vq.Name)
	}
	vq.Threshold = &t
	return vq, nil
}

type sourcesCmd struct{}

func (c *sourcesCmd) Run(g *Globals) error {
	p, err := g.pipeline()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(g.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFORMAT\tLOCATION")
	for _, s := range p.Sources() {
		loc := s.Location
		if s.Format == domain.FormatTimeSeries {
			loc = strings.Join(s.Parameters, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.Format, loc)
	}
	return tw.Flush()
}

type variablesCmd struct {
	Source string `arg:"" optional:"" help:"Source name; the first catalog source when empty."`
}

func (c *variablesCmd) Run(ctx context.Context, g *Globals) error {
	p, err := g.pipeline()
	if err != nil {
		return err
	}
	vars, err := p.Variables(ctx, c.Source)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(g.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIABLE\tLABEL\tUNIT")
	for _, v := range vars {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Name, v.Label, v.Unit)
	}
	return tw.Flush()
}

type queryCmd struct {
	Source    string        `short:"s" help:"Source name; the first catalog source when empty."`
	Location  LocationFlags `embed:""`
	Season    string        `help:"all_year, winter, spring, summer or autumn." default:"all_year"`
	Date      string        `help:"Target date as YYYY-MM-DD; today when empty."`
	Condition string        `help:"Preset condition supplying default thresholds." default:"very_hot"`
	Var       []string      `short:"v" help:"Variable as name, name=threshold or name=threshold@unit. Defaults to the first two variables."`
	JSON      bool          `help:"Print the full report as JSON."`
}

func (c *queryCmd) Run(ctx context.Context, g *Globals) error {
	sel, err := c.Location.selector()
	if err != nil {
		return err
	}
	q := pipeline.Query{
		Source:    c.Source,
		Place:     c.Location.Place,
		Selector:  sel,
		Season:    domain.Season(c.Season),
		Condition: c.Condition,
	}
	if c.Date != "" {
		q.TargetDate, err = time.Parse(time.DateOnly, c.Date)
		if err != nil {
			return fmt.Errorf("%w: --date: %w", domain.ErrConfiguration, err)
		}
	}
	for _, v := range c.Var {
		vq, err := parseVariable(v)
		if err != nil {
			return err
		}
		q.Variables = append(q.Variables, vq)
	}

	p, err := g.pipeline()
	if err != nil {
		return err
	}
	if len(q.Variables) == 0 {
		vars, err := p.Variables(ctx, c.Source)
		if err != nil {
			return err
		}
		for _, v := range vars[:min(2, len(vars))] {
			q.Variables = append(q.Variables, pipeline.VariableQuery{Name: v.Name})
		}
	}

	report, err := p.Run(ctx, q)
	if err != nil {
		return err
	}
	if c.JSON {
		enc := json.NewEncoder(g.out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printReport(g.out, report)
}

func printReport(w io.Writer, r domain.Report) error {
	fmt.Fprintf(w, "source %s, %s, season %s, day %d (%s)\n",
		r.Source, r.Selector.Key(), r.Season, r.TargetDate.YearDay(), r.TargetDate.Format(time.DateOnly))
	if r.Place != nil {
		fmt.Fprintf(w, "place %s\n", r.Place.FormattedAddress)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIABLE\tTHRESHOLD\tPROBABILITY\tSAMPLES\tOUTCOME")
	for _, v := range r.Variables {
		switch {
		case v.Result == nil:
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%s: %s\n", v.Label, v.Outcome, v.Error)
		case v.Outcome == domain.OutcomeNoData:
			fmt.Fprintf(tw, "%s\t%s\tno data\t0\t%s\n", v.Label, formatThreshold(v.Result), v.Outcome)
		default:
			fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%d\t%s\n",
				v.Label, formatThreshold(v.Result), v.Result.Day.Probability, v.Result.Day.Samples, v.Outcome)
		}
	}
	return tw.Flush()
}

func formatThreshold(ex *domain.Exceedance) string {
	s := strconv.FormatFloat(ex.NativeThreshold, 'f', -1, 64)
	if ex.NativeUnit != domain.UnitUnknown {
		s += " " + string(ex.NativeUnit)
	}
	return "> " + s
}

type exportCmd struct {
	Source   string        `short:"s" help:"Source name; the first catalog source when empty."`
	Location LocationFlags `embed:""`
	Season   string        `help:"all_year, winter, spring, summer or autumn." default:"all_year"`
	Var      []string      `short:"v" help:"Variables to export; every variable when empty."`
	Output   string        `short:"o" help:"Output file; stdout when empty." type:"path"`
}

func (c *exportCmd) Run(ctx context.Context, g *Globals) error {
	sel, err := c.Location.selector()
	if err != nil {
		return err
	}
	p, err := g.pipeline()
	if err != nil {
		return err
	}
	records, err := p.Records(ctx, pipeline.ExportQuery{
		Source:    c.Source,
		Place:     c.Location.Place,
		Selector:  sel,
		Season:    domain.Season(c.Season),
		Variables: c.Var,
	})
	if err != nil {
		return err
	}

	if c.Output == "" {
		return domain.WriteCSV(g.out, records)
	}
	f, err := os.Create(c.Output)
	if err != nil {
		return fmt.Errorf("create %s: %w", c.Output, err)
	}
	if err := domain.WriteCSV(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
