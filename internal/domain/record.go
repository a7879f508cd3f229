package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Format identifies how a source is encoded.
type Format string

const (
	FormatCSV        Format = "csv"
	FormatXLSX       Format = "xlsx"
	FormatGridJSON   Format = "grid-json"
	FormatTimeSeries Format = "timeseries"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatCSV, FormatXLSX, FormatGridJSON, FormatTimeSeries:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unsupported source format %q", ErrConfiguration, s)
	}
}

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Record is the canonical long-form observation every source is normalized into.
// Geo is nil when the source has no coordinates.
type Record struct {
	Time     time.Time `json:"timestamp"`
	Geo      *Geo      `json:"geo,omitempty"`
	Variable string    `json:"variable"`
	Value    float64   `json:"value"`
}

// DOY returns the calendar day-of-year bucket (1..366).
func (r Record) DOY() int {
	return r.Time.YearDay()
}

// SourceDescriptor identifies a source and how to read it.
type SourceDescriptor struct {
	Name     string          `json:"name"`
	Format   Format          `json:"format"`
	Location string          `json:"location,omitempty"` // path or URL for file formats
	Sheet    string          `json:"sheet,omitempty"`    // spreadsheet sheet, first sheet when empty
	Variable string          `json:"variable,omitempty"` // restricts the load to one variable
	Units    map[string]Unit `json:"units,omitempty"`    // per-variable unit overrides

	// Grid pre-aggregation: when set, grids are reduced while flattening.
	Region *LocationSelector `json:"region,omitempty"`

	// Remote time-series parameters.
	Parameters []string  `json:"parameters,omitempty"`
	Points     []Geo     `json:"points,omitempty"`
	Start      time.Time `json:"start,omitzero"`
	End        time.Time `json:"end,omitzero"`
	Step       string    `json:"step,omitempty"`
}

// Key returns the source identity used for caching. Two descriptors with the
// same key always normalize to the same dataset.
func (s SourceDescriptor) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%s", s.Format, s.Location, s.Sheet, s.Variable)
	if s.Region != nil {
		b.WriteString("|region=" + s.Region.Key())
	}
	if len(s.Units) > 0 {
		keys := make([]string, 0, len(s.Units))
		for k := range s.Units {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "|unit:%s=%s", k, s.Units[k])
		}
	}
	if s.Format == FormatTimeSeries {
		fmt.Fprintf(&b, "|%s", strings.Join(s.Parameters, ","))
		for _, p := range s.Points {
			fmt.Fprintf(&b, "|%.6f,%.6f", p.Lat, p.Lon)
		}
		fmt.Fprintf(&b, "|%s|%s|%s", s.Start.Format(time.DateOnly), s.End.Format(time.DateOnly), s.Step)
	}
	return b.String()
}

// Dataset is the normalized, immutable result of loading one source.
type Dataset struct {
	Source  SourceDescriptor `json:"source"`
	Records []Record         `json:"-"`
	Units   map[string]Unit  `json:"units"`
	Dropped int              `json:"dropped"` // rows discarded for unparseable timestamps
}

// Variables returns the distinct variable names, sorted.
func (d Dataset) Variables() []string {
	seen := make(map[string]struct{})
	for _, r := range d.Records {
		seen[r.Variable] = struct{}{}
	}
	vars := make([]string, 0, len(seen))
	for v := range seen {
		vars = append(vars, v)
	}
	slices.Sort(vars)
	return vars
}

// HasVariable reports whether any record carries the variable.
func (d Dataset) HasVariable(name string) bool {
	for _, r := range d.Records {
		if r.Variable == name {
			return true
		}
	}
	return false
}

// Unit returns the native unit recorded for a variable, or UnitUnknown.
func (d Dataset) Unit(variable string) Unit {
	return d.Units[variable]
}
