package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// columnIndex maps lower-cased header names to their position.
type columnIndex map[string]int

func indexColumns(header []string) columnIndex {
	idx := make(columnIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

func (c columnIndex) first(names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := c[n]; ok {
			return i, true
		}
	}
	return 0, false
}

// timeBinding extracts a row's timestamp once a rule has matched.
type timeBinding struct {
	rule    string
	columns []int
	resolve func(row []string) (time.Time, bool)
}

// timeRule is one entry of the timestamp resolution table.
type timeRule struct {
	name  string
	match func(c columnIndex) (timeBinding, bool)
}

// timeRules are tried in order; the first match wins. New source shapes are
// added here, not in NormalizeTable.
var timeRules = []timeRule{
	{name: "time column", match: matchColumn("time")},
	{name: "date alias", match: matchColumn("validdate", "date", "datetime", "timestamp")},
	{name: "year/month/day", match: matchTriple},
}

func matchColumn(names ...string) func(columnIndex) (timeBinding, bool) {
	return func(c columnIndex) (timeBinding, bool) {
		i, ok := c.first(names...)
		if !ok {
			return timeBinding{}, false
		}
		return timeBinding{
			columns: []int{i},
			resolve: func(row []string) (time.Time, bool) {
				return ParseTimestamp(cell(row, i))
			},
		}, true
	}
}

func matchTriple(c columnIndex) (timeBinding, bool) {
	y, okY := c["year"]
	m, okM := c["month"]
	d, okD := c["day"]
	if !okY || !okM || !okD {
		return timeBinding{}, false
	}
	return timeBinding{
		columns: []int{y, m, d},
		resolve: func(row []string) (time.Time, bool) {
			return dateFromParts(cell(row, y), cell(row, m), cell(row, d))
		},
	}, true
}

func resolveTime(header []string) (timeBinding, bool) {
	c := indexColumns(header)
	for _, rule := range timeRules {
		if b, ok := rule.match(c); ok {
			b.rule = rule.name
			return b, true
		}
	}
	return timeBinding{}, false
}

var (
	latitudeAliases  = []string{"lat", "latitude"}
	longitudeAliases = []string{"lon", "lng", "long", "longitude"}
)

// resolveCoordinates returns the latitude and longitude columns when both exist.
func resolveCoordinates(c columnIndex) (lat, lon int, ok bool) {
	lat, okLat := c.first(latitudeAliases...)
	lon, okLon := c.first(longitudeAliases...)
	return lat, lon, okLat && okLon
}

// timestampLayouts lists the encodings accepted for timestamp cells.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
	"2006/01/02",
	"1/2/2006",
	"1/2/2006 15:04",
	"20060102",
}

// spreadsheetEpoch is day zero of spreadsheet serial dates (with the 1900
// leap-year bug folded in).
var spreadsheetEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// ParseTimestamp parses a timestamp cell. It accepts the layouts in
// timestampLayouts and spreadsheet serial day numbers.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	serial, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(serial) || serial < 1 || serial > 2958465 {
		return time.Time{}, false
	}
	days := math.Floor(serial)
	frac := serial - days
	t := spreadsheetEpoch.AddDate(0, 0, int(days)).Add(time.Duration(math.Round(frac*86400)) * time.Second)
	return t, true
}

func dateFromParts(ys, ms, ds string) (time.Time, bool) {
	y, errY := strconv.Atoi(strings.TrimSpace(ys))
	m, errM := strconv.Atoi(strings.TrimSpace(ms))
	d, errD := strconv.Atoi(strings.TrimSpace(ds))
	if errY != nil || errM != nil || errD != nil {
		return time.Time{}, false
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes Feb 30 into March; reject instead.
	if t.Month() != time.Month(m) || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// parseValue parses a numeric cell. Empty, non-numeric and NaN cells report false.
func parseValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
