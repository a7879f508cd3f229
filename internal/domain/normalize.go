package domain

import (
	"slices"
	"strings"
)

// Table is a raw tabular source: a header row plus string cells, as read from
// CSV or a spreadsheet sheet.
type Table struct {
	Header []string
	Rows   [][]string
}

// reservedColumns are never treated as variables in a wide table.
var reservedColumns = []string{"time", "validdate", "date", "datetime", "timestamp", "doy", "variable", "value"}

// NormalizeTable converts a wide or long table into canonical records.
func NormalizeTable(src SourceDescriptor, t Table) (Dataset, error) {
	header := cleanHeader(t.Header)
	binding, ok := resolveTime(header)
	if !ok {
		return Dataset{}, &SchemaError{Source: src.Name, Reason: "no timestamp column", Columns: header}
	}

	cols := indexColumns(header)
	latCol, lonCol, hasCoords := resolveCoordinates(cols)

	ds := Dataset{Source: src}
	geoFor := func(row []string) *Geo {
		if !hasCoords {
			return nil
		}
		lat, okLat := parseValue(cell(row, latCol))
		lon, okLon := parseValue(cell(row, lonCol))
		if !okLat || !okLon {
			return nil
		}
		return &Geo{Lat: lat, Lon: lon}
	}

	varCol, hasVar := cols["variable"]
	valCol, hasVal := cols["value"]
	if hasVar && hasVal {
		for _, row := range t.Rows {
			ts, ok := binding.resolve(row)
			if !ok {
				ds.Dropped++
				continue
			}
			name := strings.TrimSpace(cell(row, varCol))
			v, ok := parseValue(cell(row, valCol))
			if name == "" || !ok || !src.wants(name) {
				continue
			}
			ds.Records = append(ds.Records, Record{Time: ts, Geo: geoFor(row), Variable: name, Value: v})
		}
	} else {
		variables := wideVariables(header, binding, cols)
		if src.Variable != "" {
			variables = slices.DeleteFunc(variables, func(i int) bool { return header[i] != src.Variable })
		}
		if len(variables) == 0 {
			return Dataset{}, &SchemaError{Source: src.Name, Reason: "no variable columns", Columns: header}
		}
		for _, row := range t.Rows {
			ts, ok := binding.resolve(row)
			if !ok {
				ds.Dropped++
				continue
			}
			geo := geoFor(row)
			for _, i := range variables {
				v, ok := parseValue(cell(row, i))
				if !ok {
					continue
				}
				ds.Records = append(ds.Records, Record{Time: ts, Geo: geo, Variable: header[i], Value: v})
			}
		}
	}

	if hasVar && hasVal && src.Variable != "" && len(ds.Records) == 0 && len(t.Rows) > 0 {
		return Dataset{}, &SchemaError{Source: src.Name, Reason: "variable " + src.Variable + " not found", Columns: header}
	}

	ds.Units = collectUnits(ds.Variables(), src.Units, nil)
	return ds, nil
}

// wideVariables returns the column positions holding variables.
func wideVariables(header []string, binding timeBinding, cols columnIndex) []int {
	skip := make(map[int]bool)
	for _, i := range binding.columns {
		skip[i] = true
	}
	for _, names := range [][]string{latitudeAliases, longitudeAliases, reservedColumns} {
		for _, n := range names {
			if i, ok := cols[n]; ok {
				skip[i] = true
			}
		}
	}
	var out []int
	for i, h := range header {
		if skip[i] || h == "" {
			continue
		}
		out = append(out, i)
	}
	return out
}

func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = h
	}
	return out
}

func (s SourceDescriptor) wants(variable string) bool {
	return s.Variable == "" || s.Variable == variable
}

// collectUnits records the native unit of each variable. Catalog overrides
// win over source attributes, which win over "name:unit" suffixes.
func collectUnits(variables []string, overrides, attrs map[string]Unit) map[string]Unit {
	units := make(map[string]Unit, len(variables))
	for _, v := range variables {
		switch {
		case overrides[v] != UnitUnknown:
			units[v] = overrides[v]
		case attrs[v] != UnitUnknown:
			units[v] = attrs[v]
		default:
			units[v] = UnitFromName(v)
		}
	}
	return units
}

// SeriesResponse is the JSON payload of the remote time-series API.
type SeriesResponse struct {
	Data []SeriesParameter `json:"data"`
}

// SeriesParameter holds one parameter's values for every queried coordinate.
type SeriesParameter struct {
	Parameter   string             `json:"parameter"`
	Coordinates []SeriesCoordinate `json:"coordinates"`
}

// SeriesCoordinate is a queried point and its dated values.
type SeriesCoordinate struct {
	Lat   float64       `json:"lat"`
	Lon   float64       `json:"lon"`
	Dates []SeriesPoint `json:"dates"`
}

// SeriesPoint is a single {date, value} observation. Value is nil when the
// API reports a gap.
type SeriesPoint struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

// NormalizeSeries converts a remote time-series response into canonical records.
func NormalizeSeries(src SourceDescriptor, resp SeriesResponse) (Dataset, error) {
	if len(resp.Data) == 0 {
		return Dataset{}, &SchemaError{Source: src.Name, Reason: "response has no parameters"}
	}
	ds := Dataset{Source: src}
	for _, p := range resp.Data {
		if p.Parameter == "" || !src.wants(p.Parameter) {
			continue
		}
		for _, c := range p.Coordinates {
			geo := Geo{Lat: c.Lat, Lon: c.Lon}
			for _, d := range c.Dates {
				ts, ok := ParseTimestamp(d.Date)
				if !ok {
					ds.Dropped++
					continue
				}
				if d.Value == nil {
					continue
				}
				g := geo
				ds.Records = append(ds.Records, Record{Time: ts, Geo: &g, Variable: p.Parameter, Value: *d.Value})
			}
		}
	}
	ds.Units = collectUnits(ds.Variables(), src.Units, nil)
	return ds, nil
}
