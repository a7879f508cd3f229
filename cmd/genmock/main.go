// Command genmock writes a deterministic multi-year weather dataset in every
// file format the service reads, plus a source catalog pointing at them. The
// output backs local development and the fixture-driven tests.
//
// Usage:
//
//	go run ./cmd/genmock --out data/mock --from 2014 --to 2023 --seed 42
package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/weather-exceedance-service/internal/catalog"
	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
)

// station is one synthetic observation site.
type station struct {
	name     string
	lat, lon float64
	offset   float64 // added to the seasonal temperature curve
}

var stations = []station{
	{name: "bern", lat: 46.95, lon: 7.45, offset: 0},
	{name: "zurich", lat: 47.37, lon: 8.54, offset: -0.8},
	{name: "lugano", lat: 46.0, lon: 8.95, offset: 3.1},
}

// Column names follow the "<parameter>:<unit>" convention of the
// time-series API so units are inferred from the header.
var wideHeader = []string{"validdate", "lat", "lon", "t_2m:C", "precip_24h:mm", "wind_speed_10m:ms"}

type sample struct {
	day    time.Time
	st     station
	temp   float64
	precip float64
	wind   float64
}

var cli struct {
	Out  string `default:"data/mock" type:"path" help:"Output directory."`
	From int    `default:"2014" help:"First year to generate."`
	To   int    `default:"2023" help:"Last year to generate."`
	Seed uint64 `default:"42" help:"Random seed."`
}

func main() {
	kctx := kong.Parse(&cli, kong.Description("Write a deterministic mock weather dataset."))
	if cli.To < cli.From {
		kctx.Fatalf("--to (%d) is before --from (%d)", cli.To, cli.From)
	}
	if err := run(cli.Out, cli.From, cli.To, cli.Seed); err != nil {
		log.Fatal(err)
	}
}

func run(out string, from, to int, seed uint64) error {
	// Fixed clock so the generated catalog is byte-identical across runs.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(to+1, time.January, 1, 0, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}

	samples := generate(from, to, seed)
	log.Printf("generated %d station-days (%d-%d, seed %d)", len(samples), from, to, seed)

	if err := writeCSV(filepath.Join(out, "stations.csv"), samples); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	if err := writeXLSX(filepath.Join(out, "stations.xlsx"), samples); err != nil {
		return fmt.Errorf("writing xlsx: %w", err)
	}
	if err := writeGrid(filepath.Join(out, "grid.json"), samples); err != nil {
		return fmt.Errorf("writing grid: %w", err)
	}
	if err := writeCatalog(filepath.Join(out, "sources.yaml")); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}

	printStats(samples)
	return nil
}

// generate produces one sample per station per day. Temperature follows an
// annual cosine with noise; precipitation falls on roughly a third of days.
func generate(from, to int, seed uint64) []sample {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var out []sample
	for day := time.Date(from, time.January, 1, 0, 0, 0, 0, time.UTC); day.Year() <= to; day = day.AddDate(0, 0, 1) {
		phase := 2 * math.Pi * float64(day.YearDay()-15) / 365.25
		for _, st := range stations {
			s := sample{day: day, st: st}
			s.temp = round1(9 - 11*math.Cos(phase) + st.offset + rng.NormFloat64()*3)
			if rng.Float64() < 0.33 {
				s.precip = round1(rng.ExpFloat64() * 6)
			}
			s.wind = round1(math.Abs(3 + rng.NormFloat64()*2))
			out = append(out, s)
		}
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func row(s sample) []string {
	return []string{
		s.day.Format(time.DateOnly),
		fmtFloat(s.st.lat),
		fmtFloat(s.st.lon),
		fmtFloat(s.temp),
		fmtFloat(s.precip),
		fmtFloat(s.wind),
	}
}

func writeCSV(path string, samples []sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(wideHeader); err != nil {
		return err
	}
	for _, s := range samples {
		if err := w.Write(row(s)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	log.Printf("wrote %s", path)
	return nil
}

// writeXLSX writes the same table to a workbook. Dates are stored as
// spreadsheet serial numbers the way Excel saves them.
func writeXLSX(path string, samples []sample) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "observations"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}

	header := make([]any, len(wideHeader))
	for i, h := range wideHeader {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	epoch := time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)
	for i, s := range samples {
		cellRef, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		serial := s.day.Sub(epoch).Hours() / 24
		if err := sw.SetRow(cellRef, []any{serial, s.st.lat, s.st.lon, s.temp, s.precip, s.wind}); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return err
	}
	log.Printf("wrote %s", path)
	return nil
}

// gridVar matches the xarray Dataset.to_dict() layout.
type gridVar struct {
	Dims  []string       `json:"dims"`
	Attrs map[string]any `json:"attrs"`
	Data  any            `json:"data"`
}

type gridArchive struct {
	Coords   map[string]gridVar `json:"coords"`
	DataVars map[string]gridVar `json:"data_vars"`
}

// writeGrid lays the stations on a 2x2 grid (lat, lon) with temperature in
// Kelvin and CF day offsets for time. Cells without a station are null.
func writeGrid(path string, samples []sample) error {
	lats := []float64{46.0, 47.0}
	lons := []float64{7.5, 8.5}
	cellOf := map[string][2]int{"bern": {1, 0}, "zurich": {1, 1}, "lugano": {0, 1}}

	var days []time.Time
	byDay := make(map[time.Time][][]*float64)
	for _, s := range samples {
		slice, ok := byDay[s.day]
		if !ok {
			days = append(days, s.day)
			slice = [][]*float64{make([]*float64, len(lons)), make([]*float64, len(lons))}
			byDay[s.day] = slice
		}
		c := cellOf[s.st.name]
		k := math.Round((s.temp+273.15)*100) / 100
		slice[c[0]][c[1]] = &k
	}

	offsets := make([]int, len(days))
	t2m := make([][][]*float64, len(days))
	for i, d := range days {
		offsets[i] = int(d.Sub(days[0]).Hours() / 24)
		t2m[i] = byDay[d]
	}

	a := gridArchive{
		Coords: map[string]gridVar{
			"time":      {Dims: []string{"time"}, Attrs: map[string]any{"units": "days since " + days[0].Format(time.DateOnly)}, Data: offsets},
			"latitude":  {Dims: []string{"latitude"}, Attrs: map[string]any{}, Data: lats},
			"longitude": {Dims: []string{"longitude"}, Attrs: map[string]any{}, Data: lons},
		},
		DataVars: map[string]gridVar{
			"t2m": {Dims: []string{"time", "latitude", "longitude"}, Attrs: map[string]any{"units": "K"}, Data: t2m},
		},
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	log.Printf("wrote %s (%d time slices)", path, len(days))
	return nil
}

func writeCatalog(path string) error {
	doc := struct {
		Sources []catalog.Entry `yaml:"sources"`
	}{
		Sources: []catalog.Entry{
			{Name: "stations-csv", Format: string(domain.FormatCSV), Location: "stations.csv"},
			{Name: "stations-xlsx", Format: string(domain.FormatXLSX), Location: "stations.xlsx", Sheet: "observations"},
			{Name: "grid-bern", Format: string(domain.FormatGridJSON), Location: "grid.json",
				Region: &catalog.Region{Point: &catalog.Point{Lat: 46.95, Lon: 7.45}}},
		},
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	// Round-trip through the real parser so a broken catalog fails here.
	if _, err := catalog.Parse(data, filepath.Dir(path)); err != nil {
		return err
	}
	header := fmt.Sprintf("# Generated by genmock at %s.\n", domain.Now().Format(time.RFC3339))
	if err := os.WriteFile(path, append([]byte(header), data...), 0o600); err != nil {
		return err
	}
	log.Printf("wrote %s", path)
	return nil
}

func printStats(samples []sample) {
	var hot, wet int
	maxTemp := math.Inf(-1)
	for _, s := range samples {
		if s.temp > 30 {
			hot++
		}
		if s.precip > 10 {
			wet++
		}
		maxTemp = math.Max(maxTemp, s.temp)
	}
	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Station-days: %d\n", len(samples))
	fmt.Printf("Days above 30 C: %d\n", hot)
	fmt.Printf("Days above 10 mm: %d\n", wet)
	fmt.Printf("Max temperature: %g C\n", maxTemp)
}
