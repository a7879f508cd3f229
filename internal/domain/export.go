package domain

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportHeader returns the delimited-text header for a record set.
func ExportHeader(withCoords bool) []string {
	if withCoords {
		return []string{"timestamp", "latitude", "longitude", "variable", "value"}
	}
	return []string{"timestamp", "variable", "value"}
}

// WriteCSV serializes records as delimited text. Coordinate columns are
// written only when at least one record has coordinates. Timestamps and
// values use lossless encodings so the output normalizes back to the same
// records.
func WriteCSV(w io.Writer, records []Record) error {
	withCoords := false
	for _, r := range records {
		if r.Geo != nil {
			withCoords = true
			break
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader(withCoords)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		row := make([]string, 0, 5)
		row = append(row, r.Time.Format(time.RFC3339Nano))
		if withCoords {
			lat, lon := "", ""
			if r.Geo != nil {
				lat = formatFloat(r.Geo.Lat)
				lon = formatFloat(r.Geo.Lon)
			}
			row = append(row, lat, lon)
		}
		row = append(row, r.Variable, formatFloat(r.Value))
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
