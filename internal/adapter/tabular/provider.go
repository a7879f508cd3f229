// Package tabular loads CSV and XLSX sources into canonical records.
package tabular

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/weather-exceedance-service/internal/adapter/fetch"
	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
)

// Provider reads flat tables from a path or URL.
type Provider struct {
	opener *fetch.Opener
	logger *slog.Logger
}

// NewProvider creates a tabular provider.
func NewProvider(opener *fetch.Opener, logger *slog.Logger) *Provider {
	return &Provider{opener: opener, logger: logger}
}

// Fetch reads and normalizes a CSV or XLSX source.
func (p *Provider) Fetch(ctx context.Context, src domain.SourceDescriptor) (domain.Dataset, error) {
	rc, err := p.opener.Open(ctx, src.Location)
	if err != nil {
		return domain.Dataset{}, err
	}
	defer rc.Close()

	var table domain.Table
	switch src.Format {
	case domain.FormatCSV:
		table, err = ReadCSV(rc)
	case domain.FormatXLSX:
		table, err = ReadXLSX(rc, src.Sheet)
	default:
		return domain.Dataset{}, fmt.Errorf("%w: tabular provider cannot read %q", domain.ErrConfiguration, src.Format)
	}
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("%w: %s: %w", domain.ErrSourceUnavailable, src.Name, err)
	}

	ds, err := domain.NormalizeTable(src, table)
	if err != nil {
		return domain.Dataset{}, err
	}
	if ds.Dropped > 0 {
		p.logger.Warn("rows dropped for unparseable timestamps", "source", src.Name, "dropped", ds.Dropped)
	}
	return ds, nil
}

// ReadCSV reads a delimited table. Rows may be ragged.
func ReadCSV(r io.Reader) (domain.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return domain.Table{}, fmt.Errorf("parse csv: %w", err)
	}
	return toTable(rows), nil
}

// ReadXLSX reads one sheet of a workbook; the first sheet when sheet is empty.
// Cells are read raw, so dates arrive as spreadsheet serial numbers.
func ReadXLSX(r io.Reader, sheet string) (domain.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return domain.Table{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return domain.Table{}, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return domain.Table{}, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return toTable(rows), nil
}

func toTable(rows [][]string) domain.Table {
	if len(rows) == 0 {
		return domain.Table{}
	}
	return domain.Table{Header: rows[0], Rows: rows[1:]}
}
