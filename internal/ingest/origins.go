// Package ingest reads local input files: batch origins from CSV or XLSX,
// XML documents in any declared charset, and zipped shapefile bundles.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/access-cli/internal/model"
)

var (
	labelColumns = []string{"label", "name", "id"}
	lonColumns   = []string{"lon", "lng", "longitude", "x"}
	latColumns   = []string{"lat", "latitude", "y"}
)

// ReadOrigins loads batch origins from a .csv or .xlsx file. The first row
// must be a header naming a longitude and a latitude column; a label column
// is optional.
func ReadOrigins(ctx context.Context, path string) ([]model.Origin, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: open origins")
		}
		defer f.Close() //nolint:errcheck

		opts := CSVOptions{TrimSpace: true}
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			opts.Delimiter = '\t'
		}
		rows, err := ReadCSV(ctx, f, opts)
		if err != nil {
			return nil, err
		}
		return OriginsFromRows(rows)
	case ".xlsx":
		rows, err := ReadXLSX(path, XLSXOptions{})
		if err != nil {
			return nil, err
		}
		return OriginsFromRows(rows)
	default:
		return nil, eris.Errorf("ingest: unsupported origins file %q (want .csv, .tsv or .xlsx)", path)
	}
}

// OriginsFromRows converts a header row plus data rows into origins. Blank
// rows are skipped. Rows without a label get "row-N" (1-based data row).
func OriginsFromRows(rows [][]string) ([]model.Origin, error) {
	if len(rows) == 0 {
		return nil, eris.New("ingest: origins file is empty")
	}
	header := rows[0]
	lonIdx := columnIndex(header, lonColumns)
	latIdx := columnIndex(header, latColumns)
	labelIdx := columnIndex(header, labelColumns)
	if lonIdx < 0 || latIdx < 0 {
		return nil, eris.Errorf("ingest: header %v has no longitude/latitude columns", header)
	}

	var out []model.Origin
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		lon, err := parseCoord(row, lonIdx, -180, 180)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: row %d longitude", i+1)
		}
		lat, err := parseCoord(row, latIdx, -90, 90)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: row %d latitude", i+1)
		}
		label := ""
		if labelIdx >= 0 && labelIdx < len(row) {
			label = strings.TrimSpace(row[labelIdx])
		}
		if label == "" {
			label = "row-" + strconv.Itoa(i+1)
		}
		out = append(out, model.Origin{Label: label, Point: model.Point{Lon: lon, Lat: lat}})
	}
	if len(out) == 0 {
		return nil, eris.New("ingest: origins file has no data rows")
	}
	return out, nil
}

func columnIndex(header []string, names []string) int {
	for _, name := range names {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
	}
	return -1
}

func parseCoord(row []string, idx int, lo, hi float64) (float64, error) {
	if idx >= len(row) {
		return 0, eris.New("missing value")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse %q", row[idx])
	}
	if v < lo || v > hi {
		return 0, eris.Errorf("%v out of range [%v, %v]", v, lo, hi)
	}
	return v, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
