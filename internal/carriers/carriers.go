// Package carriers imports the carrier selection sheet: which carriers are
// quoted, their display names, and their rate category. The sheet arrives
// as CSV or XLSX with a header row.
package carriers

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/blitzquote/rate-engine/internal/model"
)

// ImportFile reads a selection sheet, dispatching on file extension.
func ImportFile(path string) ([]model.CarrierInfo, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSX(path)
	case ".csv":
		rows, err = readCSV(path)
	default:
		return nil, eris.Errorf("carriers: unsupported file type %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	carriers, err := parseRows(rows)
	if err != nil {
		return nil, eris.Wrapf(err, "carriers: parse %s", path)
	}
	zap.L().Info("carrier selection imported",
		zap.String("path", path),
		zap.Int("carriers", len(carriers)),
	)
	return carriers, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "carriers: open csv")
	}
	defer f.Close() //nolint:errcheck

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "carriers: read csv")
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "carriers: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("carriers: xlsx has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// parseRows maps header columns by name and builds carrier records. NAIC
// and company name are required; category and selection are optional.
func parseRows(rows [][]string) ([]model.CarrierInfo, error) {
	if len(rows) < 2 {
		return nil, eris.New("no data rows")
	}

	naicCol, nameCol, catCol, selCol := -1, -1, -1, -1
	for i, h := range rows[0] {
		switch key := strings.ToLower(strings.TrimSpace(h)); {
		case key == "naic" || key == "id":
			naicCol = i
		case strings.HasPrefix(key, "company"):
			nameCol = i
		case key == "category":
			catCol = i
		case key == "selected":
			selCol = i
		}
	}
	if naicCol < 0 || nameCol < 0 {
		return nil, eris.New("header must name a NAIC/ID column and a company column")
	}

	var out []model.CarrierInfo
	for _, row := range rows[1:] {
		naic := cellAt(row, naicCol)
		name := cellAt(row, nameCol)
		if naic == "" || name == "" {
			continue
		}
		out = append(out, model.CarrierInfo{
			NAIC:        naic,
			CompanyName: name,
			Category:    MapCategory(cellAt(row, catCol)),
			Selected:    selCol < 0 || truthy(cellAt(row, selCol)),
		})
	}
	if len(out) == 0 {
		return nil, eris.New("no carriers parsed")
	}
	return out, nil
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// MapCategory maps the sheet's rate category letter to its numeric code.
// "A" carriers are preferred, "B" standard, everything else other.
func MapCategory(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a":
		return 0
	case "b":
		return 1
	default:
		return 2
	}
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "x":
		return true
	}
	return false
}
