// Package preview decodes stored spreadsheet versions into a plain table
// for display. Decoding is pure: no state survives a call.
package preview

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"eurobansync/api/internal/workflow"
)

var ErrDecode = errors.New("spreadsheet could not be decoded")

// Placeholder stands in for empty or missing cells.
const Placeholder = "-"

type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

type format string

const (
	formatXLSX format = "xlsx"
	formatXLS  format = "xls"
	formatCSV  format = "csv"
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
)

// Decode reads the first sheet of data. Row 0 becomes the header row.
func Decode(fileName string, data []byte) (table Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			table = Table{}
			err = fmt.Errorf("%w: %v", ErrDecode, r)
		}
	}()

	if len(data) == 0 {
		return Table{}, fmt.Errorf("%w: empty file", ErrDecode)
	}

	var rows [][]string
	switch detect(fileName, data) {
	case formatXLSX:
		rows, err = readXLSX(data)
	case formatXLS:
		rows, err = readXLS(data)
	default:
		rows, err = readCSV(data)
	}
	if err != nil {
		return Table{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return normalize(rows), nil
}

func detect(fileName string, data []byte) format {
	switch workflow.Extension(fileName) {
	case ".xlsx":
		return formatXLSX
	case ".xls":
		return formatXLS
	case ".csv":
		return formatCSV
	}
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return formatXLSX
	case bytes.HasPrefix(data, oleMagic):
		return formatXLS
	}
	return formatCSV
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	ref, err := f.GetSheetDimension(sheets[0])
	if err != nil {
		return rows, nil
	}
	return cropToRange(rows, ref), nil
}

// cropToRange drops the rows and columns GetRows pads in before the sheet's
// declared range, so the range's first row is row 0.
func cropToRange(rows [][]string, ref string) [][]string {
	first, _, _ := strings.Cut(ref, ":")
	col, row, err := excelize.CellNameToCoordinates(first)
	if err != nil || (col == 1 && row == 1) {
		return rows
	}
	if row-1 >= len(rows) {
		return [][]string{}
	}
	out := make([][]string, 0, len(rows)-(row-1))
	for _, r := range rows[row-1:] {
		if col-1 >= len(r) {
			out = append(out, []string{})
			continue
		}
		out = append(out, r[col-1:])
	}
	return out
}

func readXLS(data []byte) ([][]string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	if wb.NumSheets() == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, errors.New("first sheet is unreadable")
	}

	rows := make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheetRow(sheet, i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for c := row.FirstCol(); c < row.LastCol(); c++ {
			cells[c] = row.Col(c)
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// sheetRow returns nil for rows the sheet never stored; the library
// dereferences a nil entry in that case.
func sheetRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.Comma = guessDelimiter(data)

	var rows [][]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// guessDelimiter picks ';' when the first line uses it more than ','.
// Spreadsheets saved with a Spanish locale export that way.
func guessDelimiter(data []byte) rune {
	line := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		line = data[:idx]
	}
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}

// normalize takes row 0 as the header row even when it is blank. Fully blank
// body rows are dropped.
func normalize(rows [][]string) Table {
	if len(rows) == 0 {
		return Table{Headers: []string{}, Rows: [][]string{}}
	}
	head := rows[0]
	width := len(head)
	kept := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		kept = append(kept, row)
		if len(row) > width {
			width = len(row)
		}
	}
	if width == 0 {
		return Table{Headers: []string{}, Rows: [][]string{}}
	}

	headers := make([]string, width)
	for i := range headers {
		label := ""
		if i < len(head) {
			label = strings.TrimSpace(head[i])
		}
		if label == "" {
			label = fmt.Sprintf("Columna %d", i+1)
		}
		headers[i] = label
	}

	body := make([][]string, 0, len(kept))
	for _, row := range kept {
		cells := make([]string, width)
		for i := range cells {
			cells[i] = Placeholder
			if i < len(row) && strings.TrimSpace(row[i]) != "" {
				cells[i] = row[i]
			}
		}
		body = append(body, cells)
	}
	return Table{Headers: headers, Rows: body}
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
