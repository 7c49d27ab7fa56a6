package output

import (
	"io"

	"tablesnap/internal/snapshot"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet holding the snapshot in .xlsx output.
const SheetName = "Snapshot"

func encodeXLSX(s *snapshot.Snapshot, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return err
	}

	if err := setRow(f, 1, s.Columns); err != nil {
		return err
	}
	for i, rec := range s.Records() {
		if err := setRow(f, i+2, rec); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func setRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return f.SetSheetRow(SheetName, cell, &cells)
}

func readXLSX(path string) (*snapshot.Snapshot, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &snapshot.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		return nil, &snapshot.ParseError{Reason: "invalid workbook", Err: err}
	}
	if len(rows) == 0 {
		return nil, &snapshot.ParseError{Reason: "empty workbook " + path}
	}

	header := rows[0]
	records := make([][]string, 0, len(rows)-1)
	for _, r := range rows[1:] {
		// GetRows drops trailing empty cells.
		for len(r) < len(header) {
			r = append(r, "")
		}
		records = append(records, r)
	}
	return snapshot.New(header, records), nil
}
