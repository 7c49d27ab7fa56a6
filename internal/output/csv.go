package output

import (
	"encoding/csv"
	"errors"
	"io"
	"os"

	"tablesnap/internal/snapshot"
)

func encodeCSV(s *snapshot.Snapshot, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(s.Columns); err != nil {
		return err
	}
	// WriteAll flushes and reports the first write error.
	return cw.WriteAll(s.Records())
}

// ReadCSV parses a header-first CSV file into a snapshot. Records whose
// field count differs from the header are counted as skipped.
func ReadCSV(path string) (*snapshot.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &snapshot.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, &snapshot.ParseError{Reason: "empty file " + path}
	}
	if err != nil {
		return nil, &snapshot.ParseError{Reason: "invalid csv header", Err: err}
	}

	records, err := r.ReadAll()
	if err != nil {
		return nil, &snapshot.ParseError{Reason: "invalid csv", Err: err}
	}
	return snapshot.New(header, records), nil
}
