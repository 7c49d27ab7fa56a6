package snapshot

import (
	"fmt"
	"strconv"
	"time"
)

// Row is one table record keyed by column name.
type Row map[string]string

// Snapshot is the result of one fetch-and-extract pass: ordered column
// names plus ordered rows. Every row's key set equals Columns.
//
// A Snapshot is not modified after extraction. Callers that need to change
// rows must work on the copies returned by Records.
type Snapshot struct {
	Columns   []string
	Rows      []Row
	Skipped   int       // rows dropped because their cell count did not match Columns
	Source    string    // page URL the snapshot was taken from
	FetchedAt time.Time // zero when unknown
}

// New builds a snapshot from a header and row cells, dropping rows whose
// length differs from the header. Dropped rows are counted in Skipped.
// Header names are passed through UniqueColumns.
func New(columns []string, cells [][]string) *Snapshot {
	s := &Snapshot{
		Columns: UniqueColumns(columns),
		Rows:    make([]Row, 0, len(cells)),
	}
	for _, c := range cells {
		if len(c) != len(s.Columns) {
			s.Skipped++
			continue
		}
		row := make(Row, len(s.Columns))
		for i, name := range s.Columns {
			row[name] = c[i]
		}
		s.Rows = append(s.Rows, row)
	}
	return s
}

// UniqueColumns names blank headers "Column N" and suffixes repeats with
// " (2)", " (3)", ... so that every name can key a row map. A generated
// name never collides with any header in names, wherever it appears.
func UniqueColumns(names []string) []string {
	reserved := make(map[string]bool, len(names))
	for _, name := range names {
		if name != "" {
			reserved[name] = true
		}
	}

	used := make(map[string]bool, len(names))
	out := make([]string, len(names))
	for i, name := range names {
		if name != "" && !used[name] {
			used[name] = true
			out[i] = name
			continue
		}

		base := name
		if base == "" {
			base = "Column " + strconv.Itoa(i+1)
		}
		candidate := base
		for n := 2; used[candidate] || reserved[candidate]; n++ {
			candidate = fmt.Sprintf("%s (%d)", base, n)
		}
		used[candidate] = true
		out[i] = candidate
	}
	return out
}

// Len returns the number of accepted rows.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rows)
}

// Records returns the rows as cell slices in column order.
func (s *Snapshot) Records() [][]string {
	out := make([][]string, 0, len(s.Rows))
	for _, row := range s.Rows {
		out = append(out, s.Record(row))
	}
	return out
}

// Record returns a single row's cells in column order.
func (s *Snapshot) Record(row Row) []string {
	rec := make([]string, len(s.Columns))
	for i, name := range s.Columns {
		rec[i] = row[name]
	}
	return rec
}

// Valid reports whether every row's key set equals Columns exactly.
func (s *Snapshot) Valid() bool {
	for _, row := range s.Rows {
		if len(row) != len(s.Columns) {
			return false
		}
		for _, name := range s.Columns {
			if _, ok := row[name]; !ok {
				return false
			}
		}
	}
	return true
}
