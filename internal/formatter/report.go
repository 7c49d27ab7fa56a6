package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"tablesnap/internal/snapshot"
)

// DefaultLimit caps the number of rows in a report when none is given.
const DefaultLimit = 20

// Query restricts which rows a report includes.
type Query struct {
	Predicate string // case-insensitive substring matched against every cell
	Limit     int    // <= 0 means no cap
}

// FieldValue is one rendered field of a matched row.
type FieldValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Match is one row of a report.
type Match struct {
	Ordinal int          `json:"ordinal"`
	Fields  []FieldValue `json:"fields"`
}

// Report is the human-readable summary of a snapshot.
type Report struct {
	Title   string   `json:"title"`
	Query   Query    `json:"-"`
	Total   int      `json:"total"` // rows in the snapshot
	Count   int      `json:"count"` // rows in the report
	Fields  []string `json:"fields"`
	Matches []Match  `json:"matches"`
}

// Filter returns the rows containing predicate in any cell, in source
// order, truncated to limit. An empty predicate matches every row.
func Filter(s *snapshot.Snapshot, predicate string, limit int) []snapshot.Row {
	if s == nil {
		return nil
	}
	needle := strings.ToLower(strings.TrimSpace(predicate))

	var out []snapshot.Row
	for _, row := range s.Rows {
		if limit > 0 && len(out) >= limit {
			break
		}
		if needle == "" || rowContains(row, needle) {
			out = append(out, row)
		}
	}
	return out
}

func rowContains(row snapshot.Row, needle string) bool {
	for _, v := range row {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

// Build filters s by q and renders each match through schema. The schema is
// first resolved against the snapshot's columns, so fields the page does not
// provide are left out rather than printed empty.
func Build(title string, s *snapshot.Snapshot, q Query, schema Schema) *Report {
	var columns []string
	total := 0
	if s != nil {
		columns = s.Columns
		total = s.Len()
	}
	fields := schema.Resolve(columns)
	rows := Filter(s, q.Predicate, q.Limit)

	r := &Report{
		Title:   title,
		Query:   q,
		Total:   total,
		Count:   len(rows),
		Fields:  fields.Names(),
		Matches: make([]Match, 0, len(rows)),
	}
	for i, row := range rows {
		m := Match{Ordinal: i + 1, Fields: make([]FieldValue, 0, len(fields))}
		for _, f := range fields {
			m.Fields = append(m.Fields, FieldValue{Name: f.Name, Value: f.Value(row)})
		}
		r.Matches = append(r.Matches, m)
	}
	return r
}

// Heading returns the first line of the text report.
func (r *Report) Heading() string {
	title := r.Title
	if title == "" {
		title = "Snapshot"
	}
	if r.Query.Predicate != "" {
		return fmt.Sprintf("%s: %d matches for %q (of %d rows)", title, r.Count, r.Query.Predicate, r.Total)
	}
	return fmt.Sprintf("%s: %d of %d rows", title, r.Count, r.Total)
}

// ToText renders the fixed-template plain text report:
//
//	<heading>
//	1. <first field> (<second field>)
//	   Name: value | Name: value
func (r *Report) ToText() (string, error) {
	var sb strings.Builder
	sb.WriteString(r.Heading() + "\n")
	for _, m := range r.Matches {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%d. %s\n", m.Ordinal, matchTitle(m)))
		if details := matchDetails(m); details != "" {
			sb.WriteString("   " + details + "\n")
		}
	}
	return sb.String(), nil
}

func matchTitle(m Match) string {
	if len(m.Fields) == 0 {
		return ""
	}
	title := m.Fields[0].Value
	if len(m.Fields) > 1 && m.Fields[1].Value != "" {
		title += " (" + m.Fields[1].Value + ")"
	}
	return title
}

func matchDetails(m Match) string {
	if len(m.Fields) <= 2 {
		return ""
	}
	var parts []string
	for _, f := range m.Fields[2:] {
		if f.Value == "" {
			continue
		}
		parts = append(parts, f.Name+": "+f.Value)
	}
	return strings.Join(parts, " | ")
}

// ToHTML renders the report as a heading and a table.
func (r *Report) ToHTML() (string, error) {
	var sb strings.Builder
	sb.WriteString("<h1>" + html.EscapeString(r.Heading()) + "</h1>\n")
	sb.WriteString(htmlTable(append([]string{"#"}, r.Fields...), r.records(true)))
	return sb.String(), nil
}

// ToMarkdown converts the HTML rendering to Markdown.
func (r *Report) ToMarkdown() (string, error) {
	h, err := r.ToHTML()
	if err != nil {
		return "", err
	}
	return htmlToMarkdown(h)
}

// ToJSON returns the report as JSON.
func (r *Report) ToJSON() ([]byte, error) {
	type jsonReport struct {
		*Report
		Predicate string `json:"predicate,omitempty"`
		Limit     int    `json:"limit,omitempty"`
	}
	return json.MarshalIndent(jsonReport{Report: r, Predicate: r.Query.Predicate, Limit: r.Query.Limit}, "", "  ")
}

// ToCSV returns the matched rows as CSV with the resolved field names as header.
func (r *Report) ToCSV() (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(r.Fields); err != nil {
		return "", err
	}
	if err := w.WriteAll(r.records(false)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r *Report) records(withOrdinal bool) [][]string {
	out := make([][]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		var rec []string
		if withOrdinal {
			rec = append(rec, fmt.Sprint(m.Ordinal))
		}
		for _, f := range m.Fields {
			rec = append(rec, f.Value)
		}
		out = append(out, rec)
	}
	return out
}
