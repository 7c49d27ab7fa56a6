package formatter

import (
	"strings"

	"tablesnap/internal/snapshot"
)

// Field is one named value shown in a report. The value is read from the
// first key in Synonyms present in the row; Name itself is always tried first.
type Field struct {
	Name     string
	Synonyms []string
}

// keys returns the lookup order for the field.
func (f Field) keys() []string {
	return append([]string{f.Name}, f.Synonyms...)
}

// Value returns the field's value in row, or "" when no key is present.
func (f Field) Value(row snapshot.Row) string {
	for _, k := range f.keys() {
		if v, ok := row[k]; ok {
			return v
		}
	}
	return ""
}

// Schema is the ordered set of fields a report prints for each row.
type Schema []Field

// DefaultSchema matches the pro-player settings tables this tool was built
// for. Column naming differs between pages ("Sens" vs "Sensitivity"), hence
// the synonyms.
var DefaultSchema = Schema{
	{Name: "Player"},
	{Name: "Team"},
	{Name: "Mouse"},
	{Name: "DPI"},
	{Name: "Sensitivity", Synonyms: []string{"Sens"}},
	{Name: "eDPI"},
	{Name: "Zoom Sens", Synonyms: []string{"Zoom Sensitivity"}},
	{Name: "Hz", Synonyms: []string{"Polling Rate"}},
	{Name: "Resolution"},
	{Name: "Aspect Ratio"},
}

// SchemaFromColumns builds a schema that prints every column as-is.
func SchemaFromColumns(columns []string) Schema {
	out := make(Schema, 0, len(columns))
	for _, c := range columns {
		out = append(out, Field{Name: c})
	}
	return out
}

// Resolve keeps only the fields backed by at least one of columns
// (compared case-insensitively). When nothing matches, the columns
// themselves become the schema.
func (s Schema) Resolve(columns []string) Schema {
	present := make(map[string]string, len(columns))
	for _, c := range columns {
		present[strings.ToLower(c)] = c
	}

	var out Schema
	for _, f := range s {
		var keys []string
		for _, k := range f.keys() {
			if actual, ok := present[strings.ToLower(k)]; ok {
				keys = append(keys, actual)
			}
		}
		if len(keys) == 0 {
			continue
		}
		out = append(out, Field{Name: f.Name, Synonyms: keys})
	}

	if len(out) == 0 {
		return SchemaFromColumns(columns)
	}
	return out
}

// Names returns the field names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = f.Name
	}
	return out
}
