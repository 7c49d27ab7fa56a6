package output

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

// pathVars are the values available to destination path templates.
type pathVars struct {
	Date  string // 2006-01-02
	Time  string // 150405
	Stamp string // 20060102-150405
	Year  string
	Month string
}

// ExpandPath renders a destination path template such as
// "data/cs2_pro_settings_{{.Date}}.csv" for the given instant.
func ExpandPath(tmpl string, now time.Time) (string, error) {
	t, err := template.New("path").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("invalid path template %q: %w", tmpl, err)
	}

	vars := pathVars{
		Date:  now.Format("2006-01-02"),
		Time:  now.Format("150405"),
		Stamp: now.Format("20060102-150405"),
		Year:  now.Format("2006"),
		Month: now.Format("01"),
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("invalid path template %q: %w", tmpl, err)
	}
	return buf.String(), nil
}
