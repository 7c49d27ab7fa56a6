package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"tablesnap/internal/snapshot"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

// Content is anything that can be printed in every supported format.
type Content interface {
	ToHTML() (string, error)
	ToText() (string, error)
	ToMarkdown() (string, error)
	ToJSON() ([]byte, error)
	ToCSV() (string, error)
}

// Formats lists the values accepted by Format.
var Formats = []string{"text", "markdown", "json", "csv", "html"}

// Format renders content in the requested format.
func Format(content Content, format string) (string, error) {
	switch strings.ToLower(format) {
	case "html":
		return content.ToHTML()
	case "text":
		return content.ToText()
	case "markdown":
		return content.ToMarkdown()
	case "csv":
		return content.ToCSV()
	case "json":
		b, err := content.ToJSON()
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// SnapshotContent prints a whole snapshot.
type SnapshotContent struct {
	s *snapshot.Snapshot
}

// NewSnapshotContent wraps s for printing.
func NewSnapshotContent(s *snapshot.Snapshot) *SnapshotContent {
	return &SnapshotContent{s: s}
}

func (c *SnapshotContent) ToHTML() (string, error) {
	return htmlTable(c.s.Columns, c.s.Records()), nil
}

// ToText renders one "column: value" block per row.
func (c *SnapshotContent) ToText() (string, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d rows (%d skipped)\n", c.s.Len(), c.s.Skipped))
	for i, rec := range c.s.Records() {
		sb.WriteString(fmt.Sprintf("\n%d.\n", i+1))
		for j, col := range c.s.Columns {
			sb.WriteString(fmt.Sprintf("   %s: %s\n", col, rec[j]))
		}
	}
	return sb.String(), nil
}

func (c *SnapshotContent) ToMarkdown() (string, error) {
	h, _ := c.ToHTML()
	return htmlToMarkdown(h)
}

func (c *SnapshotContent) ToJSON() ([]byte, error) {
	return json.MarshalIndent(struct {
		Source  string         `json:"source,omitempty"`
		Columns []string       `json:"columns"`
		Rows    []snapshot.Row `json:"rows"`
		Skipped int            `json:"skipped"`
	}{
		Source:  c.s.Source,
		Columns: c.s.Columns,
		Rows:    c.s.Rows,
		Skipped: c.s.Skipped,
	}, "", "  ")
}

func (c *SnapshotContent) ToCSV() (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(c.s.Columns); err != nil {
		return "", err
	}
	if err := w.WriteAll(c.s.Records()); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// htmlTable renders a header and records as an escaped HTML table.
func htmlTable(header []string, records [][]string) string {
	var sb strings.Builder
	sb.WriteString("<table>\n<thead><tr>")
	for _, h := range header {
		sb.WriteString("<th>" + html.EscapeString(h) + "</th>")
	}
	sb.WriteString("</tr></thead>\n<tbody>\n")
	for _, rec := range records {
		sb.WriteString("<tr>")
		for _, v := range rec {
			sb.WriteString("<td>" + html.EscapeString(v) + "</td>")
		}
		sb.WriteString("</tr>\n")
	}
	sb.WriteString("</tbody>\n</table>\n")
	return sb.String()
}

func htmlToMarkdown(h string) (string, error) {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.Table())

	markdown, err := converter.ConvertString(h)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to Markdown: %w", err)
	}
	return markdown, nil
}
