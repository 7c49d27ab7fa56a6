// Package generic registers presets that work on any page given --url.
package generic

import (
	"tablesnap/internal/extractor"
	"tablesnap/internal/formatter"
	"tablesnap/internal/scraper"
)

func init() {
	scraper.Register(scraper.Site{
		Name:        "table",
		Description: "First table on any page (--url required)",
		Title:       "Table",
		Mode:        extractor.ModeTable,
		Selector:    extractor.DefaultTableSelector,
		Output:      "data/table_{{.Date}}.csv",
	})
	scraper.Register(scraper.Site{
		Name:        "headlines",
		Description: "Headline links on any page (--url required)",
		Title:       "Headlines",
		Mode:        extractor.ModeHeadlines,
		Selector:    extractor.DefaultHeadlineSelector,
		Schema:      formatter.Schema{{Name: "Title"}, {Name: "Link"}},
		Output:      "data/headlines_{{.Date}}.csv",
	})
}
