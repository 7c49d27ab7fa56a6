// Package prosettings registers presets for the prosettings.net pro
// player lists.
package prosettings

import (
	"tablesnap/internal/extractor"
	"tablesnap/internal/formatter"
	"tablesnap/internal/scraper"
)

func init() {
	scraper.Register(scraper.Site{
		Name:        "cs2",
		Description: "Counter-Strike 2 pro player settings",
		URL:         "https://prosettings.net/lists/cs2/",
		Title:       "CS2 pro settings",
		Mode:        extractor.ModeTable,
		Selector:    "table",
		Schema:      formatter.DefaultSchema,
		Output:      "data/cs2_pro_settings_{{.Date}}.csv",
		RepoPath:    "cs2_pro_settings.csv",
	})
	scraper.Register(scraper.Site{
		Name:        "valorant",
		Description: "Valorant pro player settings",
		URL:         "https://prosettings.net/lists/valorant/",
		Title:       "Valorant pro settings",
		Mode:        extractor.ModeTable,
		Selector:    "table",
		Schema:      ValorantSchema,
		Output:      "data/valorant_pro_settings_{{.Date}}.csv",
		RepoPath:    "valorant_pro_settings.csv",
	})
}

// ValorantSchema lists the report fields of the Valorant table.
var ValorantSchema = formatter.Schema{
	{Name: "Player"},
	{Name: "Team"},
	{Name: "Mouse"},
	{Name: "DPI"},
	{Name: "Sensitivity", Synonyms: []string{"Sens"}},
	{Name: "eDPI"},
	{Name: "Scoped Sens", Synonyms: []string{"Scoped Sensitivity"}},
	{Name: "Hz", Synonyms: []string{"Polling Rate"}},
	{Name: "Monitor"},
}
