// Package scraper holds the registry of named source presets selectable
// with --site. Each preset fixes where a table lives and how its report
// reads; flags override any field.
package scraper

import (
	"tablesnap/internal/extractor"
	"tablesnap/internal/formatter"
)

// Site is a named source preset.
type Site struct {
	Name        string
	Description string
	URL         string // empty when the caller must supply --url
	Title       string
	Mode        extractor.Mode
	Selector    string
	XPath       string
	Render      bool             // page builds its table with script
	Schema      formatter.Schema // nil means the snapshot's own columns
	Output      string           // default local path template
	RepoPath    string           // default path inside the remote repository
}

// ExtractOptions returns the extractor settings for the preset.
func (s Site) ExtractOptions() extractor.Options {
	return extractor.Options{
		Mode:     s.Mode,
		Selector: s.Selector,
		XPath:    s.XPath,
		BaseURL:  s.URL,
	}
}
