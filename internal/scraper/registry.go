package scraper

import (
	"fmt"
	"sort"
	"strings"
)

var registry = map[string]Site{}

// Register adds a preset. Registering the same name twice panics.
func Register(s Site) {
	key := strings.ToLower(s.Name)
	if _, dup := registry[key]; dup {
		panic(fmt.Sprintf("scraper: site %q registered twice", s.Name))
	}
	registry[key] = s
}

// Get looks a preset up by name, ignoring case.
func Get(name string) (Site, bool) {
	s, ok := registry[strings.ToLower(name)]
	return s, ok
}

// All returns every preset sorted by name.
func All() []Site {
	sites := make([]Site, 0, len(registry))
	for _, s := range registry {
		sites = append(sites, s)
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].Name < sites[j].Name })
	return sites
}
