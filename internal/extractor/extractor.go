package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"tablesnap/internal/logging"
	"tablesnap/internal/snapshot"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Mode selects what structure is read from the page.
type Mode string

const (
	ModeTable     Mode = "table"     // first matching <table>
	ModeHeadlines Mode = "headlines" // every matching link, as Title/Link rows
)

const (
	DefaultTableSelector    = "table"
	DefaultHeadlineSelector = "h2 a, h3 a"
)

// Options configures an Extractor.
type Options struct {
	Mode     Mode
	Selector string // CSS selector; ignored when XPath is set
	XPath    string // XPath expression locating the table
	BaseURL  string // used to resolve relative headline links
}

// Extractor turns page markup into a Snapshot.
type Extractor struct {
	opts   Options
	logger *logging.Logger
}

// New creates an Extractor, filling in default selectors.
func New(opts Options, logger *logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Mode == "" {
		opts.Mode = ModeTable
	}
	if opts.Selector == "" {
		if opts.Mode == ModeHeadlines {
			opts.Selector = DefaultHeadlineSelector
		} else {
			opts.Selector = DefaultTableSelector
		}
	}
	return &Extractor{opts: opts, logger: logger}
}

// Extract parses markup according to the configured mode. Structural
// problems are returned as *snapshot.ParseError.
func (e *Extractor) Extract(markup []byte) (*snapshot.Snapshot, error) {
	root, err := html.Parse(bytes.NewReader(decode(markup)))
	if err != nil {
		return nil, &snapshot.ParseError{Reason: "invalid markup", Err: err}
	}

	var s *snapshot.Snapshot
	switch e.opts.Mode {
	case ModeHeadlines:
		s, err = e.extractHeadlines(root)
	case ModeTable:
		s, err = e.extractTable(root)
	default:
		return nil, fmt.Errorf("unsupported extraction mode: %s", e.opts.Mode)
	}
	if err != nil {
		return nil, err
	}

	s.Source = e.opts.BaseURL
	if s.Skipped > 0 {
		e.logger.Warn("rows skipped during extraction",
			zap.Int("skipped", s.Skipped),
			zap.Int("accepted", s.Len()),
		)
	}
	return s, nil
}

func (e *Extractor) locateTable(root *html.Node) (*goquery.Selection, error) {
	if e.opts.XPath != "" {
		node, err := htmlquery.Query(root, e.opts.XPath)
		if err != nil {
			return nil, &snapshot.ParseError{Reason: "invalid xpath " + strconv.Quote(e.opts.XPath), Err: err}
		}
		if node == nil {
			return nil, &snapshot.ParseError{Reason: "table not found"}
		}
		return goquery.NewDocumentFromNode(node).Selection, nil
	}

	table := goquery.NewDocumentFromNode(root).Find(e.opts.Selector).First()
	if table.Length() == 0 {
		return nil, &snapshot.ParseError{Reason: "table not found"}
	}
	return table, nil
}

func (e *Extractor) extractTable(root *html.Node) (*snapshot.Snapshot, error) {
	table, err := e.locateTable(root)
	if err != nil {
		return nil, err
	}

	headerRow := table.Find("thead tr").First()
	if headerRow.Length() == 0 {
		// No <thead>: accept a leading row made only of <th> cells.
		first := table.Find("tr").First()
		cells := first.ChildrenFiltered("td, th")
		if cells.Length() == 0 || cells.Length() != first.ChildrenFiltered("th").Length() {
			return nil, &snapshot.ParseError{Reason: "table header not found"}
		}
		headerRow = first
	}

	columns := snapshot.UniqueColumns(cellTexts(headerRow))
	headerNode := headerRow.Get(0)

	var cells [][]string
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if row.Get(0) == headerNode || row.Closest("thead, tfoot").Length() > 0 {
			return
		}
		// Rows of nested tables belong to another structure.
		if owner := row.Closest("table"); owner.Length() > 0 && table.Is("table") && owner.Get(0) != table.Get(0) {
			return
		}
		texts := cellTexts(row)
		if len(texts) != len(columns) {
			e.logger.Debug("row shape mismatch",
				zap.Int("row", i),
				zap.Int("cells", len(texts)),
				zap.Int("columns", len(columns)),
			)
		}
		cells = append(cells, texts)
	})

	return snapshot.New(columns, cells), nil
}

func (e *Extractor) extractHeadlines(root *html.Node) (*snapshot.Snapshot, error) {
	links := goquery.NewDocumentFromNode(root).Find(e.opts.Selector)
	if links.Length() == 0 {
		return nil, &snapshot.ParseError{Reason: "headline list not found"}
	}

	base, err := url.Parse(e.opts.BaseURL)
	if err != nil {
		e.logger.Debug("links left unresolved", zap.String("base", e.opts.BaseURL), zap.Error(err))
		base = nil
	}

	var cells [][]string
	skipped := 0
	links.Each(func(_ int, a *goquery.Selection) {
		title := normalize(a.Text())
		if title == "" {
			skipped++
			return
		}
		cells = append(cells, []string{title, resolve(base, a.AttrOr("href", ""))})
	})

	s := snapshot.New([]string{"Title", "Link"}, cells)
	s.Skipped += skipped
	return s, nil
}

// cellTexts returns the normalized text of a row's direct td/th children.
func cellTexts(row *goquery.Selection) []string {
	var out []string
	row.ChildrenFiltered("td, th").Each(func(_ int, cell *goquery.Selection) {
		out = append(out, normalize(cell.Text()))
	})
	return out
}

// normalize collapses runs of whitespace into one space.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if base == nil || href == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// decode converts markup to UTF-8. Valid UTF-8 is passed through; otherwise
// a declared charset wins and chardet is consulted when nothing is declared.
func decode(markup []byte) []byte {
	if utf8.Valid(markup) {
		return markup
	}

	enc, name, certain := charset.DetermineEncoding(markup, "")
	// windows-1252 is the fallback when no BOM or <meta> declared a charset.
	if !certain && name == "windows-1252" {
		if result, err := chardet.NewHtmlDetector().DetectBest(markup); err == nil && result != nil {
			if detected, _ := charset.Lookup(result.Charset); detected != nil {
				enc = detected
			}
		}
	}

	out, err := enc.NewDecoder().Bytes(markup)
	if err != nil {
		return markup
	}
	return out
}
