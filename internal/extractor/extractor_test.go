package extractor

import (
	"testing"

	"tablesnap/internal/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const proTable = `<html><body>
<h1>Pro settings</h1>
<table class="settings">
  <thead><tr><th>Player</th><th>Team</th><th>Mouse</th></tr></thead>
  <tbody>
    <tr><td>s1mple</td><td>NAVI</td><td>Zowie   EC2</td></tr>
  </tbody>
</table>
</body></html>`

func TestExtractScenarioA(t *testing.T) {
	s, err := New(Options{}, nil).Extract([]byte(proTable))
	require.NoError(t, err)

	assert.Equal(t, []string{"Player", "Team", "Mouse"}, s.Columns)
	require.Len(t, s.Rows, 1)
	assert.Equal(t, snapshot.Row{"Player": "s1mple", "Team": "NAVI", "Mouse": "Zowie EC2"}, s.Rows[0])
	assert.Zero(t, s.Skipped)
}

func TestExtractDropsShortRows(t *testing.T) {
	markup := `<table>
  <thead><tr><th>Player</th><th>Team</th><th>Mouse</th></tr></thead>
  <tbody>
    <tr><td>s1mple</td><td>NAVI</td><td>Zowie EC2</td></tr>
    <tr><td>ropz</td><td>FaZe</td></tr>
    <tr><td>ZywOo</td><td>Vitality</td><td>Zowie FK2</td></tr>
  </tbody>
</table>`

	s, err := New(Options{}, nil).Extract([]byte(markup))
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, "ZywOo", s.Rows[1]["Player"])
	assert.True(t, s.Valid())
}

func TestExtractRowKeysAlwaysMatchColumns(t *testing.T) {
	markup := `<table>
  <thead><tr><th>A</th><th>B</th></tr></thead>
  <tbody>
    <tr><td>1</td><td>2</td></tr>
    <tr><td>1</td></tr>
    <tr></tr>
    <tr><td>1</td><td>2</td><td>3</td></tr>
    <tr><th>x</th><td>y</td></tr>
  </tbody>
</table>`

	s, err := New(Options{}, nil).Extract([]byte(markup))
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 3, s.Skipped)
	for _, row := range s.Rows {
		assert.Len(t, row, len(s.Columns))
		for _, c := range s.Columns {
			assert.Contains(t, row, c)
		}
	}
}

func TestExtractMissingTable(t *testing.T) {
	_, err := New(Options{}, nil).Extract([]byte(`<html><body><p>maintenance</p></body></html>`))
	require.Error(t, err)
	assert.True(t, snapshot.IsParse(err))
	assert.Contains(t, err.Error(), "table not found")
}

func TestExtractMissingHeader(t *testing.T) {
	_, err := New(Options{}, nil).Extract([]byte(`<table><tr><td>a</td><td>b</td></tr></table>`))
	require.Error(t, err)
	assert.True(t, snapshot.IsParse(err))
}

func TestExtractLeadingHeaderRowWithoutThead(t *testing.T) {
	markup := `<table>
  <tr><th>Player</th><th>DPI</th></tr>
  <tr><td>NiKo</td><td>400</td></tr>
</table>`

	s, err := New(Options{}, nil).Extract([]byte(markup))
	require.NoError(t, err)
	assert.Equal(t, []string{"Player", "DPI"}, s.Columns)
	assert.Equal(t, []snapshot.Row{{"Player": "NiKo", "DPI": "400"}}, s.Rows)
}

func TestExtractSelectorPicksTable(t *testing.T) {
	markup := `<table id="nav"><thead><tr><th>Menu</th></tr></thead><tbody><tr><td>Home</td></tr></tbody></table>` + proTable

	s, err := New(Options{Selector: "table.settings"}, nil).Extract([]byte(markup))
	require.NoError(t, err)
	assert.Equal(t, []string{"Player", "Team", "Mouse"}, s.Columns)
}

func TestExtractXPath(t *testing.T) {
	markup := `<table id="nav"><thead><tr><th>Menu</th></tr></thead></table>` + proTable

	s, err := New(Options{XPath: `//table[@class="settings"]`}, nil).Extract([]byte(markup))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	_, err = New(Options{XPath: `//table[@id="missing"]`}, nil).Extract([]byte(markup))
	assert.True(t, snapshot.IsParse(err))

	_, err = New(Options{XPath: `//table[`}, nil).Extract([]byte(markup))
	assert.True(t, snapshot.IsParse(err))
}

func TestExtractIgnoresNestedTables(t *testing.T) {
	markup := `<table>
  <thead><tr><th>Player</th><th>Gear</th></tr></thead>
  <tbody>
    <tr><td>device</td><td><table><tr><td>inner</td><td>cell</td></tr></table></td></tr>
  </tbody>
</table>`

	s, err := New(Options{}, nil).Extract([]byte(markup))
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, "device", s.Rows[0]["Player"])
	assert.Zero(t, s.Skipped)
}

func TestExtractHeaderCollidingWithSuffix(t *testing.T) {
	markup := `<table>
  <thead><tr><th>A</th><th>A (2)</th><th>A</th><th></th></tr></thead>
  <tbody><tr><td>1</td><td>2</td><td>3</td><td>4</td></tr></tbody>
</table>`

	s, err := New(Options{}, nil).Extract([]byte(markup))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "A (2)", "A (3)", "Column 4"}, s.Columns)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, []string{"1", "2", "3", "4"}, s.Record(s.Rows[0]))
	assert.True(t, s.Valid())
}

func TestExtractHeadlines(t *testing.T) {
	markup := `<html><body>
<h2><a href="/news/1">CS2 major   starts</a></h2>
<h3><a href="https://other.example/2">Patch notes</a></h3>
<h3><a href="/empty"> </a></h3>
</body></html>`

	s, err := New(Options{Mode: ModeHeadlines, BaseURL: "https://news.example/home"}, nil).Extract([]byte(markup))
	require.NoError(t, err)

	assert.Equal(t, []string{"Title", "Link"}, s.Columns)
	assert.Equal(t, []snapshot.Row{
		{"Title": "CS2 major starts", "Link": "https://news.example/news/1"},
		{"Title": "Patch notes", "Link": "https://other.example/2"},
	}, s.Rows)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, "https://news.example/home", s.Source)
}

func TestExtractDecodesLatin1(t *testing.T) {
	markup := []byte("<html><head><meta charset=\"iso-8859-1\"></head><body><table><thead><tr><th>Spieler</th></tr></thead><tbody><tr><td>J\xfcrgen</td></tr></tbody></table></body></html>")

	s, err := New(Options{}, nil).Extract(markup)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, "Jürgen", s.Rows[0]["Spieler"])
}
