package formatter

import (
	"encoding/json"
	"strings"
	"testing"

	"tablesnap/internal/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proSnapshot() *snapshot.Snapshot {
	return snapshot.New(
		[]string{"Player", "Team", "Mouse", "Sens", "DPI"},
		[][]string{
			{"s1mple", "NAVI", "Zowie EC2", "3.09", "400"},
			{"NiKo", "G2", "Logitech G Pro X Superlight", "1.51", "400"},
			{"ZywOo", "Vitality", "ZOWIE FK2", "2", "400"},
			{"ropz", "FaZe", "Zowie S2", "1.77", "400"},
		},
	)
}

func TestFilterScenarioA(t *testing.T) {
	s := snapshot.New([]string{"Player", "Team", "Mouse"}, [][]string{{"s1mple", "NAVI", "Zowie EC2"}})

	r := Build("CS2 pro settings", s, Query{Predicate: "zowie", Limit: 20}, DefaultSchema)
	assert.Equal(t, 1, r.Count)

	text, err := r.ToText()
	require.NoError(t, err)
	assert.Contains(t, text, "s1mple")
	assert.Contains(t, text, "1 matches")
}

func TestFilterIsCaseInsensitiveAndOrdered(t *testing.T) {
	rows := Filter(proSnapshot(), "ZOWIE", 0)
	require.Len(t, rows, 3)
	assert.Equal(t, "s1mple", rows[0]["Player"])
	assert.Equal(t, "ZywOo", rows[1]["Player"])
	assert.Equal(t, "ropz", rows[2]["Player"])
}

func TestFilterLimit(t *testing.T) {
	rows := Filter(proSnapshot(), "zowie", 2)
	require.Len(t, rows, 2)
	assert.Equal(t, "ZywOo", rows[1]["Player"])

	assert.Len(t, Filter(proSnapshot(), "", 3), 3)
	assert.Len(t, Filter(proSnapshot(), "", 0), 4)
}

func TestFilterNilSnapshot(t *testing.T) {
	assert.Empty(t, Filter(nil, "x", 5))
}

func TestBuildNoMatches(t *testing.T) {
	r := Build("CS2", proSnapshot(), Query{Predicate: "razer", Limit: 20}, DefaultSchema)
	assert.Equal(t, 0, r.Count)
	assert.Empty(t, r.Matches)

	text, err := r.ToText()
	require.NoError(t, err)
	assert.Equal(t, "CS2: 0 matches for \"razer\" (of 4 rows)\n", text)
}

func TestBuildEmptySnapshot(t *testing.T) {
	s := snapshot.New([]string{"Player"}, nil)
	r := Build("", s, Query{Limit: 20}, DefaultSchema)

	text, err := r.ToText()
	require.NoError(t, err)
	assert.Equal(t, "Snapshot: 0 of 0 rows\n", text)
}

func TestBuildUsesSynonymsAndSkipsMissingFields(t *testing.T) {
	r := Build("CS2", proSnapshot(), Query{Predicate: "s1mple"}, DefaultSchema)
	require.Len(t, r.Matches, 1)

	assert.Equal(t, []string{"Player", "Team", "Mouse", "DPI", "Sensitivity"}, r.Fields)

	text, err := r.ToText()
	require.NoError(t, err)
	assert.Contains(t, text, "1. s1mple (NAVI)\n")
	assert.Contains(t, text, "   Mouse: Zowie EC2 | DPI: 400 | Sensitivity: 3.09\n")
}

func TestSchemaFallsBackToColumns(t *testing.T) {
	s := snapshot.New([]string{"Title", "Link"}, [][]string{{"Major", "https://x/1"}})
	r := Build("News", s, Query{}, DefaultSchema)

	assert.Equal(t, []string{"Title", "Link"}, r.Fields)
	text, err := r.ToText()
	require.NoError(t, err)
	assert.Contains(t, text, "1. Major (https://x/1)")
}

func TestSchemaResolveIsCaseInsensitive(t *testing.T) {
	resolved := DefaultSchema.Resolve([]string{"player", "SENS"})
	require.Len(t, resolved, 2)
	assert.Equal(t, "s1mple", resolved[0].Value(snapshot.Row{"player": "s1mple", "SENS": "3"}))
	assert.Equal(t, "3", resolved[1].Value(snapshot.Row{"player": "s1mple", "SENS": "3"}))
}

func TestFieldValueDefaultsToEmpty(t *testing.T) {
	f := Field{Name: "Sensitivity", Synonyms: []string{"Sens"}}
	assert.Equal(t, "", f.Value(snapshot.Row{"Player": "x"}))
	assert.Equal(t, "2", f.Value(snapshot.Row{"Sens": "2"}))
}

func TestReportFormats(t *testing.T) {
	r := Build("CS2", proSnapshot(), Query{Predicate: "zowie", Limit: 2}, DefaultSchema)

	out, err := Format(r, "json")
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.EqualValues(t, 2, decoded["count"])
	assert.Equal(t, "zowie", decoded["predicate"])

	out, err = Format(r, "csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Player,Team,Mouse,DPI,Sensitivity", lines[0])

	out, err = Format(r, "html")
	require.NoError(t, err)
	assert.Contains(t, out, "<td>s1mple</td>")

	out, err = Format(r, "markdown")
	require.NoError(t, err)
	assert.Contains(t, out, "s1mple")
	assert.Contains(t, out, "|")

	_, err = Format(r, "pdf")
	assert.Error(t, err)
}

func TestSnapshotContentFormats(t *testing.T) {
	s := snapshot.New([]string{"Player", "Note"}, [][]string{{"a<b", `say "hi", ok`}})
	c := NewSnapshotContent(s)

	out, err := Format(c, "csv")
	require.NoError(t, err)
	assert.Equal(t, "Player,Note\na<b,\"say \"\"hi\"\", ok\"\n", out)

	out, err = Format(c, "html")
	require.NoError(t, err)
	assert.Contains(t, out, "<td>a&lt;b</td>")

	out, err = Format(c, "text")
	require.NoError(t, err)
	assert.Contains(t, out, "1 rows (0 skipped)")
	assert.Contains(t, out, "Player: a<b")

	out, err = Format(c, "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"columns"`)
}
