package links

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elvcal/internal/model"
)

const sampleConfig = `
Sunday Service|https://kcg.church/sunday-service
Small Groups|https://kcg.church/small-groups

not a rule
Youth Group|not-a-url
|https://kcg.church/empty-label
Youth Group|https://kcg.church/youth
`

func TestParseKeepsValidLinesInOrder(t *testing.T) {
	tbl := Parse(sampleConfig)

	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, []Entry{
		{Label: "sunday service", URL: "https://kcg.church/sunday-service"},
		{Label: "small groups", URL: "https://kcg.church/small-groups"},
		{Label: "youth group", URL: "https://kcg.church/youth"},
	}, tbl.Entries())
	assert.Equal(t, []string{"sunday service", "small groups", "youth group"}, tbl.Labels())
}

func TestParseIsIdempotent(t *testing.T) {
	assert.Equal(t, Parse(sampleConfig).Entries(), Parse(sampleConfig).Entries())
}

func TestParseEmptyAndMalformed(t *testing.T) {
	assert.Equal(t, 0, Parse("").Len())
	assert.Equal(t, 0, Parse("\n\n  \n").Len())
	assert.Equal(t, 0, Parse("a|b\nc|ftp:/nohost").Len())
}

func TestParseURLMayContainPipe(t *testing.T) {
	tbl := Parse("Prayer|https://example.com/?q=a|b")
	u, ok := tbl.Lookup("prayer")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/?q=a|b", u)
}

func TestParseDuplicateLabelKeepsFirstPosition(t *testing.T) {
	tbl := Parse("A|https://a.example/1\nB|https://b.example\na|https://a.example/2")
	assert.Equal(t, []Entry{
		{Label: "a", URL: "https://a.example/2"},
		{Label: "b", URL: "https://b.example"},
	}, tbl.Entries())
}

func TestResolveCaseInsensitive(t *testing.T) {
	tbl := Parse("Sunday Service|https://x")
	svc := model.RawService{ID: "1", Name: "SUNDAY SERVICE"}
	assert.Equal(t, "https://x", tbl.Resolve(svc))
}

func TestResolveExactBeatsSubstring(t *testing.T) {
	tbl := Parse("service|https://b\nsunday service|https://a")
	svc := model.RawService{
		ID:          "1",
		Name:        "Sunday Service 10am",
		ServiceType: &model.Named{Name: "Sunday Service"},
	}
	assert.Equal(t, "https://a", tbl.Resolve(svc))
}

func TestResolveServiceTypeBeforeSeriesName(t *testing.T) {
	tbl := Parse("evening|https://evening\nmorning|https://morning")
	svc := model.RawService{
		ID:          "1",
		SeriesName:  "Morning",
		ServiceType: &model.Named{Name: "Evening"},
	}
	assert.Equal(t, "https://evening", tbl.Resolve(svc))
}

func TestResolveSeriesNameWhenNoServiceType(t *testing.T) {
	tbl := Parse("Morning|https://morning")
	svc := model.RawService{ID: "1", SeriesName: "  morning "}
	assert.Equal(t, "https://morning", tbl.Resolve(svc))
}

func TestResolveSubstringUsesConfigOrder(t *testing.T) {
	tbl := Parse("group|https://group\nyouth|https://youth")
	svc := model.RawService{ID: "1", Name: "Youth Group Night", SeriesName: "Fridays"}
	assert.Equal(t, "https://group", tbl.Resolve(svc))
}

func TestResolveNoMatch(t *testing.T) {
	tbl := Parse("youth|https://youth")
	assert.Empty(t, tbl.Resolve(model.RawService{ID: "1", Name: "Prayer"}))
	assert.Empty(t, tbl.Resolve(model.RawService{ID: "1"}))

	var nilTable *Table
	assert.Empty(t, nilTable.Resolve(model.RawService{ID: "1", Name: "youth"}))
}

func TestAmbiguities(t *testing.T) {
	tbl := Parse("service|https://b\nsunday service|https://a\nyouth|https://y")
	assert.Equal(t, []Ambiguity{{Label: "service", Shadowed: "sunday service"}}, tbl.Ambiguities())
	assert.Empty(t, Parse("a|https://a.example").Ambiguities())
}

func TestValidURL(t *testing.T) {
	assert.True(t, ValidURL("https://example.com/path?q=1"))
	assert.True(t, ValidURL("http://localhost:8080"))
	assert.False(t, ValidURL(""))
	assert.False(t, ValidURL("/relative/path"))
	assert.False(t, ValidURL("mailto:someone@example.com"))
	assert.False(t, ValidURL("https://exa mple.com"))
}
