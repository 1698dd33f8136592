package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, doc string) Table {
	t.Helper()
	table, err := Parse([]byte(doc))
	require.NoError(t, err)
	return table
}

func TestResolve_EmptyChangeSet(t *testing.T) {
	table := mustParse(t, exampleMapping)
	assert.Empty(t, Resolve(nil, table))
	assert.Empty(t, Resolve([]string{}, table))
}

func TestResolve_RuleValueListsMultipleDeployments(t *testing.T) {
	// A change under cas/ restarts both header and cas, because the
	// cas rule lists both.
	table := mustParse(t, `"cas": [header, cas]`)
	got := Resolve([]string{"cas/x.yaml"}, table)
	assert.Equal(t, []string{"cas", "header"}, got)
}

func TestResolve_WildcardIsAdditive(t *testing.T) {
	table := mustParse(t, exampleMapping)

	got := Resolve([]string{"header/index.html"}, table)
	assert.Equal(t, []string{"geoserver", "header"}, got)

	// The wildcard contributes even when nothing else matches.
	got = Resolve([]string{"unmapped/file.txt"}, table)
	assert.Equal(t, []string{"geoserver"}, got)
}

func TestResolve_FirstSegmentMatching(t *testing.T) {
	table := mustParse(t, `"header": [header]`)

	assert.Equal(t, []string{"header"}, Resolve([]string{"header"}, table))
	assert.Equal(t, []string{"header"}, Resolve([]string{"header/deep/nested.css"}, table))
	// Prefix of the segment, not the segment itself.
	assert.Empty(t, Resolve([]string{"headers/index.html"}, table))
}

func TestResolve_GlobPatterns(t *testing.T) {
	table := mustParse(t, `
"geoserver/workspaces/*": [geoserver]
"*.properties": [console]
`)
	got := Resolve([]string{"geoserver/workspaces/topp/ws.xml"}, table)
	assert.Equal(t, []string{"geoserver"}, got)

	got = Resolve([]string{"analytics.properties"}, table)
	assert.Equal(t, []string{"console"}, got)

	assert.Empty(t, Resolve([]string{"geoserver/styles/default.sld"}, table))
}

func TestResolve_Deduplicates(t *testing.T) {
	table := mustParse(t, `
"header": [header, geoserver]
"cas": [header]
"*": [geoserver]
`)
	got := Resolve([]string{"header/a", "cas/b"}, table)
	assert.Equal(t, []string{"geoserver", "header"}, got)
}

func TestResolve_OrderIndependent(t *testing.T) {
	table := mustParse(t, exampleMapping)
	a := Resolve([]string{"header/x", "cas/y"}, table)
	b := Resolve([]string{"cas/y", "header/x"}, table)
	assert.Equal(t, a, b)
}

func TestResolve_EndToEndExample(t *testing.T) {
	table := mustParse(t, `
"header": [header]
"*": [geoserver]
`)
	got := Resolve([]string{"header/index.html"}, table)
	assert.Equal(t, []string{"geoserver", "header"}, got)
}
