package mapping

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleMapping = `
"header": [header]
"cas": [header, cas]
"*": [geoserver]
`

func TestParse_PreservesRuleOrder(t *testing.T) {
	table, err := Parse([]byte(exampleMapping))
	require.NoError(t, err)
	require.Len(t, table.Rules, 3)
	assert.Equal(t, "header", table.Rules[0].Pattern)
	assert.Equal(t, "cas", table.Rules[1].Pattern)
	assert.Equal(t, Wildcard, table.Rules[2].Pattern)
	assert.Equal(t, []string{"header", "cas"}, table.Rules[1].Deployments)
	assert.Empty(t, table.Warnings)
}

func TestParse_ScalarValueAccepted(t *testing.T) {
	table, err := Parse([]byte(`"geoserver": geoserver`))
	require.NoError(t, err)
	require.Len(t, table.Rules, 1)
	assert.Equal(t, []string{"geoserver"}, table.Rules[0].Deployments)
}

func TestParse_SkipsUnusableRules(t *testing.T) {
	table, err := Parse([]byte(`
"header": [header]
"empty": []
"alsoempty":
`))
	require.NoError(t, err)
	require.Len(t, table.Rules, 1)
	assert.Equal(t, "header", table.Rules[0].Pattern)
	assert.Len(t, table.Warnings, 2)
}

func TestParse_BrokenYAMLIsFatal(t *testing.T) {
	_, err := Parse([]byte("{not valid: yaml: ["))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/rollout_mapping_config.yaml")
	assert.Error(t, err)
}

func TestLoad_RoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "mapping-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "rollout_mapping_config.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(exampleMapping), 0644))

	table, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, table.Rules, 3)
	assert.False(t, table.Empty())
}
