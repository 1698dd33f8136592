package mapping

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMapping(t *testing.T, path, doc string) {
	t.Helper()
	require.NoError(t, ioutil.WriteFile(path, []byte(doc), 0644))
	// Push the mtime forward so a rewrite within the same second is
	// still seen as a change.
	now := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, now, now))
}

func TestSource_FirstLoadFailureIsFatal(t *testing.T) {
	s := NewSource("/nonexistent/mapping.yaml", log.NewNopLogger())
	_, err := s.Get()
	assert.Error(t, err)
}

func TestSource_ReloadsOnChange(t *testing.T) {
	dir, err := ioutil.TempDir("", "source-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "mapping.yaml")

	writeMapping(t, path, `"header": [header]`)
	s := NewSource(path, log.NewNopLogger())

	table, err := s.Get()
	require.NoError(t, err)
	require.Len(t, table.Rules, 1)

	writeMapping(t, path, `
"header": [header]
"*": [geoserver]
`)
	table, err = s.Get()
	require.NoError(t, err)
	assert.Len(t, table.Rules, 2)
}

func TestSource_KeepsTableWhenReloadBreaks(t *testing.T) {
	dir, err := ioutil.TempDir("", "source-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "mapping.yaml")

	writeMapping(t, path, `"header": [header]`)
	s := NewSource(path, log.NewNopLogger())
	_, err = s.Get()
	require.NoError(t, err)

	writeMapping(t, path, "{broken: yaml: [")
	table, err := s.Get()
	require.NoError(t, err)
	assert.Len(t, table.Rules, 1, "previous table should stay in effect")
}
