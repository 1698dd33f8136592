package revision

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes/fake"
)

const rev1 = "0123456789abcdef0123456789abcdef01234567"
const rev2 = "fedcba9876543210fedcba9876543210fedcba98"

// stateContract runs the behavior every State backend must share.
func stateContract(t *testing.T, s State) {
	ctx := context.Background()

	got, err := s.GetRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", got, "fresh state should report no revision")

	require.NoError(t, s.UpdateMarker(ctx, rev1))
	got, err = s.GetRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, rev1, got)

	require.NoError(t, s.UpdateMarker(ctx, rev2))
	got, err = s.GetRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, rev2, got)

	require.NoError(t, s.DeleteMarker(ctx))
	got, err = s.GetRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	assert.NotEmpty(t, s.String())
}

func TestMemoryState(t *testing.T) {
	stateContract(t, NewMemory())
}

func TestFileState(t *testing.T) {
	dir, err := ioutil.TempDir("", "revision-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	stateContract(t, NewFile(filepath.Join(dir, "state", "revision")))
}

func TestFileState_SurvivesReopen(t *testing.T) {
	dir, err := ioutil.TempDir("", "revision-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "revision")
	require.NoError(t, NewFile(path).UpdateMarker(context.Background(), rev1))

	got, err := NewFile(path).GetRevision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rev1, got)
}

func TestConfigMapState(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	stateContract(t, NewConfigMap(clientset, "georchestra", "datadirsync-state"))
}

func TestConfigMapState_CreatesOnFirstUpdate(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	s := NewConfigMap(clientset, "georchestra", "datadirsync-state")

	require.NoError(t, s.UpdateMarker(context.Background(), rev1))

	got, err := s.GetRevision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rev1, got)
}
