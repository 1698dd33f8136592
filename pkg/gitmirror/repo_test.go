package gitmirror

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 10 * time.Second

func TestSync_FirstSyncReportsNoChanges(t *testing.T) {
	u, cleanup := newUpstream(t)
	defer cleanup()

	repo := NewRepo(Remote{URL: u.url()}, Anonymous{}, Branch("main"), Timeout(testTimeout))
	defer repo.Clean()

	res, err := repo.Sync(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, res.FirstSync)
	assert.Empty(t, res.ChangedPaths)
	assert.Equal(t, u.headRevision(), res.Revision)
}

func TestSync_NoUpstreamChange(t *testing.T) {
	u, cleanup := newUpstream(t)
	defer cleanup()

	repo := NewRepo(Remote{URL: u.url()}, Anonymous{}, Branch("main"), Timeout(testTimeout))
	defer repo.Clean()

	first, err := repo.Sync(context.Background(), "")
	require.NoError(t, err)

	second, err := repo.Sync(context.Background(), first.Revision)
	require.NoError(t, err)
	assert.False(t, second.FirstSync)
	assert.Empty(t, second.ChangedPaths)
	assert.Equal(t, first.Revision, second.Revision)
}

func TestSync_ReportsChangedPaths(t *testing.T) {
	u, cleanup := newUpstream(t)
	defer cleanup()

	repo := NewRepo(Remote{URL: u.url()}, Anonymous{}, Branch("main"), Timeout(testTimeout))
	defer repo.Clean()

	first, err := repo.Sync(context.Background(), "")
	require.NoError(t, err)

	u.commitFile("header/index.html", "<html></html>\n")
	u.commitFile("cas/cas.properties", "server.name=cas\n")
	u.push()

	res, err := repo.Sync(context.Background(), first.Revision)
	require.NoError(t, err)
	assert.False(t, res.FirstSync)
	assert.NotEqual(t, first.Revision, res.Revision)
	assert.ElementsMatch(t, []string{"header/index.html", "cas/cas.properties"}, res.ChangedPaths)
}

func TestSync_ReportsDeletedPaths(t *testing.T) {
	u, cleanup := newUpstream(t)
	defer cleanup()

	u.commitFile("header/index.html", "<html></html>\n")
	u.push()

	repo := NewRepo(Remote{URL: u.url()}, Anonymous{}, Branch("main"), Timeout(testTimeout))
	defer repo.Clean()

	first, err := repo.Sync(context.Background(), "")
	require.NoError(t, err)

	u.removeFile("header/index.html")
	u.push()

	res, err := repo.Sync(context.Background(), first.Revision)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"header/index.html"}, res.ChangedPaths)
}

func TestSync_FetchFailureSurfacesError(t *testing.T) {
	u, cleanup := newUpstream(t)
	defer cleanup()

	repo := NewRepo(Remote{URL: u.url()}, Anonymous{}, Branch("main"), Timeout(testTimeout))
	defer repo.Clean()

	first, err := repo.Sync(context.Background(), "")
	require.NoError(t, err)

	// Take the upstream away: the fetch must fail, and the caller's
	// revision must remain usable for the next successful sync.
	require.NoError(t, os.RemoveAll(u.bare))
	_, err = repo.Sync(context.Background(), first.Revision)
	assert.Error(t, err)
}

func TestSync_UnknownPreviousRevisionRebaselines(t *testing.T) {
	u, cleanup := newUpstream(t)
	defer cleanup()

	repo := NewRepo(Remote{URL: u.url()}, Anonymous{}, Branch("main"), Timeout(testTimeout))
	defer repo.Clean()

	res, err := repo.Sync(context.Background(), "4a3f1b0000000000000000000000000000000000")
	require.NoError(t, err)
	assert.True(t, res.FirstSync)
	assert.Empty(t, res.ChangedPaths)
	assert.Equal(t, u.headRevision(), res.Revision)
}

func TestReady_MissingBranch(t *testing.T) {
	u, cleanup := newUpstream(t)
	defer cleanup()

	repo := NewRepo(Remote{URL: u.url()}, Anonymous{}, Branch("does-not-exist"), Timeout(testTimeout))
	defer repo.Clean()

	err := repo.Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestNewRepo_NoConfig(t *testing.T) {
	repo := NewRepo(Remote{}, Anonymous{})
	_, err := repo.Sync(context.Background(), "")
	assert.Equal(t, ErrNoConfig, err)
}
