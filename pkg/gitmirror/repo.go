package gitmirror

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"github.com/georchestra/datadirsync-k8s-agent/pkg/metrics"
)

const (
	defaultTimeout = 30 * time.Second
)

var (
	ErrNoConfig  = errors.New("git repo has no URL configured")
	ErrNotCloned = errors.New("git repo has not been cloned yet")
)

type NotReadyError struct {
	underlying error
}

func (err NotReadyError) Unwrap() error { return err.underlying }

func (err NotReadyError) Error() string {
	return "git repo not ready: " + err.underlying.Error()
}

// RepoStatus represents the progress made mirroring the git repo.
// These are given below in expected order, but the status may go
// backwards if e.g., a deploy key is deleted.
type RepoStatus string

const (
	RepoNoConfig RepoStatus = "unconfigured" // configuration is empty
	RepoNew      RepoStatus = "new"          // no attempt made to clone it yet
	RepoCloned   RepoStatus = "cloned"       // has been cloned; branch not yet verified
	RepoReady    RepoStatus = "ready"        // branch verified, ready to sync
)

// SyncResult is what one successful sync reports: the branch tip the
// mirror now stands at, and the paths that changed since the revision
// the caller last processed.
type SyncResult struct {
	// Revision is the commit id of the branch tip after fetching.
	Revision string
	// ChangedPaths are the paths that differ between the caller's
	// previous revision and Revision. Empty on a no-change sync and on
	// the first sync.
	ChangedPaths []string
	// FirstSync is true when there was no previous revision to diff
	// against; no rollout should fire purely from initialization.
	FirstSync bool
}

// Repo is a mirror of the monitored git repository. It owns the
// on-disk clone exclusively; calls are serialized by the mutex, and
// the poll loop guarantees there is at most one sync in flight anyway.
type Repo struct {
	// As supplied to constructor
	origin  Remote
	branch  string
	auth    Auth
	timeout time.Duration
	baseDir string

	// State
	mu     sync.RWMutex
	status RepoStatus
	err    error
	dir    string
}

type Option interface {
	apply(*Repo)
}

type optionFunc func(*Repo)

func (f optionFunc) apply(r *Repo) {
	f(r)
}

type Timeout time.Duration

func (t Timeout) apply(r *Repo) {
	r.timeout = time.Duration(t)
}

type Branch string

func (b Branch) apply(r *Repo) {
	r.branch = string(b)
}

// BaseDir sets the directory under which the mirror clone is created;
// a temp dir is used otherwise.
type BaseDir string

func (d BaseDir) apply(r *Repo) {
	r.baseDir = string(d)
}

// NewRepo constructs a repo mirror. The auth mode is resolved once, by
// the caller, and fixed for the life of the mirror.
func NewRepo(origin Remote, auth Auth, opts ...Option) *Repo {
	status, statusErr := RepoNew, error(ErrNotCloned)
	if origin.URL == "" {
		status, statusErr = RepoNoConfig, ErrNoConfig
	}
	if auth == nil {
		auth = Anonymous{}
	}
	r := &Repo{
		origin:  origin,
		auth:    auth,
		status:  status,
		timeout: defaultTimeout,
		err:     statusErr,
	}
	for _, opt := range opts {
		opt.apply(r)
	}
	return r
}

// Origin returns the Remote with which the Repo was constructed.
func (r *Repo) Origin() Remote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.origin
}

// Branch returns the branch the mirror tracks.
func (r *Repo) Branch() string {
	return r.branch
}

// Dir returns the local directory into which the repo has been
// cloned, if it has been cloned.
func (r *Repo) Dir() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dir
}

// Clean removes the mirrored repo.
func (r *Repo) Clean() {
	r.mu.Lock()
	if r.dir != "" {
		os.RemoveAll(r.dir)
	}
	r.dir = ""
	r.status = RepoNew
	r.mu.Unlock()
}

// Status reports the readiness status of the mirror, and if it is not
// ready, the error stopping it getting to the next state.
func (r *Repo) Status() (RepoStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status, r.err
}

func (r *Repo) setUnready(s RepoStatus, err error) {
	r.mu.Lock()
	r.status = s
	r.err = err
	r.mu.Unlock()
	repoReady.Set(MetricRepoUnready)
}

func (r *Repo) setReady() {
	r.mu.Lock()
	r.status = RepoReady
	r.err = nil
	r.mu.Unlock()
	repoReady.Set(MetricRepoReady)
}

// step attempts to advance the repo state machine, and returns `true`
// if it has made progress, `false` otherwise.
func (r *Repo) step(bg context.Context) bool {
	r.mu.RLock()
	dir := r.dir
	status := r.status
	r.mu.RUnlock()

	switch status {

	case RepoNoConfig:
		// this is not going to change in the lifetime of this
		// process
		return false

	case RepoNew:
		base := r.baseDir
		if base == "" {
			base = os.TempDir()
		}
		rootdir, err := ioutil.TempDir(base, "datadirsync-gitclone")
		if err != nil {
			r.setUnready(RepoNew, err)
			return false
		}

		url, err := r.auth.cloneURL(r.origin.URL)
		if err != nil {
			r.setUnready(RepoNew, err)
			return false
		}

		ctx, cancel := context.WithTimeout(bg, r.timeout)
		dir, err = mirror(ctx, rootdir, url, r.auth.env())
		cancel()
		if err != nil {
			os.RemoveAll(rootdir)
			r.setUnready(RepoNew, err)
			return false
		}
		r.mu.Lock()
		r.dir = dir
		r.mu.Unlock()
		r.setUnready(RepoCloned, errors.New("branch not yet verified"))
		return true

	case RepoCloned:
		ctx, cancel := context.WithTimeout(bg, r.timeout)
		defer cancel()

		ok, err := refExists(ctx, dir, "refs/heads/"+r.branch)
		if err != nil {
			r.setUnready(RepoCloned, err)
			return false
		}
		if !ok {
			r.setUnready(RepoCloned, fmt.Errorf("configured branch '%s' does not exist", r.branch))
			return false
		}

		r.setReady()
		return true

	case RepoReady:
		return false
	}

	return false
}

// Ready tries to advance the cloning process along as far as
// possible, and returns an error if it is not able to get to a ready
// state.
func (r *Repo) Ready(ctx context.Context) error {
	for r.step(ctx) {
		// keep going!
	}
	_, err := r.Status()
	return err
}

// Sync brings the mirror up to date with the upstream branch and
// reports the paths that changed since `previous`, the last revision
// the caller processed.
//
// An empty `previous` means there is nothing to diff against; the
// result carries the current tip and FirstSync=true. The same applies
// when `previous` is no longer present in the mirror (e.g. state
// carried over from a rewritten branch): the mirror re-baselines
// rather than failing every cycle.
//
// On error the caller must not advance its stored revision.
func (r *Repo) Sync(ctx context.Context, previous string) (SyncResult, error) {
	if err := r.Ready(ctx); err != nil {
		if err == ErrNoConfig {
			return SyncResult{}, err
		}
		return SyncResult{}, NotReadyError{err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dir := r.dir

	// The mirror clone's origin already carries any embedded
	// credentials, so fetching by remote name picks up the mirror
	// refspec and the auth URL in one go.
	var err error
	fetchStart := time.Now()
	{
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		err = fetch(ctx, dir, "origin", r.auth.env())
		cancel()
	}
	fetchDuration.With(metrics.LabelSuccess, fmt.Sprint(err == nil)).Observe(time.Since(fetchStart).Seconds())
	if err != nil {
		return SyncResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tip, err := refRevision(ctx, dir, "heads/"+r.branch)
	if err != nil {
		return SyncResult{}, err
	}

	if previous == "" {
		return SyncResult{Revision: tip, ChangedPaths: nil, FirstSync: true}, nil
	}
	if previous == tip {
		return SyncResult{Revision: tip, ChangedPaths: nil}, nil
	}

	ok, err := refExists(ctx, dir, previous)
	if err != nil {
		return SyncResult{}, err
	}
	if !ok {
		return SyncResult{Revision: tip, ChangedPaths: nil, FirstSync: true}, nil
	}

	paths, err := changedBetween(ctx, dir, previous, tip)
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{Revision: tip, ChangedPaths: paths}, nil
}
