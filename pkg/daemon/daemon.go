// Package daemon runs the poll loop: sync the repository mirror,
// resolve changed paths to deployments, trigger rollouts, advance the
// recorded revision. One cycle at a time, measured from completion.
package daemon

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/georchestra/datadirsync-k8s-agent/pkg/gitmirror"
	"github.com/georchestra/datadirsync-k8s-agent/pkg/mapping"
	"github.com/georchestra/datadirsync-k8s-agent/pkg/revision"
	"github.com/georchestra/datadirsync-k8s-agent/pkg/rollout"
)

// Mirror is the part of the repository mirror the daemon drives.
type Mirror interface {
	Sync(ctx context.Context, previous string) (gitmirror.SyncResult, error)
}

// Trigger issues restart calls and reports per-target outcomes.
type Trigger interface {
	Run(ctx context.Context, targets []rollout.Target) []rollout.Result
}

// Daemon owns one monitored repository and the deployments mapped to
// it. A single instance per repository is assumed; there is no leader
// election.
type Daemon struct {
	Repo         Mirror
	Tables       *mapping.Source
	Trigger      Trigger
	State        revision.State
	Namespace    string
	PollInterval time.Duration
	Logger       log.Logger

	// pending holds targets whose restart failed in an earlier cycle;
	// they are retried at the next trigger phase. Only the loop
	// goroutine touches it.
	pending map[rollout.Target]struct{}

	initOnce sync.Once
	syncSoon chan struct{}

	status status
}

// status is what the ops API reports. Guarded by its own mutex since
// HTTP handlers read it from other goroutines.
type status struct {
	mu            sync.Mutex
	ready         bool
	revision      string
	lastSync      time.Time
	lastError     string
	pendingCount  int
	lastChanged   int
	lastTriggered int
}

func (d *Daemon) ensureInit() {
	d.initOnce.Do(func() {
		d.syncSoon = make(chan struct{}, 1) // `1` so that AskForSync doesn't block
		d.pending = map[rollout.Target]struct{}{}
	})
}

// AskForSync requests a sync as soon as possible, or if there's one
// waiting, lets that happen. It does not block.
func (d *Daemon) AskForSync() {
	d.ensureInit()
	select {
	case d.syncSoon <- struct{}{}:
	default:
	}
}

// RunCycle performs one sync→resolve→trigger→advance cycle. The error
// returned is the cycle-aborting kind (a git failure); per-target
// rollout failures are logged, recorded for retry, and do not fail the
// cycle.
func (d *Daemon) RunCycle(ctx context.Context) error {
	d.ensureInit()

	previous, err := d.State.GetRevision(ctx)
	if err != nil {
		return err
	}

	res, err := d.Repo.Sync(ctx, previous)
	if err != nil {
		d.setLastError(err)
		return err
	}

	targets := d.resolveTargets(res)
	if len(targets) > 0 {
		// Dispatched restart calls are allowed to finish even on
		// shutdown; they are idempotent and short.
		results := d.Trigger.Run(context.Background(), targets)
		d.recordOutcomes(results)
	}

	// The revision advances whenever syncing succeeded, even if some
	// triggers failed: the changes have been observed, and re-running
	// the diff next cycle would not find them again. Failed targets
	// stay in the pending set instead.
	if res.Revision != previous {
		if err := d.State.UpdateMarker(ctx, res.Revision); err != nil {
			d.setLastError(err)
			return err
		}
		d.Logger.Log("event", "revision advanced", "old", previous, "new", res.Revision, "state", d.State.String())
	}

	d.finishCycle(res, len(targets))
	return nil
}

// resolveTargets turns a sync result into the targets to restart this
// cycle: the mapped deployments for the changed paths, plus any
// targets still pending from failed restarts in earlier cycles.
func (d *Daemon) resolveTargets(res gitmirror.SyncResult) []rollout.Target {
	set := map[rollout.Target]struct{}{}

	if res.FirstSync {
		d.Logger.Log("event", "initial sync", "revision", res.Revision)
	} else if len(res.ChangedPaths) > 0 {
		d.Logger.Log("event", "changes detected", "revision", res.Revision, "paths", len(res.ChangedPaths))
		table, err := d.Tables.Get()
		if err != nil {
			// Without a table nothing can be resolved; the pending
			// set may still need work, so don't abort the cycle.
			d.Logger.Log("err", err, "path", d.Tables.Path())
		} else {
			for _, name := range mapping.Resolve(res.ChangedPaths, table) {
				set[rollout.Target{Namespace: d.Namespace, Name: name}] = struct{}{}
			}
		}
	}

	for t := range d.pending {
		set[t] = struct{}{}
	}

	if len(set) == 0 {
		return nil
	}
	targets := make([]rollout.Target, 0, len(set))
	for t := range set {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	return targets
}

func (d *Daemon) recordOutcomes(results []rollout.Result) {
	triggered := 0
	for _, r := range results {
		if r.Err == nil {
			triggered++
			delete(d.pending, r.Target)
			continue
		}
		if rollout.Classify(r.Err) == rollout.KindForbidden {
			// RBAC failure silently defeats the whole agent; make it
			// hard to miss.
			d.Logger.Log("err", r.Err, "target", r.Target.String(),
				"hint", "the agent's service account cannot patch deployments; check its Role/RoleBinding")
		}
		d.pending[r.Target] = struct{}{}
	}
	pendingRetries.Set(float64(len(d.pending)))

	d.status.mu.Lock()
	d.status.lastTriggered = triggered
	d.status.pendingCount = len(d.pending)
	d.status.mu.Unlock()
}

func (d *Daemon) setLastError(err error) {
	d.status.mu.Lock()
	d.status.lastError = err.Error()
	d.status.mu.Unlock()
}

func (d *Daemon) finishCycle(res gitmirror.SyncResult, targetCount int) {
	d.status.mu.Lock()
	d.status.ready = true
	d.status.revision = res.Revision
	d.status.lastSync = time.Now()
	d.status.lastError = ""
	d.status.lastChanged = len(res.ChangedPaths)
	d.status.mu.Unlock()
	changedPaths.Set(float64(len(res.ChangedPaths)))
}
