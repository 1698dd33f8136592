// Package rollout triggers rolling restarts of Kubernetes Deployments.
// A restart is a strategic-merge patch of the pod template with a
// fresh timestamp annotation; the Deployment object is never deleted,
// recreated or scaled, and the cluster's own rollout machinery
// supersedes overlapping restarts, which makes the call idempotent.
package rollout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/georchestra/datadirsync-k8s-agent/pkg/metrics"
)

// RestartedAtAnnotation is the pod template annotation the agent
// bumps to force a rollout. Same mechanism as `kubectl rollout
// restart`, under the agent's own name.
const RestartedAtAnnotation = "datadirsync.georchestra.org/restartedAt"

// Target identifies a cluster Deployment to restart.
type Target struct {
	Namespace string
	Name      string
}

func (t Target) String() string {
	return t.Namespace + ":deployment/" + t.Name
}

// Client wraps the cluster API calls needed to trigger rollout
// restarts. Cluster calls are bounded by the timeout configured on
// the underlying rest.Config.
type Client struct {
	clientset kubernetes.Interface
	now       func() time.Time
}

func NewClient(clientset kubernetes.Interface) *Client {
	return &Client{
		clientset: clientset,
		now:       time.Now,
	}
}

// Restart triggers a rolling restart of the target Deployment.
func (c *Client) Restart(target Target) error {
	patch, err := restartPatch(c.now().UTC())
	if err != nil {
		return errors.Wrap(err, "building restart patch")
	}

	start := time.Now()
	_, err = c.clientset.AppsV1().Deployments(target.Namespace).Patch(target.Name, types.StrategicMergePatchType, patch)
	restartDuration.With(metrics.LabelSuccess, fmt.Sprint(err == nil)).Observe(time.Since(start).Seconds())
	if err != nil {
		return errors.Wrapf(err, "triggering rollout of %s", target)
	}
	return nil
}

func restartPatch(at time.Time) ([]byte, error) {
	patch := map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{
					"annotations": map[string]string{
						RestartedAtAnnotation: at.Format(time.RFC3339Nano),
					},
				},
			},
		},
	}
	return json.Marshal(patch)
}

// Kind classifies a restart failure for reporting purposes.
type Kind string

const (
	// KindNotFound: the deployment is absent from the namespace.
	// Reported, not fatal to the cycle.
	KindNotFound Kind = "not-found"
	// KindForbidden: RBAC does not permit the patch. This silently
	// defeats the whole agent, so it is surfaced prominently.
	KindForbidden Kind = "forbidden"
	// KindOther: anything else (API unreachable, timeouts, ...).
	KindOther Kind = "other"
)

// Classify maps a restart error onto its Kind.
func Classify(err error) Kind {
	cause := errors.Cause(err)
	switch {
	case k8serrors.IsNotFound(cause):
		return KindNotFound
	case k8serrors.IsForbidden(cause) || k8serrors.IsUnauthorized(cause):
		return KindForbidden
	default:
		return KindOther
	}
}
