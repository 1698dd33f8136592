package revision

import (
	"context"
	"encoding/json"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	v1 "k8s.io/client-go/kubernetes/typed/core/v1"
)

const syncMarkerKey = "datadirsync.georchestra.org/sync-hwm"

// ConfigMap is a State kept as an annotation on a ConfigMap in the
// agent's namespace, for pods with no writable volume. The value is a
// bare commit id, so a ConfigMap (rather than a Secret) is the right
// resource kind.
type ConfigMap struct {
	namespace    string
	resourceName string
	resourceAPI  v1.ConfigMapInterface
}

func NewConfigMap(clientset kubernetes.Interface, namespace, resourceName string) *ConfigMap {
	return &ConfigMap{
		resourceAPI:  clientset.CoreV1().ConfigMaps(namespace),
		namespace:    namespace,
		resourceName: resourceName,
	}
}

func (p *ConfigMap) String() string {
	return "kubernetes " + p.namespace + ":configmap/" + p.resourceName
}

// GetRevision gets the revision of the current sync marker. A missing
// ConfigMap or annotation means no revision has been recorded yet.
func (p *ConfigMap) GetRevision(ctx context.Context) (string, error) {
	resource, err := p.resourceAPI.Get(p.resourceName, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return resource.Annotations[syncMarkerKey], nil
}

// UpdateMarker updates the revision the sync marker points to,
// creating the ConfigMap on first use.
func (p *ConfigMap) UpdateMarker(ctx context.Context, revision string) error {
	err := p.setRevision(revision)
	if !k8serrors.IsNotFound(err) {
		return err
	}
	_, err = p.resourceAPI.Create(&corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:        p.resourceName,
			Namespace:   p.namespace,
			Annotations: map[string]string{syncMarkerKey: revision},
		},
	})
	return err
}

// DeleteMarker resets the state of the object.
func (p *ConfigMap) DeleteMarker(ctx context.Context) error {
	err := p.setRevision("")
	if k8serrors.IsNotFound(err) {
		return nil
	}
	return err
}

func (p *ConfigMap) setRevision(revision string) error {
	jsonPatch, err := json.Marshal(patch(revision))
	if err != nil {
		return err
	}

	_, err = p.resourceAPI.Patch(
		p.resourceName,
		types.StrategicMergePatchType,
		jsonPatch,
	)
	return err
}

func patch(revision string) map[string]map[string]map[string]string {
	return map[string]map[string]map[string]string{
		"metadata": {
			"annotations": {
				syncMarkerKey: revision,
			},
		},
	}
}
