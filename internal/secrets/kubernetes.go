package secrets

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
)

const managedByLabel = "app.kubernetes.io/managed-by"

// KubernetesBackend keeps credentials in a single Secret. Each data key is an account name and
// each value a YAML document holding access_key and secret_key.
type KubernetesBackend struct {
	client.Client
	key     types.NamespacedName
	entries map[string]v1alpha1.Credentials
	dirty   bool
	closed  bool
	logger  logr.Logger
}

var _ Backend = &KubernetesBackend{}

func OpenKubernetes(ctx context.Context, c client.Client, namespace, name string, logger logr.Logger) (*KubernetesBackend, error) {
	b := &KubernetesBackend{
		Client:  c,
		key:     types.NamespacedName{Namespace: namespace, Name: name},
		entries: map[string]v1alpha1.Credentials{},
		logger:  logger.WithValues("secret", namespace+"/"+name),
	}

	existing := &corev1.Secret{}
	switch err := b.Get(ctx, b.key, existing); {
	case apierrors.IsNotFound(err):
		b.logger.Info("secret does not exist yet, it is created on the first write")
		return b, nil
	case err != nil:
		return nil, apierror.Wrap(apierror.KindConnectivity, err, "failed to get secret backend secret")
	}

	for accountName, raw := range existing.Data {
		creds := v1alpha1.Credentials{}
		if err := yaml.Unmarshal(raw, &creds); err != nil {
			return nil, apierror.Wrap(apierror.KindStructuralConfig, err,
				fmt.Sprintf("failed to parse key %q of secret %s", accountName, b.key))
		}
		creds.Name = accountName
		b.entries[accountName] = creds
	}
	return b, nil
}

func (b *KubernetesBackend) Kind() Kind {
	return KindKubernetes
}

func (b *KubernetesBackend) GetCredentials(_ context.Context, name string, required bool) (v1alpha1.Credentials, bool, error) {
	creds, ok := b.entries[name]
	if !ok {
		if required {
			return v1alpha1.Credentials{}, false, notFound(KindKubernetes, name)
		}
		return v1alpha1.Credentials{Name: name}, false, nil
	}
	return creds, true, nil
}

func (b *KubernetesBackend) SetCredentials(_ context.Context, creds v1alpha1.Credentials) error {
	if b.closed {
		return fmt.Errorf("secret %s is already flushed", b.key)
	}
	b.entries[creds.Name] = creds
	b.dirty = true
	return nil
}

func (b *KubernetesBackend) Dirty() bool {
	return b.dirty
}

// Cleanup creates or updates the secret when anything changed.
func (b *KubernetesBackend) Cleanup(ctx context.Context) error {
	if b.closed {
		return nil
	}
	b.closed = true
	if !b.dirty {
		return nil
	}

	data, err := b.assembleData()
	if err != nil {
		return err
	}

	existing := &corev1.Secret{}
	switch err := b.Get(ctx, b.key, existing); {
	case apierrors.IsNotFound(err):
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Namespace: b.key.Namespace,
				Name:      b.key.Name,
				Labels:    map[string]string{managedByLabel: "s3-manager"},
			},
			Type: corev1.SecretTypeOpaque,
			Data: data,
		}
		if err := b.Create(ctx, secret); err != nil {
			b.logger.Error(err, "failed to create secret")
			return err
		}
	case err != nil:
		b.logger.Error(err, "failed to get secret")
		return err
	default:
		existing.Data = data
		if err := b.Update(ctx, existing); err != nil {
			b.logger.Error(err, "failed to update secret")
			return err
		}
	}
	b.logger.Info("saved secret", "entries", len(data))
	return nil
}

func (b *KubernetesBackend) assembleData() (map[string][]byte, error) {
	names := make([]string, 0, len(b.entries))
	for name := range b.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make(map[string][]byte, len(names))
	for _, name := range names {
		raw, err := yaml.Marshal(b.entries[name])
		if err != nil {
			return nil, err
		}
		data[name] = raw
	}
	return data, nil
}
