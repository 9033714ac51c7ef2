package secrets

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
)

func TestKubernetesBackendCreatesSecretOnFirstWrite(t *testing.T) {
	ctx := context.Background()
	c := fake.NewClientBuilder().Build()

	b, err := OpenKubernetes(ctx, c, "storage", "minio-manager-secrets", logr.Discard())
	require.NoError(t, err)
	_, found, err := b.GetCredentials(ctx, "team-assets", false)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, b.Cleanup(ctx))
	secret := &corev1.Secret{}
	assert.Error(t, c.Get(ctx, types.NamespacedName{Namespace: "storage", Name: "minio-manager-secrets"}, secret))

	b, err = OpenKubernetes(ctx, c, "storage", "minio-manager-secrets", logr.Discard())
	require.NoError(t, err)
	require.NoError(t, b.SetCredentials(ctx, v1alpha1.Credentials{Name: "team-assets", AccessKey: "AK", SecretKey: "SK"}))
	require.NoError(t, b.Cleanup(ctx))

	require.NoError(t, c.Get(ctx, types.NamespacedName{Namespace: "storage", Name: "minio-manager-secrets"}, secret))
	assert.Contains(t, string(secret.Data["team-assets"]), "secret_key: SK")
	assert.Equal(t, "s3-manager", secret.Labels[managedByLabel])
}

func TestKubernetesBackendUpdatesExistingSecret(t *testing.T) {
	ctx := context.Background()
	existing := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Namespace: "storage", Name: "minio-manager-secrets"},
		Data: map[string][]byte{
			"controller": []byte("access_key: CONTROLLERKEY\nsecret_key: controller-secret\n"),
		},
	}
	c := fake.NewClientBuilder().WithObjects(existing).Build()

	b, err := OpenKubernetes(ctx, c, "storage", "minio-manager-secrets", logr.Discard())
	require.NoError(t, err)

	creds, found, err := b.GetCredentials(ctx, "controller", true)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "CONTROLLERKEY", creds.AccessKey)

	require.NoError(t, b.SetCredentials(ctx, v1alpha1.Credentials{Name: "team-assets", AccessKey: "AK", SecretKey: "SK"}))
	require.NoError(t, b.Cleanup(ctx))

	secret := &corev1.Secret{}
	require.NoError(t, c.Get(ctx, types.NamespacedName{Namespace: "storage", Name: "minio-manager-secrets"}, secret))
	assert.Len(t, secret.Data, 2)
	assert.Contains(t, string(secret.Data["controller"]), "CONTROLLERKEY")
}
