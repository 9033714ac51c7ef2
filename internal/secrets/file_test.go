package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
)

const secretFile = `controller:
  access_key: CONTROLLERKEY
  secret_key: controller-secret
`

func writeSecretFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(secretFile), 0o600))
	return path
}

func TestFileBackendGetCredentials(t *testing.T) {
	ctx := context.Background()
	b, err := OpenFile(writeSecretFile(t), logr.Discard())
	require.NoError(t, err)

	creds, found, err := b.GetCredentials(ctx, "controller", true)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, v1alpha1.Credentials{Name: "controller", AccessKey: "CONTROLLERKEY", SecretKey: "controller-secret"}, creds)

	creds, found, err = b.GetCredentials(ctx, "team-assets", false)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "team-assets", creds.Name)
	assert.False(t, creds.HasAccessKey())

	_, _, err = b.GetCredentials(ctx, "team-assets", true)
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.ErrorIs(t, err, apierror.ErrStructuralConfig)
}

func TestFileBackendCleanupOnlyWritesWhenDirty(t *testing.T) {
	ctx := context.Background()
	path := writeSecretFile(t)

	clean, err := OpenFile(path, logr.Discard())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("sentinel: {}\n"), 0o600))
	require.NoError(t, clean.Cleanup(ctx))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sentinel: {}\n", string(data))

	require.NoError(t, os.WriteFile(path, []byte(secretFile), 0o600))
	b, err := OpenFile(path, logr.Discard())
	require.NoError(t, err)
	assert.False(t, b.Dirty())

	require.NoError(t, b.SetCredentials(ctx, v1alpha1.Credentials{Name: "team-assets", AccessKey: "AK", SecretKey: "SK"}))
	assert.True(t, b.Dirty())
	require.NoError(t, b.Cleanup(ctx))
	require.NoError(t, b.Cleanup(ctx))

	reopened, err := OpenFile(path, logr.Discard())
	require.NoError(t, err)
	creds, found, err := reopened.GetCredentials(ctx, "team-assets", true)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "SK", creds.SecretKey)
	_, found, err = reopened.GetCredentials(ctx, "controller", false)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestOpenFileErrors(t *testing.T) {
	_, err := OpenFile("", logr.Discard())
	assert.ErrorIs(t, err, apierror.ErrStructuralConfig)

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing.yaml"), logr.Discard())
	assert.ErrorIs(t, err, apierror.ErrStructuralConfig)
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("KeePass")
	require.NoError(t, err)
	assert.Equal(t, KindKeepass, kind)

	_, err = ParseKind("vault")
	assert.ErrorIs(t, err, apierror.ErrStructuralConfig)
}
