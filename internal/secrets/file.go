package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
)

// FileBackend keeps credentials in a flat YAML map of name to key pair.
// Secrets are stored in clear text so it is meant for testing only.
type FileBackend struct {
	path    string
	entries map[string]v1alpha1.Credentials
	dirty   bool
	closed  bool
	logger  logr.Logger
}

var _ Backend = &FileBackend{}

func OpenFile(path string, logger logr.Logger) (*FileBackend, error) {
	if path == "" {
		return nil, apierror.New(apierror.KindStructuralConfig, "secret_backend_path is required for the file secret backend")
	}
	logger.Info("WARNING: the file secret backend stores secrets in plain text and is insecure, use it for testing only",
		"path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindStructuralConfig, err, "failed to read secret file "+path)
	}
	entries := map[string]v1alpha1.Credentials{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, apierror.Wrap(apierror.KindStructuralConfig, err, "failed to parse secret file "+path)
	}
	for name, creds := range entries {
		creds.Name = name
		entries[name] = creds
	}

	return &FileBackend{
		path:    path,
		entries: entries,
		logger:  logger,
	}, nil
}

func (b *FileBackend) Kind() Kind {
	return KindFile
}

func (b *FileBackend) GetCredentials(_ context.Context, name string, required bool) (v1alpha1.Credentials, bool, error) {
	creds, ok := b.entries[name]
	if !ok {
		if required {
			return v1alpha1.Credentials{}, false, notFound(KindFile, name)
		}
		return v1alpha1.Credentials{Name: name}, false, nil
	}
	return creds, true, nil
}

func (b *FileBackend) SetCredentials(_ context.Context, creds v1alpha1.Credentials) error {
	if b.closed {
		return fmt.Errorf("secret file %s is already closed", b.path)
	}
	b.entries[creds.Name] = creds
	b.dirty = true
	return nil
}

func (b *FileBackend) Dirty() bool {
	return b.dirty
}

// Cleanup rewrites the file when anything changed. The file is replaced atomically.
func (b *FileBackend) Cleanup(_ context.Context) error {
	if b.closed {
		return nil
	}
	b.closed = true
	if !b.dirty {
		return nil
	}

	data, err := yaml.Marshal(b.entries)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(b.path), "."+filepath.Base(b.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to write secret file %s: %w", b.path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write secret file %s: %w", b.path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("failed to replace secret file %s: %w", b.path, err)
	}
	b.logger.Info("saved secret file", "path", b.path, "entries", len(b.entries))
	return nil
}
