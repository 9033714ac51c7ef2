package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/config"
	"github.com/snapp-incubator/s3-manager/internal/s3_agent"
)

// Kind selects a Backend implementation.
type Kind string

const (
	KindFile       Kind = "file"
	KindKeepass    Kind = "keepass"
	KindKubernetes Kind = "kubernetes"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindFile, KindKeepass, KindKubernetes:
		return k, nil
	default:
		return "", apierror.New(apierror.KindStructuralConfig,
			"unknown secret backend type %q, expected one of file, keepass, kubernetes", s)
	}
}

var ErrCredentialsNotFound = errors.New("credentials not found in secret backend")

// Backend is the store of record for service account credentials.
// Writes stay in memory until Cleanup, which persists them only when the backend is dirty and
// may be called any number of times.
type Backend interface {
	Kind() Kind
	// GetCredentials returns the credentials stored under name. A missing entry is reported
	// through the bool unless required is set, in which case it is an error.
	GetCredentials(ctx context.Context, name string, required bool) (v1alpha1.Credentials, bool, error)
	SetCredentials(ctx context.Context, creds v1alpha1.Credentials) error
	Dirty() bool
	Cleanup(ctx context.Context) error
}

// ObjectStore is the part of the S3 API the keepass backend needs to fetch and store its database.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	PutObject(ctx context.Context, bucket, key string, data []byte) error
}

// Dependencies lets callers inject clients; nil fields are built from the configuration.
type Dependencies struct {
	Logger      logr.Logger
	ObjectStore ObjectStore
	KubeClient  client.Client
}

// New opens the backend selected by cfg. Failures are always fatal errors.
func New(ctx context.Context, cfg *config.Config, deps Dependencies) (Backend, error) {
	kind, err := ParseKind(cfg.SecretBackendType)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger.WithValues("backend", string(kind))

	switch kind {
	case KindFile:
		return OpenFile(cfg.SecretBackendPath, logger)
	case KindKeepass:
		store := deps.ObjectStore
		if store == nil {
			agent, err := s3_agent.NewS3Agent(s3_agent.Options{
				Endpoint:  cfg.S3Endpoint,
				Region:    cfg.S3Region,
				Secure:    cfg.S3EndpointSecure,
				AccessKey: cfg.SecretBackendS3AccessKey,
				SecretKey: cfg.SecretBackendS3SecretKey,
				Debug:     cfg.Debug,
			})
			if err != nil {
				return nil, apierror.Wrap(apierror.KindConnectivity, err, "failed to create secret backend S3 client")
			}
			store = agent
		}
		return OpenKeepass(ctx, store, KeepassOptions{
			Bucket:    cfg.SecretBackendS3Bucket,
			Key:       cfg.KeepassFilename,
			Password:  cfg.KeepassPassword,
			GroupPath: []string{cfg.KeepassGroupRoot, cfg.ClusterName},
		}, logger)
	case KindKubernetes:
		kubeClient := deps.KubeClient
		if kubeClient == nil {
			restConfig, err := ctrlconfig.GetConfig()
			if err != nil {
				return nil, apierror.Wrap(apierror.KindConnectivity, err, "failed to load kubeconfig")
			}
			kubeClient, err = client.New(restConfig, client.Options{})
			if err != nil {
				return nil, apierror.Wrap(apierror.KindConnectivity, err, "failed to create kubernetes client")
			}
		}
		return OpenKubernetes(ctx, kubeClient, cfg.KubernetesNamespace, cfg.KubernetesSecretName, logger)
	}
	return nil, fmt.Errorf("unhandled secret backend type %q", kind)
}

func notFound(kind Kind, name string) error {
	return apierror.Wrap(apierror.KindStructuralConfig,
		fmt.Errorf("%w: %s", ErrCredentialsNotFound, name),
		fmt.Sprintf("required credentials %q are missing from the %s secret backend", name, kind))
}
