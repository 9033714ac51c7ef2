package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/adminclient"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/config"
	"github.com/snapp-incubator/s3-manager/internal/controllers"
	"github.com/snapp-incubator/s3-manager/internal/controllers/common"
	"github.com/snapp-incubator/s3-manager/internal/metrics"
	"github.com/snapp-incubator/s3-manager/internal/parser"
	"github.com/snapp-incubator/s3-manager/internal/policy"
	"github.com/snapp-incubator/s3-manager/internal/secrets"
)

const (
	ExitOK            = 0
	ExitErrorsCounted = 1
	ExitStructural    = 2
	ExitConnectivity  = 3
	ExitCleanup       = 4
)

var (
	ErrErrorsCounted = errors.New("errors were reported during reconciliation")
	ErrCleanup       = errors.New("failed to persist the secret backend")
)

// ClientFactory connects to the cluster as the controller identity.
type ClientFactory func(cfg *config.Config, creds v1alpha1.Credentials) (adminclient.Client, error)

func defaultClientFactory(cfg *config.Config, creds v1alpha1.Credentials) (adminclient.Client, error) {
	return adminclient.New(cfg.S3Endpoint, cfg.S3Region, cfg.S3EndpointSecure, creds, cfg.Debug)
}

// App wires a single reconciliation run together.
type App struct {
	cfg    *config.Config
	logger logr.Logger

	// NewClient and BackendDependencies can be replaced before Run, mostly by tests.
	NewClient           ClientFactory
	BackendDependencies secrets.Dependencies
}

func New(cfg *config.Config, logger logr.Logger) *App {
	return &App{
		cfg:                 cfg,
		logger:              logger,
		NewClient:           defaultClientFactory,
		BackendDependencies: secrets.Dependencies{Logger: logger},
	}
}

// Parse loads and validates the manifest without touching the cluster.
func (a *App) Parse() (*v1alpha1.ClusterResources, error) {
	p, err := parser.New(parser.Options{
		AllowedBucketPrefixes:    a.cfg.BucketPrefixes(),
		DefaultVersioning:        a.cfg.DefaultBucketVersioning,
		DefaultLifecycleFile:     a.cfg.DefaultLifecyclePolicyFile,
		AutoCreateServiceAccount: a.cfg.AutoCreateServiceAccount,
	}, a.logger.WithName("parser"))
	if err != nil {
		return nil, apierror.Wrap(apierror.KindStructuralConfig, err, "failed to build the manifest parser")
	}
	return p.Parse(a.cfg.ClusterResourcesFile)
}

// Run parses the manifest and reconciles it against the cluster. The secret backend is flushed
// however reconciliation ends. A nil error means nothing was counted.
func (a *App) Run(ctx context.Context) (err error) {
	started := time.Now()
	m := metrics.New()
	counter := apierror.NewCounter(m)
	defer func() {
		a.finish(m, counter, started, err)
	}()

	resources, err := a.Parse()
	if err != nil {
		return err
	}
	m.SetResources(map[string]int{
		"bucket":                len(resources.Buckets),
		"bucket_policy":         len(resources.BucketPolicies),
		"service_account":       len(resources.ServiceAccounts),
		"iam_policy":            len(resources.IamPolicies),
		"iam_policy_attachment": len(resources.IamPolicyAttachments),
	})
	if a.cfg.DryRun {
		a.logger.Info("dry run, manifest is valid and nothing was changed", "resources", resources.Count())
		return nil
	}

	if err := a.cfg.Validate(); err != nil {
		return apierror.Wrap(apierror.KindStructuralConfig, err, "invalid configuration")
	}
	template, err := policy.NewTemplate(a.cfg.ServiceAccountPolicyBaseFile)
	if err != nil {
		return apierror.Wrap(apierror.KindStructuralConfig, err, "invalid service account base policy")
	}

	backend, err := secrets.New(ctx, a.cfg, a.BackendDependencies)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := backend.Cleanup(context.WithoutCancel(ctx)); cerr != nil {
			a.logger.Error(cerr, "failed to persist the secret backend, newly created credentials may be lost")
			if err == nil {
				err = fmt.Errorf("%w: %w", ErrCleanup, cerr)
			}
		}
	}()

	creds, _, err := backend.GetCredentials(ctx, a.cfg.ControllerUser, true)
	if err != nil {
		return err
	}
	client, err := a.NewClient(a.cfg, creds)
	if err != nil {
		return apierror.Wrap(apierror.KindConnectivity, err, "failed to create storage clients")
	}
	identity := common.NewControllerIdentity(a.cfg.ControllerUser, creds)
	if err := identity.Verify(ctx, client); err != nil {
		return err
	}

	orchestrator := controllers.NewOrchestrator(common.Dependencies{
		Client:   client,
		Backend:  backend,
		Identity: identity,
		Template: template,
		Reporter: apierror.NewReporter(a.logger, counter, a.cfg.Debug),
		Recorder: m,
		Logger:   a.logger.WithValues("cluster", a.cfg.ClusterName),
	})
	if err := orchestrator.Run(ctx, resources); err != nil {
		return err
	}
	if n := counter.Total(); n > 0 {
		return fmt.Errorf("%w: %d", ErrErrorsCounted, n)
	}
	return nil
}

func (a *App) finish(m *metrics.Metrics, counter *apierror.Counter, started time.Time, err error) {
	m.Finish(started, err == nil)

	kv := []interface{}{"errors", counter.Total(), "duration", time.Since(started).String()}
	for kind, n := range counter.ByKind() {
		kv = append(kv, kind.String(), n)
	}
	a.logger.Info("run summary", kv...)

	if a.cfg.MetricsTextfile == "" {
		return
	}
	if werr := m.WriteTextfile(a.cfg.MetricsTextfile); werr != nil {
		a.logger.Error(werr, "failed to write metrics")
	}
}

// ExitCode maps the result of Run to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrCleanup):
		return ExitCleanup
	case errors.Is(err, apierror.ErrStructuralConfig), errors.Is(err, config.ErrMissingSetting):
		return ExitStructural
	case errors.Is(err, apierror.ErrConnectivity):
		return ExitConnectivity
	default:
		return ExitErrorsCounted
	}
}
