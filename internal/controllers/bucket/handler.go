package bucket

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/opdev/subreconciler"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/adminclient"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/controllers/common"
	"github.com/snapp-incubator/s3-manager/internal/policy"
)

const kind = "bucket"

// ServiceAccountReconciler takes over the service account a bucket asks for.
type ServiceAccountReconciler interface {
	Reconcile(ctx context.Context, sa *v1alpha1.ServiceAccount) error
}

// Reconciler reconciles buckets, their versioning and lifecycle configuration.
// One instance serves a whole run so the lifecycle latch holds across buckets.
type Reconciler struct {
	client          adminclient.Client
	reporter        *apierror.Reporter
	recorder        common.Recorder
	template        *policy.Template
	serviceAccounts ServiceAccountReconciler
	baseLogger      logr.Logger
	logger          logr.Logger

	// lifecycleReadUnsupported is set once the server refused to return a lifecycle configuration.
	// From then on every declared lifecycle is written blindly.
	lifecycleReadUnsupported bool

	// reconcile specific variables
	bucket *v1alpha1.Bucket
}

func NewReconciler(deps common.Dependencies, serviceAccounts ServiceAccountReconciler) *Reconciler {
	return &Reconciler{
		client:          deps.Client,
		reporter:        deps.Reporter,
		recorder:        deps.ActionRecorder(),
		template:        deps.Template,
		serviceAccounts: serviceAccounts,
		baseLogger:      deps.Logger.WithName(kind),
	}
}

// Reconcile makes the live bucket match b. Per bucket failures are reported and only a
// propagated error is returned.
func (r *Reconciler) Reconcile(ctx context.Context, b *v1alpha1.Bucket) error {
	r.bucket = b
	r.logger = r.baseLogger.WithValues("bucket", b.Name)

	return r.Provision(ctx)
}

// LifecycleReadUnsupported reports whether the latch has been set during this run.
func (r *Reconciler) LifecycleReadUnsupported() bool {
	return r.lifecycleReadUnsupported
}

func (r *Reconciler) Provision(ctx context.Context) error {
	subrecs := []subreconciler.Fn{
		r.ensureBucket,
		r.ensureVersioning,
		r.ensureLifecycle,
		r.ensureServiceAccount,
	}
	return common.RunSteps(ctx, subrecs)
}

func (r *Reconciler) report(err error, msg string) error {
	return r.reporter.Report(err, msg, "bucket", r.bucket.Name)
}
