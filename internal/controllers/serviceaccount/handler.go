package serviceaccount

import (
	"context"
	"os"

	"github.com/go-logr/logr"
	"github.com/opdev/subreconciler"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/adminclient"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/controllers/common"
	"github.com/snapp-incubator/s3-manager/internal/policy"
	"github.com/snapp-incubator/s3-manager/internal/secrets"
)

const kind = "service_account"

// Reconciler reconciles service accounts owned by the controller identity. The cluster, the
// secret backend and the manifest are all consulted before anything is created.
type Reconciler struct {
	client     adminclient.Client
	backend    secrets.Backend
	identity   *common.ControllerIdentity
	template   *policy.Template
	reporter   *apierror.Reporter
	recorder   common.Recorder
	baseLogger logr.Logger
	logger     logr.Logger

	// reconcile specific variables
	account     *v1alpha1.ServiceAccount
	stored      v1alpha1.Credentials
	storedFound bool
	live        *adminclient.ServiceAccountInfo
}

func NewReconciler(deps common.Dependencies) *Reconciler {
	return &Reconciler{
		client:     deps.Client,
		backend:    deps.Backend,
		identity:   deps.Identity,
		template:   deps.Template,
		reporter:   deps.Reporter,
		recorder:   deps.ActionRecorder(),
		baseLogger: deps.Logger.WithName(kind),
	}
}

// Reconcile makes sure sa exists in the cluster and in the secret backend, and that its policy
// is the declared one.
func (r *Reconciler) Reconcile(ctx context.Context, sa *v1alpha1.ServiceAccount) error {
	r.account = sa
	r.stored = v1alpha1.Credentials{}
	r.storedFound = false
	r.live = nil
	r.logger = r.baseLogger.WithValues("serviceAccount", sa.FullName)

	if sa.PolicyGenerated && sa.PolicyFile != "" {
		defer os.Remove(sa.PolicyFile)
	}

	return r.Provision(ctx)
}

func (r *Reconciler) Provision(ctx context.Context) error {
	subrecs := []subreconciler.Fn{
		r.retrieveStoredCredentials,
		r.retrieveLiveServiceAccount,
		r.ensureServiceAccount,
		r.ensurePolicy,
	}
	return common.RunSteps(ctx, subrecs)
}

func (r *Reconciler) report(err error, msg string) error {
	return r.reporter.Report(err, msg, "serviceAccount", r.account.FullName)
}
