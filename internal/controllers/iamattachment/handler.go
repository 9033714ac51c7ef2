package iamattachment

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/adminclient"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/controllers/common"
)

const kind = "iam_policy_attachment"

// Reconciler attaches canned policies to identities. The attach call is idempotent so nothing is
// read first.
type Reconciler struct {
	client   adminclient.Client
	reporter *apierror.Reporter
	recorder common.Recorder
	logger   logr.Logger
}

func NewReconciler(deps common.Dependencies) *Reconciler {
	return &Reconciler{
		client:   deps.Client,
		reporter: deps.Reporter,
		recorder: deps.ActionRecorder(),
		logger:   deps.Logger.WithName(kind),
	}
}

// Reconcile attaches every policy of a. A failing policy does not stop the others.
func (r *Reconciler) Reconcile(ctx context.Context, a *v1alpha1.IamPolicyAttachment) error {
	for _, name := range a.Policies {
		if err := r.client.AttachPolicy(ctx, name, a.Identity); err != nil {
			if perr := r.reporter.Report(err, "failed to attach IAM policy", "identity", a.Identity, "policy", name); perr != nil {
				return perr
			}
			continue
		}
		r.recorder.ObserveAction(kind, "attach")
		r.logger.V(1).Info("attached IAM policy", "identity", a.Identity, "policy", name)
	}
	return nil
}
