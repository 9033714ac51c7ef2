package iampolicy

import (
	"context"
	"errors"

	"github.com/go-logr/logr"
	"github.com/opdev/subreconciler"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/adminclient"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/controllers/common"
	"github.com/snapp-incubator/s3-manager/internal/policy"
)

const kind = "iam_policy"

// Reconciler reconciles canned IAM policies. Policies are created or overwritten, never removed.
type Reconciler struct {
	client     adminclient.Client
	reporter   *apierror.Reporter
	recorder   common.Recorder
	baseLogger logr.Logger
	logger     logr.Logger

	// reconcile specific variables
	iamPolicy *v1alpha1.IamPolicy
	live      []byte
}

func NewReconciler(deps common.Dependencies) *Reconciler {
	return &Reconciler{
		client:     deps.Client,
		reporter:   deps.Reporter,
		recorder:   deps.ActionRecorder(),
		baseLogger: deps.Logger.WithName(kind),
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, p *v1alpha1.IamPolicy) error {
	r.iamPolicy = p
	r.live = nil
	r.logger = r.baseLogger.WithValues("policy", p.Name)

	subrecs := []subreconciler.Fn{
		r.retrievePolicy,
		r.ensurePolicy,
	}
	return common.RunSteps(ctx, subrecs)
}

func (r *Reconciler) retrievePolicy(ctx context.Context) (*ctrl.Result, error) {
	switch live, err := r.client.GetPolicy(ctx, r.iamPolicy.Name); {
	case errors.Is(apierror.Classify(err), apierror.ErrNoSuchPolicy):
		r.logger.V(1).Info("policy does not exist yet")
	case err != nil:
		return common.Halt(r.report(err, "failed to get IAM policy"))
	default:
		r.live = live
	}
	return subreconciler.ContinueReconciling()
}

func (r *Reconciler) ensurePolicy(ctx context.Context) (*ctrl.Result, error) {
	if r.live != nil {
		if equal, _ := policy.EqualJSON(r.iamPolicy.Policy, r.live); equal {
			return subreconciler.ContinueReconciling()
		}
	}

	body, err := policy.Marshal(r.iamPolicy.Policy)
	if err != nil {
		return common.Halt(r.report(err, "failed to encode IAM policy"))
	}
	if err := r.client.PutPolicy(ctx, r.iamPolicy.Name, body); err != nil {
		return common.Halt(r.report(err, "failed to put IAM policy"))
	}
	action := "create"
	if r.live != nil {
		action = "update"
	}
	r.recorder.ObserveAction(kind, action)
	r.logger.Info("stored IAM policy", "action", action, "policyFile", r.iamPolicy.PolicyFile)
	return subreconciler.ContinueReconciling()
}

func (r *Reconciler) report(err error, msg string) error {
	return r.reporter.Report(err, msg, "policy", r.iamPolicy.Name, "policyFile", r.iamPolicy.PolicyFile)
}
