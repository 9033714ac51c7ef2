package bucketpolicy

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

const kind = "bucket_policy"

// Reconciler reconciles the resource policy attached to a bucket.
type Reconciler struct {
	client     adminclient.Client
	reporter   *apierror.Reporter
	recorder   common.Recorder
	baseLogger logr.Logger
	logger     logr.Logger

	// reconcile specific variables
	bucketPolicy *v1alpha1.BucketPolicy
	livePolicy   string
	policyExists bool
}

func NewReconciler(deps common.Dependencies) *Reconciler {
	return &Reconciler{
		client:     deps.Client,
		reporter:   deps.Reporter,
		recorder:   deps.ActionRecorder(),
		baseLogger: deps.Logger.WithName(kind),
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, bp *v1alpha1.BucketPolicy) error {
	r.bucketPolicy = bp
	r.livePolicy = ""
	r.policyExists = false
	r.logger = r.baseLogger.WithValues("bucket", bp.Bucket)

	subrecs := []subreconciler.Fn{
		r.retrieveBucketPolicy,
		r.ensureBucketPolicy,
	}
	return common.RunSteps(ctx, subrecs)
}

func (r *Reconciler) retrieveBucketPolicy(ctx context.Context) (*ctrl.Result, error) {
	switch live, err := r.client.GetBucketPolicy(ctx, r.bucketPolicy.Bucket); {
	case errors.Is(apierror.Classify(err), apierror.ErrNoSuchPolicy):
		r.logger.V(1).Info("bucket has no policy yet")
	case err != nil:
		return common.Halt(r.report(err, "failed to get bucket policy"))
	default:
		r.livePolicy = live
		r.policyExists = true
	}
	return subreconciler.ContinueReconciling()
}

func (r *Reconciler) ensureBucketPolicy(ctx context.Context) (*ctrl.Result, error) {
	if r.policyExists {
		equal, err := policy.EqualJSON(r.bucketPolicy.Policy, []byte(r.livePolicy))
		if err != nil {
			r.logger.V(1).Info("live bucket policy could not be decoded, replacing it", "error", err.Error())
		}
		if equal {
			return subreconciler.ContinueReconciling()
		}
	}

	body, err := policy.Marshal(r.bucketPolicy.Policy)
	if err != nil {
		return common.Halt(r.report(err, "failed to encode bucket policy"))
	}
	switch err := r.client.SetBucketPolicy(ctx, r.bucketPolicy.Bucket, string(body)); {
	case errors.Is(apierror.Classify(err), apierror.ErrMalformedPolicy):
		return common.Halt(r.report(err,
			"bucket policy rejected as malformed, resource ARNs must match the bucket name exactly"))
	case err != nil:
		return common.Halt(r.report(err, "failed to set bucket policy"))
	}
	r.recorder.ObserveAction(kind, "set")
	r.logger.Info("set bucket policy", "policyFile", r.bucketPolicy.PolicyFile)
	return subreconciler.ContinueReconciling()
}

func (r *Reconciler) report(err error, msg string) error {
	return r.reporter.Report(err, msg, "bucket", r.bucketPolicy.Bucket, "policyFile", r.bucketPolicy.PolicyFile)
}
