package bucket

import (
	"context"
	"errors"

	"github.com/opdev/subreconciler"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/controllers/common"
)

func (r *Reconciler) ensureBucket(ctx context.Context) (*ctrl.Result, error) {
	switch exists, err := r.client.BucketExists(ctx, r.bucket.Name); {
	case err != nil:
		return common.Halt(r.report(err, "failed to check if bucket exists"))
	case exists:
		r.bucket.State = v1alpha1.BucketStateExists
		return subreconciler.ContinueReconciling()
	}

	r.bucket.State = v1alpha1.BucketStateDoesNotExist
	if err := r.client.CreateBucket(ctx, r.bucket.Name); err != nil {
		if errors.Is(apierror.Classify(err), apierror.ErrAccessDenied) {
			r.logger.Info("the controller user is not allowed to create this bucket, check its policy")
		}
		return common.Halt(r.report(err, "failed to create bucket"))
	}
	r.bucket.State = v1alpha1.BucketStateExists
	r.recorder.ObserveAction(kind, "create")
	r.logger.Info("created bucket")
	return subreconciler.ContinueReconciling()
}

func (r *Reconciler) ensureVersioning(ctx context.Context) (*ctrl.Result, error) {
	desired := r.bucket.Versioning
	if desired == "" {
		return subreconciler.ContinueReconciling()
	}

	live, err := r.client.GetBucketVersioning(ctx, r.bucket.Name)
	if err != nil {
		return common.Continue(r.report(err, "failed to get bucket versioning"))
	}
	if live == desired {
		return subreconciler.ContinueReconciling()
	}
	if live == v1alpha1.VersioningEnabled && desired == v1alpha1.VersioningSuspended {
		r.reporter.Warn("suspending versioning on a bucket that had it enabled, existing versions are kept",
			"bucket", r.bucket.Name)
	}

	switch err := r.client.SetBucketVersioning(ctx, r.bucket.Name, desired); {
	case errors.Is(apierror.Classify(err), apierror.ErrInvalidBucketState):
		return common.Continue(r.report(err, "versioning change rejected by the bucket state, object locking may be enabled"))
	case err != nil:
		return common.Continue(r.report(err, "failed to set bucket versioning"))
	}
	r.recorder.ObserveAction(kind, "versioning")
	r.logger.Info("set bucket versioning", "from", live, "to", desired)
	return subreconciler.ContinueReconciling()
}

func (r *Reconciler) ensureLifecycle(ctx context.Context) (*ctrl.Result, error) {
	desired := r.bucket.Lifecycle.Normalized()
	if desired == nil {
		return subreconciler.ContinueReconciling()
	}

	hasLive := true
	if !r.lifecycleReadUnsupported {
		live, err := r.client.GetBucketLifecycle(ctx, r.bucket.Name)
		classified := apierror.Classify(err)
		switch {
		case err == nil:
			if live.Equal(desired) {
				return subreconciler.ContinueReconciling()
			}
		case errors.Is(classified, apierror.ErrNoSuchLifecycle):
			hasLive = false
		case errors.Is(classified, apierror.ErrLifecycleFilterRequired):
			r.lifecycleReadUnsupported = true
			r.reporter.Warn("the server cannot return lifecycle configurations, they will be rewritten on every run",
				"bucket", r.bucket.Name)
		default:
			return common.Continue(r.report(err, "failed to get bucket lifecycle configuration"))
		}
	}

	if hasLive {
		err := r.client.DeleteBucketLifecycle(ctx, r.bucket.Name)
		if err != nil && !errors.Is(apierror.Classify(err), apierror.ErrNoSuchLifecycle) {
			return common.Continue(r.report(err, "failed to delete bucket lifecycle configuration"))
		}
	}
	if err := r.client.SetBucketLifecycle(ctx, r.bucket.Name, desired); err != nil {
		return common.Continue(r.report(err, "failed to set bucket lifecycle configuration"))
	}
	r.recorder.ObserveAction(kind, "lifecycle")
	r.logger.Info("set bucket lifecycle configuration", "rules", len(desired.Rules))
	return subreconciler.ContinueReconciling()
}

func (r *Reconciler) ensureServiceAccount(ctx context.Context) (*ctrl.Result, error) {
	if !r.bucket.CreateServiceAccount {
		return subreconciler.ContinueReconciling()
	}

	path, doc, release, err := r.template.Materialize(r.bucket.Name)
	defer release()
	if err != nil {
		return common.Halt(r.report(err, "failed to render service account policy"))
	}

	sa := v1alpha1.NewServiceAccount(r.bucket.Name, "")
	sa.PolicyFile = path
	sa.Policy = doc
	sa.PolicyGenerated = true
	if err := r.serviceAccounts.Reconcile(ctx, sa); err != nil {
		return subreconciler.RequeueWithError(err)
	}
	return subreconciler.ContinueReconciling()
}
