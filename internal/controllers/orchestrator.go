package controllers

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/controllers/bucket"
	"github.com/snapp-incubator/s3-manager/internal/controllers/bucketpolicy"
	"github.com/snapp-incubator/s3-manager/internal/controllers/common"
	"github.com/snapp-incubator/s3-manager/internal/controllers/iamattachment"
	"github.com/snapp-incubator/s3-manager/internal/controllers/iampolicy"
	"github.com/snapp-incubator/s3-manager/internal/controllers/serviceaccount"
)

// Orchestrator runs every reconciler over the declared resources, one resource at a time.
type Orchestrator struct {
	buckets         *bucket.Reconciler
	bucketPolicies  *bucketpolicy.Reconciler
	serviceAccounts *serviceaccount.Reconciler
	iamPolicies     *iampolicy.Reconciler
	attachments     *iamattachment.Reconciler
	counter         *apierror.Counter
	logger          logr.Logger
}

func NewOrchestrator(deps common.Dependencies) *Orchestrator {
	serviceAccounts := serviceaccount.NewReconciler(deps)
	return &Orchestrator{
		buckets:         bucket.NewReconciler(deps, serviceAccounts),
		bucketPolicies:  bucketpolicy.NewReconciler(deps),
		serviceAccounts: serviceAccounts,
		iamPolicies:     iampolicy.NewReconciler(deps),
		attachments:     iamattachment.NewReconciler(deps),
		counter:         deps.Reporter.Counter(),
		logger:          deps.Logger,
	}
}

// Run reconciles buckets, bucket policies, service accounts, IAM policies and IAM policy
// attachments in that order. It stops at the first propagated error; counted errors are left
// in the shared counter.
func (o *Orchestrator) Run(ctx context.Context, resources *v1alpha1.ClusterResources) error {
	o.logger.Info("reconciling cluster resources", "resources", resources.Count())

	for _, b := range resources.Buckets {
		if err := o.buckets.Reconcile(ctx, b); err != nil {
			return err
		}
	}
	for _, bp := range resources.BucketPolicies {
		if err := o.bucketPolicies.Reconcile(ctx, bp); err != nil {
			return err
		}
	}
	for _, sa := range resources.ServiceAccounts {
		if err := o.serviceAccounts.Reconcile(ctx, sa); err != nil {
			return err
		}
	}
	for _, p := range resources.IamPolicies {
		if err := o.iamPolicies.Reconcile(ctx, p); err != nil {
			return err
		}
	}
	for _, a := range resources.IamPolicyAttachments {
		if err := o.attachments.Reconcile(ctx, a); err != nil {
			return err
		}
	}

	o.logger.Info("reconciliation finished", "errors", o.counter.Total(),
		"lifecycleReadUnsupported", o.buckets.LifecycleReadUnsupported())
	return nil
}
