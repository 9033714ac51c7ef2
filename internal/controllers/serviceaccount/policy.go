package serviceaccount

import (
	"context"
	"errors"

	"github.com/opdev/subreconciler"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/controllers/common"
	"github.com/snapp-incubator/s3-manager/internal/policy"
)

func (r *Reconciler) ensurePolicy(ctx context.Context) (*ctrl.Result, error) {
	desired := r.account.Policy
	if desired == nil {
		return subreconciler.ContinueReconciling()
	}
	accessKey := r.live.AccessKey

	if equal, err := r.livePolicyEquals(ctx, accessKey); err != nil {
		return common.Halt(r.report(err, "failed to get service account policy"))
	} else if equal {
		return subreconciler.ContinueReconciling()
	}

	body, err := policy.Marshal(desired)
	if err != nil {
		return common.Halt(r.report(err, "failed to encode service account policy"))
	}
	switch err := r.client.UpdateServiceAccountPolicy(ctx, accessKey, body); {
	case errors.Is(apierror.Classify(err), apierror.ErrMalformedPolicy):
		if perr := r.report(err, "service account policy rejected as malformed, applying the base policy"); perr != nil {
			return common.Halt(perr)
		}
		return common.Halt(r.applyBasePolicy(ctx, accessKey))
	case err != nil:
		return common.Halt(r.report(err, "failed to set service account policy"))
	}
	r.recorder.ObserveAction(kind, "policy")
	r.logger.Info("set service account policy", "policyFile", r.account.PolicyFile)

	return r.verifyPolicy(ctx, accessKey)
}

// verifyPolicy reads the policy back. The server silently replaces a policy granting more than the
// parent identity holds with the parent's own policy.
func (r *Reconciler) verifyPolicy(ctx context.Context, accessKey string) (*ctrl.Result, error) {
	info, err := r.client.InfoServiceAccount(ctx, accessKey)
	if err != nil {
		return common.Halt(r.report(err, "failed to read back service account policy"))
	}
	if equal, _ := policy.EqualJSON(r.account.Policy, info.Policy); equal {
		return subreconciler.ContinueReconciling()
	}

	ceiling, err := r.identity.Policy(ctx, r.client)
	if err != nil {
		return common.Halt(r.report(err, "failed to get controller policy"))
	}
	if ceilingEqual, _ := policy.EqualJSON(ceiling, info.Policy); ceiling != nil && ceilingEqual {
		if perr := r.report(apierror.New(apierror.KindAccessDenied,
			"the declared policy grants more than the controller user holds"),
			"service account policy capped at the controller policy, applying the base policy"); perr != nil {
			return common.Halt(perr)
		}
		return common.Halt(r.applyBasePolicy(ctx, accessKey))
	}

	return common.Halt(r.report(apierror.New(apierror.KindPolicyInconsistent,
		"live policy matches neither the declared policy nor the controller policy"),
		"service account policy is inconsistent, manual check required"))
}

// applyBasePolicy limits the account to its target bucket. It returns a propagated error only.
func (r *Reconciler) applyBasePolicy(ctx context.Context, accessKey string) error {
	base, err := r.template.Render(r.account.TargetBucket)
	if err != nil {
		return r.report(err, "failed to render base policy")
	}
	body, err := policy.Marshal(base)
	if err != nil {
		return r.report(err, "failed to encode base policy")
	}
	if err := r.client.UpdateServiceAccountPolicy(ctx, accessKey, body); err != nil {
		return r.report(err, "failed to apply base policy")
	}
	r.recorder.ObserveAction(kind, "base_policy")
	r.logger.Info("applied base policy", "targetBucket", r.account.TargetBucket)
	return nil
}

func (r *Reconciler) livePolicyEquals(ctx context.Context, accessKey string) (bool, error) {
	info, err := r.client.InfoServiceAccount(ctx, accessKey)
	if err != nil {
		return false, err
	}
	if info.ImpliedPolicy {
		return false, nil
	}
	equal, err := policy.EqualJSON(r.account.Policy, info.Policy)
	if err != nil {
		r.logger.V(1).Info("live policy could not be decoded, replacing it", "error", err.Error())
		return false, nil
	}
	return equal, nil
}
