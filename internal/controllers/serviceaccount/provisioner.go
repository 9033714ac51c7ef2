package serviceaccount

import (
	"context"
	"errors"

	"github.com/opdev/subreconciler"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/adminclient"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/controllers/common"
)

func (r *Reconciler) retrieveStoredCredentials(ctx context.Context) (*ctrl.Result, error) {
	creds, found, err := r.backend.GetCredentials(ctx, r.account.FullName, false)
	if err != nil {
		return common.Halt(r.report(err, "failed to read credentials from the secret backend"))
	}
	r.stored = creds
	r.storedFound = found && creds.HasAccessKey()
	return subreconciler.ContinueReconciling()
}

// retrieveLiveServiceAccount looks the account up by its stored access key first and falls back
// to scanning every service account of the controller identity.
func (r *Reconciler) retrieveLiveServiceAccount(ctx context.Context) (*ctrl.Result, error) {
	if r.storedFound {
		info, err := r.client.InfoServiceAccount(ctx, r.stored.AccessKey)
		classified := apierror.Classify(err)
		switch {
		case err == nil:
			r.live = &info
			return subreconciler.ContinueReconciling()
		case errors.Is(classified, apierror.ErrInvalidCredentials), errors.Is(classified, apierror.ErrNoSuchUser):
			r.logger.V(1).Info("stored access key is unknown to the cluster, scanning service accounts")
		default:
			return common.Halt(r.report(err, "failed to get service account"))
		}
	}

	accounts, err := r.client.ListServiceAccounts(ctx, r.identity.User)
	if err != nil {
		return common.Halt(r.report(err, "failed to list service accounts"))
	}
	if found := r.match(accounts); found != nil {
		if r.storedFound && found.AccessKey != r.stored.AccessKey {
			r.reporter.Warn("the secret backend holds a different access key than the cluster, using the cluster's",
				"serviceAccount", r.account.FullName, "accessKey", found.AccessKey)
		}
		r.live = found
		return subreconciler.ContinueReconciling()
	}

	for i := range accounts {
		if accounts[i].Name == r.account.Name && !r.ownedByOther(accounts[i]) {
			return common.Halt(r.report(apierror.New(apierror.KindManualIntervention,
				"service account %s only matches %s by its truncated name, refusing to create another one",
				accounts[i].AccessKey, r.account.FullName),
				"ambiguous service account"))
		}
	}
	return subreconciler.ContinueReconciling()
}

// match finds the account by exact name first, then by description. A name hit whose
// description belongs to another account is a truncation collision and not ours.
func (r *Reconciler) match(accounts []adminclient.ServiceAccountInfo) *adminclient.ServiceAccountInfo {
	for i := range accounts {
		if accounts[i].Name == r.account.FullName && !r.ownedByOther(accounts[i]) {
			return &accounts[i]
		}
	}
	for i := range accounts {
		if r.account.MatchesDescription(accounts[i].Description) {
			return &accounts[i]
		}
	}
	return nil
}

func (r *Reconciler) ensureServiceAccount(ctx context.Context) (*ctrl.Result, error) {
	inCluster := r.live != nil
	switch {
	case inCluster && r.storedFound:
		return subreconciler.ContinueReconciling()

	case inCluster:
		return common.Halt(r.report(apierror.New(apierror.KindManualIntervention,
			"service account %s exists in the cluster but its credentials are not in the %s secret backend",
			r.live.AccessKey, r.backend.Kind()),
			"manual intervention required"))

	case r.storedFound && !r.stored.HasSecretKey():
		return common.Halt(r.report(apierror.New(apierror.KindManualIntervention,
			"secret backend entry has an access key but no secret key and the cluster has no such account"),
			"incomplete secret backend entry"))

	case r.storedFound:
		r.reporter.Warn("service account missing from the cluster, re-creating it with the stored credentials",
			"serviceAccount", r.account.FullName)
		if _, err := r.client.AddServiceAccount(ctx, r.addRequest(r.stored.AccessKey, r.stored.SecretKey)); err != nil {
			return common.Halt(r.report(err, "failed to re-create service account"))
		}
		r.live = &adminclient.ServiceAccountInfo{AccessKey: r.stored.AccessKey, ImpliedPolicy: true}
		r.recorder.ObserveAction(kind, "recreate")
		r.logger.Info("re-created service account", "accessKey", r.stored.AccessKey)
		return subreconciler.ContinueReconciling()
	}

	creds, err := r.client.AddServiceAccount(ctx, r.addRequest("", ""))
	if err != nil {
		return common.Halt(r.report(err, "failed to create service account"))
	}
	creds.Name = r.account.FullName
	r.recorder.ObserveAction(kind, "create")
	r.logger.Info("created service account", "accessKey", creds.AccessKey)

	if err := r.backend.SetCredentials(ctx, creds); err != nil {
		return common.Halt(r.report(err, "service account created but its credentials could not be stored"))
	}
	r.account.Credentials = creds
	r.live = &adminclient.ServiceAccountInfo{AccessKey: creds.AccessKey, ImpliedPolicy: true}
	return subreconciler.ContinueReconciling()
}

func (r *Reconciler) addRequest(accessKey, secretKey string) adminclient.AddServiceAccountRequest {
	return adminclient.AddServiceAccountRequest{
		TargetUser:  r.identity.User,
		AccessKey:   accessKey,
		SecretKey:   secretKey,
		Name:        r.account.Name,
		Description: r.account.Description,
	}
}

// ownedByOther reports whether the description of info names another account that truncates to
// the same admin name.
func (r *Reconciler) ownedByOther(info adminclient.ServiceAccountInfo) bool {
	if info.Description == "" || r.account.MatchesDescription(info.Description) {
		return false
	}
	described := v1alpha1.DescribedName(info.Description)
	return described != r.account.FullName && v1alpha1.TruncateServiceAccountName(described) == info.Name
}
