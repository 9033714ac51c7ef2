package common

import (
	"context"
	"fmt"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/adminclient"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/policy"
)

// ControllerIdentity is the service account the tool authenticates as. Every service account it
// creates is a child of User, and its own policy is the ceiling for their policies.
type ControllerIdentity struct {
	User        string
	Credentials v1alpha1.Credentials

	policy  *v1alpha1.PolicyDocument
	fetched bool
}

func NewControllerIdentity(user string, creds v1alpha1.Credentials) *ControllerIdentity {
	return &ControllerIdentity{
		User:        user,
		Credentials: creds,
	}
}

// Verify checks the credentials against the cluster and caches the identity's policy.
// Any failure is a connectivity error since nothing else can work without this identity.
func (c *ControllerIdentity) Verify(ctx context.Context, client adminclient.Client) error {
	info, err := client.InfoServiceAccount(ctx, c.Credentials.AccessKey)
	if err != nil {
		return apierror.Wrap(apierror.KindConnectivity, apierror.Classify(err),
			fmt.Sprintf("failed to authenticate as controller user %s", c.User))
	}
	if info.ParentUser != "" && info.ParentUser != c.User {
		return apierror.New(apierror.KindStructuralConfig,
			"controller credentials belong to %s, expected %s", info.ParentUser, c.User)
	}
	return c.cache(info)
}

// Policy returns the identity's own policy, fetching it on first use. A nil document means the
// identity inherits its parent's policy and there is no explicit ceiling to compare against.
func (c *ControllerIdentity) Policy(ctx context.Context, client adminclient.Client) (*v1alpha1.PolicyDocument, error) {
	if c.fetched {
		return c.policy, nil
	}
	info, err := client.InfoServiceAccount(ctx, c.Credentials.AccessKey)
	if err != nil {
		return nil, err
	}
	if err := c.cache(info); err != nil {
		return nil, err
	}
	return c.policy, nil
}

func (c *ControllerIdentity) cache(info adminclient.ServiceAccountInfo) error {
	c.fetched = true
	if len(info.Policy) == 0 {
		c.policy = nil
		return nil
	}
	doc, err := policy.Parse(info.Policy)
	if err != nil {
		return fmt.Errorf("failed to parse controller policy: %w", err)
	}
	c.policy = doc
	return nil
}
