package adminclient

import (
	"context"

	"github.com/minio/madmin-go/v3"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/s3_agent"
)

type adminClient struct {
	admin *madmin.AdminClient
	s3    *s3_agent.S3Agent
}

func NewAdminClient(admin *madmin.AdminClient, s3 *s3_agent.S3Agent) Client {
	return &adminClient{
		admin: admin,
		s3:    s3,
	}
}

// New connects both APIs to endpoint with the same credentials.
func New(endpoint, region string, secure bool, creds v1alpha1.Credentials, debug bool) (Client, error) {
	admin, err := madmin.New(endpoint, creds.AccessKey, creds.SecretKey, secure)
	if err != nil {
		return nil, err
	}
	agent, err := s3_agent.NewS3Agent(s3_agent.Options{
		Endpoint:  endpoint,
		Region:    region,
		Secure:    secure,
		AccessKey: creds.AccessKey,
		SecretKey: creds.SecretKey,
		Debug:     debug,
	})
	if err != nil {
		return nil, err
	}
	return NewAdminClient(admin, agent), nil
}

func (a adminClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return a.s3.BucketExists(ctx, bucket)
}

func (a adminClient) CreateBucket(ctx context.Context, bucket string) error {
	return a.s3.CreateBucket(ctx, bucket)
}

func (a adminClient) GetBucketVersioning(ctx context.Context, bucket string) (v1alpha1.VersioningStatus, error) {
	status, err := a.s3.GetBucketVersioning(ctx, bucket)
	if err != nil {
		return "", err
	}
	if status == "" {
		return v1alpha1.VersioningOff, nil
	}
	return v1alpha1.VersioningStatus(status), nil
}

func (a adminClient) SetBucketVersioning(ctx context.Context, bucket string, status v1alpha1.VersioningStatus) error {
	return a.s3.PutBucketVersioning(ctx, bucket, string(status))
}

func (a adminClient) GetBucketLifecycle(ctx context.Context, bucket string) (*v1alpha1.LifecycleConfiguration, error) {
	return a.s3.GetBucketLifecycle(ctx, bucket)
}

func (a adminClient) SetBucketLifecycle(ctx context.Context, bucket string, lc *v1alpha1.LifecycleConfiguration) error {
	return a.s3.PutBucketLifecycle(ctx, bucket, lc)
}

func (a adminClient) DeleteBucketLifecycle(ctx context.Context, bucket string) error {
	return a.s3.DeleteBucketLifecycle(ctx, bucket)
}

func (a adminClient) GetBucketPolicy(ctx context.Context, bucket string) (string, error) {
	return a.s3.GetBucketPolicy(ctx, bucket)
}

func (a adminClient) SetBucketPolicy(ctx context.Context, bucket string, policy string) error {
	return a.s3.PutBucketPolicy(ctx, bucket, policy)
}

func (a adminClient) InfoServiceAccount(ctx context.Context, accessKey string) (ServiceAccountInfo, error) {
	info, err := a.admin.InfoServiceAccount(ctx, accessKey)
	if err != nil {
		return ServiceAccountInfo{}, err
	}
	return ServiceAccountInfo{
		AccessKey:     accessKey,
		ParentUser:    info.ParentUser,
		Name:          info.Name,
		Description:   info.Description,
		Status:        info.AccountStatus,
		ImpliedPolicy: info.ImpliedPolicy,
		Policy:        []byte(info.Policy),
	}, nil
}

// ListServiceAccounts returns full details for every account of parentUser. The list call does
// not carry policies, so each account is looked up individually.
func (a adminClient) ListServiceAccounts(ctx context.Context, parentUser string) ([]ServiceAccountInfo, error) {
	list, err := a.admin.ListServiceAccounts(ctx, parentUser)
	if err != nil {
		return nil, err
	}
	accounts := make([]ServiceAccountInfo, 0, len(list.Accounts))
	for _, account := range list.Accounts {
		info, err := a.InfoServiceAccount(ctx, account.AccessKey)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, info)
	}
	return accounts, nil
}

func (a adminClient) AddServiceAccount(ctx context.Context, req AddServiceAccountRequest) (v1alpha1.Credentials, error) {
	creds, err := a.admin.AddServiceAccount(ctx, madmin.AddServiceAccountReq{
		Policy:      req.Policy,
		TargetUser:  req.TargetUser,
		AccessKey:   req.AccessKey,
		SecretKey:   req.SecretKey,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		return v1alpha1.Credentials{}, err
	}
	return v1alpha1.Credentials{
		AccessKey: creds.AccessKey,
		SecretKey: creds.SecretKey,
	}, nil
}

func (a adminClient) UpdateServiceAccountPolicy(ctx context.Context, accessKey string, policy []byte) error {
	return a.admin.UpdateServiceAccount(ctx, accessKey, madmin.UpdateServiceAccountReq{
		NewPolicy: policy,
	})
}

func (a adminClient) GetPolicy(ctx context.Context, name string) ([]byte, error) {
	info, err := a.admin.InfoCannedPolicyV2(ctx, name)
	if err != nil {
		return nil, err
	}
	return info.Policy, nil
}

func (a adminClient) PutPolicy(ctx context.Context, name string, policy []byte) error {
	return a.admin.AddCannedPolicy(ctx, name, policy)
}

func (a adminClient) AttachPolicy(ctx context.Context, policy, identity string) error {
	return a.admin.SetPolicy(ctx, policy, identity, false)
}
