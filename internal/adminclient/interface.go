package adminclient

import (
	"context"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
)

// ServiceAccountInfo is what the admin API reports about a service account.
type ServiceAccountInfo struct {
	AccessKey     string
	ParentUser    string
	Name          string
	Description   string
	Status        string
	ImpliedPolicy bool
	Policy        []byte
}

type AddServiceAccountRequest struct {
	TargetUser  string
	AccessKey   string
	SecretKey   string
	Name        string
	Description string
	Policy      []byte
}

// Client is every storage call the reconcilers make. Bucket calls go through the S3 API and
// identity calls through the admin API; errors are returned unclassified.
type Client interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket string) error
	GetBucketVersioning(ctx context.Context, bucket string) (v1alpha1.VersioningStatus, error)
	SetBucketVersioning(ctx context.Context, bucket string, status v1alpha1.VersioningStatus) error
	GetBucketLifecycle(ctx context.Context, bucket string) (*v1alpha1.LifecycleConfiguration, error)
	SetBucketLifecycle(ctx context.Context, bucket string, lc *v1alpha1.LifecycleConfiguration) error
	DeleteBucketLifecycle(ctx context.Context, bucket string) error
	GetBucketPolicy(ctx context.Context, bucket string) (string, error)
	SetBucketPolicy(ctx context.Context, bucket string, policy string) error

	InfoServiceAccount(ctx context.Context, accessKey string) (ServiceAccountInfo, error)
	ListServiceAccounts(ctx context.Context, parentUser string) ([]ServiceAccountInfo, error)
	AddServiceAccount(ctx context.Context, req AddServiceAccountRequest) (v1alpha1.Credentials, error)
	UpdateServiceAccountPolicy(ctx context.Context, accessKey string, policy []byte) error

	GetPolicy(ctx context.Context, name string) ([]byte, error)
	PutPolicy(ctx context.Context, name string, policy []byte) error
	AttachPolicy(ctx context.Context, policy, identity string) error
}
