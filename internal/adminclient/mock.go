package adminclient

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/minio/madmin-go/v3"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

// MockBucket is the state the mock keeps per bucket.
type MockBucket struct {
	Versioning v1alpha1.VersioningStatus
	Lifecycle  *v1alpha1.LifecycleConfiguration
	Policy     string
}

// MockServiceAccount is the state the mock keeps per service account, keyed by access key.
type MockServiceAccount struct {
	ParentUser  string
	Name        string
	Description string
	SecretKey   string
	Policy      []byte
}

// MockClient is an in-memory Client that records every write.
type MockClient struct {
	Buckets         map[string]*MockBucket
	ServiceAccounts map[string]*MockServiceAccount
	Policies        map[string][]byte
	Attachments     map[string][]string

	// Calls counts every call by method name.
	Calls map[string]int
	// Writes counts mutating calls only.
	Writes int

	// Errors makes the named method fail until the entry is removed.
	Errors map[string]error
	// LifecycleReadUnsupported makes lifecycle reads fail the way some servers do when a stored
	// rule has no filter.
	LifecycleReadUnsupported bool
	// PolicyCeiling, when set, replaces any service account policy granting a wildcard action,
	// mimicking a server that silently caps a policy at the parent's permissions.
	PolicyCeiling []byte

	nextKey int
}

func NewMockClient() *MockClient {
	return &MockClient{
		Buckets:         make(map[string]*MockBucket),
		ServiceAccounts: make(map[string]*MockServiceAccount),
		Policies:        make(map[string][]byte),
		Attachments:     make(map[string][]string),
		Calls:           make(map[string]int),
		Errors:          make(map[string]error),
	}
}

var _ Client = &MockClient{}

// ResetCounters clears call and write counts, keeping state.
func (m *MockClient) ResetCounters() {
	m.Calls = make(map[string]int)
	m.Writes = 0
}

func (m *MockClient) call(method string, write bool) error {
	m.Calls[method]++
	if err, ok := m.Errors[method]; ok {
		return err
	}
	if write {
		m.Writes++
	}
	return nil
}

func (m *MockClient) bucket(name string) (*MockBucket, error) {
	b, ok := m.Buckets[name]
	if !ok {
		return nil, awserr.New(consts.ErrCodeNoSuchBucket, "The specified bucket does not exist", nil)
	}
	return b, nil
}

func (m *MockClient) BucketExists(_ context.Context, bucket string) (bool, error) {
	if err := m.call("BucketExists", false); err != nil {
		return false, err
	}
	_, ok := m.Buckets[bucket]
	return ok, nil
}

func (m *MockClient) CreateBucket(_ context.Context, bucket string) error {
	if err := m.call("CreateBucket", true); err != nil {
		return err
	}
	if _, ok := m.Buckets[bucket]; !ok {
		m.Buckets[bucket] = &MockBucket{Versioning: v1alpha1.VersioningOff}
	}
	return nil
}

func (m *MockClient) GetBucketVersioning(_ context.Context, bucket string) (v1alpha1.VersioningStatus, error) {
	if err := m.call("GetBucketVersioning", false); err != nil {
		return "", err
	}
	b, err := m.bucket(bucket)
	if err != nil {
		return "", err
	}
	return b.Versioning, nil
}

func (m *MockClient) SetBucketVersioning(_ context.Context, bucket string, status v1alpha1.VersioningStatus) error {
	if err := m.call("SetBucketVersioning", true); err != nil {
		return err
	}
	b, err := m.bucket(bucket)
	if err != nil {
		return err
	}
	b.Versioning = status
	return nil
}

func (m *MockClient) GetBucketLifecycle(_ context.Context, bucket string) (*v1alpha1.LifecycleConfiguration, error) {
	if err := m.call("GetBucketLifecycle", false); err != nil {
		return nil, err
	}
	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}
	if m.LifecycleReadUnsupported {
		return nil, awserr.New("MalformedXML", "rule "+consts.ErrMessageLifecycleFilterRequired, nil)
	}
	if b.Lifecycle == nil {
		return nil, awserr.New(consts.ErrCodeNoSuchLifecycle, "The lifecycle configuration does not exist", nil)
	}
	return b.Lifecycle.Normalized(), nil
}

func (m *MockClient) SetBucketLifecycle(_ context.Context, bucket string, lc *v1alpha1.LifecycleConfiguration) error {
	if err := m.call("SetBucketLifecycle", true); err != nil {
		return err
	}
	b, err := m.bucket(bucket)
	if err != nil {
		return err
	}
	b.Lifecycle = lc.Normalized()
	return nil
}

func (m *MockClient) DeleteBucketLifecycle(_ context.Context, bucket string) error {
	if err := m.call("DeleteBucketLifecycle", true); err != nil {
		return err
	}
	b, err := m.bucket(bucket)
	if err != nil {
		return err
	}
	b.Lifecycle = nil
	return nil
}

func (m *MockClient) GetBucketPolicy(_ context.Context, bucket string) (string, error) {
	if err := m.call("GetBucketPolicy", false); err != nil {
		return "", err
	}
	b, err := m.bucket(bucket)
	if err != nil {
		return "", err
	}
	if b.Policy == "" {
		return "", awserr.New(consts.ErrCodeNoSuchBucketPolicy, "The bucket policy does not exist", nil)
	}
	return b.Policy, nil
}

func (m *MockClient) SetBucketPolicy(_ context.Context, bucket string, policy string) error {
	if err := m.call("SetBucketPolicy", true); err != nil {
		return err
	}
	b, err := m.bucket(bucket)
	if err != nil {
		return err
	}
	b.Policy = policy
	return nil
}

func (m *MockClient) InfoServiceAccount(_ context.Context, accessKey string) (ServiceAccountInfo, error) {
	if err := m.call("InfoServiceAccount", false); err != nil {
		return ServiceAccountInfo{}, err
	}
	sa, ok := m.ServiceAccounts[accessKey]
	if !ok {
		return ServiceAccountInfo{}, madmin.ErrorResponse{
			Code:    consts.ErrCodeInvalidIAMCredentials,
			Message: "The security token included in the request is invalid",
		}
	}
	return m.info(accessKey, sa), nil
}

func (m *MockClient) info(accessKey string, sa *MockServiceAccount) ServiceAccountInfo {
	return ServiceAccountInfo{
		AccessKey:     accessKey,
		ParentUser:    sa.ParentUser,
		Name:          sa.Name,
		Description:   sa.Description,
		Status:        "on",
		ImpliedPolicy: len(sa.Policy) == 0,
		Policy:        append([]byte(nil), sa.Policy...),
	}
}

func (m *MockClient) ListServiceAccounts(_ context.Context, parentUser string) ([]ServiceAccountInfo, error) {
	if err := m.call("ListServiceAccounts", false); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m.ServiceAccounts))
	for key, sa := range m.ServiceAccounts {
		if sa.ParentUser == parentUser {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	accounts := make([]ServiceAccountInfo, 0, len(keys))
	for _, key := range keys {
		accounts = append(accounts, m.info(key, m.ServiceAccounts[key]))
	}
	return accounts, nil
}

func (m *MockClient) AddServiceAccount(_ context.Context, req AddServiceAccountRequest) (v1alpha1.Credentials, error) {
	if err := m.call("AddServiceAccount", true); err != nil {
		return v1alpha1.Credentials{}, err
	}
	if len([]rune(req.Name)) > consts.ServiceAccountNameMaxLength {
		return v1alpha1.Credentials{}, madmin.ErrorResponse{Code: "XMinioAdminInvalidArgument", Message: "name too long"}
	}
	accessKey, secretKey := req.AccessKey, req.SecretKey
	if accessKey == "" {
		m.nextKey++
		accessKey = fmt.Sprintf("MOCKACCESSKEY%04d", m.nextKey)
		secretKey = fmt.Sprintf("mock-secret-%04d", m.nextKey)
	}
	if _, ok := m.ServiceAccounts[accessKey]; ok {
		return v1alpha1.Credentials{}, madmin.ErrorResponse{Code: "XMinioAdminServiceAccountExists", Message: "exists"}
	}
	m.ServiceAccounts[accessKey] = &MockServiceAccount{
		ParentUser:  req.TargetUser,
		Name:        req.Name,
		Description: req.Description,
		SecretKey:   secretKey,
		Policy:      req.Policy,
	}
	return v1alpha1.Credentials{AccessKey: accessKey, SecretKey: secretKey}, nil
}

func (m *MockClient) UpdateServiceAccountPolicy(_ context.Context, accessKey string, policy []byte) error {
	if err := m.call("UpdateServiceAccountPolicy", true); err != nil {
		return err
	}
	sa, ok := m.ServiceAccounts[accessKey]
	if !ok {
		return madmin.ErrorResponse{Code: consts.ErrCodeAdminSvcAccNotFound, Message: "not found"}
	}
	if m.PolicyCeiling != nil && strings.Contains(string(policy), `"s3:*"`) {
		sa.Policy = append([]byte(nil), m.PolicyCeiling...)
		return nil
	}
	sa.Policy = append([]byte(nil), policy...)
	return nil
}

func (m *MockClient) GetPolicy(_ context.Context, name string) ([]byte, error) {
	if err := m.call("GetPolicy", false); err != nil {
		return nil, err
	}
	p, ok := m.Policies[name]
	if !ok {
		return nil, madmin.ErrorResponse{Code: consts.ErrCodeAdminNoSuchPolicy, Message: "policy does not exist"}
	}
	return p, nil
}

func (m *MockClient) PutPolicy(_ context.Context, name string, policy []byte) error {
	if err := m.call("PutPolicy", true); err != nil {
		return err
	}
	m.Policies[name] = append([]byte(nil), policy...)
	return nil
}

func (m *MockClient) AttachPolicy(_ context.Context, policy, identity string) error {
	if err := m.call("AttachPolicy", false); err != nil {
		return err
	}
	if _, ok := m.Policies[policy]; !ok {
		return madmin.ErrorResponse{Code: consts.ErrCodeAdminNoSuchPolicy, Message: "policy does not exist"}
	}
	for _, p := range m.Attachments[identity] {
		if p == policy {
			return nil
		}
	}
	m.Writes++
	m.Attachments[identity] = append(m.Attachments[identity], policy)
	return nil
}
