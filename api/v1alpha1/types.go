package v1alpha1

import "fmt"

// Credentials is an access/secret key pair stored in a secret backend under Name.
type Credentials struct {
	Name      string `json:"-" yaml:"-"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"-" yaml:"secret_key"`
}

// HasAccessKey reports whether the access key half of the pair is known.
func (c Credentials) HasAccessKey() bool {
	return c.AccessKey != ""
}

// HasSecretKey reports whether the secret key half of the pair is known.
func (c Credentials) HasSecretKey() bool {
	return c.SecretKey != ""
}

// String never prints the secret key.
func (c Credentials) String() string {
	return fmt.Sprintf("%s (access key %q)", c.Name, c.AccessKey)
}

// MarshalLog implements logr.Marshaler so structured loggers redact the secret key as well.
func (c Credentials) MarshalLog() interface{} {
	return struct {
		Name      string `json:"name"`
		AccessKey string `json:"accessKey"`
		SecretKey string `json:"secretKey,omitempty"`
	}{
		Name:      c.Name,
		AccessKey: c.AccessKey,
		SecretKey: redact(c.SecretKey),
	}
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "************"
}

// ClusterResources holds every resource declared in a manifest, in declaration order.
type ClusterResources struct {
	Buckets              []*Bucket
	BucketPolicies       []*BucketPolicy
	ServiceAccounts      []*ServiceAccount
	IamPolicies          []*IamPolicy
	IamPolicyAttachments []*IamPolicyAttachment
}

// Count returns the number of declared resources across all kinds.
func (cr *ClusterResources) Count() int {
	if cr == nil {
		return 0
	}
	return len(cr.Buckets) + len(cr.BucketPolicies) + len(cr.ServiceAccounts) +
		len(cr.IamPolicies) + len(cr.IamPolicyAttachments)
}

// Empty reports whether the manifest declared nothing at all.
func (cr *ClusterResources) Empty() bool {
	return cr.Count() == 0
}
