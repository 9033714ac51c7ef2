package parser

// Manifest document shapes. Pointer fields distinguish "not set" from a zero value.

type manifest struct {
	Buckets              []bucketEntry         `json:"buckets"`
	BucketPolicies       []bucketPolicyEntry   `json:"bucket_policies"`
	ServiceAccounts      []serviceAccountEntry `json:"service_accounts"`
	IamPolicies          []iamPolicyEntry      `json:"iam_policies"`
	IamPolicyAttachments []attachmentEntry     `json:"iam_policy_attachments"`
}

type bucketEntry struct {
	Name                 string  `json:"name"`
	Versioning           *string `json:"versioning"`
	CreateServiceAccount *bool   `json:"create_service_account"`
	ObjectLifecycleFile  *string `json:"object_lifecycle_file"`
}

type bucketPolicyEntry struct {
	Bucket     string `json:"bucket"`
	PolicyFile string `json:"policy_file"`
}

type serviceAccountEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PolicyFile  string `json:"policy_file"`
}

type iamPolicyEntry struct {
	Name       string `json:"name"`
	PolicyFile string `json:"policy_file"`
}

type attachmentEntry struct {
	Username string   `json:"username"`
	Policies []string `json:"policies"`
}

// lifecycleFile is the layout written by `mc ilm rule export`.
type lifecycleFile struct {
	Rules *[]lifecycleRuleEntry `json:"Rules"`
}

type lifecycleRuleEntry struct {
	ID                          string                              `json:"ID"`
	Status                      string                              `json:"Status"`
	Filter                      *lifecycleFilterEntry               `json:"Filter"`
	Expiration                  *lifecycleExpirationEntry           `json:"Expiration"`
	NoncurrentVersionExpiration *lifecycleNoncurrentExpirationEntry `json:"NoncurrentVersionExpiration"`
}

type lifecycleFilterEntry struct {
	Prefix string `json:"Prefix"`
}

type lifecycleExpirationEntry struct {
	Days                      *int64  `json:"Days"`
	Date                      *string `json:"Date"`
	ExpiredObjectDeleteMarker *bool   `json:"ExpiredObjectDeleteMarker"`
}

type lifecycleNoncurrentExpirationEntry struct {
	NoncurrentDays          *int64 `json:"NoncurrentDays"`
	NewerNoncurrentVersions *int64 `json:"NewerNoncurrentVersions"`
}
