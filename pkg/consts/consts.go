package consts

import "errors"

const (
	DataKeyAccessKey = "access_key"
	DataKeySecretKey = "secret_key"

	// ServiceAccountNameMaxLength is the longest name the admin API accepts for a service account.
	ServiceAccountNameMaxLength = 32
	// ServiceAccountDescriptionSeparator separates the untruncated name from the free-form description.
	ServiceAccountDescriptionSeparator = " - "

	BucketNameMinLength = 3
	BucketNameMaxLength = 63

	// BucketNamePlaceholder is replaced by the target bucket name in service account policy templates.
	BucketNamePlaceholder = "BUCKET_NAME_REPLACE_ME"

	VersioningEnabled   = "Enabled"
	VersioningSuspended = "Suspended"

	LifecycleStatusEnabled  = "Enabled"
	LifecycleStatusDisabled = "Disabled"

	EnvPrefix      = "MINIO_MANAGER_"
	DotEnvFileName = "config.env"

	MetricsNamespace = "s3_manager"
)

// Storage and admin API error codes.
const (
	ErrCodeInvalidIAMCredentials    = "XMinioInvalidIAMCredentials"
	ErrCodeInvalidAccessKeyID       = "InvalidAccessKeyId"
	ErrCodeSignatureDoesNotMatch    = "SignatureDoesNotMatch"
	ErrCodeAdminInvalidAccessKey    = "XMinioAdminInvalidAccessKey"
	ErrCodeAdminInvalidSecretKey    = "XMinioAdminInvalidSecretKey"
	ErrCodeAdminNoSuchUser          = "XMinioAdminNoSuchUser"
	ErrCodeAdminNoSuchSvcAcc        = "XMinioAdminNoSuchServiceAccount"
	ErrCodeAdminSvcAccNotFound      = "XMinioAdminServiceAccountNotFound"
	ErrCodeAdminNoSuchPolicy        = "XMinioAdminNoSuchPolicy"
	ErrCodeNoSuchBucketPolicy       = "NoSuchBucketPolicy"
	ErrCodeMalformedIAMPolicy       = "XMinioMalformedIAMPolicy"
	ErrCodeMalformedPolicy          = "MalformedPolicy"
	ErrCodeAccessDenied             = "AccessDenied"
	ErrCodeInvalidBucketState       = "InvalidBucketState"
	ErrCodeNoSuchLifecycle          = "NoSuchLifecycleConfiguration"
	ErrCodeNoSuchBucket             = "NoSuchBucket"
	ErrCodeNotFound                 = "NotFound"
	ErrCodeServiceAccountNotAllowed = "XMinioIAMServiceAccountNotAllowed"
	ErrCodeInternalError            = "InternalError"
	ErrCodeServerNotInitialized     = "XMinioServerNotInitialized"
	ErrCodeRequestError             = "RequestError"

	// ErrMessageLifecycleFilterRequired is returned when reading back a lifecycle rule stored without a filter.
	ErrMessageLifecycleFilterRequired = "filter must be provided"
)

var (
	ErrBucketNameLength  = errors.New("bucket names must be between 3 and 63 characters long")
	ErrBucketNamePrefix  = errors.New("bucket name does not start with one of the allowed prefixes")
	ErrInvalidVersioning = errors.New("versioning must be either Enabled or Suspended")
	ErrInvalidPolicy     = errors.New("invalid policy document")
	ErrInvalidLifecycle  = errors.New("invalid lifecycle configuration")
	ErrDuplicateResource = errors.New("resource defined multiple times")
	ErrEmptyPolicyList   = errors.New("at least one policy must be attached")
)
