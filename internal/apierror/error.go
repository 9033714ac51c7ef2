package apierror

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/minio/madmin-go/v3"

	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

// Error is a classified failure. Code is the provider error code when there was one.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrStructuralConfig         = &Error{Kind: KindStructuralConfig}
	ErrConnectivity             = &Error{Kind: KindConnectivity}
	ErrInvalidCredentials       = &Error{Kind: KindInvalidCredentials}
	ErrInvalidKey               = &Error{Kind: KindInvalidKey}
	ErrNoSuchUser               = &Error{Kind: KindNoSuchUser}
	ErrNoSuchPolicy             = &Error{Kind: KindNoSuchPolicy}
	ErrMalformedPolicy          = &Error{Kind: KindMalformedPolicy}
	ErrAccessDenied             = &Error{Kind: KindAccessDenied}
	ErrInvalidBucketState       = &Error{Kind: KindInvalidBucketState}
	ErrNoSuchLifecycle          = &Error{Kind: KindNoSuchLifecycle}
	ErrNoSuchBucket             = &Error{Kind: KindNoSuchBucket}
	ErrServiceAccountNotAllowed = &Error{Kind: KindServiceAccountNotAllowed}
	ErrInternal                 = &Error{Kind: KindInternal}
	ErrLifecycleFilterRequired  = &Error{Kind: KindLifecycleFilterRequired}
	ErrPolicyInconsistent       = &Error{Kind: KindPolicyInconsistent}
	ErrManualIntervention       = &Error{Kind: KindManualIntervention}
	ErrUnclassified             = &Error{Kind: KindUnclassified}
)

var codeKinds = map[string]Kind{
	consts.ErrCodeInvalidIAMCredentials:    KindInvalidCredentials,
	consts.ErrCodeInvalidAccessKeyID:       KindInvalidCredentials,
	consts.ErrCodeSignatureDoesNotMatch:    KindInvalidCredentials,
	consts.ErrCodeAdminInvalidAccessKey:    KindInvalidKey,
	consts.ErrCodeAdminInvalidSecretKey:    KindInvalidKey,
	consts.ErrCodeAdminNoSuchUser:          KindNoSuchUser,
	consts.ErrCodeAdminNoSuchSvcAcc:        KindNoSuchUser,
	consts.ErrCodeAdminSvcAccNotFound:      KindNoSuchUser,
	consts.ErrCodeAdminNoSuchPolicy:        KindNoSuchPolicy,
	consts.ErrCodeNoSuchBucketPolicy:       KindNoSuchPolicy,
	consts.ErrCodeMalformedIAMPolicy:       KindMalformedPolicy,
	consts.ErrCodeMalformedPolicy:          KindMalformedPolicy,
	consts.ErrCodeAccessDenied:             KindAccessDenied,
	consts.ErrCodeInvalidBucketState:       KindInvalidBucketState,
	consts.ErrCodeNoSuchLifecycle:          KindNoSuchLifecycle,
	consts.ErrCodeNoSuchBucket:             KindNoSuchBucket,
	consts.ErrCodeNotFound:                 KindNoSuchBucket,
	consts.ErrCodeServiceAccountNotAllowed: KindServiceAccountNotAllowed,
	consts.ErrCodeInternalError:            KindInternal,
	consts.ErrCodeServerNotInitialized:     KindInternal,
	consts.ErrCodeRequestError:             KindConnectivity,
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns err classified as kind, keeping err in the chain.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Code != "" {
		b.WriteString(" (" + e.Code + ")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil && (e.Message == "" || !strings.Contains(e.Message, e.Err.Error())) {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same kind, so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// KindForCode looks a provider error code up in the classification table.
func KindForCode(code string) Kind {
	if kind, ok := codeKinds[code]; ok {
		return kind
	}
	return KindUnclassified
}

// Classify turns any error returned by the storage or admin APIs into an *Error.
// A nil error classifies to nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var code, message string
	var awsErr awserr.Error
	var adminErr madmin.ErrorResponse
	switch {
	case errors.As(err, &awsErr):
		code, message = awsErr.Code(), awsErr.Message()
	case errors.As(err, &adminErr):
		code, message = adminErr.Code, adminErr.Message
	}

	if strings.Contains(message, consts.ErrMessageLifecycleFilterRequired) ||
		strings.Contains(err.Error(), consts.ErrMessageLifecycleFilterRequired) {
		return &Error{Kind: KindLifecycleFilterRequired, Code: code, Message: message, Err: err}
	}

	if code != "" {
		return &Error{Kind: KindForCode(code), Code: code, Message: message, Err: err}
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return &Error{Kind: KindConnectivity, Err: err}
	}
	return &Error{Kind: KindUnclassified, Err: err}
}

// KindOf is shorthand for Classify(err).Kind.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnclassified
	}
	return Classify(err).Kind
}
