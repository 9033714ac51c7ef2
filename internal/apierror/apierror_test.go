package apierror

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/go-logr/logr"
	"github.com/minio/madmin-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "admin invalid credentials", err: madmin.ErrorResponse{Code: consts.ErrCodeInvalidIAMCredentials}, want: KindInvalidCredentials},
		{name: "admin no such service account", err: madmin.ErrorResponse{Code: consts.ErrCodeAdminNoSuchSvcAcc}, want: KindNoSuchUser},
		{name: "admin no such policy", err: madmin.ErrorResponse{Code: consts.ErrCodeAdminNoSuchPolicy}, want: KindNoSuchPolicy},
		{name: "admin malformed policy", err: madmin.ErrorResponse{Code: consts.ErrCodeMalformedIAMPolicy}, want: KindMalformedPolicy},
		{name: "admin invalid secret key", err: madmin.ErrorResponse{Code: consts.ErrCodeAdminInvalidSecretKey}, want: KindInvalidKey},
		{name: "s3 access denied", err: awserr.New(consts.ErrCodeAccessDenied, "denied", nil), want: KindAccessDenied},
		{name: "s3 no bucket policy", err: awserr.New(consts.ErrCodeNoSuchBucketPolicy, "none", nil), want: KindNoSuchPolicy},
		{name: "s3 invalid bucket state", err: awserr.New(consts.ErrCodeInvalidBucketState, "nope", nil), want: KindInvalidBucketState},
		{name: "s3 no lifecycle", err: awserr.New(consts.ErrCodeNoSuchLifecycle, "none", nil), want: KindNoSuchLifecycle},
		{name: "s3 lifecycle filter", err: awserr.New("MalformedXML", "rule filter must be provided", nil), want: KindLifecycleFilterRequired},
		{name: "s3 request error", err: awserr.New(consts.ErrCodeRequestError, "send request failed", nil), want: KindConnectivity},
		{name: "wrapped admin error", err: fmt.Errorf("adding account: %w", madmin.ErrorResponse{Code: consts.ErrCodeAdminNoSuchUser}), want: KindNoSuchUser},
		{name: "transport", err: &url.Error{Op: "Get", URL: "http://minio:9000", Err: errors.New("connection refused")}, want: KindConnectivity},
		{name: "unknown code", err: awserr.New("SlowDown", "later", nil), want: KindUnclassified},
		{name: "plain error", err: errors.New("boom"), want: KindUnclassified},
		{name: "already classified", err: New(KindStructuralConfig, "bad manifest"), want: KindStructuralConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err).Kind)
		})
	}
	assert.Nil(t, Classify(nil))
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("create bucket: %w", Classify(awserr.New(consts.ErrCodeAccessDenied, "denied", nil)))

	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.False(t, errors.Is(err, ErrNoSuchBucket))
}

type recordingObserver struct {
	kinds []string
}

func (o *recordingObserver) ObserveError(kind string) {
	o.kinds = append(o.kinds, kind)
}

func TestReporterNormalMode(t *testing.T) {
	observer := &recordingObserver{}
	counter := NewCounter(observer)
	reporter := NewReporter(logr.Discard(), counter, false)

	assert.NoError(t, reporter.Report(awserr.New(consts.ErrCodeAccessDenied, "denied", nil), "failed", "bucket", "b"))
	assert.NoError(t, reporter.Report(nil, "nothing"))

	transport := &url.Error{Op: "Get", URL: "http://minio:9000", Err: errors.New("connection reset by peer")}
	assert.NoError(t, reporter.Report(transport, "failed to get bucket policy", "bucket", "b"))

	err := reporter.Report(New(KindStructuralConfig, "bad manifest"), "setup failed")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStructuralConfig)

	assert.Equal(t, 3, counter.Total())
	assert.Equal(t, 1, counter.ByKind()[KindAccessDenied])
	assert.Equal(t, 1, counter.ByKind()[KindConnectivity])
	assert.Equal(t, []string{"AccessDenied", "Connectivity", "StructuralConfig"}, observer.kinds)
}

func TestReporterDebugModePropagates(t *testing.T) {
	counter := NewCounter(nil)
	reporter := NewReporter(logr.Discard(), counter, true)

	err := reporter.Report(madmin.ErrorResponse{Code: consts.ErrCodeAdminNoSuchUser}, "lookup failed")
	assert.ErrorIs(t, err, ErrNoSuchUser)
	assert.Equal(t, 1, counter.Total())
}

func TestClassifyNilMatchesNothing(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.False(t, errors.Is(Classify(nil), ErrAccessDenied))
	assert.Equal(t, KindUnclassified, KindOf(nil))
}
