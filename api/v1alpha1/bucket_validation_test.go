package v1alpha1

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

func TestValidateBucketName(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		prefixes []string
		wantErr  error
	}{
		{name: "too short", bucket: "ab", wantErr: consts.ErrBucketNameLength},
		{name: "shortest allowed", bucket: "abc"},
		{name: "longest allowed", bucket: strings.Repeat("a", 63)},
		{name: "too long", bucket: strings.Repeat("a", 64), wantErr: consts.ErrBucketNameLength},
		{name: "matching prefix", bucket: "team-assets", prefixes: []string{"infra-", "team-"}},
		{name: "missing prefix", bucket: "assets", prefixes: []string{"infra-", "team-"}, wantErr: consts.ErrBucketNamePrefix},
		{name: "length checked before prefix", bucket: "te", prefixes: []string{"team-"}, wantErr: consts.ErrBucketNameLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBucketName(tt.bucket, tt.prefixes)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseVersioningStatus(t *testing.T) {
	status, err := ParseVersioningStatus("enabled")
	assert.NoError(t, err)
	assert.Equal(t, VersioningEnabled, status)

	status, err = ParseVersioningStatus("Suspended")
	assert.NoError(t, err)
	assert.Equal(t, VersioningSuspended, status)

	_, err = ParseVersioningStatus("Off")
	assert.ErrorIs(t, err, consts.ErrInvalidVersioning)
}

func TestLifecycleConfigurationEqual(t *testing.T) {
	days := int64(30)
	a := &LifecycleConfiguration{Rules: []LifecycleRule{
		{ID: "expire", Status: consts.LifecycleStatusEnabled, Expiration: &LifecycleExpiration{Days: &days}},
		{ID: "cleanup", Status: consts.LifecycleStatusEnabled, NoncurrentVersionExpiration: &NoncurrentVersionExpiration{NoncurrentDays: 7}},
	}}
	b := &LifecycleConfiguration{Rules: []LifecycleRule{
		{ID: "cleanup", Status: consts.LifecycleStatusEnabled, Filter: &LifecycleRuleFilter{}, NoncurrentVersionExpiration: &NoncurrentVersionExpiration{NoncurrentDays: 7}},
		{ID: "expire", Status: consts.LifecycleStatusEnabled, Filter: &LifecycleRuleFilter{Prefix: ""}, Expiration: &LifecycleExpiration{Days: &days}},
	}}

	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))

	other := int64(31)
	b.Rules[1].Expiration = &LifecycleExpiration{Days: &other}
	assert.False(t, a.Equal(b))

	var none *LifecycleConfiguration
	assert.True(t, none.Equal(&LifecycleConfiguration{}))
	assert.False(t, none.Equal(a))
}
