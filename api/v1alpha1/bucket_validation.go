package v1alpha1

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

// ValidateBucketName checks the length limits and, when prefixes are configured, that the
// name starts with one of them.
func ValidateBucketName(name string, allowedPrefixes []string) error {
	length := utf8.RuneCountInString(name)
	if length < consts.BucketNameMinLength || length > consts.BucketNameMaxLength {
		return fmt.Errorf("%w: %q is %d characters", consts.ErrBucketNameLength, name, length)
	}

	if len(allowedPrefixes) == 0 {
		return nil
	}
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q, allowed prefixes are %s", consts.ErrBucketNamePrefix, name,
		strings.Join(allowedPrefixes, ", "))
}
