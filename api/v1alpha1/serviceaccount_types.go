package v1alpha1

import (
	"strings"

	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

// ServiceAccount is a service account owned by the controller identity.
// Name is what the admin API stores and is at most 32 characters; FullName is the
// untruncated name used to look the account up in the secret backend.
type ServiceAccount struct {
	Name         string
	FullName     string
	Description  string
	TargetBucket string
	Credentials  Credentials

	PolicyFile string
	Policy     *PolicyDocument
	// PolicyGenerated is set when PolicyFile is a materialised template that must be removed after use.
	PolicyGenerated bool
}

// NewServiceAccount builds a ServiceAccount from its declared name and optional description.
func NewServiceAccount(fullName, description string) *ServiceAccount {
	sa := &ServiceAccount{
		Name:         TruncateServiceAccountName(fullName),
		FullName:     fullName,
		Description:  fullName,
		TargetBucket: fullName,
		Credentials:  Credentials{Name: fullName},
	}
	if description != "" {
		sa.Description = fullName + consts.ServiceAccountDescriptionSeparator + description
	}
	return sa
}

// DescriptionPrefix is what a stored description starts with when it belongs to this account.
func (sa *ServiceAccount) DescriptionPrefix() string {
	return sa.FullName + consts.ServiceAccountDescriptionSeparator
}

// MatchesDescription reports whether a stored description identifies this account.
func (sa *ServiceAccount) MatchesDescription(description string) bool {
	return description == sa.FullName || strings.HasPrefix(description, sa.DescriptionPrefix())
}

// DescribedName is the full account name a stored description was written for.
func DescribedName(description string) string {
	name, _, _ := strings.Cut(description, consts.ServiceAccountDescriptionSeparator)
	return name
}

// TruncateServiceAccountName cuts name to the admin API limit, counting characters not bytes.
func TruncateServiceAccountName(name string) string {
	runes := []rune(name)
	if len(runes) <= consts.ServiceAccountNameMaxLength {
		return name
	}
	return string(runes[:consts.ServiceAccountNameMaxLength])
}
