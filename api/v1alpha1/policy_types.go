package v1alpha1

import (
	"encoding/json"
	"fmt"
)

// BucketPolicy attaches a resource-based policy document to a bucket.
type BucketPolicy struct {
	Bucket     string
	PolicyFile string
	Policy     *PolicyDocument
}

// IamPolicy is a named (canned) identity policy.
type IamPolicy struct {
	Name       string
	PolicyFile string
	Policy     *PolicyDocument
}

// IamPolicyAttachment attaches named IAM policies to a user.
type IamPolicyAttachment struct {
	Identity string
	Policies []string
}

// PolicyDocument is an IAM/S3 policy document.
type PolicyDocument struct {
	Version   string            `json:"Version"`
	ID        string            `json:"Id,omitempty"`
	Statement []PolicyStatement `json:"Statement"`
}

type PolicyStatement struct {
	Sid          string                 `json:"Sid,omitempty"`
	Effect       string                 `json:"Effect"`
	Principal    interface{}            `json:"Principal,omitempty"`
	NotPrincipal interface{}            `json:"NotPrincipal,omitempty"`
	Action       StringSet              `json:"Action,omitempty"`
	NotAction    StringSet              `json:"NotAction,omitempty"`
	Resource     StringSet              `json:"Resource,omitempty"`
	NotResource  StringSet              `json:"NotResource,omitempty"`
	Condition    map[string]interface{} `json:"Condition,omitempty"`
}

// StringSet is a policy field that may be written either as a single string or as a list.
type StringSet []string

func (s *StringSet) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringSet{single}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected a string or a list of strings: %w", err)
	}
	*s = list
	return nil
}
