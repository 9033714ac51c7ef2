package policy

import (
	"fmt"
	"os"
	"strings"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

// DefaultServiceAccountTemplate is the base policy for a service account scoped to one bucket.
const DefaultServiceAccountTemplate = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Action": [
        "s3:ListBucket",
        "s3:*Object",
        "s3:*ObjectTagging",
        "s3:GetObjectVersion",
        "s3:*ObjectVersionTagging",
        "s3:*BucketNotification",
        "s3:*MultipartUploads",
        "s3:GetBucketLocation",
        "s3:GetBucketObjectLockConfiguration",
        "s3:GetBucketPolicy"
      ],
      "Resource": [
        "arn:aws:s3:::` + consts.BucketNamePlaceholder + `",
        "arn:aws:s3:::` + consts.BucketNamePlaceholder + `/*"
      ]
    }
  ]
}`

// Template is a policy document containing the bucket name placeholder.
type Template struct {
	raw string
}

// NewTemplate returns the built-in template, or the one at path when path is set.
func NewTemplate(path string) (*Template, error) {
	if path == "" {
		return &Template{raw: DefaultServiceAccountTemplate}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy template %s: %w", path, err)
	}
	if !strings.Contains(string(data), consts.BucketNamePlaceholder) {
		return nil, fmt.Errorf("%w: template %s does not contain %s", consts.ErrInvalidPolicy, path,
			consts.BucketNamePlaceholder)
	}
	return &Template{raw: string(data)}, nil
}

// Render returns the template with every placeholder replaced by bucket.
func (t *Template) Render(bucket string) (*v1alpha1.PolicyDocument, error) {
	return Parse([]byte(t.render(bucket)))
}

func (t *Template) render(bucket string) string {
	return strings.ReplaceAll(t.raw, consts.BucketNamePlaceholder, bucket)
}

// Materialize writes the rendered template to a temporary file. The returned release func
// removes the file and is safe to call more than once.
func (t *Template) Materialize(bucket string) (path string, doc *v1alpha1.PolicyDocument, release func(), err error) {
	doc, err = t.Render(bucket)
	if err != nil {
		return "", nil, func() {}, err
	}

	f, err := os.CreateTemp("", "s3-manager-policy-*.json")
	if err != nil {
		return "", nil, func() {}, fmt.Errorf("failed to create policy file for bucket %s: %w", bucket, err)
	}
	path = f.Name()
	release = func() { _ = os.Remove(path) }

	if _, err = f.WriteString(t.render(bucket)); err != nil {
		_ = f.Close()
		release()
		return "", nil, func() {}, fmt.Errorf("failed to write policy file %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		release()
		return "", nil, func() {}, fmt.Errorf("failed to write policy file %s: %w", path, err)
	}
	return path, doc, release, nil
}
