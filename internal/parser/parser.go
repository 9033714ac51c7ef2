package parser

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/santhosh-tekuri/jsonschema/v5"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/policy"
	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

//go:embed schema.json
var manifestSchema string

type Options struct {
	AllowedBucketPrefixes    []string
	DefaultVersioning        string
	DefaultLifecycleFile     string
	AutoCreateServiceAccount bool
}

// Parser turns a manifest into ClusterResources. Every failure it returns is a structural
// configuration error.
type Parser struct {
	opts   Options
	schema *jsonschema.Schema
	logger logr.Logger
}

func New(opts Options, logger logr.Logger) (*Parser, error) {
	schema, err := jsonschema.CompileString("manifest.schema.json", manifestSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}
	return &Parser{
		opts:   opts,
		schema: schema,
		logger: logger,
	}, nil
}

func structural(err error, format string, args ...interface{}) error {
	return apierror.Wrap(apierror.KindStructuralConfig, err, fmt.Sprintf(format, args...))
}

func (p *Parser) Parse(manifestPath string) (*v1alpha1.ClusterResources, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, structural(err, "failed to read resources file %s", manifestPath)
	}

	m, err := p.decode(data)
	if err != nil {
		return nil, structural(err, "invalid resources file %s", manifestPath)
	}

	baseDir := filepath.Dir(manifestPath)
	resources := &v1alpha1.ClusterResources{}

	if resources.Buckets, err = p.parseBuckets(m.Buckets, baseDir); err != nil {
		return nil, err
	}
	if resources.BucketPolicies, err = p.parseBucketPolicies(m.BucketPolicies, baseDir); err != nil {
		return nil, err
	}
	if resources.ServiceAccounts, err = p.parseServiceAccounts(m.ServiceAccounts, baseDir); err != nil {
		return nil, err
	}
	if resources.IamPolicies, err = p.parseIamPolicies(m.IamPolicies, baseDir); err != nil {
		return nil, err
	}
	if resources.IamPolicyAttachments, err = p.parseAttachments(m.IamPolicyAttachments); err != nil {
		return nil, err
	}

	if resources.Empty() {
		p.logger.Info("WARNING: no resources are configured", "file", manifestPath)
	}
	return resources, nil
}

// decode validates the document shape against the schema, then decodes it strictly.
func (p *Parser) decode(data []byte) (*manifest, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("convert yaml to json: %w", err)
	}

	var document interface{}
	if err := json.Unmarshal(jsonData, &document); err != nil {
		return nil, err
	}
	if err := p.schema.Validate(document); err != nil {
		return nil, err
	}

	m := &manifest{}
	if document == nil {
		return m, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(jsonData))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(m); err != nil {
		return nil, err
	}
	return m, nil
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func (p *Parser) parseBuckets(entries []bucketEntry, baseDir string) ([]*v1alpha1.Bucket, error) {
	if len(entries) == 0 {
		p.logger.V(1).Info("no buckets configured")
		return nil, nil
	}
	if len(p.opts.AllowedBucketPrefixes) > 0 {
		p.logger.Info("only allowing buckets with the configured prefixes", "prefixes", p.opts.AllowedBucketPrefixes)
	}

	var defaultLifecycle *v1alpha1.LifecycleConfiguration
	if p.opts.DefaultLifecycleFile != "" {
		lc, err := ParseLifecycleFile(p.opts.DefaultLifecycleFile)
		if err != nil {
			return nil, structural(err, "invalid default lifecycle file")
		}
		defaultLifecycle = lc
	}

	seen := make(map[string]struct{}, len(entries))
	buckets := make([]*v1alpha1.Bucket, 0, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry.Name]; ok {
			return nil, structural(fmt.Errorf("%w: bucket %q", consts.ErrDuplicateResource, entry.Name),
				"bucket %q is defined multiple times", entry.Name)
		}
		seen[entry.Name] = struct{}{}

		if err := v1alpha1.ValidateBucketName(entry.Name, p.opts.AllowedBucketPrefixes); err != nil {
			return nil, structural(err, "invalid bucket %q", entry.Name)
		}

		versioning := p.opts.DefaultVersioning
		if entry.Versioning != nil && *entry.Versioning != "" {
			versioning = *entry.Versioning
		}
		status, err := v1alpha1.ParseVersioningStatus(versioning)
		if err != nil {
			return nil, structural(err, "invalid versioning for bucket %q", entry.Name)
		}

		bucket := &v1alpha1.Bucket{
			Name:                 entry.Name,
			CreateServiceAccount: p.opts.AutoCreateServiceAccount,
			Versioning:           status,
			Lifecycle:            defaultLifecycle,
			LifecycleFile:        p.opts.DefaultLifecycleFile,
		}
		if entry.CreateServiceAccount != nil {
			bucket.CreateServiceAccount = *entry.CreateServiceAccount
		}
		if entry.ObjectLifecycleFile != nil && *entry.ObjectLifecycleFile != "" {
			bucket.LifecycleFile = resolve(baseDir, *entry.ObjectLifecycleFile)
			if bucket.Lifecycle, err = ParseLifecycleFile(bucket.LifecycleFile); err != nil {
				return nil, structural(err, "invalid lifecycle file for bucket %q", entry.Name)
			}
		}
		buckets = append(buckets, bucket)
	}
	p.logger.V(1).Info("parsed buckets", "count", len(buckets))
	return buckets, nil
}

// ParseLifecycleFile loads a lifecycle configuration. A file with an empty rule list yields nil.
func ParseLifecycleFile(path string) (*v1alpha1.LifecycleConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", consts.ErrInvalidLifecycle, err)
	}

	file := &lifecycleFile{}
	if err := json.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", consts.ErrInvalidLifecycle, path, err)
	}
	if file.Rules == nil {
		return nil, fmt.Errorf("%w: %s is missing the required Rules key", consts.ErrInvalidLifecycle, path)
	}
	if len(*file.Rules) == 0 {
		return nil, nil
	}

	lc := &v1alpha1.LifecycleConfiguration{}
	for i, entry := range *file.Rules {
		rule, err := parseLifecycleRule(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %s rule %d: %s", consts.ErrInvalidLifecycle, path, i, err)
		}
		lc.Rules = append(lc.Rules, rule)
	}
	return lc, nil
}

func parseLifecycleRule(entry lifecycleRuleEntry) (v1alpha1.LifecycleRule, error) {
	if entry.ID == "" {
		return v1alpha1.LifecycleRule{}, errors.New("ID is required")
	}
	if entry.Status != consts.LifecycleStatusEnabled && entry.Status != consts.LifecycleStatusDisabled {
		return v1alpha1.LifecycleRule{}, fmt.Errorf("Status must be %s or %s, got %q",
			consts.LifecycleStatusEnabled, consts.LifecycleStatusDisabled, entry.Status)
	}

	// The storage API rejects rules without a filter.
	rule := v1alpha1.LifecycleRule{
		ID:     entry.ID,
		Status: entry.Status,
		Filter: &v1alpha1.LifecycleRuleFilter{},
	}
	if entry.Filter != nil {
		rule.Filter.Prefix = entry.Filter.Prefix
	}

	if e := entry.Expiration; e != nil {
		rule.Expiration = &v1alpha1.LifecycleExpiration{
			Days:                      e.Days,
			ExpiredObjectDeleteMarker: e.ExpiredObjectDeleteMarker,
		}
		if e.Date != nil && *e.Date != "" {
			date, err := time.Parse(time.RFC3339, *e.Date)
			if err != nil {
				return v1alpha1.LifecycleRule{}, fmt.Errorf("invalid Expiration Date: %w", err)
			}
			t := metav1.NewTime(date)
			rule.Expiration.Date = &t
		}
	}
	if n := entry.NoncurrentVersionExpiration; n != nil {
		if n.NoncurrentDays == nil {
			return v1alpha1.LifecycleRule{}, errors.New("NoncurrentVersionExpiration requires NoncurrentDays")
		}
		rule.NoncurrentVersionExpiration = &v1alpha1.NoncurrentVersionExpiration{
			NoncurrentDays:          *n.NoncurrentDays,
			NewerNoncurrentVersions: n.NewerNoncurrentVersions,
		}
	}
	return rule, nil
}

func (p *Parser) parseBucketPolicies(entries []bucketPolicyEntry, baseDir string) ([]*v1alpha1.BucketPolicy, error) {
	policies := make([]*v1alpha1.BucketPolicy, 0, len(entries))
	for _, entry := range entries {
		path := resolve(baseDir, entry.PolicyFile)
		doc, err := policy.LoadFile(path)
		if err != nil {
			return nil, structural(err, "invalid policy for bucket %q", entry.Bucket)
		}
		policies = append(policies, &v1alpha1.BucketPolicy{
			Bucket:     entry.Bucket,
			PolicyFile: path,
			Policy:     doc,
		})
	}
	return policies, nil
}

func (p *Parser) parseServiceAccounts(entries []serviceAccountEntry, baseDir string) ([]*v1alpha1.ServiceAccount, error) {
	seen := make(map[string]struct{}, len(entries))
	accounts := make([]*v1alpha1.ServiceAccount, 0, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry.Name]; ok {
			return nil, structural(fmt.Errorf("%w: service account %q", consts.ErrDuplicateResource, entry.Name),
				"service account %q is defined multiple times", entry.Name)
		}
		seen[entry.Name] = struct{}{}

		sa := v1alpha1.NewServiceAccount(entry.Name, strings.TrimSpace(entry.Description))
		if entry.PolicyFile != "" {
			sa.PolicyFile = resolve(baseDir, entry.PolicyFile)
			doc, err := policy.LoadFile(sa.PolicyFile)
			if err != nil {
				return nil, structural(err, "invalid policy for service account %q", entry.Name)
			}
			sa.Policy = doc
		}
		if sa.Name != sa.FullName {
			p.logger.V(1).Info("service account name truncated", "name", sa.Name, "fullName", sa.FullName)
		}
		accounts = append(accounts, sa)
	}
	return accounts, nil
}

func (p *Parser) parseIamPolicies(entries []iamPolicyEntry, baseDir string) ([]*v1alpha1.IamPolicy, error) {
	seen := make(map[string]struct{}, len(entries))
	policies := make([]*v1alpha1.IamPolicy, 0, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry.Name]; ok {
			return nil, structural(fmt.Errorf("%w: IAM policy %q", consts.ErrDuplicateResource, entry.Name),
				"IAM policy %q is defined multiple times", entry.Name)
		}
		seen[entry.Name] = struct{}{}

		path := resolve(baseDir, entry.PolicyFile)
		doc, err := policy.LoadFile(path)
		if err != nil {
			return nil, structural(err, "invalid IAM policy %q", entry.Name)
		}
		policies = append(policies, &v1alpha1.IamPolicy{
			Name:       entry.Name,
			PolicyFile: path,
			Policy:     doc,
		})
	}
	return policies, nil
}

func (p *Parser) parseAttachments(entries []attachmentEntry) ([]*v1alpha1.IamPolicyAttachment, error) {
	attachments := make([]*v1alpha1.IamPolicyAttachment, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Policies) == 0 {
			return nil, structural(consts.ErrEmptyPolicyList, "invalid policy attachment for %q", entry.Username)
		}
		attachments = append(attachments, &v1alpha1.IamPolicyAttachment{
			Identity: entry.Username,
			Policies: append([]string(nil), entry.Policies...),
		})
	}
	return attachments, nil
}
