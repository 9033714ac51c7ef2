package s3_agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

// S3Agent wraps the s3.S3 structure to allow for wrapper methods
type S3Agent struct {
	Client *s3.S3
}

type Options struct {
	Endpoint  string
	Region    string
	Secure    bool
	AccessKey string
	SecretKey string
	Debug     bool
}

func NewS3Agent(opts Options) (*S3Agent, error) {
	logLevel := aws.LogOff
	if opts.Debug {
		logLevel = aws.LogDebug
	}
	scheme := "https"
	if !opts.Secure {
		scheme = "http"
	}
	client := http.Client{
		Timeout: time.Second * 15,
	}
	sess, err := session.NewSession(
		aws.NewConfig().
			WithRegion(opts.Region).
			WithCredentials(credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, "")).
			WithEndpoint(fmt.Sprintf("%s://%s", scheme, opts.Endpoint)).
			WithS3ForcePathStyle(true).
			WithMaxRetries(5).
			WithDisableSSL(!opts.Secure).
			WithHTTPClient(&client).
			WithLogLevel(logLevel),
	)
	if err != nil {
		return nil, err
	}
	svc := s3.New(sess)
	return &S3Agent{
		Client: svc,
	}, nil
}

// BucketExists reports whether name exists and is visible to the agent's credentials.
func (s *S3Agent) BucketExists(ctx context.Context, name string) (bool, error) {
	_, err := s.Client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: &name})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchBucket, consts.ErrCodeNotFound:
				return false, nil
			}
		}
		return false, err
	}
	return true, nil
}

func (s *S3Agent) CreateBucket(ctx context.Context, name string) error {
	bucketInput := &s3.CreateBucketInput{
		Bucket: &name,
	}
	_, err := s.Client.CreateBucketWithContext(ctx, bucketInput)
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeBucketAlreadyExists:
				return nil
			case s3.ErrCodeBucketAlreadyOwnedByYou:
				return nil
			}
		}
		return fmt.Errorf("failed to create bucket %q. %w", name, err)
	}
	return nil
}

// GetBucketVersioning returns the versioning status, or an empty string for a bucket that never
// had versioning configured.
func (s *S3Agent) GetBucketVersioning(ctx context.Context, name string) (string, error) {
	out, err := s.Client.GetBucketVersioningWithContext(ctx, &s3.GetBucketVersioningInput{Bucket: &name})
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.Status), nil
}

func (s *S3Agent) PutBucketVersioning(ctx context.Context, name, status string) error {
	_, err := s.Client.PutBucketVersioningWithContext(ctx, &s3.PutBucketVersioningInput{
		Bucket:                  &name,
		VersioningConfiguration: &s3.VersioningConfiguration{Status: aws.String(status)},
	})
	return err
}

func (s *S3Agent) GetBucketLifecycle(ctx context.Context, name string) (*v1alpha1.LifecycleConfiguration, error) {
	out, err := s.Client.GetBucketLifecycleConfigurationWithContext(ctx,
		&s3.GetBucketLifecycleConfigurationInput{Bucket: &name})
	if err != nil {
		return nil, err
	}
	return lifecycleFromS3(out.Rules), nil
}

func (s *S3Agent) PutBucketLifecycle(ctx context.Context, name string, lc *v1alpha1.LifecycleConfiguration) error {
	_, err := s.Client.PutBucketLifecycleConfigurationWithContext(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket:                 &name,
		LifecycleConfiguration: &s3.BucketLifecycleConfiguration{Rules: lifecycleToS3(lc)},
	})
	return err
}

func (s *S3Agent) DeleteBucketLifecycle(ctx context.Context, name string) error {
	_, err := s.Client.DeleteBucketLifecycleWithContext(ctx, &s3.DeleteBucketLifecycleInput{Bucket: &name})
	return err
}

func (s *S3Agent) GetBucketPolicy(ctx context.Context, name string) (string, error) {
	out, err := s.Client.GetBucketPolicyWithContext(ctx, &s3.GetBucketPolicyInput{Bucket: &name})
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.Policy), nil
}

func (s *S3Agent) PutBucketPolicy(ctx context.Context, name, policy string) error {
	_, err := s.Client.PutBucketPolicyWithContext(ctx, &s3.PutBucketPolicyInput{
		Bucket: &name,
		Policy: &policy,
	})
	return err
}

func (s *S3Agent) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.Client.GetObjectWithContext(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Agent) PutObject(ctx context.Context, bucket, key string, data []byte) error {
	_, err := s.Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	return err
}

func lifecycleFromS3(rules []*s3.LifecycleRule) *v1alpha1.LifecycleConfiguration {
	lc := &v1alpha1.LifecycleConfiguration{}
	for _, r := range rules {
		if r == nil {
			continue
		}
		rule := v1alpha1.LifecycleRule{
			ID:     aws.StringValue(r.ID),
			Status: aws.StringValue(r.Status),
			Filter: &v1alpha1.LifecycleRuleFilter{Prefix: aws.StringValue(r.Prefix)},
		}
		if r.Filter != nil && r.Filter.Prefix != nil {
			rule.Filter.Prefix = aws.StringValue(r.Filter.Prefix)
		}
		if e := r.Expiration; e != nil {
			rule.Expiration = &v1alpha1.LifecycleExpiration{
				Days:                      e.Days,
				ExpiredObjectDeleteMarker: e.ExpiredObjectDeleteMarker,
			}
			if e.Date != nil {
				date := metav1.NewTime(*e.Date)
				rule.Expiration.Date = &date
			}
		}
		if n := r.NoncurrentVersionExpiration; n != nil {
			rule.NoncurrentVersionExpiration = &v1alpha1.NoncurrentVersionExpiration{
				NoncurrentDays:          aws.Int64Value(n.NoncurrentDays),
				NewerNoncurrentVersions: n.NewerNoncurrentVersions,
			}
		}
		lc.Rules = append(lc.Rules, rule)
	}
	return lc
}

func lifecycleToS3(lc *v1alpha1.LifecycleConfiguration) []*s3.LifecycleRule {
	if lc == nil {
		return nil
	}
	var rules []*s3.LifecycleRule
	for _, r := range lc.Normalized().Rules {
		rule := &s3.LifecycleRule{
			ID:     aws.String(r.ID),
			Status: aws.String(r.Status),
			Filter: &s3.LifecycleRuleFilter{Prefix: aws.String(r.Filter.Prefix)},
		}
		if e := r.Expiration; e != nil {
			rule.Expiration = &s3.LifecycleExpiration{
				Days:                      e.Days,
				ExpiredObjectDeleteMarker: e.ExpiredObjectDeleteMarker,
			}
			if e.Date != nil {
				rule.Expiration.Date = aws.Time(e.Date.Time)
			}
		}
		if n := r.NoncurrentVersionExpiration; n != nil {
			rule.NoncurrentVersionExpiration = &s3.NoncurrentVersionExpiration{
				NoncurrentDays:          aws.Int64(n.NoncurrentDays),
				NewerNoncurrentVersions: n.NewerNoncurrentVersions,
			}
		}
		rules = append(rules, rule)
	}
	return rules
}
