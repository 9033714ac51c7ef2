/*
Copyright 2023.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controllers

import (
	"errors"
	"net/url"

	"github.com/aws/aws-sdk-go/aws/awserr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/utils/pointer"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/adminclient"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/policy"
	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

const (
	readOnlyPolicy = `{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Action": ["s3:GetObject", "s3:ListBucket"],
    "Resource": ["arn:aws:s3:::team-reports", "arn:aws:s3:::team-reports/*"]
  }]
}`
	publicReadPolicy = `{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"AWS": ["*"]},
    "Action": "s3:GetObject",
    "Resource": "arn:aws:s3:::team-reports/*"
  }]
}`
	adminPolicy = `{
  "Version": "2012-10-17",
  "Statement": [{"Effect": "Allow", "Action": ["s3:*"], "Resource": ["arn:aws:s3:::*"]}]
}`
)

func expirationLifecycle(days int64) *v1alpha1.LifecycleConfiguration {
	return &v1alpha1.LifecycleConfiguration{
		Rules: []v1alpha1.LifecycleRule{{
			ID:         "expire-old-objects",
			Status:     consts.LifecycleStatusEnabled,
			Expiration: &v1alpha1.LifecycleExpiration{Days: pointer.Int64(days)},
		}},
	}
}

var _ = Describe("Orchestrator", func() {
	var e *testEnv

	BeforeEach(func() {
		e = newTestEnv(false)
	})

	Context("with the team-assets bucket asking for a service account", func() {
		var resources *v1alpha1.ClusterResources

		BeforeEach(func() {
			resources = &v1alpha1.ClusterResources{
				Buckets: []*v1alpha1.Bucket{{
					Name:                 "team-assets",
					CreateServiceAccount: true,
					Versioning:           v1alpha1.VersioningEnabled,
				}},
			}
		})

		It("creates everything on the first run", func() {
			Expect(e.orchestrator().Run(e.ctx, resources)).To(Succeed())

			Expect(e.mock.Buckets).To(HaveKey("team-assets"))
			Expect(e.mock.Buckets["team-assets"].Versioning).To(Equal(v1alpha1.VersioningEnabled))
			Expect(resources.Buckets[0].State).To(Equal(v1alpha1.BucketStateExists))

			creds, found := e.storedCredentials("team-assets")
			Expect(found).To(BeTrue())
			Expect(creds.HasSecretKey()).To(BeTrue())
			Expect(e.backend.Dirty()).To(BeTrue())

			sa := e.mock.ServiceAccounts[creds.AccessKey]
			Expect(sa).NotTo(BeNil())
			Expect(sa.Name).To(Equal("team-assets"))
			Expect(sa.ParentUser).To(Equal(controllerUser))
			Expect(sa.SecretKey).To(Equal(creds.SecretKey))
			Expect(policy.EqualJSON(basePolicy("team-assets"), sa.Policy)).To(BeTrue())

			Expect(e.counter.Total()).To(BeZero())
		})

		It("does nothing when run again", func() {
			Expect(e.orchestrator().Run(e.ctx, resources)).To(Succeed())
			e.restart()

			Expect(e.orchestrator().Run(e.ctx, resources)).To(Succeed())

			Expect(e.mock.Writes).To(BeZero())
			Expect(e.mock.Calls["CreateBucket"]).To(BeZero())
			Expect(e.mock.Calls["SetBucketVersioning"]).To(BeZero())
			Expect(e.mock.Calls["AddServiceAccount"]).To(BeZero())
			Expect(e.mock.Calls["UpdateServiceAccountPolicy"]).To(BeZero())
			Expect(e.mock.Calls["ListServiceAccounts"]).To(BeZero())
			Expect(e.backend.Dirty()).To(BeFalse())
			Expect(e.counter.Total()).To(BeZero())
		})
	})

	It("makes no writes when every kind of resource is already reconciled", func() {
		resources := &v1alpha1.ClusterResources{
			Buckets: []*v1alpha1.Bucket{{
				Name:       "team-reports",
				Versioning: v1alpha1.VersioningSuspended,
				Lifecycle:  expirationLifecycle(30),
			}},
			BucketPolicies: []*v1alpha1.BucketPolicy{{
				Bucket: "team-reports",
				Policy: mustParsePolicy(publicReadPolicy),
			}},
			ServiceAccounts: []*v1alpha1.ServiceAccount{
				func() *v1alpha1.ServiceAccount {
					sa := v1alpha1.NewServiceAccount("reports-reader", "read only access for dashboards")
					sa.Policy = mustParsePolicy(readOnlyPolicy)
					return sa
				}(),
			},
			IamPolicies: []*v1alpha1.IamPolicy{{
				Name:   "reports-read-only",
				Policy: mustParsePolicy(readOnlyPolicy),
			}},
			IamPolicyAttachments: []*v1alpha1.IamPolicyAttachment{{
				Identity: "alice",
				Policies: []string{"reports-read-only"},
			}},
		}

		Expect(e.orchestrator().Run(e.ctx, resources)).To(Succeed())
		Expect(e.counter.Total()).To(BeZero())
		Expect(e.mock.Buckets["team-reports"].Lifecycle.Equal(expirationLifecycle(30))).To(BeTrue())
		Expect(e.mock.Attachments["alice"]).To(ConsistOf("reports-read-only"))
		Expect(e.mock.Policies).To(HaveKey("reports-read-only"))

		e.restart()
		Expect(e.orchestrator().Run(e.ctx, resources)).To(Succeed())

		Expect(e.mock.Writes).To(BeZero())
		Expect(e.counter.Total()).To(BeZero())
		Expect(e.backend.Dirty()).To(BeFalse())
	})

	It("rewrites a lifecycle configuration that drifted", func() {
		e.mock.Buckets["team-reports"] = &adminclient.MockBucket{
			Versioning: v1alpha1.VersioningSuspended,
			Lifecycle:  expirationLifecycle(7),
		}
		resources := &v1alpha1.ClusterResources{
			Buckets: []*v1alpha1.Bucket{{
				Name:       "team-reports",
				Versioning: v1alpha1.VersioningSuspended,
				Lifecycle:  expirationLifecycle(30),
			}},
		}

		Expect(e.orchestrator().Run(e.ctx, resources)).To(Succeed())

		Expect(e.mock.Calls["DeleteBucketLifecycle"]).To(Equal(1))
		Expect(e.mock.Calls["SetBucketLifecycle"]).To(Equal(1))
		Expect(e.mock.Calls["SetBucketVersioning"]).To(BeZero())
		Expect(e.mock.Buckets["team-reports"].Lifecycle.Equal(expirationLifecycle(30))).To(BeTrue())
	})

	It("latches blind lifecycle writes after the first unreadable configuration", func() {
		e.mock.LifecycleReadUnsupported = true
		resources := &v1alpha1.ClusterResources{}
		for _, name := range []string{"logs-a", "logs-b", "logs-c"} {
			e.mock.Buckets[name] = &adminclient.MockBucket{Versioning: v1alpha1.VersioningSuspended}
			resources.Buckets = append(resources.Buckets, &v1alpha1.Bucket{
				Name:       name,
				Versioning: v1alpha1.VersioningSuspended,
				Lifecycle:  expirationLifecycle(14),
			})
		}

		o := e.orchestrator()
		Expect(o.Run(e.ctx, resources)).To(Succeed())

		Expect(e.mock.Calls["GetBucketLifecycle"]).To(Equal(1))
		Expect(e.mock.Calls["DeleteBucketLifecycle"]).To(Equal(3))
		Expect(e.mock.Calls["SetBucketLifecycle"]).To(Equal(3))
		Expect(e.counter.Total()).To(BeZero())

		e.mock.ResetCounters()
		Expect(o.Run(e.ctx, resources)).To(Succeed())
		Expect(e.mock.Calls["GetBucketLifecycle"]).To(BeZero())
		Expect(e.mock.Calls["SetBucketLifecycle"]).To(Equal(3))
	})

	It("counts a refused bucket creation and moves on to the next bucket", func() {
		e.mock.Errors["CreateBucket"] = awserr.New(consts.ErrCodeAccessDenied, "Access Denied", nil)
		e.mock.Buckets["existing"] = &adminclient.MockBucket{Versioning: v1alpha1.VersioningOff}
		resources := &v1alpha1.ClusterResources{
			Buckets: []*v1alpha1.Bucket{
				{Name: "forbidden", Versioning: v1alpha1.VersioningEnabled},
				{Name: "existing", Versioning: v1alpha1.VersioningEnabled},
			},
		}

		Expect(e.orchestrator().Run(e.ctx, resources)).To(Succeed())

		Expect(e.counter.Total()).To(Equal(1))
		Expect(e.counter.ByKind()).To(HaveKeyWithValue(apierror.KindAccessDenied, 1))
		Expect(resources.Buckets[0].State).To(Equal(v1alpha1.BucketStateDoesNotExist))
		Expect(e.mock.Calls["GetBucketVersioning"]).To(Equal(1))
		Expect(e.mock.Buckets["existing"].Versioning).To(Equal(v1alpha1.VersioningEnabled))
	})

	It("keeps reconciling the lifecycle when a versioning change is rejected", func() {
		e.mock.Errors["SetBucketVersioning"] = awserr.New(consts.ErrCodeInvalidBucketState, "object lock is enabled", nil)
		e.mock.Buckets["locked"] = &adminclient.MockBucket{Versioning: v1alpha1.VersioningEnabled}
		resources := &v1alpha1.ClusterResources{
			Buckets: []*v1alpha1.Bucket{{
				Name:       "locked",
				Versioning: v1alpha1.VersioningSuspended,
				Lifecycle:  expirationLifecycle(30),
			}},
		}

		Expect(e.orchestrator().Run(e.ctx, resources)).To(Succeed())

		Expect(e.counter.ByKind()).To(HaveKeyWithValue(apierror.KindInvalidBucketState, 1))
		Expect(e.mock.Calls["SetBucketLifecycle"]).To(Equal(1))
	})

	It("sets a bucket policy only when it differs", func() {
		e.mock.Buckets["team-reports"] = &adminclient.MockBucket{
			Versioning: v1alpha1.VersioningSuspended,
			Policy:     `{"Statement":[{"Resource":["arn:aws:s3:::team-reports/*"],"Action":["s3:GetObject"],"Principal":{"AWS":"*"},"Effect":"Allow"}],"Version":"2012-10-17"}`,
		}
		resources := &v1alpha1.ClusterResources{
			BucketPolicies: []*v1alpha1.BucketPolicy{{Bucket: "team-reports", Policy: mustParsePolicy(publicReadPolicy)}},
		}

		Expect(e.orchestrator().Run(e.ctx, resources)).To(Succeed())
		Expect(e.mock.Calls["SetBucketPolicy"]).To(BeZero())

		resources.BucketPolicies[0].Policy = mustParsePolicy(readOnlyPolicy)
		Expect(e.orchestrator().Run(e.ctx, resources)).To(Succeed())
		Expect(e.mock.Calls["SetBucketPolicy"]).To(Equal(1))
		Expect(policy.EqualJSON(mustParsePolicy(readOnlyPolicy), []byte(e.mock.Buckets["team-reports"].Policy))).To(BeTrue())
	})

	It("overwrites an IAM policy that drifted", func() {
		e.mock.Policies["reports-read-only"] = []byte(adminPolicy)
		resources := &v1alpha1.ClusterResources{
			IamPolicies: []*v1alpha1.IamPolicy{{Name: "reports-read-only", Policy: mustParsePolicy(readOnlyPolicy)}},
		}

		Expect(e.orchestrator().Run(e.ctx, resources)).To(Succeed())

		Expect(e.mock.Calls["PutPolicy"]).To(Equal(1))
		Expect(policy.EqualJSON(mustParsePolicy(readOnlyPolicy), e.mock.Policies["reports-read-only"])).To(BeTrue())
	})

	It("attaches the remaining policies when one of them does not exist", func() {
		e.mock.Policies["reports-read-only"] = []byte(readOnlyPolicy)
		resources := &v1alpha1.ClusterResources{
			IamPolicyAttachments: []*v1alpha1.IamPolicyAttachment{{
				Identity: "alice",
				Policies: []string{"missing", "reports-read-only"},
			}},
		}

		Expect(e.orchestrator().Run(e.ctx, resources)).To(Succeed())

		Expect(e.counter.ByKind()).To(HaveKeyWithValue(apierror.KindNoSuchPolicy, 1))
		Expect(e.mock.Attachments["alice"]).To(ConsistOf("reports-read-only"))
	})

	It("keeps reconciling after a transport error on one resource", func() {
		e.mock.Errors["GetBucketPolicy"] = &url.Error{
			Op:  "Get",
			URL: "http://minio:9000/team-reports?policy",
			Err: errors.New("connection reset by peer"),
		}
		resources := &v1alpha1.ClusterResources{
			BucketPolicies: []*v1alpha1.BucketPolicy{{Bucket: "team-reports", Policy: mustParsePolicy(publicReadPolicy)}},
			IamPolicies:    []*v1alpha1.IamPolicy{{Name: "reports-read-only", Policy: mustParsePolicy(readOnlyPolicy)}},
		}

		Expect(e.orchestrator().Run(e.ctx, resources)).To(Succeed())

		Expect(e.counter.ByKind()).To(HaveKeyWithValue(apierror.KindConnectivity, 1))
		Expect(e.mock.Calls["SetBucketPolicy"]).To(BeZero())
		Expect(e.mock.Policies).To(HaveKey("reports-read-only"))
	})

	Context("in debug mode", func() {
		BeforeEach(func() {
			e = newTestEnv(true)
		})

		It("stops at the first error", func() {
			e.mock.Errors["CreateBucket"] = awserr.New(consts.ErrCodeAccessDenied, "Access Denied", nil)
			resources := &v1alpha1.ClusterResources{
				Buckets: []*v1alpha1.Bucket{{Name: "forbidden"}, {Name: "never-reached"}},
			}

			err := e.orchestrator().Run(e.ctx, resources)

			Expect(err).To(MatchError(apierror.ErrAccessDenied))
			Expect(e.mock.Calls["BucketExists"]).To(Equal(1))
			Expect(e.counter.Total()).To(Equal(1))
		})
	})
})
