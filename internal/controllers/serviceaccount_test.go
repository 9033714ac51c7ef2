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
	"context"

	"github.com/minio/madmin-go/v3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/internal/adminclient"
	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/controllers/common"
	"github.com/snapp-incubator/s3-manager/internal/policy"
	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

// rejectFirstPolicy fails the first service account policy update the way a server rejects a
// malformed policy.
type rejectFirstPolicy struct {
	*adminclient.MockClient
	rejected bool
}

func (c *rejectFirstPolicy) UpdateServiceAccountPolicy(ctx context.Context, accessKey string, body []byte) error {
	if !c.rejected {
		c.rejected = true
		return madmin.ErrorResponse{Code: consts.ErrCodeMalformedIAMPolicy, Message: "policy has invalid resource"}
	}
	return c.MockClient.UpdateServiceAccountPolicy(ctx, accessKey, body)
}

var _ = Describe("Service account reconciliation", func() {
	const (
		appAccount   = "svc-app"
		appAccessKey = "APPACCESSKEY"
		appSecretKey = "app-secret"
	)
	var e *testEnv

	BeforeEach(func() {
		e = newTestEnv(false)
	})

	run := func(accounts ...*v1alpha1.ServiceAccount) {
		Expect(e.orchestrator().Run(e.ctx, &v1alpha1.ClusterResources{ServiceAccounts: accounts})).To(Succeed())
	}

	DescribeTable("resolving an account against the cluster and the secret backend",
		func(inCluster, inBackend, secretStored bool, wantCreates int, wantKind *apierror.Kind) {
			if inCluster {
				e.mock.ServiceAccounts[appAccessKey] = &adminclient.MockServiceAccount{
					ParentUser:  controllerUser,
					Name:        appAccount,
					Description: appAccount,
					SecretKey:   appSecretKey,
				}
			}
			if inBackend {
				creds := v1alpha1.Credentials{Name: appAccount, AccessKey: appAccessKey}
				if secretStored {
					creds.SecretKey = appSecretKey
				}
				Expect(e.backend.SetCredentials(e.ctx, creds)).To(Succeed())
				e.restart()
			}

			run(v1alpha1.NewServiceAccount(appAccount, ""))

			Expect(e.mock.Calls["AddServiceAccount"]).To(Equal(wantCreates))
			if wantKind == nil {
				Expect(e.counter.Total()).To(BeZero())
			} else {
				Expect(e.counter.Total()).To(Equal(1))
				Expect(e.counter.ByKind()).To(HaveKeyWithValue(*wantKind, 1))
			}
		},
		Entry("present in both", true, true, true, 0, nil),
		Entry("only in the cluster", true, false, false, 0, kindPtr(apierror.KindManualIntervention)),
		Entry("only in the secret backend", false, true, true, 1, nil),
		Entry("in neither", false, false, false, 1, nil),
		Entry("stored without a secret key", false, true, false, 0, kindPtr(apierror.KindManualIntervention)),
	)

	It("re-creates a missing account with the stored keys", func() {
		Expect(e.backend.SetCredentials(e.ctx, v1alpha1.Credentials{
			Name: appAccount, AccessKey: appAccessKey, SecretKey: appSecretKey,
		})).To(Succeed())

		run(v1alpha1.NewServiceAccount(appAccount, "application"))

		Expect(e.mock.ServiceAccounts).To(HaveKey(appAccessKey))
		Expect(e.mock.ServiceAccounts[appAccessKey].SecretKey).To(Equal(appSecretKey))
		Expect(e.mock.ServiceAccounts[appAccessKey].Description).To(Equal("svc-app - application"))
	})

	It("persists the keys of a new account to the secret backend", func() {
		run(v1alpha1.NewServiceAccount(appAccount, ""))

		creds, found := e.storedCredentials(appAccount)
		Expect(found).To(BeTrue())
		Expect(e.mock.ServiceAccounts).To(HaveKey(creds.AccessKey))
		Expect(e.backend.Dirty()).To(BeTrue())
	})

	Context("with a name longer than the admin API allows", func() {
		const longName = "analytics-pipeline-ingest-worker-eu-west"

		It("finds the account by its description when the stored key is stale", func() {
			truncated := v1alpha1.TruncateServiceAccountName(longName)
			e.mock.ServiceAccounts["LIVEACCESSKEY"] = &adminclient.MockServiceAccount{
				ParentUser:  controllerUser,
				Name:        truncated,
				Description: longName + " - ingest worker",
				SecretKey:   "live-secret",
			}
			Expect(e.backend.SetCredentials(e.ctx, v1alpha1.Credentials{
				Name: longName, AccessKey: "STALEACCESSKEY", SecretKey: "stale-secret",
			})).To(Succeed())
			e.restart()

			run(v1alpha1.NewServiceAccount(longName, "ingest worker"))

			Expect(e.mock.Calls["ListServiceAccounts"]).To(Equal(1))
			Expect(e.mock.Calls["AddServiceAccount"]).To(BeZero())
			Expect(e.counter.Total()).To(BeZero())
		})

		It("refuses to guess from the truncated name alone", func() {
			e.mock.ServiceAccounts["OTHERACCESSKEY"] = &adminclient.MockServiceAccount{
				ParentUser: controllerUser,
				Name:       v1alpha1.TruncateServiceAccountName(longName),
			}

			run(v1alpha1.NewServiceAccount(longName, ""))

			Expect(e.mock.Calls["AddServiceAccount"]).To(BeZero())
			Expect(e.counter.ByKind()).To(HaveKeyWithValue(apierror.KindManualIntervention, 1))
		})

		It("creates the account when the truncated name belongs to another one", func() {
			e.mock.ServiceAccounts["OTHERACCESSKEY"] = &adminclient.MockServiceAccount{
				ParentUser:  controllerUser,
				Name:        v1alpha1.TruncateServiceAccountName(longName),
				Description: "analytics-pipeline-ingest-worker-us-east",
			}

			run(v1alpha1.NewServiceAccount(longName, ""))

			Expect(e.counter.Total()).To(BeZero())
			Expect(e.mock.Calls["AddServiceAccount"]).To(Equal(1))
			creds, found := e.storedCredentials(longName)
			Expect(found).To(BeTrue())
			Expect(creds.AccessKey).NotTo(Equal("OTHERACCESSKEY"))
		})
	})

	It("does not mistake a longer account's truncated name for a declared account of that name", func() {
		const shortName = "analytics-pipeline-ingest-worker"
		Expect(shortName).To(HaveLen(consts.ServiceAccountNameMaxLength))
		e.mock.ServiceAccounts["ARCHIVEACCESSKEY"] = &adminclient.MockServiceAccount{
			ParentUser:  controllerUser,
			Name:        shortName,
			Description: shortName + "-archive",
		}

		run(v1alpha1.NewServiceAccount(shortName, ""))

		Expect(e.counter.Total()).To(BeZero())
		Expect(e.mock.ServiceAccounts).To(HaveLen(3))
		creds, found := e.storedCredentials(shortName)
		Expect(found).To(BeTrue())
		Expect(e.mock.ServiceAccounts[creds.AccessKey].Name).To(Equal(shortName))
		Expect(e.mock.ServiceAccounts[creds.AccessKey].Description).To(Equal(shortName))
	})

	Context("with a declared policy", func() {
		newAccount := func(raw string) *v1alpha1.ServiceAccount {
			sa := v1alpha1.NewServiceAccount(appAccount, "")
			sa.Policy = mustParsePolicy(raw)
			return sa
		}

		It("falls back to the base policy when the declared one is rejected", func() {
			e.client = &rejectFirstPolicy{MockClient: e.mock}

			run(newAccount(readOnlyPolicy))

			creds, found := e.storedCredentials(appAccount)
			Expect(found).To(BeTrue())
			Expect(policy.EqualJSON(basePolicy(appAccount), policyOf(e.mock, creds.AccessKey))).To(BeTrue())
			Expect(e.counter.ByKind()).To(HaveKeyWithValue(apierror.KindMalformedPolicy, 1))
		})

		It("falls back to the base policy when the server caps the policy at the controller's", func() {
			e.mock.PolicyCeiling = []byte(controllerPolicy)

			run(newAccount(adminPolicy))

			creds, _ := e.storedCredentials(appAccount)
			Expect(policy.EqualJSON(basePolicy(appAccount), policyOf(e.mock, creds.AccessKey))).To(BeTrue())
			Expect(e.counter.ByKind()).To(HaveKeyWithValue(apierror.KindAccessDenied, 1))
			Expect(e.mock.Calls["UpdateServiceAccountPolicy"]).To(Equal(2))
		})

		It("reports a policy matching neither the declared nor the controller policy", func() {
			e.mock.PolicyCeiling = []byte(readOnlyPolicy)

			run(newAccount(adminPolicy))

			creds, _ := e.storedCredentials(appAccount)
			Expect(policy.EqualJSON(mustParsePolicy(readOnlyPolicy), policyOf(e.mock, creds.AccessKey))).To(BeTrue())
			Expect(e.counter.ByKind()).To(HaveKeyWithValue(apierror.KindPolicyInconsistent, 1))
			Expect(e.mock.Calls["UpdateServiceAccountPolicy"]).To(Equal(1))
		})
	})

	It("rejects controller credentials unknown to the cluster", func() {
		delete(e.mock.ServiceAccounts, controllerAccessKey)
		creds, _ := e.storedCredentials(controllerUser)

		err := common.NewControllerIdentity(controllerUser, creds).Verify(e.ctx, e.mock)

		Expect(err).To(MatchError(apierror.ErrConnectivity))
		Expect(err).To(MatchError(apierror.ErrInvalidCredentials))
	})
})

func kindPtr(k apierror.Kind) *apierror.Kind {
	return &k
}
