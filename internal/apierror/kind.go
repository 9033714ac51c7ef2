package apierror

// Kind is the class of a storage or admin API failure.
type Kind int

const (
	KindUnclassified Kind = iota
	KindStructuralConfig
	KindConnectivity
	KindInvalidCredentials
	KindInvalidKey
	KindNoSuchUser
	KindNoSuchPolicy
	KindMalformedPolicy
	KindAccessDenied
	KindInvalidBucketState
	KindNoSuchLifecycle
	KindNoSuchBucket
	KindServiceAccountNotAllowed
	KindInternal
	KindLifecycleFilterRequired
	KindPolicyInconsistent
	KindManualIntervention
)

var kindNames = map[Kind]string{
	KindUnclassified:             "Unclassified",
	KindStructuralConfig:         "StructuralConfig",
	KindConnectivity:             "Connectivity",
	KindInvalidCredentials:       "InvalidCredentials",
	KindInvalidKey:               "InvalidKey",
	KindNoSuchUser:               "NoSuchUser",
	KindNoSuchPolicy:             "NoSuchPolicy",
	KindMalformedPolicy:          "MalformedPolicy",
	KindAccessDenied:             "AccessDenied",
	KindInvalidBucketState:       "InvalidBucketState",
	KindNoSuchLifecycle:          "NoSuchLifecycle",
	KindNoSuchBucket:             "NoSuchBucket",
	KindServiceAccountNotAllowed: "ServiceAccountNotAllowed",
	KindInternal:                 "Internal",
	KindLifecycleFilterRequired:  "LifecycleFilterRequired",
	KindPolicyInconsistent:       "PolicyInconsistent",
	KindManualIntervention:       "ManualIntervention",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnclassified]
}

// AlwaysFatal reports whether errors of this kind abort the run regardless of debug mode.
// Connectivity failures during setup are returned directly by the setup path; once
// reconciliation started they only cost the resource they happened on.
func (k Kind) AlwaysFatal() bool {
	return k == KindStructuralConfig
}
