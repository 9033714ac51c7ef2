package v1alpha1

import (
	"fmt"
	"sort"
	"strings"

	apiequality "k8s.io/apimachinery/pkg/api/equality"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

// BucketState tracks what the bucket handler has observed about a bucket during a run.
type BucketState int

const (
	BucketStateUnknown BucketState = iota
	BucketStateExists
	BucketStateDoesNotExist
)

func (s BucketState) String() string {
	switch s {
	case BucketStateExists:
		return "Exists"
	case BucketStateDoesNotExist:
		return "DoesNotExist"
	default:
		return "Unknown"
	}
}

// VersioningStatus is the versioning state of a bucket.
type VersioningStatus string

const (
	VersioningEnabled   VersioningStatus = consts.VersioningEnabled
	VersioningSuspended VersioningStatus = consts.VersioningSuspended
	// VersioningOff is only ever observed; a bucket that never had versioning reports no status.
	VersioningOff VersioningStatus = "Off"
)

// ParseVersioningStatus accepts the two states a manifest may ask for, case-insensitively.
func ParseVersioningStatus(s string) (VersioningStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enabled":
		return VersioningEnabled, nil
	case "suspended":
		return VersioningSuspended, nil
	default:
		return "", fmt.Errorf("%w, got %q", consts.ErrInvalidVersioning, s)
	}
}

// Bucket is a bucket declared in the manifest.
type Bucket struct {
	Name                 string
	CreateServiceAccount bool
	Versioning           VersioningStatus
	LifecycleFile        string
	Lifecycle            *LifecycleConfiguration

	// State is only mutated by the bucket handler.
	State BucketState
}

// LifecycleConfiguration is the object lifecycle management configuration of a bucket.
type LifecycleConfiguration struct {
	Rules []LifecycleRule `json:"Rules"`
}

type LifecycleRule struct {
	ID                          string                       `json:"ID"`
	Status                      string                       `json:"Status"`
	Filter                      *LifecycleRuleFilter         `json:"Filter,omitempty"`
	Expiration                  *LifecycleExpiration         `json:"Expiration,omitempty"`
	NoncurrentVersionExpiration *NoncurrentVersionExpiration `json:"NoncurrentVersionExpiration,omitempty"`
}

type LifecycleRuleFilter struct {
	Prefix string `json:"Prefix"`
}

type LifecycleExpiration struct {
	Days                      *int64       `json:"Days,omitempty"`
	Date                      *metav1.Time `json:"Date,omitempty"`
	ExpiredObjectDeleteMarker *bool        `json:"ExpiredObjectDeleteMarker,omitempty"`
}

type NoncurrentVersionExpiration struct {
	NoncurrentDays          int64  `json:"NoncurrentDays"`
	NewerNoncurrentVersions *int64 `json:"NewerNoncurrentVersions,omitempty"`
}

// Normalized returns a copy with rules sorted by ID and every rule carrying a filter.
// A rule without a filter is rejected by the storage API, so an empty prefix filter is synthesised.
func (lc *LifecycleConfiguration) Normalized() *LifecycleConfiguration {
	if lc == nil {
		return nil
	}
	out := &LifecycleConfiguration{Rules: make([]LifecycleRule, 0, len(lc.Rules))}
	for _, rule := range lc.Rules {
		r := rule
		if r.Filter == nil {
			r.Filter = &LifecycleRuleFilter{}
		} else {
			f := *r.Filter
			r.Filter = &f
		}
		if r.Expiration != nil && r.Expiration.Days == nil && r.Expiration.Date == nil &&
			r.Expiration.ExpiredObjectDeleteMarker == nil {
			r.Expiration = nil
		}
		out.Rules = append(out.Rules, r)
	}
	sort.SliceStable(out.Rules, func(i, j int) bool {
		return out.Rules[i].ID < out.Rules[j].ID
	})
	return out
}

// Equal compares two configurations ignoring rule order.
func (lc *LifecycleConfiguration) Equal(other *LifecycleConfiguration) bool {
	a, b := lc.Normalized(), other.Normalized()
	if a == nil || len(a.Rules) == 0 {
		return b == nil || len(b.Rules) == 0
	}
	if b == nil {
		return false
	}
	return apiequality.Semantic.DeepEqual(a.Rules, b.Rules)
}
