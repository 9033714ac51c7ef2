package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	apiequality "k8s.io/apimachinery/pkg/api/equality"

	"github.com/snapp-incubator/s3-manager/api/v1alpha1"
	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

const (
	EffectAllow = "Allow"
	EffectDeny  = "Deny"
)

// Parse decodes and validates a policy document.
func Parse(data []byte) (*v1alpha1.PolicyDocument, error) {
	doc := &v1alpha1.PolicyDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: %s", consts.ErrInvalidPolicy, err)
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadFile reads and parses the policy document at path.
func LoadFile(path string) (*v1alpha1.PolicyDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return doc, nil
}

// Validate checks the minimal structure every policy needs.
func Validate(doc *v1alpha1.PolicyDocument) error {
	if doc == nil {
		return fmt.Errorf("%w: empty document", consts.ErrInvalidPolicy)
	}
	if doc.Version == "" {
		return fmt.Errorf("%w: Version is required", consts.ErrInvalidPolicy)
	}
	if len(doc.Statement) == 0 {
		return fmt.Errorf("%w: at least one Statement is required", consts.ErrInvalidPolicy)
	}
	for i, st := range doc.Statement {
		if st.Effect != EffectAllow && st.Effect != EffectDeny {
			return fmt.Errorf("%w: statement %d has Effect %q", consts.ErrInvalidPolicy, i, st.Effect)
		}
		if len(st.Action) == 0 && len(st.NotAction) == 0 {
			return fmt.Errorf("%w: statement %d has no Action", consts.ErrInvalidPolicy, i)
		}
	}
	return nil
}

// Marshal renders the document as the compact JSON the storage APIs accept.
func Marshal(doc *v1alpha1.PolicyDocument) ([]byte, error) {
	return json.Marshal(doc)
}

// Normalize returns a canonical copy of doc: string sets sorted and deduplicated, principals and
// conditions in list form, statements ordered by their canonical encoding.
func Normalize(doc *v1alpha1.PolicyDocument) *v1alpha1.PolicyDocument {
	if doc == nil {
		return nil
	}
	out := &v1alpha1.PolicyDocument{
		Version:   doc.Version,
		ID:        doc.ID,
		Statement: make([]v1alpha1.PolicyStatement, 0, len(doc.Statement)),
	}
	for _, st := range doc.Statement {
		n := v1alpha1.PolicyStatement{
			Sid:          st.Sid,
			Effect:       st.Effect,
			Principal:    canonical(st.Principal),
			NotPrincipal: canonical(st.NotPrincipal),
			Action:       sortedSet(st.Action),
			NotAction:    sortedSet(st.NotAction),
			Resource:     sortedSet(st.Resource),
			NotResource:  sortedSet(st.NotResource),
		}
		if len(st.Condition) > 0 {
			n.Condition = canonical(st.Condition).(map[string]interface{})
		}
		out.Statement = append(out.Statement, n)
	}

	keys := make([]string, len(out.Statement))
	for i := range out.Statement {
		b, _ := json.Marshal(out.Statement[i])
		keys[i] = string(b)
	}
	sort.Sort(byKey{statements: out.Statement, keys: keys})
	return out
}

// Equal reports whether two documents grant the same thing, ignoring key order, list order and
// the single string versus list spelling of a value.
func Equal(a, b *v1alpha1.PolicyDocument) bool {
	if a == nil || b == nil {
		return a == b
	}
	return apiequality.Semantic.DeepEqual(Normalize(a), Normalize(b))
}

// EqualJSON compares a document against a raw JSON policy as returned by a storage API.
func EqualJSON(doc *v1alpha1.PolicyDocument, raw []byte) (bool, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return false, nil
	}
	live := &v1alpha1.PolicyDocument{}
	if err := json.Unmarshal(raw, live); err != nil {
		return false, fmt.Errorf("%w: %s", consts.ErrInvalidPolicy, err)
	}
	return Equal(doc, live), nil
}

func sortedSet(in v1alpha1.StringSet) v1alpha1.StringSet {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make(v1alpha1.StringSet, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// canonical rewrites a decoded JSON value so that scalars become one-element lists and lists are
// sorted and deduplicated, recursively.
func canonical(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = canonical(val)
		}
		return out
	case []interface{}:
		items := make([]interface{}, 0, len(t))
		keys := make(map[string]struct{}, len(t))
		for _, item := range t {
			c := canonical(item)
			// Nested one-element lists collapse into their element.
			if l, ok := c.([]interface{}); ok && len(l) == 1 {
				c = l[0]
			}
			b, _ := json.Marshal(c)
			if _, ok := keys[string(b)]; ok {
				continue
			}
			keys[string(b)] = struct{}{}
			items = append(items, c)
		}
		sort.Slice(items, func(i, j int) bool {
			bi, _ := json.Marshal(items[i])
			bj, _ := json.Marshal(items[j])
			return string(bi) < string(bj)
		})
		return items
	default:
		return []interface{}{t}
	}
}

type byKey struct {
	statements []v1alpha1.PolicyStatement
	keys       []string
}

func (b byKey) Len() int           { return len(b.statements) }
func (b byKey) Less(i, j int) bool { return b.keys[i] < b.keys[j] }
func (b byKey) Swap(i, j int) {
	b.statements[i], b.statements[j] = b.statements[j], b.statements[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
}
