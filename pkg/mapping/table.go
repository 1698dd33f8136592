// Package mapping implements the rollout mapping table: which
// deployments to restart when a given path in the datadir changes.
package mapping

import (
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Wildcard is the reserved key matching every change. Its deployments
// are additive: they are triggered on every non-empty change set, on
// top of any path-specific matches.
const Wildcard = "*"

// Rule associates a path pattern with the deployments to restart when
// a path matching it changes.
//
// A pattern is matched against a changed path as follows:
//   - the reserved key "*" matches any change (see Wildcard);
//   - a pattern containing a `/` or a glob metacharacter is matched
//     against the whole path, glob-style (`header/*`, `*.properties`);
//   - anything else names a top-level file or directory, and matches a
//     path equal to it or lying under it.
//
// Deeper nesting is therefore available by writing a more specific
// pattern, never assumed.
type Rule struct {
	Pattern     string
	Deployments []string
}

// Table is the ordered set of rules loaded from the mapping file.
type Table struct {
	Rules []Rule
	// Warnings describes entries that were skipped at load time
	// (empty deployment lists and the like). The table is still
	// usable; callers should log these once.
	Warnings []string
}

// Empty is true when no rule carries any deployment, i.e. no change
// can ever resolve to a rollout.
func (t Table) Empty() bool {
	return len(t.Rules) == 0
}

// Load reads and parses the mapping file at path.
func Load(path string) (Table, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Table{}, errors.Wrapf(err, "reading mapping file %s", path)
	}
	t, err := Parse(data)
	if err != nil {
		return Table{}, errors.Wrapf(err, "parsing mapping file %s", path)
	}
	return t, nil
}

// Parse parses mapping YAML: a mapping from path pattern to a sequence
// of deployment names. Rule order is preserved. A syntactically broken
// document is an error; individually unusable entries are skipped and
// reported in Table.Warnings.
func Parse(data []byte) (Table, error) {
	var doc yaml.MapSlice
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Table{}, err
	}

	var t Table
	for _, item := range doc {
		pattern, ok := item.Key.(string)
		if !ok {
			t.Warnings = append(t.Warnings, fmt.Sprintf("skipping rule with non-string key %v", item.Key))
			continue
		}
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			t.Warnings = append(t.Warnings, "skipping rule with empty pattern")
			continue
		}

		deployments, warn := stringList(item.Value)
		if warn != "" {
			t.Warnings = append(t.Warnings, fmt.Sprintf("rule %q: %s", pattern, warn))
		}
		if len(deployments) == 0 {
			t.Warnings = append(t.Warnings, fmt.Sprintf("skipping rule %q with no deployments", pattern))
			continue
		}
		t.Rules = append(t.Rules, Rule{Pattern: pattern, Deployments: deployments})
	}
	return t, nil
}

// stringList coerces a YAML value into a list of deployment names,
// accepting either a sequence or a single scalar.
func stringList(v interface{}) ([]string, string) {
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return []string{s}, ""
		}
		return nil, ""
	case []interface{}:
		var out []string
		var skipped int
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				skipped++
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		if skipped > 0 {
			return out, fmt.Sprintf("ignored %d non-string deployment name(s)", skipped)
		}
		return out, ""
	case nil:
		return nil, ""
	default:
		return nil, fmt.Sprintf("unexpected value of type %T", v)
	}
}
