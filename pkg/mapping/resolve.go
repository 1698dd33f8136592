package mapping

import (
	"sort"
	"strings"

	"github.com/ryanuber/go-glob"
)

// Resolve computes the distinct set of deployments to restart for the
// given changed paths. It is a pure function: no I/O, deterministic,
// and order-independent in its output (names come back sorted).
//
// Matching is additive, not exclusive: every rule whose pattern
// matches a changed path contributes its deployments, and the
// wildcard rule contributes for any non-empty change set.
func Resolve(changedPaths []string, t Table) []string {
	if len(changedPaths) == 0 {
		return nil
	}

	set := map[string]struct{}{}
	for _, rule := range t.Rules {
		if rule.Pattern == Wildcard {
			for _, d := range rule.Deployments {
				set[d] = struct{}{}
			}
			continue
		}
		for _, path := range changedPaths {
			if matches(rule.Pattern, path) {
				for _, d := range rule.Deployments {
					set[d] = struct{}{}
				}
				break
			}
		}
	}

	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// matches reports whether a single changed path activates a pattern.
func matches(pattern, path string) bool {
	if strings.Contains(pattern, "/") || strings.Contains(pattern, glob.GLOB) {
		return glob.Glob(pattern, path)
	}
	// A bare name matches the path itself, or anything under a
	// top-level directory of that name.
	if path == pattern {
		return true
	}
	return strings.HasPrefix(path, pattern+"/")
}
