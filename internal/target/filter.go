package target

import (
	"path"
	"strings"
)

// Filter applies include/exclude patterns and keeps the input order.
//
// Patterns use path.Match syntax. A pattern containing '/' matches the target
// ID (typically OWNER/REPO); otherwise it matches the repository name, so
// patterns like "*-service" work across owners.
func Filter(targets []Target, include, exclude []string) []Target {
	var filtered []Target
	for _, t := range targets {
		// If Include is set, must match at least one
		if len(include) > 0 && !matchesAnyPattern(include, t.ID, t.Repo) {
			continue
		}
		// If Exclude is set, must not match any
		if len(exclude) > 0 && matchesAnyPattern(exclude, t.ID, t.Repo) {
			continue
		}
		filtered = append(filtered, t)
	}
	return filtered
}

func matchesAnyPattern(patterns []string, id, repoName string) bool {
	for _, p := range patterns {
		if matchPattern(p, id, repoName) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, id, repoName string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if strings.Contains(pattern, "/") {
		matched, _ := path.Match(pattern, id)
		return matched
	}
	matched, _ := path.Match(pattern, repoName)
	return matched
}
