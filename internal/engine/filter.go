package engine

import (
	"path"
	"strings"

	"depsync/internal/data"
)

// FilterRepos keeps repositories matching at least one include pattern (when
// any are given) and no exclude pattern. Input order is preserved.
func FilterRepos(repos []data.RepoSpec, include, exclude []string) []data.RepoSpec {
	var filtered []data.RepoSpec
	for _, r := range repos {
		if len(include) > 0 && !matchesAnyPattern(include, r.Repo, r.Name()) {
			continue
		}
		if len(exclude) > 0 && matchesAnyPattern(exclude, r.Repo, r.Name()) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

func matchesAnyPattern(patterns []string, fullName, repoName string) bool {
	for _, p := range patterns {
		if matchPattern(p, fullName, repoName) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, fullName, repoName string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	// Patterns with an owner component match the full slug; others match the
	// repository name so "evo-*" works without an org.
	if strings.Contains(pattern, "/") {
		matched, _ := path.Match(pattern, fullName)
		return matched
	}
	matched, _ := path.Match(pattern, repoName)
	return matched
}
