package scanner

import (
	"strings"

	"golang.org/x/mod/semver"
)

// IsStale reports whether found should be bumped to latest. A version at or
// above latest is never stale, so pins are never downgraded. Versions that
// are not semver compare by equality only.
func IsStale(found, latest string) bool {
	if found == "" || latest == "" || found == latest {
		return false
	}
	f, l := canonical(found), canonical(latest)
	if semver.IsValid(f) && semver.IsValid(l) {
		return semver.Compare(f, l) < 0
	}
	return true
}

// canonical prefixes a v so partial requirements like 0.1 compare as v0.1.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
