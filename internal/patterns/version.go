package patterns

import "regexp"

var versionToken = regexp.MustCompile(`v?[0-9][0-9A-Za-z.\-+]*`)

// VersionSpan locates the version token inside a requirement literal such as
// "^1.2", "~> 0.4.1" or "=2.0.3". Operators are left outside the span.
func VersionSpan(literal string) (start, end int, ok bool) {
	loc := versionToken.FindStringIndex(literal)
	if loc == nil {
		return 0, 0, false
	}
	return loc[0], loc[1], true
}
