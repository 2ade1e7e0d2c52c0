package matchers

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strings"

	"depsync/internal/data"
	"depsync/internal/patterns"

	"github.com/BurntSushi/toml"
)

// CargoMatcher finds dependency versions in Cargo.toml manifests. It understands
// the simple (`pkg = "1.2"`), inline table (`pkg = { version = "1.2" }`),
// dotted key (`pkg.version = "1.2"`) and dotted table (`[dependencies.pkg]`)
// forms with basic or literal strings in every dependency table, including
// workspace and target-specific ones. Path-only dependencies carry no version
// and are skipped. A declared version that cannot be located is an error, so
// the file is reported rather than treated as up to date.
type CargoMatcher struct{}

func (m *CargoMatcher) ID() string { return "cargo" }

func (m *CargoMatcher) Title() string { return "Cargo manifest dependency" }

func (m *CargoMatcher) Description() string {
	return "Matches version requirements of a crate in Cargo.toml dependency tables ([dependencies], [dev-dependencies], [build-dependencies], [workspace.dependencies], [target.*.dependencies])."
}

func (m *CargoMatcher) Kind() data.FileKind { return data.KindManifest }

func (m *CargoMatcher) Applies(p string) bool {
	return path.Base(p) == "Cargo.toml"
}

var inlineVersion = regexp.MustCompile(`(?:^|[\s{,])version\s*=\s*(?:"([^"]*)"|'([^']*)')`)

func (m *CargoMatcher) Find(content []byte, pkg string) ([]patterns.Occurrence, error) {
	var doc map[string]any
	if _, err := toml.Decode(string(content), &doc); err != nil {
		return nil, fmt.Errorf("parse Cargo.toml: %w", err)
	}
	declared := declaredCargoVersions(doc, pkg)
	if len(declared) == 0 {
		return nil, nil
	}

	// pkg = ..., "pkg" = ... and the dotted pkg.version = ... form.
	keyLine := regexp.MustCompile(`^\s*["']?` + regexp.QuoteMeta(pkg) + `["']?(\s*\.\s*version)?\s*=\s*`)

	var out []patterns.Occurrence
	located := make(map[string]bool)
	section := ""
	offset := 0
	for _, raw := range bytes.SplitAfter(content, []byte("\n")) {
		lineStart := offset
		offset += len(raw)
		line := strings.TrimRight(string(raw), "\r\n")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasPrefix(trimmed, "[") {
			section = sectionName(trimmed)
			continue
		}

		var litStart int
		var lit string
		var ok bool
		switch {
		case isDependencyTable(section):
			loc := keyLine.FindStringSubmatchIndex(line)
			if loc == nil {
				continue
			}
			rest := line[loc[1]:]
			dotted := loc[2] >= 0
			if litStart, lit, ok = quotedLiteral(rest); !ok && !dotted && strings.HasPrefix(rest, "{") {
				litStart, lit, ok = inlineVersionLiteral(rest)
			}
			litStart += loc[1]
		case isDependencyBlock(section, pkg):
			litStart, lit, ok = inlineVersionLiteral(line)
		}
		if !ok {
			continue
		}

		if _, ok := declared[lit]; !ok {
			continue
		}
		s, e, ok := patterns.VersionSpan(lit)
		if !ok {
			continue
		}
		located[lit] = true
		out = append(out, patterns.Occurrence{
			Version: lit[s:e],
			Start:   lineStart + litStart + s,
			End:     lineStart + litStart + e,
		})
	}

	for lit := range declared {
		if _, _, ok := patterns.VersionSpan(lit); ok && !located[lit] {
			return nil, fmt.Errorf("%s declares version %q in a form that cannot be located for patching", pkg, lit)
		}
	}
	return out, nil
}

// quotedLiteral returns the content of a single-line basic ("...") or literal
// ('...') TOML string at the start of s.
func quotedLiteral(s string) (int, string, bool) {
	if s == "" || (s[0] != '"' && s[0] != '\'') {
		return 0, "", false
	}
	end := strings.IndexByte(s[1:], s[0])
	if end < 0 {
		return 0, "", false
	}
	return 1, s[1 : 1+end], true
}

func inlineVersionLiteral(s string) (int, string, bool) {
	sub := inlineVersion.FindStringSubmatchIndex(s)
	if sub == nil {
		return 0, "", false
	}
	for g := 1; g <= 2; g++ {
		if sub[2*g] >= 0 {
			return sub[2*g], s[sub[2*g]:sub[2*g+1]], true
		}
	}
	return 0, "", false
}

// sectionName turns a table header like `[ target."cfg(unix)".dependencies ]`
// into `target.cfg(unix).dependencies`. Array tables yield an empty name.
func sectionName(header string) string {
	if strings.HasPrefix(header, "[[") {
		return ""
	}
	header = strings.TrimPrefix(header, "[")
	if i := strings.Index(header, "]"); i >= 0 {
		header = header[:i]
	}
	parts := strings.Split(header, ".")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), `"'`)
	}
	return strings.Join(parts, ".")
}

var dependencyTables = []string{"dependencies", "dev-dependencies", "build-dependencies"}

func isDependencyTable(section string) bool {
	if section == "workspace.dependencies" {
		return true
	}
	for _, t := range dependencyTables {
		if section == t {
			return true
		}
		if strings.HasPrefix(section, "target.") && strings.HasSuffix(section, "."+t) {
			return true
		}
	}
	return false
}

func isDependencyBlock(section, pkg string) bool {
	if !strings.HasSuffix(section, "."+pkg) {
		return false
	}
	return isDependencyTable(strings.TrimSuffix(section, "."+pkg))
}

// declaredCargoVersions walks the decoded manifest and returns the version
// requirement strings declared for pkg across all dependency tables.
func declaredCargoVersions(doc map[string]any, pkg string) map[string]struct{} {
	out := make(map[string]struct{})
	collect := func(table any) {
		deps, ok := table.(map[string]any)
		if !ok {
			return
		}
		switch v := deps[pkg].(type) {
		case string:
			out[v] = struct{}{}
		case map[string]any:
			if ver, ok := v["version"].(string); ok {
				out[ver] = struct{}{}
			}
		}
	}

	for _, t := range dependencyTables {
		collect(doc[t])
	}
	if ws, ok := doc["workspace"].(map[string]any); ok {
		collect(ws["dependencies"])
	}
	if targets, ok := doc["target"].(map[string]any); ok {
		for _, tv := range targets {
			tt, ok := tv.(map[string]any)
			if !ok {
				continue
			}
			for _, t := range dependencyTables {
				collect(tt[t])
			}
		}
	}
	return out
}

func init() {
	patterns.Register(&CargoMatcher{})
}
