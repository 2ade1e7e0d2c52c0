package matchers

import (
	"bytes"
	"fmt"
	"path"

	"depsync/internal/data"
	"depsync/internal/patterns"

	"golang.org/x/mod/modfile"
)

// GoModMatcher finds require directives for a module in go.mod files.
type GoModMatcher struct{}

func (m *GoModMatcher) ID() string          { return "gomod" }
func (m *GoModMatcher) Title() string       { return "Go module requirement" }
func (m *GoModMatcher) Kind() data.FileKind { return data.KindManifest }

func (m *GoModMatcher) Description() string {
	return "Matches the required version of a module in go.mod require directives, single-line or inside a require block."
}

func (m *GoModMatcher) Applies(p string) bool {
	return path.Base(p) == "go.mod"
}

func (m *GoModMatcher) Find(content []byte, pkg string) ([]patterns.Occurrence, error) {
	f, err := modfile.ParseLax("go.mod", content, nil)
	if err != nil {
		return nil, fmt.Errorf("parse go.mod: %w", err)
	}

	var out []patterns.Occurrence
	for _, r := range f.Require {
		if r.Mod.Path != pkg || r.Syntax == nil {
			continue
		}
		start, end := r.Syntax.Start.Byte, r.Syntax.End.Byte
		if start < 0 || end > len(content) || start >= end {
			continue
		}
		i := bytes.LastIndex(content[start:end], []byte(r.Mod.Version))
		if i < 0 {
			continue
		}
		out = append(out, patterns.Occurrence{
			Version: r.Mod.Version,
			Start:   start + i,
			End:     start + i + len(r.Mod.Version),
		})
	}
	return out, nil
}

func init() {
	patterns.Register(&GoModMatcher{})
}
