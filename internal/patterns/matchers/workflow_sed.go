package matchers

import (
	"path"
	"regexp"

	"depsync/internal/data"
	"depsync/internal/patterns"
)

// WorkflowSedMatcher finds version literals pinned by sed substitutions in CI
// workflows, such as
//
//	sed -i.bak 's|core-lib = { path = "[^"]*" }|core-lib = "0.1"|' Cargo.toml
//
// The replacement side `|core-lib = "0.1"` carries the pin.
type WorkflowSedMatcher struct{}

func (m *WorkflowSedMatcher) ID() string          { return "workflow-sed" }
func (m *WorkflowSedMatcher) Title() string       { return "Workflow sed pin" }
func (m *WorkflowSedMatcher) Kind() data.FileKind { return data.KindWorkflow }

func (m *WorkflowSedMatcher) Description() string {
	return `Matches pinned versions in sed substitution commands of CI workflows, e.g. s|pkg = { path = "..." }|pkg = "X"|.`
}

func (m *WorkflowSedMatcher) Applies(p string) bool {
	ext := path.Ext(p)
	return ext == ".yml" || ext == ".yaml"
}

func (m *WorkflowSedMatcher) Find(content []byte, pkg string) ([]patterns.Occurrence, error) {
	re := regexp.MustCompile(`\|` + regexp.QuoteMeta(pkg) + ` = "([0-9][^"]*)"`)

	var out []patterns.Occurrence
	for _, loc := range re.FindAllSubmatchIndex(content, -1) {
		out = append(out, patterns.Occurrence{
			Version: string(content[loc[2]:loc[3]]),
			Start:   loc[2],
			End:     loc[3],
		})
	}
	return out, nil
}

func init() {
	patterns.Register(&WorkflowSedMatcher{})
}
