package patterns

import "depsync/internal/data"

// Occurrence is one version literal for a package found inside a file.
// Start and End are byte offsets into the scanned content; content[Start:End]
// equals Version.
type Occurrence struct {
	Version string
	Start   int
	End     int
}

type Matcher interface {
	ID() string
	Title() string
	Description() string
	Kind() data.FileKind

	// Applies reports whether the matcher understands the file at path.
	Applies(path string) bool

	// Find returns every version literal for pkg in content.
	// Matchers MUST NOT modify content.
	Find(content []byte, pkg string) ([]Occurrence, error)
}
