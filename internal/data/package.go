package data

import "strings"

// Registry identifies where the latest stable version of a tracked package is looked up.
type Registry string

const (
	RegistryCrates Registry = "crates"
	RegistryGo     Registry = "go"
)

// TrackedPackage is a shared core dependency whose version drift is monitored.
type TrackedPackage struct {
	Name     string   `yaml:"name" json:"name"`
	Registry Registry `yaml:"registry" json:"registry"`

	// ChangelogRepo is an optional OWNER/REPO whose GitHub releases carry
	// changelog text for this package.
	ChangelogRepo string `yaml:"changelog_repo,omitempty" json:"changelog_repo,omitempty"`

	// Latest is filled in by the resolver. Empty means unresolved.
	Latest string `yaml:"-" json:"latest,omitempty"`
}

// RepoSpec is one managed repository and the files within it that are scanned.
type RepoSpec struct {
	// Repo is the OWNER/REPO slug.
	Repo string `yaml:"repo" json:"repo"`

	// LocalPath is the checkout directory. It may not exist.
	LocalPath string `yaml:"local,omitempty" json:"local,omitempty"`

	// Branch is the target branch. Empty means the repository's default branch.
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty"`

	Manifests []string `yaml:"manifests,omitempty" json:"manifests"`
	Workflows []string `yaml:"workflows,omitempty" json:"workflows"`
}

// Owner returns the owner part of the slug.
func (r RepoSpec) Owner() string {
	owner, _ := r.split()
	return owner
}

// Name returns the repository name part of the slug.
func (r RepoSpec) Name() string {
	_, name := r.split()
	return name
}

func (r RepoSpec) split() (string, string) {
	owner, name, ok := strings.Cut(r.Repo, "/")
	if !ok {
		return "", r.Repo
	}
	return owner, name
}

// Files returns manifests followed by workflows, each tagged with its kind.
func (r RepoSpec) Files() []RepoFile {
	out := make([]RepoFile, 0, len(r.Manifests)+len(r.Workflows))
	for _, f := range r.Manifests {
		out = append(out, RepoFile{Path: f, Kind: KindManifest})
	}
	for _, f := range r.Workflows {
		out = append(out, RepoFile{Path: f, Kind: KindWorkflow})
	}
	return out
}

// FileKind distinguishes dependency manifests from CI workflow files.
type FileKind string

const (
	KindManifest FileKind = "manifest"
	KindWorkflow FileKind = "workflow"
)

type RepoFile struct {
	Path string
	Kind FileKind
}
