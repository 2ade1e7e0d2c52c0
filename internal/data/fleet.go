package data

// Fleet is the operator-curated input of a run: the packages to track and the
// repositories to keep in sync with them.
type Fleet struct {
	Org      string           `yaml:"org,omitempty"`
	BaseDir  string           `yaml:"base_dir,omitempty"`
	Packages []TrackedPackage `yaml:"packages"`
	Repos    []RepoSpec       `yaml:"repos"`
}
