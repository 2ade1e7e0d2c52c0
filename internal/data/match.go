package data

// Location is the byte span of one version literal inside a file.
type Location struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Old   string `json:"old"`
}

// StaleMatch is an outdated version reference to one tracked package in one file.
// Repeated references to the same package in a file share a StaleMatch and are
// carried as separate Locations.
type StaleMatch struct {
	Repo       RepoSpec
	File       string
	Kind       FileKind
	Matcher    string
	Package    string
	OldVersion string
	NewVersion string
	Locations  []Location
}

// Update is the report view of a StaleMatch.
type Update struct {
	Repo    string `json:"repo"`
	File    string `json:"file"`
	Package string `json:"package"`
	From    string `json:"from"`
	To      string `json:"to"`
}

func (m StaleMatch) Update() Update {
	return Update{Repo: m.Repo.Repo, File: m.File, Package: m.Package, From: m.OldVersion, To: m.NewVersion}
}
