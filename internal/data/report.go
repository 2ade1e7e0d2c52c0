package data

import "time"

// CommittedEntry is one successful commit in the report.
type CommittedEntry struct {
	Repo     string   `json:"repo"`
	File     string   `json:"file"`
	Package  string   `json:"package,omitempty"`
	CommitID string   `json:"commit_id"`
	Strategy Strategy `json:"strategy"`
}

// RunReport is the single artifact of a run. It is built once and not mutated
// afterwards; every list is non-nil so JSON output never omits a field.
type RunReport struct {
	RunID           string            `json:"run_id"`
	DryRun          bool              `json:"dry_run"`
	Versions        map[string]string `json:"versions"`
	PendingUpdates  int               `json:"pending_updates"`
	Updates         []Update          `json:"updates"`
	Committed       []CommittedEntry  `json:"committed"`
	Errors          []ErrorEntry      `json:"errors"`
	ConfigSynced    bool              `json:"config_synced"`
	AnalysisSummary string            `json:"analysis_summary"`
	RiskSeverity    Severity          `json:"risk_severity"`
	Trigger         map[string]string `json:"trigger"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
}

// HasErrors reports whether any error entry was recorded outside the risk gate.
func (r *RunReport) HasErrors() bool {
	for _, e := range r.Errors {
		if e.Stage != StageGate {
			return true
		}
	}
	return false
}

// Gated reports whether the risk gate withheld any commit.
func (r *RunReport) Gated() bool {
	for _, e := range r.Errors {
		if e.Stage == StageGate {
			return true
		}
	}
	return false
}
