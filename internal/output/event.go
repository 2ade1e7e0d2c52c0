package output

import "depsync/internal/data"

// Event is a lifecycle record for NDJSON streaming output:
// run.started, repo.scanned, commit.result, run.finished and finally
// run.report carrying the whole report.
//
// JSON and text modes render only the final data.RunReport.
type Event struct {
	Type  string `json:"type"`
	RunID string `json:"run_id,omitempty"`
	Repo  string `json:"repo,omitempty"`
	File  string `json:"file,omitempty"`

	Packages []string `json:"packages,omitempty"`
	Strategy string   `json:"strategy,omitempty"`
	CommitID string   `json:"commit_id,omitempty"`
	Error    string   `json:"error,omitempty"`

	DryRun   bool `json:"dry_run,omitempty"`
	Repos    int  `json:"repos,omitempty"`
	Tracked  int  `json:"tracked,omitempty"`
	Stale    int  `json:"stale,omitempty"`
	Errors   int  `json:"errors,omitempty"`
	ExitCode int  `json:"exit_code,omitempty"`

	Report *data.RunReport `json:"report,omitempty"`
}

const (
	EventRunStarted   = "run.started"
	EventRepoScanned  = "repo.scanned"
	EventCommitResult = "commit.result"
	EventRunFinished  = "run.finished"
	EventRunReport    = "run.report"
)

// encodeStreamed writes events and reports as one JSON line each. Other
// values are ignored.
func encodeStreamed(enc interface{ Encode(any) error }, v any) (bool, error) {
	switch t := v.(type) {
	case Event:
		return true, enc.Encode(t)
	case *data.RunReport:
		if t == nil {
			return false, nil
		}
		return true, enc.Encode(Event{Type: EventRunReport, RunID: t.RunID, Report: t})
	default:
		return false, nil
	}
}
