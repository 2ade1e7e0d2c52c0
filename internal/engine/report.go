package engine

import (
	"sort"
	"time"

	"depsync/internal/data"
	"depsync/internal/risk"
)

type reportInput struct {
	opts      RunOptions
	versions  map[string]string
	matches   []data.StaleMatch
	committed []data.CommittedEntry
	errs      []data.ErrorEntry
	synced    bool
	verdict   data.RiskVerdict
	started   time.Time
	finished  time.Time
}

// buildReport assembles the run's single report. Every list is non-nil.
func buildReport(in reportInput) *data.RunReport {
	updates := make([]data.Update, 0, len(in.matches))
	for _, m := range in.matches {
		updates = append(updates, m.Update())
	}

	versions := make(map[string]string, len(in.versions))
	for k, v := range in.versions {
		versions[k] = v
	}
	trigger := make(map[string]string, len(in.opts.Trigger))
	for k, v := range in.opts.Trigger {
		trigger[k] = v
	}

	committed := in.committed
	if committed == nil {
		committed = []data.CommittedEntry{}
	}
	errs := append([]data.ErrorEntry{}, in.errs...)
	sort.SliceStable(errs, func(i, j int) bool {
		a, b := errs[i], errs[j]
		if a.Repo != b.Repo {
			return a.Repo < b.Repo
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Package < b.Package
	})

	summary := in.verdict.Summary
	if summary == "" {
		summary = risk.NoChangesSummary
	}
	severity := in.verdict.Severity
	if severity == "" {
		severity = data.SeverityUnknown
	}

	return &data.RunReport{
		RunID:           in.opts.RunID,
		DryRun:          in.opts.DryRun,
		Versions:        versions,
		PendingUpdates:  len(in.matches),
		Updates:         updates,
		Committed:       committed,
		Errors:          errs,
		ConfigSynced:    !in.opts.DryRun && len(committed) > 0 && in.synced,
		AnalysisSummary: summary,
		RiskSeverity:    severity,
		Trigger:         trigger,
		StartedAt:       in.started.UTC(),
		FinishedAt:      in.finished.UTC(),
	}
}
