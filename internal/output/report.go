package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"depsync/internal/data"
)

// ReportSink renders the run report as Markdown on Close.
type ReportSink struct {
	path     string
	file     *os.File
	mu       sync.Mutex
	report   *data.RunReport
	exitCode int
	scanned  map[string]Event
}

func NewReportSink(path string) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}

	return &ReportSink{path: path, file: f, scanned: make(map[string]Event)}, nil
}

func (s *ReportSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t := v.(type) {
	case *data.RunReport:
		s.report = t
	case Event:
		switch t.Type {
		case EventRepoScanned:
			s.scanned[t.Repo] = t
		case EventRunFinished:
			s.exitCode = t.ExitCode
		}
	}
	return nil
}

func (s *ReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.report == nil {
		return s.file.Close()
	}
	_, err := s.file.WriteString(renderMarkdown(s.report, s.scanned, s.exitCode))
	if closeErr := s.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func renderMarkdown(r *data.RunReport, scanned map[string]Event, exitCode int) string {
	var b strings.Builder
	b.WriteString("# depsync Run Report\n\n")

	mode := "live"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(&b, "- **Run:** `%s` (%s)\n", r.RunID, mode)
	fmt.Fprintf(&b, "- **Started:** %s\n", r.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- **Duration:** %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "- **Exit code:** %d\n", exitCode)
	if len(r.Trigger) > 0 {
		fmt.Fprintf(&b, "- **Trigger:** %s\n", formatTrigger(r.Trigger))
	}
	b.WriteString("\n")

	// --- Summary ---
	b.WriteString("## Summary\n\n")
	b.WriteString("| Pending updates | Committed | Errors | Config synced | Risk |\n")
	b.WriteString("|---:|---:|---:|:---:|:---:|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %s | %s |\n\n",
		r.PendingUpdates, len(r.Committed), len(r.Errors), yesNo(r.ConfigSynced), r.RiskSeverity)

	// --- Versions ---
	b.WriteString("## Tracked Versions\n\n")
	if len(r.Versions) == 0 {
		b.WriteString("_No package versions were resolved._\n\n")
	} else {
		b.WriteString("| Package | Latest |\n|---|---|\n")
		for _, name := range sortedKeys(r.Versions) {
			fmt.Fprintf(&b, "| %s | %s |\n", name, r.Versions[name])
		}
		b.WriteString("\n")
	}

	// --- Updates ---
	b.WriteString("## Updates\n\n")
	if len(r.Updates) == 0 {
		b.WriteString("_All repositories are up to date._\n\n")
	} else {
		b.WriteString("| Repository | File | Package | From | To | Result |\n|---|---|---|---|---|---|\n")
		results := updateResults(r)
		for _, u := range r.Updates {
			fmt.Fprintf(&b, "| %s | `%s` | %s | %s | %s | %s |\n",
				u.Repo, u.File, u.Package, u.From, u.To, results[u.Repo+":"+u.File+":"+u.Package])
		}
		b.WriteString("\n")
	}

	// --- Repositories ---
	if len(scanned) > 0 {
		b.WriteString("## Repositories\n\n")
		b.WriteString("| Repository | Stale files | Scan errors |\n|---|---:|---:|\n")
		for _, repo := range sortedKeys(scanned) {
			ev := scanned[repo]
			fmt.Fprintf(&b, "| %s | %d | %d |\n", repo, ev.Stale, ev.Errors)
		}
		b.WriteString("\n")
	}

	// --- Errors ---
	if len(r.Errors) > 0 {
		b.WriteString("## Errors\n\n")
		for _, g := range groupErrors(r.Errors) {
			fmt.Fprintf(&b, "### %s (%d)\n\n", g.stage, len(g.entries))
			for _, e := range g.entries {
				fmt.Fprintf(&b, "- %s: %s\n", errorTarget(e), normalizeErrorReason(e.Message))
			}
			b.WriteString("\n")
		}
	}

	// --- Risk ---
	b.WriteString("## Risk Assessment\n\n")
	fmt.Fprintf(&b, "**Severity:** %s\n\n", r.RiskSeverity)
	for _, line := range strings.Split(strings.TrimSpace(r.AnalysisSummary), "\n") {
		fmt.Fprintf(&b, "> %s\n", line)
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
