package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"depsync/internal/data"

	"github.com/fatih/color"
)

type ConsoleSink struct {
	writer io.Writer
	format string // "text", "json", "ndjson"
	mu     sync.Mutex
	report *data.RunReport // For JSON output on Close
}

func NewConsoleSink(w io.Writer, format string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}
	return &ConsoleSink{writer: w, format: format}
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json":
		if r, ok := v.(*data.RunReport); ok {
			s.report = r
		}
		return nil
	case "ndjson":
		handled, err := encodeStreamed(json.NewEncoder(s.writer), v)
		if err != nil || !handled {
			return err
		}
		return flushIfPossible(s.writer)
	case "text":
		r, ok := v.(*data.RunReport)
		if !ok || r == nil {
			// Lifecycle events are not shown in text mode.
			return nil
		}
		if err := renderText(s.writer, r); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json":
		if s.report == nil {
			return nil
		}
		encoder := json.NewEncoder(s.writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(s.report); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	case "text", "ndjson":
		return nil
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func renderText(w io.Writer, r *data.RunReport) error {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	ew := &errWriter{w: w}
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	ew.color(bold, "Run %s%s\n", r.RunID, mode)

	names := make([]string, 0, len(r.Versions))
	for n := range r.Versions {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		ew.printf("  %-24s %s\n", n, r.Versions[n])
	}

	ew.color(bold, "\nPending updates: %d\n", r.PendingUpdates)
	for _, u := range r.Updates {
		ew.color(yellow, "  %s  %s  %s %s -> %s\n", u.Repo, u.File, u.Package, u.From, u.To)
	}

	if !r.DryRun {
		ew.color(bold, "\nCommitted: %d\n", len(r.Committed))
		for _, c := range r.Committed {
			ew.color(green, "  %s  %s  %s (%s)\n", c.Repo, c.File, shortSHA(c.CommitID), c.Strategy)
		}
	}

	if len(r.Errors) > 0 {
		ew.color(bold, "\nErrors: %d\n", len(r.Errors))
		for _, e := range r.Errors {
			target := e.Repo
			if e.File != "" {
				target += "  " + e.File
			}
			if target == "" {
				target = e.Package
			}
			ew.color(red, "  [%s] %s: %s\n", e.Stage, target, e.Message)
		}
	}

	ew.color(bold, "\nRisk (%s): ", r.RiskSeverity)
	ew.printf("%s\n", r.AnalysisSummary)
	ew.printf("Config synced: %t\n", r.ConfigSynced)
	return ew.err
}

// errWriter keeps the first write error so rendering reads straight through.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func (e *errWriter) color(c *color.Color, format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = c.Fprintf(e.w, format, args...)
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
