package commit

import (
	"fmt"

	"depsync/internal/data"
)

// Message builds the commit message for one file. Every message carries the
// run id so commits can be traced back to a report.
func Message(kind data.FileKind, file, runID string, matches []data.StaleMatch) string {
	suffix := fmt.Sprintf(" [run_id=%s]", runID)
	if len(matches) == 1 {
		m := matches[0]
		if kind == data.KindWorkflow {
			return fmt.Sprintf("ci: bump %s to %s in sed pattern%s", m.Package, m.NewVersion, suffix)
		}
		return fmt.Sprintf("chore(deps): bump %s from %s to %s in %s%s", m.Package, m.OldVersion, m.NewVersion, file, suffix)
	}
	if kind == data.KindWorkflow {
		return fmt.Sprintf("ci: bump pinned versions in sed patterns of %s%s", file, suffix)
	}
	return fmt.Sprintf("chore(deps): update dependencies in %s%s", file, suffix)
}
