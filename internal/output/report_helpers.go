package output

import (
	"fmt"
	"sort"
	"strings"

	"depsync/internal/data"
)

// stageOrder lists error stages in the order the run reaches them.
var stageOrder = map[data.Stage]int{
	data.StageResolve: 0,
	data.StageScan:    1,
	data.StageGate:    2,
	data.StagePatch:   3,
	data.StageCommit:  4,
	data.StageNotify:  5,
}

type errorGroup struct {
	stage   data.Stage
	entries []data.ErrorEntry
}

func groupErrors(errs []data.ErrorEntry) []errorGroup {
	byStage := make(map[data.Stage][]data.ErrorEntry)
	for _, e := range errs {
		byStage[e.Stage] = append(byStage[e.Stage], e)
	}
	out := make([]errorGroup, 0, len(byStage))
	for stage, entries := range byStage {
		out = append(out, errorGroup{stage: stage, entries: entries})
	}
	sort.Slice(out, func(i, j int) bool {
		oi, iok := stageOrder[out[i].stage]
		oj, jok := stageOrder[out[j].stage]
		if iok != jok {
			return iok
		}
		if oi != oj {
			return oi < oj
		}
		return out[i].stage < out[j].stage
	})
	return out
}

// updateResults maps repo:file:package to the commit or error recorded for it.
func updateResults(r *data.RunReport) map[string]string {
	out := make(map[string]string, len(r.Updates))
	if r.DryRun {
		for _, u := range r.Updates {
			out[u.Repo+":"+u.File+":"+u.Package] = "dry run"
		}
		return out
	}
	for _, c := range r.Committed {
		out[c.Repo+":"+c.File+":"+c.Package] = fmt.Sprintf("`%s` (%s)", shortSHA(c.CommitID), c.Strategy)
	}
	for _, e := range r.Errors {
		if e.File == "" || e.Package == "" {
			continue
		}
		out[e.Repo+":"+e.File+":"+e.Package] = fmt.Sprintf("%s failed", e.Stage)
	}
	return out
}

func errorTarget(e data.ErrorEntry) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{e.Repo, e.File, e.Package} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "run"
	}
	return strings.Join(parts, " ")
}

// normalizeErrorReason collapses whitespace and truncates long messages.
func normalizeErrorReason(errText string) string {
	s := strings.Join(strings.Fields(errText), " ")
	if len(s) > 200 {
		return s[:197] + "..."
	}
	return s
}

func formatTrigger(trigger map[string]string) string {
	parts := make([]string, 0, len(trigger))
	for _, k := range sortedKeys(trigger) {
		parts = append(parts, fmt.Sprintf("`%s=%s`", k, trigger[k]))
	}
	return strings.Join(parts, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
