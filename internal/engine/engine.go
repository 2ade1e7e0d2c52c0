// Package engine runs one synchronization: resolve, scan, assess, commit,
// notify, report. Phases run strictly in order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"depsync/internal/commit"
	"depsync/internal/data"
	"depsync/internal/output"
	"depsync/internal/risk"
	"depsync/internal/scanner"

	logger "github.com/sirupsen/logrus"
)

var (
	ErrEmptyFleet  = errors.New("no repositories configured")
	ErrNoPackages  = errors.New("no tracked packages configured")
	ErrNoCommitter = errors.New("no commit strategy configured; GitHub credentials are required outside dry-run")
)

const DefaultCommitTimeout = 2 * time.Minute

type VersionResolver interface {
	Resolve(ctx context.Context, pkgs []data.TrackedPackage) (map[string]string, []data.ErrorEntry)
}

type StaleScanner interface {
	Scan(ctx context.Context, versions map[string]string, repos []data.RepoSpec) *scanner.Result
}

type RiskAssessor interface {
	Assess(ctx context.Context, matches []data.StaleMatch) data.RiskVerdict
}

type Committer interface {
	Commit(ctx context.Context, req commit.Request) (commit.Result, error)
}

type ConfigNotifier interface {
	Notify(ctx context.Context, runID string, committed []data.CommittedEntry) error
}

// EventWriter receives lifecycle events; output.Manager satisfies it.
type EventWriter interface {
	Write(v any) error
}

// Components are the collaborators of a run. Committer and Notifier are nil
// in dry-run.
type Components struct {
	Resolver  VersionResolver
	Scanner   StaleScanner
	Assessor  RiskAssessor
	Committer Committer
	Notifier  ConfigNotifier
	Events    EventWriter
}

type RunOptions struct {
	RunID   string
	DryRun  bool
	Trigger map[string]string
	Include []string
	Exclude []string
	Policy  risk.Policy

	Concurrency   int
	CommitTimeout time.Duration
	Verbose       bool
}

type Engine struct {
	Components
	now func() time.Time
}

func NewEngine(c Components) *Engine {
	return &Engine{Components: c, now: time.Now}
}

// ExitCode maps a run onto the process exit status:
// 0 clean, 1 commits withheld by the risk gate, 2 errors recorded, 3 fatal.
func ExitCode(rep *data.RunReport, fatal error) int {
	if fatal != nil || rep == nil {
		return 3
	}
	if rep.HasErrors() {
		return 2
	}
	if rep.Gated() {
		return 1
	}
	return 0
}

func (e *Engine) validate(fleet *data.Fleet, opts RunOptions) ([]data.RepoSpec, error) {
	if fleet == nil || len(fleet.Repos) == 0 {
		return nil, ErrEmptyFleet
	}
	if len(fleet.Packages) == 0 {
		return nil, ErrNoPackages
	}
	repos := FilterRepos(fleet.Repos, opts.Include, opts.Exclude)
	if len(repos) == 0 {
		return nil, fmt.Errorf("%w after include/exclude filtering", ErrEmptyFleet)
	}
	if e.Resolver == nil || e.Scanner == nil || e.Assessor == nil {
		return nil, errors.New("engine is missing a resolver, scanner or assessor")
	}
	if !opts.DryRun && e.Committer == nil {
		return nil, ErrNoCommitter
	}
	if opts.RunID == "" {
		return nil, errors.New("run id is required")
	}
	return repos, nil
}

// Run executes one synchronization over fleet. A non-nil error means the run
// was aborted before any remote side effect; every other failure is an entry
// in the returned report.
func (e *Engine) Run(ctx context.Context, fleet *data.Fleet, opts RunOptions) (*data.RunReport, error) {
	repos, err := e.validate(fleet, opts)
	if err != nil {
		return nil, err
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = DefaultCommitTimeout
	}

	started := e.now()
	log := logger.WithField("run_id", opts.RunID)
	log.WithFields(logger.Fields{"repos": len(repos), "packages": len(fleet.Packages), "dry_run": opts.DryRun}).
		Info("[run] started")
	e.emit(output.Event{Type: output.EventRunStarted, RunID: opts.RunID, DryRun: opts.DryRun, Repos: len(repos), Tracked: len(fleet.Packages)})

	var errs []data.ErrorEntry

	// resolve
	versions, resolveErrs := e.Resolver.Resolve(ctx, fleet.Packages)
	if versions == nil {
		versions = map[string]string{}
	}
	errs = append(errs, resolveErrs...)
	log.WithFields(logger.Fields{"phase": "resolve", "resolved": len(versions), "failed": len(resolveErrs)}).Info("[resolve] done")

	// scan
	scan := e.Scanner.Scan(ctx, versions, repos)
	errs = append(errs, scan.Errors...)
	e.emitScanned(opts.RunID, repos, scan)
	log.WithFields(logger.Fields{"phase": "scan", "stale": len(scan.Matches), "errors": len(scan.Errors)}).Info("[scan] done")

	// assess
	verdict := e.Assessor.Assess(ctx, scan.Matches)
	log.WithFields(logger.Fields{"phase": "assess", "severity": verdict.Severity, "assessed": verdict.Assessed}).Info("[assess] done")

	// commit
	var outcomes []data.CommitOutcome
	switch {
	case opts.DryRun || len(scan.Matches) == 0:
	case !opts.Policy.Allows(verdict):
		log.WithFields(logger.Fields{"policy": opts.Policy, "severity": verdict.Severity}).Warn("[gate] commits withheld")
		errs = append(errs, gateErrors(scan.Matches, opts.Policy, verdict)...)
	default:
		var commitErrs []data.ErrorEntry
		outcomes, commitErrs = e.commitAll(ctx, scan, opts)
		errs = append(errs, commitErrs...)
		log.WithFields(logger.Fields{"phase": "commit", "outcomes": len(outcomes)}).Info("[commit] done")
	}

	committed := committedEntries(outcomes)

	// notify
	synced := false
	if !opts.DryRun && len(committed) > 0 {
		if entry, ok := e.notify(ctx, opts.RunID, committed); ok {
			synced = true
		} else {
			errs = append(errs, entry)
		}
	}

	rep := buildReport(reportInput{
		opts:      opts,
		versions:  versions,
		matches:   scan.Matches,
		committed: committed,
		errs:      errs,
		synced:    synced,
		verdict:   verdict,
		started:   started,
		finished:  e.now(),
	})

	code := ExitCode(rep, nil)
	log.WithFields(logger.Fields{
		"pending":   rep.PendingUpdates,
		"committed": len(rep.Committed),
		"errors":    len(rep.Errors),
		"synced":    rep.ConfigSynced,
		"exit_code": code,
	}).Info("[run] finished")
	e.emit(output.Event{Type: output.EventRunFinished, RunID: opts.RunID, Stale: rep.PendingUpdates, Errors: len(rep.Errors), ExitCode: code})
	return rep, nil
}

func (e *Engine) notify(ctx context.Context, runID string, committed []data.CommittedEntry) (data.ErrorEntry, bool) {
	entry := data.ErrorEntry{Stage: data.StageNotify}
	if e.Notifier == nil {
		entry.Message = "notification target not configured"
		return entry, false
	}
	// Commits have landed, so the signal is sent even when the run was cancelled.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	if err := e.Notifier.Notify(nctx, runID, committed); err != nil {
		logger.WithField("run_id", runID).Warnf("[notify] config sync failed: %v", err)
		entry.Message = err.Error()
		return entry, false
	}
	logger.WithField("run_id", runID).Info("[notify] config sync acknowledged")
	return entry, true
}

func (e *Engine) emit(ev output.Event) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Write(ev); err != nil {
		logger.Debugf("[output] event %s not written: %v", ev.Type, err)
	}
}

func (e *Engine) emitScanned(runID string, repos []data.RepoSpec, scan *scanner.Result) {
	stale := make(map[string]int)
	failed := make(map[string]int)
	for _, m := range scan.Matches {
		stale[m.Repo.Repo]++
	}
	for _, er := range scan.Errors {
		failed[er.Repo]++
	}
	for _, r := range repos {
		e.emit(output.Event{Type: output.EventRepoScanned, RunID: runID, Repo: r.Repo, Stale: stale[r.Repo], Errors: failed[r.Repo]})
	}
}

func gateErrors(matches []data.StaleMatch, p risk.Policy, v data.RiskVerdict) []data.ErrorEntry {
	msg := fmt.Sprintf("withheld by risk policy %s (severity %s)", p, v.Severity)
	out := make([]data.ErrorEntry, 0, len(matches))
	for _, m := range matches {
		out = append(out, data.ErrorEntry{Stage: data.StageGate, Repo: m.Repo.Repo, File: m.File, Package: m.Package, Message: msg})
	}
	return out
}

func committedEntries(outcomes []data.CommitOutcome) []data.CommittedEntry {
	out := make([]data.CommittedEntry, 0, len(outcomes))
	for _, o := range outcomes {
		if !o.Succeeded() {
			continue
		}
		out = append(out, data.CommittedEntry{Repo: o.Repo, File: o.File, Package: o.Package, CommitID: o.SHA, Strategy: o.Strategy})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Repo != b.Repo {
			return a.Repo < b.Repo
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Package < b.Package
	})
	return out
}
