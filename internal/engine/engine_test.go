package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"depsync/internal/commit"
	"depsync/internal/data"
	"depsync/internal/output"
	"depsync/internal/patterns"
	_ "depsync/internal/patterns/matchers"
	"depsync/internal/risk"
	"depsync/internal/scanner"
)

type staticResolver struct {
	versions map[string]string
	errs     []data.ErrorEntry
}

func (r staticResolver) Resolve(context.Context, []data.TrackedPackage) (map[string]string, []data.ErrorEntry) {
	return r.versions, r.errs
}

type memReader map[string]string

func (m memReader) Read(_ context.Context, repo data.RepoSpec, path string) ([]byte, error) {
	s, ok := m[repo.Repo+":"+path]
	if !ok {
		return nil, fmt.Errorf("%s not found", path)
	}
	return []byte(s), nil
}

// fakeStrategy records every request and answers per file.
type fakeStrategy struct {
	name data.Strategy
	fail map[string]error

	mu       sync.Mutex
	requests []commit.Request
}

func (s *fakeStrategy) Name() data.Strategy { return s.name }

func (s *fakeStrategy) Commit(_ context.Context, req commit.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if err, ok := s.fail[req.Repo+":"+req.Path]; ok {
		return "", err
	}
	if err, ok := s.fail["*"]; ok {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", s.name, req.Repo, req.Path), nil
}

func (s *fakeStrategy) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type fakeNotifier struct {
	err   error
	calls int
	got   []data.CommittedEntry
}

func (n *fakeNotifier) Notify(_ context.Context, _ string, committed []data.CommittedEntry) error {
	n.calls++
	n.got = committed
	return n.err
}

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

type eventLog struct {
	mu     sync.Mutex
	events []output.Event
}

func (l *eventLog) Write(v any) error {
	if ev, ok := v.(output.Event); ok {
		l.mu.Lock()
		l.events = append(l.events, ev)
		l.mu.Unlock()
	}
	return nil
}

func (l *eventLog) types() []string {
	var out []string
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	api      *fakeStrategy
	local    *fakeStrategy
	notifier *fakeNotifier
	events   *eventLog
	engine   *Engine
}

func newHarness(t *testing.T, versions map[string]string, files memReader, completer risk.Completer) *harness {
	t.Helper()
	sc, err := scanner.New(files, patterns.List(), 2)
	if err != nil {
		t.Fatalf("scanner.New: %v", err)
	}
	h := &harness{
		api:      &fakeStrategy{name: data.StrategyAPI, fail: map[string]error{}},
		local:    &fakeStrategy{name: data.StrategyLocal, fail: map[string]error{}},
		notifier: &fakeNotifier{},
		events:   &eventLog{},
	}
	h.engine = NewEngine(Components{
		Resolver:  staticResolver{versions: versions},
		Scanner:   sc,
		Assessor:  risk.NewAssessor(risk.Options{Completer: completer, Timeout: 50 * time.Millisecond}),
		Committer: commit.NewChain(h.api, h.local),
		Notifier:  h.notifier,
		Events:    h.events,
	})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.engine.now = func() time.Time { return fixed }
	return h
}

func lowRisk(context.Context, string) (string, error) {
	return "Low risk: patch release with bug fixes only.", nil
}

func fleetOf(repos ...data.RepoSpec) *data.Fleet {
	return &data.Fleet{
		Packages: []data.TrackedPackage{{Name: "core-lib", Registry: data.RegistryCrates}},
		Repos:    repos,
	}
}

func opts() RunOptions {
	return RunOptions{RunID: "run-1", Concurrency: 2, Trigger: map[string]string{"source": "test"}}
}

const manifestA = "[package]\nname = \"agent-a\"\n\n[dependencies]\ncore-lib = \"2.0.3\"\nserde = \"1\"\n"

func TestRun_SingleStaleManifestIsPatchedAndCommitted(t *testing.T) {
	files := memReader{"acme/agent-a:Cargo.toml": manifestA}
	h := newHarness(t, map[string]string{"core-lib": "2.1.0"}, files, completerFunc(lowRisk))

	rep, err := h.engine.Run(context.Background(), fleetOf(data.RepoSpec{Repo: "acme/agent-a", Manifests: []string{"Cargo.toml"}}), opts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.PendingUpdates != 1 || len(rep.Updates) != 1 {
		t.Fatalf("pending = %d, updates = %d; want 1, 1", rep.PendingUpdates, len(rep.Updates))
	}
	if len(rep.Committed) != 1 || rep.Committed[0].Strategy != data.StrategyAPI {
		t.Fatalf("committed = %+v; want one api commit", rep.Committed)
	}
	if !rep.ConfigSynced || h.notifier.calls != 1 {
		t.Fatalf("config_synced = %v, notify calls = %d", rep.ConfigSynced, h.notifier.calls)
	}
	if len(rep.Errors) != 0 {
		t.Fatalf("errors = %+v", rep.Errors)
	}
	if rep.RiskSeverity != data.SeverityLow {
		t.Fatalf("severity = %s", rep.RiskSeverity)
	}
	if got := ExitCode(rep, nil); got != 0 {
		t.Fatalf("exit code = %d", got)
	}

	req := h.api.requests[0]
	want := strings.Replace(manifestA, "2.0.3", "2.1.0", 1)
	if string(req.Content) != want {
		t.Fatalf("patched content:\n%s\nwant:\n%s", req.Content, want)
	}
	if req.Message != "chore(deps): bump core-lib from 2.0.3 to 2.1.0 in Cargo.toml [run_id=run-1]" {
		t.Fatalf("message = %q", req.Message)
	}

	// Rescanning the patched manifest finds nothing.
	sc, _ := scanner.New(memReader{"acme/agent-a:Cargo.toml": string(req.Content)}, patterns.List(), 1)
	again := sc.Scan(context.Background(), rep.Versions, []data.RepoSpec{{Repo: "acme/agent-a", Manifests: []string{"Cargo.toml"}}})
	if len(again.Matches) != 0 {
		t.Fatalf("rescan found %d matches", len(again.Matches))
	}
}

func TestRun_NoDriftSendsNoNotification(t *testing.T) {
	files := memReader{"acme/agent-a:Cargo.toml": "[dependencies]\ncore-lib = \"2.1.0\"\n"}
	h := newHarness(t, map[string]string{"core-lib": "2.1.0"}, files, completerFunc(func(context.Context, string) (string, error) {
		t.Fatal("risk service must not be called without updates")
		return "", nil
	}))

	rep, err := h.engine.Run(context.Background(), fleetOf(data.RepoSpec{Repo: "acme/agent-a", Manifests: []string{"Cargo.toml"}}), opts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.PendingUpdates != 0 || len(rep.Committed) != 0 || rep.ConfigSynced {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Committed == nil || rep.Errors == nil || rep.Updates == nil {
		t.Fatal("report lists must be non-nil")
	}
	if h.notifier.calls != 0 || h.api.calls() != 0 {
		t.Fatalf("notify calls = %d, api calls = %d", h.notifier.calls, h.api.calls())
	}
	if rep.AnalysisSummary != risk.NoChangesSummary || rep.RiskSeverity != data.SeverityNone {
		t.Fatalf("summary = %q severity = %s", rep.AnalysisSummary, rep.RiskSeverity)
	}
}

func TestRun_DryRunNeverWrites(t *testing.T) {
	files := memReader{
		"acme/a:Cargo.toml": manifestA,
		"acme/b:Cargo.toml": manifestA,
	}
	h := newHarness(t, map[string]string{"core-lib": "2.1.0"}, files, completerFunc(lowRisk))
	h.engine.Committer = nil
	h.engine.Notifier = nil

	o := opts()
	o.DryRun = true
	rep, err := h.engine.Run(context.Background(), fleetOf(
		data.RepoSpec{Repo: "acme/a", Manifests: []string{"Cargo.toml"}},
		data.RepoSpec{Repo: "acme/b", Manifests: []string{"Cargo.toml"}},
	), o)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.DryRun || rep.PendingUpdates != 2 || len(rep.Committed) != 0 || rep.ConfigSynced {
		t.Fatalf("report = %+v", rep)
	}
	for _, e := range rep.Errors {
		if e.Stage == data.StageCommit || e.Stage == data.StagePatch || e.Stage == data.StageNotify {
			t.Fatalf("dry run recorded %s error: %+v", e.Stage, e)
		}
	}
}

func TestRun_FallsBackToLocalStrategy(t *testing.T) {
	files := memReader{"acme/a:Cargo.toml": manifestA}
	h := newHarness(t, map[string]string{"core-lib": "2.1.0"}, files, completerFunc(lowRisk))
	h.api.fail["*"] = fmt.Errorf("update file: %w", commit.ErrUnavailable)

	rep, err := h.engine.Run(context.Background(), fleetOf(data.RepoSpec{Repo: "acme/a", LocalPath: "/srv/a", Manifests: []string{"Cargo.toml"}}), opts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Committed) != 1 || rep.Committed[0].Strategy != data.StrategyLocal {
		t.Fatalf("committed = %+v; want local", rep.Committed)
	}
	if h.local.requests[0].LocalPath != "/srv/a" {
		t.Fatalf("local path = %q", h.local.requests[0].LocalPath)
	}
}

func TestRun_PartialFailureKeepsOtherFiles(t *testing.T) {
	files := memReader{
		"acme/b:Cargo.toml":               manifestA,
		"acme/b:.github/workflows/ci.yml": "run: sed -i 's|core-lib = { path = \"../core-lib\" }|core-lib = \"2.0.3\"|' Cargo.toml\n",
		"acme/c:Cargo.toml":               manifestA,
	}
	h := newHarness(t, map[string]string{"core-lib": "2.1.0"}, files, completerFunc(lowRisk))
	h.api.fail["acme/b:Cargo.toml"] = fmt.Errorf("update file: %w", commit.ErrAuth)
	h.local.fail["acme/b:Cargo.toml"] = commit.ErrNoCheckout

	rep, err := h.engine.Run(context.Background(), fleetOf(
		data.RepoSpec{Repo: "acme/b", Manifests: []string{"Cargo.toml"}, Workflows: []string{".github/workflows/ci.yml"}},
		data.RepoSpec{Repo: "acme/c", Manifests: []string{"Cargo.toml"}},
	), opts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rep.Committed) != 2 {
		t.Fatalf("committed = %+v; want 2", rep.Committed)
	}
	if rep.Committed[0].File != ".github/workflows/ci.yml" || rep.Committed[1].Repo != "acme/c" {
		t.Fatalf("committed order = %+v", rep.Committed)
	}
	if len(rep.Errors) != 1 {
		t.Fatalf("errors = %+v; want 1", rep.Errors)
	}
	e := rep.Errors[0]
	if e.Stage != data.StageCommit || e.Repo != "acme/b" || e.File != "Cargo.toml" {
		t.Fatalf("error = %+v", e)
	}
	if !strings.HasPrefix(e.Message, "api: update file: authentication failed") {
		t.Fatalf("primary cause should be the api failure, got %q", e.Message)
	}
	if !rep.ConfigSynced {
		t.Fatal("config sync should follow any successful commit")
	}
	if got := ExitCode(rep, nil); got != 2 {
		t.Fatalf("exit code = %d; want 2", got)
	}
}

func TestRun_MultiplePackagesInOneFileCommitOnce(t *testing.T) {
	files := memReader{"acme/a:Cargo.toml": "[dependencies]\ncore-lib = \"2.0.3\"\nevo-common = \"0.1\"\n"}
	h := newHarness(t, map[string]string{"core-lib": "2.1.0", "evo-common": "0.2.0"}, files, completerFunc(lowRisk))
	fleet := fleetOf(data.RepoSpec{Repo: "acme/a", Manifests: []string{"Cargo.toml"}})
	fleet.Packages = append(fleet.Packages, data.TrackedPackage{Name: "evo-common"})

	rep, err := h.engine.Run(context.Background(), fleet, opts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.api.calls() != 1 {
		t.Fatalf("api calls = %d; want 1", h.api.calls())
	}
	if len(rep.Committed) != 2 || rep.Committed[0].CommitID != rep.Committed[1].CommitID {
		t.Fatalf("committed = %+v", rep.Committed)
	}
	req := h.api.requests[0]
	if string(req.Content) != "[dependencies]\ncore-lib = \"2.1.0\"\nevo-common = \"0.2.0\"\n" {
		t.Fatalf("content = %q", req.Content)
	}
	if !strings.HasPrefix(req.Message, "chore(deps): update dependencies in Cargo.toml") {
		t.Fatalf("message = %q", req.Message)
	}
}

func TestRun_RiskTimeoutDegrades(t *testing.T) {
	files := memReader{"acme/a:Cargo.toml": manifestA}
	h := newHarness(t, map[string]string{"core-lib": "2.1.0"}, files, completerFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))

	rep, err := h.engine.Run(context.Background(), fleetOf(data.RepoSpec{Repo: "acme/a", Manifests: []string{"Cargo.toml"}}), opts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(rep.AnalysisSummary, "Risk assessment could not be completed") {
		t.Fatalf("summary = %q", rep.AnalysisSummary)
	}
	if rep.RiskSeverity != data.SeverityUnknown || len(rep.Committed) != 1 {
		t.Fatalf("severity = %s committed = %d", rep.RiskSeverity, len(rep.Committed))
	}
}

func TestRun_RiskGateWithholdsCommits(t *testing.T) {
	files := memReader{"acme/a:Cargo.toml": manifestA}
	h := newHarness(t, map[string]string{"core-lib": "2.1.0"}, files, completerFunc(func(context.Context, string) (string, error) {
		return "High risk: the release removes a public trait.", nil
	}))

	o := opts()
	o.Policy = risk.PolicyBlockHigh
	rep, err := h.engine.Run(context.Background(), fleetOf(data.RepoSpec{Repo: "acme/a", Manifests: []string{"Cargo.toml"}}), o)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.api.calls() != 0 || len(rep.Committed) != 0 || h.notifier.calls != 0 {
		t.Fatalf("gated run wrote: api=%d committed=%d notify=%d", h.api.calls(), len(rep.Committed), h.notifier.calls)
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Stage != data.StageGate {
		t.Fatalf("errors = %+v", rep.Errors)
	}
	if got := ExitCode(rep, nil); got != 1 {
		t.Fatalf("exit code = %d; want 1", got)
	}
}

func TestRun_NotifyFailureIsRecorded(t *testing.T) {
	files := memReader{"acme/a:Cargo.toml": manifestA}
	h := newHarness(t, map[string]string{"core-lib": "2.1.0"}, files, completerFunc(lowRisk))
	h.notifier.err = errors.New("config sync: http 502")

	rep, err := h.engine.Run(context.Background(), fleetOf(data.RepoSpec{Repo: "acme/a", Manifests: []string{"Cargo.toml"}}), opts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.ConfigSynced || len(rep.Committed) != 1 {
		t.Fatalf("synced = %v committed = %d", rep.ConfigSynced, len(rep.Committed))
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Stage != data.StageNotify {
		t.Fatalf("errors = %+v", rep.Errors)
	}
}

type cancellingAssessor struct {
	cancel context.CancelFunc
}

func (a cancellingAssessor) Assess(context.Context, []data.StaleMatch) data.RiskVerdict {
	a.cancel()
	return data.RiskVerdict{Summary: "ok", Severity: data.SeverityLow, Assessed: true}
}

func TestRun_CancelledBeforeCommitRecordsRemainingFiles(t *testing.T) {
	files := memReader{"acme/a:Cargo.toml": manifestA}
	h := newHarness(t, map[string]string{"core-lib": "2.1.0"}, files, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.Assessor = cancellingAssessor{cancel: cancel}

	rep, err := h.engine.Run(ctx, fleetOf(data.RepoSpec{Repo: "acme/a", Manifests: []string{"Cargo.toml"}}), opts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.api.calls() != 0 {
		t.Fatalf("api calls = %d after cancellation", h.api.calls())
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Message != "run cancelled" {
		t.Fatalf("errors = %+v", rep.Errors)
	}
	if rep.PendingUpdates != 1 {
		t.Fatalf("pending = %d", rep.PendingUpdates)
	}
}

func TestRun_FatalConfiguration(t *testing.T) {
	h := newHarness(t, map[string]string{"core-lib": "2.1.0"}, memReader{}, nil)
	repo := data.RepoSpec{Repo: "acme/a", Manifests: []string{"Cargo.toml"}}

	tests := []struct {
		name  string
		fleet *data.Fleet
		opts  func(*RunOptions)
		setup func(*Engine)
		want  error
	}{
		{name: "nil fleet", fleet: nil, want: ErrEmptyFleet},
		{name: "no repos", fleet: fleetOf(), want: ErrEmptyFleet},
		{name: "no packages", fleet: &data.Fleet{Repos: []data.RepoSpec{repo}}, want: ErrNoPackages},
		{name: "filtered empty", fleet: fleetOf(repo), opts: func(o *RunOptions) { o.Exclude = []string{"acme/*"} }, want: ErrEmptyFleet},
		{name: "no committer", fleet: fleetOf(repo), setup: func(e *Engine) { e.Committer = nil }, want: ErrNoCommitter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := *h.engine
			if tt.setup != nil {
				tt.setup(&e)
			}
			o := opts()
			if tt.opts != nil {
				tt.opts(&o)
			}
			rep, err := e.Run(context.Background(), tt.fleet, o)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v; want %v", err, tt.want)
			}
			if rep != nil {
				t.Fatal("fatal run must not produce a report")
			}
			if ExitCode(rep, err) != 3 {
				t.Fatalf("exit code = %d", ExitCode(rep, err))
			}
		})
	}
	if h.api.calls() != 0 {
		t.Fatal("fatal runs must not write")
	}
}

func TestRun_ResolveAndScanErrorsAreReported(t *testing.T) {
	files := memReader{"acme/a:Cargo.toml": manifestA}
	h := newHarness(t, map[string]string{"core-lib": "2.1.0"}, files, completerFunc(lowRisk))
	h.engine.Resolver = staticResolver{
		versions: map[string]string{"core-lib": "2.1.0"},
		errs:     []data.ErrorEntry{{Stage: data.StageResolve, Package: "evo-common", Message: "not found"}},
	}

	rep, err := h.engine.Run(context.Background(), fleetOf(
		data.RepoSpec{Repo: "acme/a", Manifests: []string{"Cargo.toml"}},
		data.RepoSpec{Repo: "acme/gone", Manifests: []string{"Cargo.toml"}},
	), opts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Errors) != 2 {
		t.Fatalf("errors = %+v", rep.Errors)
	}
	// Sorted by repo: the resolve entry has no repo.
	if rep.Errors[0].Stage != data.StageResolve || rep.Errors[1].Stage != data.StageScan {
		t.Fatalf("errors = %+v", rep.Errors)
	}
	if len(rep.Committed) != 1 {
		t.Fatalf("committed = %+v", rep.Committed)
	}
	if rep.Trigger["source"] != "test" {
		t.Fatalf("trigger = %v", rep.Trigger)
	}
}

func TestRun_EmitsLifecycleEvents(t *testing.T) {
	files := memReader{"acme/a:Cargo.toml": manifestA}
	h := newHarness(t, map[string]string{"core-lib": "2.1.0"}, files, completerFunc(lowRisk))

	if _, err := h.engine.Run(context.Background(), fleetOf(data.RepoSpec{Repo: "acme/a", Manifests: []string{"Cargo.toml"}}), opts()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := strings.Join(h.events.types(), ",")
	want := "run.started,repo.scanned,commit.result,run.finished"
	if got != want {
		t.Fatalf("events = %s; want %s", got, want)
	}
}

func TestExitCode(t *testing.T) {
	gate := data.ErrorEntry{Stage: data.StageGate}
	scan := data.ErrorEntry{Stage: data.StageScan}
	tests := []struct {
		name  string
		rep   *data.RunReport
		fatal error
		want  int
	}{
		{"clean", &data.RunReport{}, nil, 0},
		{"gated", &data.RunReport{Errors: []data.ErrorEntry{gate}}, nil, 1},
		{"errors", &data.RunReport{Errors: []data.ErrorEntry{scan}}, nil, 2},
		{"errors win over gate", &data.RunReport{Errors: []data.ErrorEntry{gate, scan}}, nil, 2},
		{"fatal", nil, ErrEmptyFleet, 3},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.rep, tt.fatal); got != tt.want {
			t.Errorf("%s: ExitCode = %d, want %d", tt.name, got, tt.want)
		}
	}
}
