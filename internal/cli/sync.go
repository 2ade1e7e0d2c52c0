package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"depsync/internal/commit"
	"depsync/internal/config"
	"depsync/internal/data"
	"depsync/internal/engine"
	"depsync/internal/flags"
	gh "depsync/internal/github"
	"depsync/internal/metrics"
	"depsync/internal/notify"
	"depsync/internal/output"
	"depsync/internal/patterns"
	"depsync/internal/registry"
	"depsync/internal/risk"
	"depsync/internal/scanner"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var cfg = config.New()

const syncHelpTemplate = `{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}Usage:
  {{.UseLine}}

{{if .HasAvailableLocalFlags}}Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}Environment:
	GITHUB_TOKEN, GH_TOKEN   GitHub token (after --token; then gh auth token)
	GITHUB_ORG               Default owner for fleet repos listed without one (--org)
	KERNEL_AGENTS_DIR        Directory holding local checkouts (--base-dir)
	KING_ADDRESS             Base URL of the config-sync target (--notify-url)
	DEPSYNC_LLM_URL          OpenAI-compatible API base for risk assessment (--llm-url)
	DEPSYNC_LLM_TOKEN        Bearer token for the risk API (--llm-token)

	Flags win over environment variables.

{{if .HasAvailableSubCommands}}Available Commands:
{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasAvailableSubCommands}}Use "{{.CommandPath}} [command] --help" for more information about a command.
{{end}}`

const runHelpOutput = `
Output:
	Console output is controlled by --format (default: text).
	Structured outputs can be written via:
	- --out / --out-format: write the JSON report or an NDJSON event stream to a file
	- --emit: write an additional structured stream to stdout (json or ndjson)
	- --report: write a Markdown report
	- --metrics-file: write Prometheus textfile metrics
	- --no-console: suppress the console sink (use with --emit/--out/--report)

	NDJSON mode emits one JSON object per line. Objects are lifecycle Events with a
	"type" field (run.started, repo.scanned, commit.result, run.finished) followed
	by a final run.report event carrying the full report.

Exit codes:
	0 = clean run, every update applied (or nothing to do)
	1 = commits withheld by the risk policy
	2 = partial failure (some lookups, scans, commits or the notification failed)
	3 = fatal error (run did not start)
`

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Update stale dependency pins across the fleet",
	Long: `Resolve the latest stable version of every tracked package, find stale pins in
each repository's manifests and CI workflows, and commit one update per file.

Commits go through the GitHub contents API first and fall back to the local
checkout (commit + push) when the API is unavailable; see --strategies.
After committing, the config-sync target is notified of the run.
` + runHelpOutput + `
Examples:
  depsync sync --fleet depsync.yaml

  # Only kernel agents, blocking high-risk updates
  depsync sync --include 'evo-kernel-*' --risk-policy block-high

  # AI Agent: stream machine-readable events to stdout
  depsync sync --no-console --emit ndjson
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runSync(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg))
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Report stale dependency pins without committing",
	Long: `Run the sync pipeline in dry-run mode: resolve, scan and assess, then report
what would change. Nothing is committed and nothing is notified.
` + runHelpOutput + `
Examples:
  depsync scan --fleet depsync.yaml
  depsync scan --format json > drift.json
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg.Run.DryRun = true
		os.Exit(runSync(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg))
	},
}

// runSync wires the run from cfg and returns the process exit code.
func runSync(ctx context.Context, stdout, stderr io.Writer, cfg *config.Config) int {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}

	fleet, err := config.LoadFleet(cfg.Fleet.Path, cfg.Fleet.Org, cfg.Fleet.BaseDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}
	matchers, err := patterns.Resolve(cfg.Fleet.Matchers)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid --%s: %v\n", flags.FlagMatchers, err)
		return 3
	}

	token, source, err := gh.ResolveAuthToken(ctx, cfg.Commit.Token)
	if err != nil && !cfg.Run.DryRun {
		fmt.Fprintf(stderr, "Error: failed to resolve GitHub auth token: %v\n", err)
		return 3
	}
	if strings.TrimSpace(token) == "" && !cfg.Run.DryRun {
		fmt.Fprintf(stderr, "Error: %v\n", gh.ErrNoToken)
		return 3
	}
	if token != "" {
		logger.WithField("source", source).Debug("[auth] using GitHub token")
	}

	var ghOpts []gh.Option
	if cfg.Fleet.GitHubURL != "" {
		ghOpts = append(ghOpts, gh.WithBaseURL(cfg.Fleet.GitHubURL))
	}
	if cfg.Runtime.Verbose {
		ghOpts = append(ghOpts, gh.WithRequestTrace(logger.WithField("component", "github")))
	}
	client, err := gh.NewClient(ctx, token, ghOpts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to create GitHub client: %v\n", err)
		return 3
	}

	components, err := buildComponents(cfg, fleet, client, matchers, token)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}

	outMgr, err := setupOutputManager(stdout, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating output sinks: %v\n", err)
		return 3
	}
	components.Events = outMgr

	runID := cfg.Run.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	policy, _ := risk.ParsePolicy(cfg.Risk.Policy)

	ctx, cancel := context.WithTimeout(ctx, cfg.Runtime.Timeout)
	defer cancel()

	rep, runErr := engine.NewEngine(components).Run(ctx, fleet, engine.RunOptions{
		RunID:         runID,
		DryRun:        cfg.Run.DryRun,
		Trigger:       cfg.TriggerMap(),
		Include:       cfg.Fleet.Include,
		Exclude:       cfg.Fleet.Exclude,
		Policy:        policy,
		Concurrency:   cfg.Runtime.Concurrency,
		CommitTimeout: cfg.Commit.Timeout,
		Verbose:       cfg.Runtime.Verbose,
	})

	if err := outMgr.Finish(rep); err != nil {
		logger.Warnf("[output] %v", err)
	}
	if cfg.Output.MetricsFile != "" && rep != nil {
		rec := metrics.NewRecorder()
		rec.Observe(rep)
		if err := rec.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			logger.Warnf("[metrics] %v", err)
		}
	}
	if runErr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", runErr)
	}
	return engine.ExitCode(rep, runErr)
}

// buildComponents assembles the collaborators of a run. In dry-run the
// committer and notifier stay nil.
func buildComponents(cfg *config.Config, fleet *data.Fleet, client *gh.Client, matchers []patterns.Matcher, token string) (engine.Components, error) {
	httpClient := registry.NewHTTPClient(registry.DefaultRetryConfig())

	cratesURL := cfg.Fleet.CratesURL
	if cratesURL == "" {
		cratesURL = registry.DefaultCratesURL
	}
	goProxyURL := cfg.Fleet.GoProxyURL
	if goProxyURL == "" {
		goProxyURL = registry.DefaultGoProxyURL
	}
	version, _, _ := BuildInfo()
	sources := map[data.Registry]registry.Source{
		// crates.io asks crawlers for at most one request per second.
		data.RegistryCrates: &registry.CratesSource{
			BaseURL:   cratesURL,
			UserAgent: "depsync/" + version,
			HTTP:      httpClient,
			Limiter:   rate.NewLimiter(rate.Limit(1), 1),
		},
		data.RegistryGo: &registry.GoProxySource{
			BaseURL: goProxyURL,
			HTTP:    httpClient,
			Limiter: rate.NewLimiter(rate.Limit(10), 5),
		},
	}
	resolver, err := registry.NewResolver(sources, cfg.Runtime.Concurrency)
	if err != nil {
		return engine.Components{}, err
	}

	scan, err := scanner.New(scanner.NewAutoReader(client), matchers, cfg.Runtime.Concurrency)
	if err != nil {
		return engine.Components{}, err
	}

	opts := risk.Options{Packages: fleet.Packages, Timeout: cfg.Risk.Timeout}
	if cfg.Risk.URL != "" {
		opts.Completer = &risk.ChatClient{
			BaseURL:     cfg.Risk.URL,
			Token:       cfg.Risk.Token,
			Model:       cfg.Risk.Model,
			Temperature: cfg.Risk.Temperature,
			MaxTokens:   cfg.Risk.MaxTokens,
			HTTP:        httpClient,
		}
	}
	if cfg.Risk.Changelogs {
		opts.Changelogs = &risk.GitHubReleases{Client: client}
	}

	c := engine.Components{
		Resolver: resolver,
		Scanner:  scan,
		Assessor: risk.NewAssessor(opts),
	}
	if cfg.Run.DryRun {
		return c, nil
	}

	committer, err := buildCommitChain(cfg.Commit, client, token)
	if err != nil {
		return engine.Components{}, err
	}
	c.Committer = committer
	if cfg.Run.NotifyURL != "" {
		c.Notifier = notify.New(cfg.Run.NotifyURL, httpClient)
	}
	return c, nil
}

func buildCommitChain(c config.Commit, client *gh.Client, token string) (*commit.Chain, error) {
	var strategies []commit.Strategy
	for _, name := range c.Strategies {
		switch name {
		case "api":
			strategies = append(strategies, commit.NewAPIStrategy(client, commit.DefaultBreakerSettings()))
		case "local":
			strategies = append(strategies, &commit.LocalStrategy{
				Author: commit.Author{Name: c.AuthorName, Email: c.AuthorEmail},
				Token:  token,
				DefaultBranch: func(ctx context.Context, repo string) (string, error) {
					owner, name, _ := strings.Cut(repo, "/")
					return gh.DefaultBranch(ctx, client, owner, name)
				},
			})
		default:
			return nil, fmt.Errorf("unsupported commit strategy %q", name)
		}
	}
	if len(strategies) == 0 {
		return nil, errors.New("no commit strategy configured")
	}
	return commit.NewChain(strategies...), nil
}

func setupOutputManager(stdout io.Writer, cfg *config.Config) (*output.Manager, error) {
	outMgr := output.NewManager()

	// Console Sink
	if !cfg.Output.NoConsole {
		if err := outMgr.AddSink(output.NewConsoleSink(stdout, cfg.Output.Format)); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Emit Sinks (additional structured streams)
	for _, emit := range cfg.Output.Emit {
		es, err := output.NewEmitSink(stdout, emit)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(es); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// File Sink
	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(fs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Report Sink
	if cfg.Output.Report != "" {
		rs, err := output.NewReportSink(cfg.Output.Report)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(rs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	return outMgr, nil
}

func init() {
	rootCmd.AddCommand(syncCmd, scanCmd)
	for _, c := range []*cobra.Command{syncCmd, scanCmd} {
		c.SetHelpTemplate(syncHelpTemplate)
		registerRunFlags(c)
	}
	registerCommitFlags(syncCmd)
}

// MAINTAINER NOTE: keep these flags in sync with internal/config.Config and
// the names in internal/flags.
func registerRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	// Fleet
	f.StringVar(&cfg.Fleet.Path, flags.FlagFleet, cfg.Fleet.Path, "Fleet file listing tracked packages and repositories")
	f.StringVar(&cfg.Fleet.Org, flags.FlagOrg, "", "Owner for fleet repositories listed without one (env: GITHUB_ORG)")
	f.StringVar(&cfg.Fleet.BaseDir, flags.FlagBaseDir, "", "Directory holding local checkouts, one per repository name (env: KERNEL_AGENTS_DIR)")
	f.StringSliceVar(&cfg.Fleet.Include, flags.FlagInclude, nil, "Include pattern(s) (repeatable; comma-separated accepted). Go path.Match style; if pattern contains '/', matches OWNER/REPO, else matches repo name")
	f.StringSliceVar(&cfg.Fleet.Exclude, flags.FlagExclude, nil, "Exclude pattern(s) (repeatable; comma-separated accepted). Same matching rules as --include")
	f.StringVar(&cfg.Fleet.Matchers, flags.FlagMatchers, "", "Comma-separated matcher IDs to apply (empty = all; see 'depsync patterns list')")
	f.StringVar(&cfg.Fleet.CratesURL, flags.FlagCratesURL, "", "crates.io API base URL (default: "+registry.DefaultCratesURL+")")
	f.StringVar(&cfg.Fleet.GoProxyURL, flags.FlagGoProxyURL, "", "Go module proxy base URL (default: "+registry.DefaultGoProxyURL+")")
	f.StringVar(&cfg.Fleet.GitHubURL, flags.FlagGitHubURL, "", "GitHub Enterprise Server REST API root, e.g. https://ghe.example.com/api/v3/ (default: api.github.com)")

	// Run
	f.StringSliceVar(&cfg.Run.Trigger, flags.FlagTrigger, nil, "Trigger metadata as key=value, copied into the report (repeatable; comma-separated accepted). dry_run=true forces a dry run")
	f.StringVar(&cfg.Run.RunID, flags.FlagRunID, "", "Run identifier (default: random UUID)")

	// Risk
	f.StringVar(&cfg.Risk.URL, flags.FlagLLMURL, "", "OpenAI-compatible API base URL for the risk verdict (env: DEPSYNC_LLM_URL; empty skips the assessment)")
	f.StringVar(&cfg.Risk.Token, flags.FlagLLMToken, "", "Bearer token for the risk API (env: DEPSYNC_LLM_TOKEN)")
	f.StringVar(&cfg.Risk.Model, flags.FlagLLMModel, cfg.Risk.Model, "Chat model used for the risk verdict")
	f.DurationVar(&cfg.Risk.Timeout, flags.FlagLLMTimeout, cfg.Risk.Timeout, "Upper bound on the risk assessment")
	f.StringVar(&cfg.Risk.Policy, flags.FlagRiskPolicy, cfg.Risk.Policy, "Risk policy: advisory|block-high|require-low")
	f.BoolVar(&cfg.Risk.Changelogs, flags.FlagChangelogs, cfg.Risk.Changelogs, "Include GitHub release notes of tracked packages in the risk prompt")

	// Output
	f.StringVar(&cfg.Output.Format, flags.FlagFormat, cfg.Output.Format, "Console output format: text|json|ndjson")
	f.StringVar(&cfg.Output.Report, flags.FlagReport, "", "Write a Markdown report to this path")
	f.StringVar(&cfg.Output.Out, flags.FlagOut, "", "Write structured output to this path")
	f.StringVar(&cfg.Output.OutFormat, flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")
	f.StringSliceVar(&cfg.Output.Emit, flags.FlagEmit, nil, "Emit additional structured stream to stdout: json|ndjson (repeatable; comma-separated accepted)")
	f.BoolVar(&cfg.Output.NoConsole, flags.FlagNoConsole, false, "Suppress console output (use with --emit/--out/--report)")
	f.StringVar(&cfg.Output.MetricsFile, flags.FlagMetricsFile, "", "Write Prometheus textfile metrics to this path")

	// Runtime
	f.IntVar(&cfg.Runtime.Concurrency, flags.FlagConcurrency, cfg.Runtime.Concurrency, "Concurrent registry lookups, repository scans and per-repository commit workers")
	f.DurationVar(&cfg.Runtime.Timeout, flags.FlagTimeout, cfg.Runtime.Timeout, "Global timeout")

	// Auth is also needed read-only for private repositories.
	f.StringVar(&cfg.Commit.Token, flags.FlagToken, "", "GitHub token (default: GITHUB_TOKEN, GH_TOKEN, then gh auth token)")
}

func registerCommitFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&cfg.Run.DryRun, flags.FlagDryRun, false, "Scan and assess without committing or notifying")
	f.StringVar(&cfg.Run.NotifyURL, flags.FlagNotifyURL, "", "Base URL of the config-sync target (env: KING_ADDRESS)")
	f.StringSliceVar(&cfg.Commit.Strategies, flags.FlagStrategies, cfg.Commit.Strategies, "Ordered commit strategies: api|local (repeatable; comma-separated accepted)")
	f.StringVar(&cfg.Commit.AuthorName, flags.FlagAuthorName, cfg.Commit.AuthorName, "Author name for local commits")
	f.StringVar(&cfg.Commit.AuthorEmail, flags.FlagAuthorEmail, cfg.Commit.AuthorEmail, "Author email for local commits")
	f.DurationVar(&cfg.Commit.Timeout, flags.FlagCommitTimeout, cfg.Commit.Timeout, "Upper bound on one file commit, including its push")
}
