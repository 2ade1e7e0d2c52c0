package flags

// Package flags defines canonical CLI flag names shared across the CLI and
// config validation messages.
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().StringVar(&cfg.Fleet.Path, flags.FlagFleet, "depsync.yaml", "...")
//	arg := "--" + flags.FlagFleet
const (
	// Fleet
	FlagFleet   = "fleet"
	FlagOrg     = "org"
	FlagBaseDir = "base-dir"
	FlagInclude = "include"
	FlagExclude = "exclude"

	// Run
	FlagDryRun    = "dry-run"
	FlagTrigger   = "trigger"
	FlagRunID     = "run-id"
	FlagNotifyURL = "notify-url"
	FlagMatchers  = "matchers"

	// Endpoints
	FlagCratesURL  = "crates-url"
	FlagGoProxyURL = "goproxy-url"
	FlagGitHubURL  = "github-url"

	// Risk
	FlagLLMURL     = "llm-url"
	FlagLLMToken   = "llm-token"
	FlagLLMModel   = "llm-model"
	FlagLLMTimeout = "llm-timeout"
	FlagRiskPolicy = "risk-policy"
	FlagChangelogs = "changelogs"

	// Commit
	FlagToken         = "token"
	FlagStrategies    = "strategies"
	FlagAuthorName    = "author-name"
	FlagAuthorEmail   = "author-email"
	FlagCommitTimeout = "commit-timeout"

	// Output
	FlagFormat      = "format"
	FlagReport      = "report"
	FlagOut         = "out"
	FlagOutFormat   = "out-format"
	FlagEmit        = "emit"
	FlagNoConsole   = "no-console"
	FlagMetricsFile = "metrics-file"

	// Runtime
	FlagConcurrency = "concurrency"
	FlagTimeout     = "timeout"
	FlagVerbose     = "verbose"
	FlagLogLevel    = "log-level"
)
