package cli

import (
	"fmt"
	"io"
	"os"

	"depsync/internal/flags"

	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "depsync",
	Short: "Keep shared dependency versions in sync across a fleet of repositories",
	Long: `depsync keeps shared core dependencies pinned to their latest stable release
across a fleet of GitHub repositories.

A run resolves the latest version of every tracked package, scans each
repository's manifests and CI workflows for older pins, asks a language model
for an advisory risk verdict, commits one update per file and notifies the
configuration service of what changed.

Examples:
	# Show what would change without writing anything
	depsync scan --fleet depsync.yaml

	# Synchronize the fleet
	depsync sync --fleet depsync.yaml

	# List version pattern matchers
	depsync patterns list

	# Print build info
	depsync version

Output:
	By default, commands write human-readable output to stdout and logs to stderr.
	Structured output is available via --format, --emit and --out (see "depsync sync --help").`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd.ErrOrStderr(), cfg.Runtime.LogLevel, cfg.Runtime.Verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&cfg.Runtime.Verbose, flags.FlagVerbose, false, "Enable verbose logging (prints every GitHub API call and full error details)")
	rootCmd.PersistentFlags().StringVar(&cfg.Runtime.LogLevel, flags.FlagLogLevel, cfg.Runtime.LogLevel, "Log level: panic|fatal|error|warn|info|debug|trace (default: info)")
}

// setupLogging configures the global logrus logger. Logs always go to w so
// stdout stays reserved for reports and structured streams.
func setupLogging(w io.Writer, level string, verbose bool) error {
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --%s: %w", flags.FlagLogLevel, err)
	}
	if verbose && lvl < logger.DebugLevel {
		lvl = logger.DebugLevel
	}
	logger.SetOutput(w)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logger.TextFormatter{FullTimestamp: true})
	return nil
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}
}
