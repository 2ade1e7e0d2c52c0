package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"depsync/internal/risk"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields, keep these in sync:
	// - CLI flags in internal/cli/sync.go
	// - flag names in internal/flags
	Fleet   Fleet
	Run     Run
	Risk    Risk
	Commit  Commit
	Output  Output
	Runtime Runtime
}

type Fleet struct {
	// Path is the fleet YAML file (see --fleet).
	Path string

	// Org overrides the fleet file's org for slugs without an owner (see --org, GITHUB_ORG).
	Org string

	// BaseDir overrides the fleet file's base_dir for local checkouts (see --base-dir, KERNEL_AGENTS_DIR).
	BaseDir string

	// Include filters repositories using Go path.Match style (see --include).
	// If a pattern contains '/', it matches OWNER/REPO; otherwise it matches repo name.
	Include []string

	// Exclude filters repositories by name (see --exclude). Same matching rules as Include.
	Exclude []string

	// CratesURL and GoProxyURL point the version resolver at alternate registries.
	CratesURL  string
	GoProxyURL string

	// GitHubURL is a GitHub Enterprise Server REST root (see --github-url).
	// Empty uses api.github.com.
	GitHubURL string

	// Matchers selects pattern matchers by ID; empty selects all (see --matchers).
	Matchers string
}

type Run struct {
	// DryRun scans and assesses without writing (see --dry-run).
	// A trigger entry dry_run=true also enables it.
	DryRun bool

	// Trigger is opaque metadata attached to the report, as key=value entries
	// (repeatable; comma-separated accepted; see --trigger).
	Trigger []string

	// RunID labels the run. Empty generates one.
	RunID string

	// NotifyURL is the base URL of the config-sync target (see --notify-url, KING_ADDRESS).
	NotifyURL string
}

type Risk struct {
	// URL is the base of an OpenAI-compatible API (see --llm-url, DEPSYNC_LLM_URL).
	// Empty disables the assessment; the report then carries the fallback verdict.
	URL string

	// Token is an optional bearer token (see --llm-token, DEPSYNC_LLM_TOKEN).
	Token string

	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	// Policy decides whether the verdict can withhold commits (see --risk-policy).
	// Allowed values: advisory, block-high, require-low.
	Policy string

	// Changelogs enables fetching GitHub release notes for the prompt (see --changelogs).
	Changelogs bool
}

type Commit struct {
	// Token is the GitHub token (see --token). Falls back to GITHUB_TOKEN, GH_TOKEN, then gh.
	Token string

	// Strategies is the ordered commit strategy list (see --strategies).
	// Allowed values: api, local.
	Strategies []string

	AuthorName  string
	AuthorEmail string

	// Timeout bounds one file commit, including its push (see --commit-timeout).
	Timeout time.Duration
}

type Output struct {
	// Format controls the console sink format (see --format).
	// Allowed values: text, json, ndjson.
	Format string

	// Report writes a Markdown report to this path (see --report).
	Report string

	// Out writes the structured report to this path (see --out).
	Out string

	// OutFormat selects the format for --out (see --out-format).
	// Allowed values: json, ndjson. If empty, it is inferred from the --out file extension.
	OutFormat string

	// Emit writes an additional structured stream to stdout (see --emit).
	// Allowed values: json, ndjson.
	Emit []string

	// NoConsole suppresses the console sink (see --no-console).
	NoConsole bool

	// MetricsFile writes Prometheus textfile metrics after the run (see --metrics-file).
	MetricsFile string
}

type Runtime struct {
	// Concurrency bounds parallel registry lookups, repository scans and
	// per-repository commit workers (see --concurrency). Must be >= 1.
	Concurrency int

	// Timeout is the global run timeout (see --timeout). Must be > 0.
	Timeout time.Duration

	// Verbose keeps raw error text and traces GitHub requests.
	Verbose bool

	// LogLevel is a logrus level name (see --log-level).
	LogLevel string
}

func New() *Config {
	return &Config{
		Fleet: Fleet{
			Path: "depsync.yaml",
		},
		Risk: Risk{
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   512,
			Timeout:     risk.DefaultTimeout,
			Policy:      string(risk.PolicyAdvisory),
			Changelogs:  true,
		},
		Commit: Commit{
			Strategies:  []string{"api", "local"},
			AuthorName:  "depsync",
			AuthorEmail: "depsync@users.noreply.github.com",
			Timeout:     2 * time.Minute,
		},
		Output: Output{
			Format: "text",
		},
		Runtime: Runtime{
			Concurrency: 4,
			Timeout:     30 * time.Minute,
			LogLevel:    "info",
		},
	}
}

// ApplyEnv fills unset fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if *dst == "" {
			*dst = strings.TrimSpace(getenv(key))
		}
	}
	set(&c.Fleet.Org, "GITHUB_ORG")
	set(&c.Fleet.BaseDir, "KERNEL_AGENTS_DIR")
	set(&c.Run.NotifyURL, "KING_ADDRESS")
	set(&c.Risk.URL, "DEPSYNC_LLM_URL")
	set(&c.Risk.Token, "DEPSYNC_LLM_TOKEN")
}

func (c *Config) Validate() error {
	// Normalize comma-delimited list inputs.
	c.Fleet.Include = splitCommaList(c.Fleet.Include)
	c.Fleet.Exclude = splitCommaList(c.Fleet.Exclude)
	c.Run.Trigger = splitCommaList(c.Run.Trigger)
	c.Commit.Strategies = splitCommaList(c.Commit.Strategies)
	c.Output.Emit = splitCommaList(c.Output.Emit)

	if strings.TrimSpace(c.Fleet.Path) == "" {
		return errors.New("--fleet must not be empty")
	}

	// Trigger metadata
	meta, err := ParseTriggerMetadata(c.Run.Trigger)
	if err != nil {
		return err
	}
	if TriggerDryRun(meta) {
		c.Run.DryRun = true
	}

	// Risk validation
	p, err := risk.ParsePolicy(c.Risk.Policy)
	if err != nil {
		return fmt.Errorf("invalid --risk-policy: %w", err)
	}
	c.Risk.Policy = string(p)
	if c.Risk.Timeout <= 0 {
		return errors.New("--llm-timeout must be > 0")
	}

	// Commit validation
	if len(c.Commit.Strategies) == 0 {
		return errors.New("--strategies must name at least one of: api, local")
	}
	seen := make(map[string]bool)
	for i, s := range c.Commit.Strategies {
		s = normalizeEnumValue(s)
		if s != "api" && s != "local" {
			return fmt.Errorf("unsupported --strategies value: %s (must be one of: api, local)", s)
		}
		if seen[s] {
			return fmt.Errorf("duplicate --strategies value: %s", s)
		}
		seen[s] = true
		c.Commit.Strategies[i] = s
	}
	if c.Commit.Timeout <= 0 {
		return errors.New("--commit-timeout must be > 0")
	}

	// Output validation
	c.Output.Format = normalizeEnumValue(c.Output.Format)
	if c.Output.Format != "text" && c.Output.Format != "json" && c.Output.Format != "ndjson" {
		return fmt.Errorf("unsupported --format: %s (must be one of: text, json, ndjson)", c.Output.Format)
	}
	for i, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %s (must be one of: json, ndjson)", v)
		}
		c.Output.Emit[i] = v
	}
	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			switch ext := strings.ToLower(filepath.Ext(c.Output.Out)); ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			case "":
				return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
			default:
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}

	// Runtime validation
	if c.Runtime.Concurrency <= 0 {
		return errors.New("--concurrency must be >= 1")
	}
	if c.Runtime.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}
	return nil
}

// TriggerMap returns the validated trigger metadata.
func (c *Config) TriggerMap() map[string]string {
	meta, _ := ParseTriggerMetadata(c.Run.Trigger)
	return meta
}

// ParseTriggerMetadata parses entries of the form "key=value".
//
// Notes:
// - Entries may be provided via repeated flags and/or comma-delimited lists.
// - Empty values are allowed ("key=").
// - A later entry for the same key wins.
func ParseTriggerMetadata(values []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, raw := range splitCommaList(values) {
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --trigger entry %q: expected key=value", raw)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid --trigger entry %q: expected non-empty key", raw)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

// TriggerDryRun reports whether metadata carries a true dry_run entry.
func TriggerDryRun(meta map[string]string) bool {
	v, ok := meta["dry_run"]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
