// Package risk produces one advisory verdict for the set of pending updates.
package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"depsync/internal/data"

	logger "github.com/sirupsen/logrus"
)

const (
	NoChangesSummary = "No dependency updates required, all repos are up to date."

	DefaultTimeout     = 30 * time.Second
	maxChangelogPerPkg = 4000
)

type Options struct {
	// Completer may be nil, in which case every non-empty run gets the fallback verdict.
	Completer Completer
	// Changelogs may be nil.
	Changelogs ChangelogSource
	// Packages supplies changelog repositories by package name.
	Packages []data.TrackedPackage
	Timeout  time.Duration
}

type Assessor struct {
	completer  Completer
	changelogs ChangelogSource
	repos      map[string]string
	timeout    time.Duration
}

func NewAssessor(opts Options) *Assessor {
	repos := make(map[string]string, len(opts.Packages))
	for _, p := range opts.Packages {
		if p.ChangelogRepo != "" {
			repos[p.Name] = p.ChangelogRepo
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Assessor{
		completer:  opts.Completer,
		changelogs: opts.Changelogs,
		repos:      repos,
		timeout:    timeout,
	}
}

// Assess never fails: errors and timeouts degrade to a fallback verdict that
// says the assessment could not be completed.
func (a *Assessor) Assess(ctx context.Context, matches []data.StaleMatch) data.RiskVerdict {
	if len(matches) == 0 {
		return data.RiskVerdict{Summary: NoChangesSummary, Severity: data.SeverityNone}
	}
	if a.completer == nil {
		return fallback(errors.New("no risk service configured"))
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	changes := summarize(matches)
	prompt := buildPrompt(changes, a.collectChangelogs(ctx, changes))

	text, err := a.completer.Complete(ctx, prompt)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			err = errors.New("run cancelled")
		case ctx.Err() != nil:
			err = fmt.Errorf("timed out after %s", a.timeout)
		}
		logger.Warnf("[risk] assessment failed: %v", err)
		return fallback(err)
	}
	return data.RiskVerdict{Summary: text, Severity: ClassifySeverity(text), Assessed: true}
}

func fallback(err error) data.RiskVerdict {
	return data.RiskVerdict{
		Summary:  fmt.Sprintf("Risk assessment could not be completed (%v); review the changes manually.", err),
		Severity: data.SeverityUnknown,
	}
}

type change struct {
	pkg  string
	olds []string
	new  string
}

func summarize(matches []data.StaleMatch) []change {
	byPkg := make(map[string]*change)
	seen := make(map[string]bool)
	for _, m := range matches {
		c, ok := byPkg[m.Package]
		if !ok {
			c = &change{pkg: m.Package, new: m.NewVersion}
			byPkg[m.Package] = c
		}
		if key := m.Package + "@" + m.OldVersion; !seen[key] {
			seen[key] = true
			c.olds = append(c.olds, m.OldVersion)
		}
	}

	out := make([]change, 0, len(byPkg))
	for _, c := range byPkg {
		sort.Strings(c.olds)
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pkg < out[j].pkg })
	return out
}

func (a *Assessor) collectChangelogs(ctx context.Context, changes []change) map[string]string {
	notes := make(map[string]string)
	if a.changelogs == nil {
		return notes
	}
	for _, c := range changes {
		repo, ok := a.repos[c.pkg]
		if !ok {
			continue
		}
		text, err := a.changelogs.ReleaseNotes(ctx, repo, c.new)
		if err != nil {
			logger.WithField("package", c.pkg).Debugf("[risk] changelog unavailable: %v", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			if len(text) > maxChangelogPerPkg {
				text = text[:maxChangelogPerPkg] + "\n[truncated]"
			}
			notes[c.pkg] = text
		}
	}
	return notes
}

func buildPrompt(changes []change, notes map[string]string) string {
	var b strings.Builder
	b.WriteString("The following shared dependencies are being updated across the managed repositories:\n")
	for _, c := range changes {
		fmt.Fprintf(&b, "- %s: %s -> %s\n", c.pkg, strings.Join(c.olds, ", "), c.new)
	}
	for _, c := range changes {
		if n, ok := notes[c.pkg]; ok {
			fmt.Fprintf(&b, "\nRelease notes for %s %s:\n%s\n", c.pkg, c.new, n)
		}
	}
	b.WriteString("\nGive a brief (2-3 sentence) risk assessment: are there breaking changes, should the update be applied now or held, and are migration steps needed?")
	return b.String()
}
