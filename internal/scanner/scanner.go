// Package scanner finds stale version references to tracked packages in the
// managed repositories. It never writes.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"depsync/internal/data"
	"depsync/internal/patterns"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Result holds the stale matches and the file contents they were computed
// from, so the patch step works on exactly what was scanned.
type Result struct {
	Matches []data.StaleMatch
	Errors  []data.ErrorEntry

	contents map[string][]byte
}

// Content returns the scanned bytes of repo/file.
func (r *Result) Content(repo, file string) ([]byte, bool) {
	if r == nil {
		return nil, false
	}
	b, ok := r.contents[repo+":"+file]
	return b, ok
}

type Scanner struct {
	reader      Reader
	matchers    []patterns.Matcher
	concurrency int
}

func New(reader Reader, matchers []patterns.Matcher, concurrency int) (*Scanner, error) {
	if reader == nil {
		return nil, errors.New("reader is nil")
	}
	if len(matchers) == 0 {
		return nil, errors.New("no matchers selected")
	}
	if concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %d", concurrency)
	}
	return &Scanner{reader: reader, matchers: matchers, concurrency: concurrency}, nil
}

type repoScan struct {
	matches  []data.StaleMatch
	errs     []data.ErrorEntry
	contents map[string][]byte
}

// Scan checks every configured file of every repository against the resolved
// versions. Failures are per file and never stop the scan.
func (s *Scanner) Scan(ctx context.Context, versions map[string]string, repos []data.RepoSpec) *Result {
	pkgs := make([]string, 0, len(versions))
	for name := range versions {
		pkgs = append(pkgs, name)
	}
	sort.Strings(pkgs)

	perRepo := make([]repoScan, len(repos))
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, repo := range repos {
		g.Go(func() error {
			perRepo[i] = s.scanRepo(ctx, repo, pkgs, versions)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{contents: make(map[string][]byte)}
	for _, rs := range perRepo {
		res.Matches = append(res.Matches, rs.matches...)
		res.Errors = append(res.Errors, rs.errs...)
		for k, v := range rs.contents {
			res.contents[k] = v
		}
	}
	sort.SliceStable(res.Matches, func(i, j int) bool {
		a, b := res.Matches[i], res.Matches[j]
		if a.Repo.Repo != b.Repo.Repo {
			return a.Repo.Repo < b.Repo.Repo
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Package < b.Package
	})
	return res
}

func (s *Scanner) scanRepo(ctx context.Context, repo data.RepoSpec, pkgs []string, versions map[string]string) repoScan {
	out := repoScan{contents: make(map[string][]byte)}
	log := logger.WithField("repo", repo.Repo)

	for _, f := range repo.Files() {
		if err := ctx.Err(); err != nil {
			out.errs = append(out.errs, scanError(repo, f.Path, "", "run cancelled"))
			continue
		}

		matchers := patterns.ForFile(s.matchers, f.Path, f.Kind)
		if len(matchers) == 0 {
			out.errs = append(out.errs, scanError(repo, f.Path, "", fmt.Sprintf("no %s pattern applies to this file", f.Kind)))
			continue
		}

		content, err := s.reader.Read(ctx, repo, f.Path)
		if err != nil {
			log.WithField("file", f.Path).Warnf("[scan] unreadable: %v", err)
			out.errs = append(out.errs, scanError(repo, f.Path, "", err.Error()))
			continue
		}
		out.contents[repo.Repo+":"+f.Path] = content

		for _, pkg := range pkgs {
			m, errs := matchFile(repo, f, content, pkg, versions[pkg], matchers)
			out.errs = append(out.errs, errs...)
			if m != nil {
				log.WithFields(logger.Fields{"file": f.Path, "package": pkg}).
					Debugf("[scan] stale %s -> %s (%d locations)", m.OldVersion, m.NewVersion, len(m.Locations))
				out.matches = append(out.matches, *m)
			}
		}
	}
	return out
}

// matchFile folds the occurrences every applicable matcher finds for pkg into
// at most one StaleMatch.
func matchFile(repo data.RepoSpec, f data.RepoFile, content []byte, pkg, latest string, matchers []patterns.Matcher) (*data.StaleMatch, []data.ErrorEntry) {
	var errs []data.ErrorEntry
	var match *data.StaleMatch
	seen := make(map[int]bool)

	for _, m := range matchers {
		occs, err := m.Find(content, pkg)
		if err != nil {
			errs = append(errs, scanError(repo, f.Path, pkg, fmt.Sprintf("%s: %v", m.ID(), err)))
			continue
		}
		for _, o := range occs {
			if seen[o.Start] || !IsStale(o.Version, latest) {
				continue
			}
			seen[o.Start] = true
			if match == nil {
				match = &data.StaleMatch{
					Repo:       repo,
					File:       f.Path,
					Kind:       f.Kind,
					Matcher:    m.ID(),
					Package:    pkg,
					OldVersion: o.Version,
					NewVersion: latest,
				}
			}
			match.Locations = append(match.Locations, data.Location{Start: o.Start, End: o.End, Old: o.Version})
		}
	}
	if match != nil {
		sort.Slice(match.Locations, func(i, j int) bool { return match.Locations[i].Start < match.Locations[j].Start })
		match.OldVersion = match.Locations[0].Old
	}
	return match, errs
}

func scanError(repo data.RepoSpec, file, pkg, msg string) data.ErrorEntry {
	return data.ErrorEntry{Stage: data.StageScan, Repo: repo.Repo, File: file, Package: pkg, Message: msg}
}
