package engine

import (
	"context"
	"errors"

	"depsync/internal/commit"
	"depsync/internal/data"
	"depsync/internal/output"
	"depsync/internal/patch"
	"depsync/internal/scanner"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var errCancelled = errors.New("run cancelled")

// fileWork is every StaleMatch of one file. They are patched and committed
// together.
type fileWork struct {
	repo    data.RepoSpec
	file    string
	kind    data.FileKind
	matches []data.StaleMatch
}

type repoWork struct {
	repo  string
	files []fileWork
}

// groupByRepo keeps the scanner's (repo, file, package) order.
func groupByRepo(matches []data.StaleMatch) []repoWork {
	var out []repoWork
	for _, m := range matches {
		if len(out) == 0 || out[len(out)-1].repo != m.Repo.Repo {
			out = append(out, repoWork{repo: m.Repo.Repo})
		}
		rw := &out[len(out)-1]
		if len(rw.files) == 0 || rw.files[len(rw.files)-1].file != m.File {
			rw.files = append(rw.files, fileWork{repo: m.Repo, file: m.File, kind: m.Kind})
		}
		fw := &rw.files[len(rw.files)-1]
		fw.matches = append(fw.matches, m)
	}
	return out
}

type repoResult struct {
	outcomes []data.CommitOutcome
	errs     []data.ErrorEntry
}

// commitAll runs one worker per repository, at most opts.Concurrency at a
// time. Files within a repository are committed one after another so a
// checkout never sees two writers. Each worker returns its own results; they
// are merged after all workers finish.
func (e *Engine) commitAll(ctx context.Context, scan *scanner.Result, opts RunOptions) ([]data.CommitOutcome, []data.ErrorEntry) {
	work := groupByRepo(scan.Matches)
	results := make([]repoResult, len(work))

	g := new(errgroup.Group)
	g.SetLimit(opts.Concurrency)
	for i, rw := range work {
		g.Go(func() error {
			results[i] = e.commitRepo(ctx, rw, scan, opts)
			return nil
		})
	}
	_ = g.Wait()

	var outcomes []data.CommitOutcome
	var errs []data.ErrorEntry
	for _, r := range results {
		outcomes = append(outcomes, r.outcomes...)
		errs = append(errs, r.errs...)
	}
	return outcomes, errs
}

func (e *Engine) commitRepo(ctx context.Context, rw repoWork, scan *scanner.Result, opts RunOptions) repoResult {
	var res repoResult
	for _, fw := range rw.files {
		// Cancellation stops scheduling; a commit already started below runs
		// to completion under its own timeout.
		if ctx.Err() != nil {
			res.add(fw, "", "", data.StageCommit, errCancelled, opts.Verbose)
			continue
		}
		sha, strategy, stage, err := e.commitFile(ctx, fw, scan, opts)
		res.add(fw, sha, strategy, stage, err, opts.Verbose)

		ev := output.Event{Type: output.EventCommitResult, RunID: opts.RunID, Repo: rw.repo, File: fw.file, Packages: packagesOf(fw.matches), CommitID: sha, Strategy: string(strategy)}
		if err != nil {
			ev.Error = presentCommitError(err, opts.Verbose)
		}
		e.emit(ev)
	}
	return res
}

func (r *repoResult) add(fw fileWork, sha string, strategy data.Strategy, stage data.Stage, err error, verbose bool) {
	for _, m := range fw.matches {
		r.outcomes = append(r.outcomes, data.CommitOutcome{
			Repo:     m.Repo.Repo,
			File:     m.File,
			Package:  m.Package,
			SHA:      sha,
			Strategy: strategy,
			Err:      err,
		})
		if err != nil {
			r.errs = append(r.errs, data.ErrorEntry{
				Stage:   stage,
				Repo:    m.Repo.Repo,
				File:    m.File,
				Package: m.Package,
				Message: presentCommitError(err, verbose),
			})
		}
	}
}

func (e *Engine) commitFile(ctx context.Context, fw fileWork, scan *scanner.Result, opts RunOptions) (string, data.Strategy, data.Stage, error) {
	log := logger.WithFields(logger.Fields{"repo": fw.repo.Repo, "file": fw.file})

	original, ok := scan.Content(fw.repo.Repo, fw.file)
	if !ok {
		return "", "", data.StagePatch, errors.New("scanned content unavailable")
	}
	content, changed, err := patch.Apply(original, fw.matches...)
	if err != nil {
		return "", "", data.StagePatch, err
	}
	if !changed {
		return "", "", data.StagePatch, errors.New("patch produced no change")
	}

	req := commit.Request{
		Repo:      fw.repo.Repo,
		Branch:    fw.repo.Branch,
		Path:      fw.file,
		Original:  original,
		Content:   content,
		Message:   commit.Message(fw.kind, fw.file, opts.RunID, fw.matches),
		LocalPath: fw.repo.LocalPath,
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.CommitTimeout)
	defer cancel()
	res, err := e.Committer.Commit(cctx, req)
	if err != nil {
		log.Warnf("[commit] failed: %s", presentCommitError(err, opts.Verbose))
		return "", "", data.StageCommit, err
	}
	log.WithField("strategy", res.Strategy).Infof("[commit] %s", res.SHA)
	return res.SHA, res.Strategy, data.StageCommit, nil
}

func packagesOf(matches []data.StaleMatch) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Package)
	}
	return out
}
