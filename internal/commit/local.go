package commit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"depsync/internal/data"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	logger "github.com/sirupsen/logrus"
)

const defaultBranchLookupTimeout = 10 * time.Second

// Author is the identity recorded on local commits.
type Author struct {
	Name  string
	Email string
}

// LocalStrategy commits in the local checkout and pushes to origin. A push
// failure rolls the checkout back to its previous HEAD with the original file
// content, so a failed attempt leaves no local trace.
type LocalStrategy struct {
	Author Author
	// Token authenticates HTTPS pushes. Empty pushes without credentials.
	Token string
	// RemoteName defaults to origin.
	RemoteName string
	// DefaultBranch looks up the default branch of OWNER/REPO. It is consulted
	// only when the request names no branch and the checkout has no remote
	// HEAD; a failed lookup is ignored.
	DefaultBranch func(ctx context.Context, repo string) (string, error)

	now func() time.Time
}

func (s *LocalStrategy) Name() data.Strategy { return data.StrategyLocal }

func (s *LocalStrategy) Commit(ctx context.Context, req Request) (string, error) {
	if req.LocalPath == "" {
		return "", ErrNoCheckout
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo, err := git.PlainOpen(req.LocalPath)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %v", req.LocalPath, ErrNoCheckout, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %v", req.LocalPath, ErrNoCheckout, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("%s: %w: checkout is on a detached HEAD", req.LocalPath, ErrPushRejected)
	}
	branch := s.targetBranch(ctx, repo, head, req)
	if current := head.Name().Short(); current != branch {
		return "", fmt.Errorf("%s: %w: checkout is on %s, target branch is %s", req.LocalPath, ErrPushRejected, current, branch)
	}

	full := filepath.Join(req.LocalPath, filepath.FromSlash(req.Path))
	current, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", req.Path, err)
	}
	if !bytes.Equal(current, req.Original) {
		return "", fmt.Errorf("local %s: %w", req.Path, ErrConflict)
	}
	if err := s.ensureNothingElseStaged(wt, req.Path); err != nil {
		return "", err
	}

	info, err := os.Stat(full)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(full, req.Content, info.Mode().Perm()); err != nil {
		return "", fmt.Errorf("write %s: %w", req.Path, err)
	}

	rollback := func(cause error) error {
		resetErr := wt.Reset(&git.ResetOptions{Commit: head.Hash(), Mode: git.MixedReset})
		writeErr := os.WriteFile(full, req.Original, info.Mode().Perm())
		return errors.Join(cause, resetErr, writeErr)
	}

	if _, err := wt.Add(filepath.ToSlash(req.Path)); err != nil {
		return "", rollback(fmt.Errorf("stage %s: %w", req.Path, err))
	}
	hash, err := wt.Commit(req.Message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.Author.Name,
			Email: s.Author.Email,
			When:  s.clock(),
		},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return "", rollback(ErrNoChange)
	}
	if err != nil {
		return "", rollback(fmt.Errorf("commit: %w", err))
	}

	if err := s.push(ctx, repo, head, branch); err != nil {
		return "", rollback(err)
	}
	return hash.String(), nil
}

func (s *LocalStrategy) push(ctx context.Context, repo *git.Repository, head *plumbing.Reference, branch string) error {
	spec := config.RefSpec(fmt.Sprintf("%s:%s", head.Name(), plumbing.NewBranchReferenceName(branch)))
	opts := &git.PushOptions{
		RemoteName: s.remote(),
		RefSpecs:   []config.RefSpec{spec},
	}
	if s.Token != "" {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: s.Token}
	}
	return pushError(ctx, repo.PushContext(ctx, opts))
}

// pushError classifies a push failure. An expired or cancelled ctx wins over
// whatever transport error the interrupted push surfaced.
func pushError(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	ctxErr := ctx.Err()
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctxErr, context.DeadlineExceeded):
		return fmt.Errorf("push: %w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled), errors.Is(ctxErr, context.Canceled):
		return fmt.Errorf("push: %w: %w", context.Canceled, err)
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("push: %w: %w", ErrAuth, err)
	default:
		return fmt.Errorf("push: %w: %w", ErrPushRejected, err)
	}
}

// targetBranch picks the push target: the request's branch, then the remote
// HEAD recorded in the checkout, then the DefaultBranch lookup, then the
// branch the checkout is on.
func (s *LocalStrategy) targetBranch(ctx context.Context, repo *git.Repository, head *plumbing.Reference, req Request) string {
	if req.Branch != "" {
		return req.Branch
	}
	remote := s.remote()
	if ref, err := repo.Reference(plumbing.NewRemoteHEADReferenceName(remote), false); err == nil && ref.Type() == plumbing.SymbolicReference {
		if branch, ok := strings.CutPrefix(ref.Target().Short(), remote+"/"); ok && branch != "" {
			return branch
		}
	}
	if s.DefaultBranch != nil {
		lctx, cancel := context.WithTimeout(ctx, defaultBranchLookupTimeout)
		branch, err := s.DefaultBranch(lctx, req.Repo)
		cancel()
		if err == nil && branch != "" {
			return branch
		}
		logger.WithField("repo", req.Repo).Debugf("[commit] default branch lookup skipped: %v", err)
	}
	return head.Name().Short()
}

func (s *LocalStrategy) remote() string {
	if s.RemoteName == "" {
		return git.DefaultRemoteName
	}
	return s.RemoteName
}

// ensureNothingElseStaged refuses to commit when the index holds changes to
// other files, which would otherwise be swept into the commit.
func (s *LocalStrategy) ensureNothingElseStaged(wt *git.Worktree, path string) error {
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	for file, st := range status {
		if file == filepath.ToSlash(path) {
			continue
		}
		if st.Staging != git.Unmodified && st.Staging != git.Untracked {
			return fmt.Errorf("local checkout has staged changes to %s: %w", file, ErrConflict)
		}
	}
	return nil
}

func (s *LocalStrategy) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
