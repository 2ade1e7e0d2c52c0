// Package commit persists patched files through an ordered list of
// strategies: the GitHub contents API first, then the local checkout.
package commit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"depsync/internal/data"

	logger "github.com/sirupsen/logrus"
)

var (
	ErrAuth         = errors.New("authentication failed")
	ErrRateLimited  = errors.New("rate limited")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("content changed since scan")
	ErrUnavailable  = errors.New("backend unavailable")
	ErrNoCheckout   = errors.New("no local checkout")
	ErrPushRejected = errors.New("push rejected")
	ErrNoChange     = errors.New("nothing to commit")
	ErrTimeout      = errors.New("timed out")
)

// Request is one file write. Original is the content the patch was computed
// from; strategies refuse to write when the target no longer holds it.
type Request struct {
	Repo      string
	Branch    string
	Path      string
	Original  []byte
	Content   []byte
	Message   string
	LocalPath string
}

func (r Request) ownerRepo() (string, string) {
	owner, name, _ := strings.Cut(r.Repo, "/")
	return owner, name
}

type Strategy interface {
	Name() data.Strategy
	Commit(ctx context.Context, req Request) (string, error)
}

type Result struct {
	SHA      string
	Strategy data.Strategy
}

// Chain tries strategies in order until one succeeds.
type Chain struct {
	strategies []Strategy
}

func NewChain(strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies}
}

// ChainError carries every failed attempt. Cause is the most specific one:
// the last failure that was not ErrNoCheckout.
type ChainError struct {
	Attempts []error
	Cause    error
}

func (e *ChainError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return strings.Join(parts, "; ")
}

func (e *ChainError) Unwrap() []error { return e.Attempts }

// Commit runs the strategies in order. When ctx carries a deadline, each
// attempt gets an equal share of the time still left.
func (c *Chain) Commit(ctx context.Context, req Request) (Result, error) {
	if len(c.strategies) == 0 {
		return Result{}, fmt.Errorf("no commit strategies configured")
	}

	chainErr := &ChainError{}
	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			attempt := fmt.Errorf("%s: %w", s.Name(), err)
			chainErr.Attempts = append(chainErr.Attempts, attempt)
			if chainErr.Cause == nil {
				chainErr.Cause = attempt
			}
			break
		}
		sha, err := c.attempt(ctx, s, len(c.strategies)-i, req)
		if err == nil {
			return Result{SHA: sha, Strategy: s.Name()}, nil
		}
		logger.WithFields(logger.Fields{"repo": req.Repo, "file": req.Path, "strategy": s.Name()}).
			Debugf("[commit] attempt failed: %v", err)

		attempt := fmt.Errorf("%s: %w", s.Name(), err)
		chainErr.Attempts = append(chainErr.Attempts, attempt)
		if chainErr.Cause == nil || !errors.Is(err, ErrNoCheckout) {
			chainErr.Cause = attempt
		}
	}
	return Result{}, chainErr
}

// attempt bounds one strategy to 1/remaining of the time left on ctx.
func (c *Chain) attempt(ctx context.Context, s Strategy, remaining int, req Request) (string, error) {
	deadline, ok := ctx.Deadline()
	if !ok || remaining <= 1 {
		return s.Commit(ctx, req)
	}
	actx, cancel := context.WithTimeout(ctx, time.Until(deadline)/time.Duration(remaining))
	defer cancel()
	return s.Commit(actx, req)
}
