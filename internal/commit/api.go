package commit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"depsync/internal/data"
	gh "depsync/internal/github"

	"github.com/google/go-github/v68/github"
	logger "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerSettings controls the circuit breaker in front of the contents API.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker. Conflicts and missing files do
	// not count as backend failures.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// APIStrategy writes files through the GitHub contents API, which creates one
// commit per update on the target branch.
type APIStrategy struct {
	client  *gh.Client
	breaker *gobreaker.CircuitBreaker
}

func NewAPIStrategy(client *gh.Client, settings BreakerSettings) *APIStrategy {
	if settings.ConsecutiveFailures == 0 {
		settings = DefaultBreakerSettings()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "github-contents",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithField("breaker", name).Warnf("[commit] circuit %s -> %s", from, to)
		},
	})
	return &APIStrategy{client: client, breaker: cb}
}

func (s *APIStrategy) Name() data.Strategy { return data.StrategyAPI }

func (s *APIStrategy) Commit(ctx context.Context, req Request) (string, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.commit(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (s *APIStrategy) commit(ctx context.Context, req Request) (string, error) {
	owner, repo := req.ownerRepo()
	if owner == "" || repo == "" {
		return "", fmt.Errorf("invalid repository slug %q", req.Repo)
	}

	getOpts := &github.RepositoryContentGetOptions{Ref: req.Branch}
	if err := s.client.Budget.Acquire(ctx, 1); err != nil {
		return "", err
	}
	fc, _, resp, err := s.client.Client.Repositories.GetContents(ctx, owner, repo, req.Path, getOpts)
	if resp != nil {
		s.client.Budget.UpdateFromResponse(resp.Response)
	}
	if err != nil {
		return "", classify("get contents", err)
	}
	if fc == nil {
		return "", fmt.Errorf("%s is a directory: %w", req.Path, ErrNotFound)
	}
	remote, err := fc.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode contents: %w", err)
	}
	if remote != string(req.Original) {
		return "", fmt.Errorf("%s on %s: %w", req.Path, req.Repo, ErrConflict)
	}

	putOpts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(req.Message),
		Content: req.Content,
		SHA:     fc.SHA,
	}
	if req.Branch != "" {
		putOpts.Branch = github.Ptr(req.Branch)
	}
	if err := s.client.Budget.Acquire(ctx, 1); err != nil {
		return "", err
	}
	res, resp, err := s.client.Client.Repositories.UpdateFile(ctx, owner, repo, req.Path, putOpts)
	if resp != nil {
		s.client.Budget.UpdateFromResponse(resp.Response)
	}
	if err != nil {
		return "", classify("update file", err)
	}
	sha := res.Commit.GetSHA()
	if sha == "" {
		return "", fmt.Errorf("update file: response carried no commit sha")
	}
	return sha, nil
}

// classify maps go-github failures onto the package's sentinel errors while
// keeping the original error in the chain.
func classify(op string, err error) error {
	var rle *github.RateLimitError
	var arle *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &arle) {
		return fmt.Errorf("%s: %w: %w", op, ErrRateLimited, err)
	}

	var er *github.ErrorResponse
	if !errors.As(err, &er) || er.Response == nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	switch code := er.Response.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s: %w: %w", op, ErrAuth, err)
	case code == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	case code == http.StatusConflict:
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	case code >= 500:
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
