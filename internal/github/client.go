package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Client bundles the REST client, the HTTP client it uses (for GraphQL) and
// the request budget shared by every caller of the GitHub API.
type Client struct {
	Client *github.Client
	HTTP   *http.Client
	Budget *RequestBudget
}

type options struct {
	trace   *logger.Entry
	baseURL string
}

type Option func(*options)

// WithRequestTrace logs one line per request and response to entry at debug level.
func WithRequestTrace(entry *logger.Entry) Option {
	return func(o *options) {
		o.trace = entry
	}
}

// WithBaseURL points the client at a GitHub Enterprise Server or test server
// REST root such as https://ghe.example.com/api/v3/.
func WithBaseURL(raw string) Option {
	return func(o *options) {
		o.baseURL = raw
	}
}

type loggingRoundTripper struct {
	base http.RoundTripper
	log  *logger.Entry
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.log.Debugf("github api: %s %s", req.Method, req.URL.String())
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		t.log.Debugf("github api: error after %s: %v", dur, err)
	} else {
		t.log.Debugf("github api: %d %s (%s)", resp.StatusCode, http.StatusText(resp.StatusCode), dur)
	}
	return resp, err
}

func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("github client: ctx is nil")
	}

	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}

	transport := http.DefaultTransport
	if o.trace != nil {
		transport = &loggingRoundTripper{base: transport, log: o.trace}
	}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		transport = &oauth2.Transport{Source: ts, Base: transport}
	}
	tc := &http.Client{Transport: transport}

	gc := github.NewClient(tc)
	if o.baseURL != "" {
		raw := o.baseURL
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("github client: invalid base url %q: %w", o.baseURL, err)
		}
		gc.BaseURL = u
	}

	return &Client{
		Client: gc,
		HTTP:   tc,
		Budget: NewRequestBudget(),
	}, nil
}
