package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type GraphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type GraphQLError struct {
	Message string `json:"message"`
}

type GraphQLResponse[T any] struct {
	Data   T              `json:"data"`
	Errors []GraphQLError `json:"errors"`
}

// graphqlEndpoint derives the GraphQL URL from the REST base:
// https://api.github.com/ -> /graphql, https://<ghes>/api/v3/ -> /api/graphql.
func graphqlEndpoint(base *url.URL) (*url.URL, error) {
	if base == nil {
		return nil, fmt.Errorf("graphql: base url is nil")
	}
	u := *base
	u.RawQuery = ""
	u.Fragment = ""
	if strings.HasSuffix(strings.TrimSuffix(u.Path, "/"), "/api/v3") {
		u.Path = "/api/graphql"
	} else {
		u.Path = "/graphql"
	}
	return &u, nil
}

// DoGraphQL posts a query with the same transport as the REST client and
// accounts for it in the request budget.
func DoGraphQL[T any](ctx context.Context, c *Client, req GraphQLRequest) (GraphQLResponse[T], error) {
	var out GraphQLResponse[T]
	if ctx == nil {
		return out, fmt.Errorf("graphql: ctx is nil")
	}
	if c == nil || c.Client == nil || c.HTTP == nil {
		return out, fmt.Errorf("graphql: client is nil")
	}

	endpoint, err := graphqlEndpoint(c.Client.BaseURL)
	if err != nil {
		return out, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("graphql: marshal request: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("graphql: build request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")

	if c.Budget != nil {
		if err := c.Budget.Acquire(ctx, 1); err != nil {
			return out, err
		}
	}
	hresp, err := c.HTTP.Do(hreq)
	if err != nil {
		return out, fmt.Errorf("graphql: do request: %w", err)
	}
	defer hresp.Body.Close()
	c.Budget.UpdateFromResponse(hresp)

	if hresp.StatusCode < 200 || hresp.StatusCode >= 300 {
		return out, fmt.Errorf("graphql: http %d", hresp.StatusCode)
	}
	if err := json.NewDecoder(hresp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("graphql: decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		return out, fmt.Errorf("graphql: %s", out.Errors[0].Message)
	}
	return out, nil
}

var (
	ErrFileNotFound = errors.New("file not found")
	ErrBinaryFile   = errors.New("file is binary")
)

const readFileQuery = `query($owner: String!, $name: String!, $expr: String!) {
  repository(owner: $owner, name: $name) {
    object(expression: $expr) {
      ... on Blob { text oid isBinary }
    }
  }
}`

type readFileData struct {
	Repository *struct {
		Object *struct {
			Text     *string `json:"text"`
			OID      string  `json:"oid"`
			IsBinary bool    `json:"isBinary"`
		} `json:"object"`
	} `json:"repository"`
}

// ReadFile returns the text of path at ref (HEAD when empty) in one request.
func ReadFile(ctx context.Context, c *Client, owner, repo, ref, path string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	resp, err := DoGraphQL[readFileData](ctx, c, GraphQLRequest{
		Query: readFileQuery,
		Variables: map[string]any{
			"owner": owner,
			"name":  repo,
			"expr":  ref + ":" + path,
		},
	})
	if err != nil {
		return "", fmt.Errorf("read %s/%s:%s: %w", owner, repo, path, err)
	}
	if resp.Data.Repository == nil {
		return "", fmt.Errorf("read %s/%s: repository %w", owner, repo, ErrFileNotFound)
	}
	obj := resp.Data.Repository.Object
	if obj == nil {
		return "", fmt.Errorf("read %s/%s:%s: %w", owner, repo, path, ErrFileNotFound)
	}
	if obj.IsBinary || obj.Text == nil {
		return "", fmt.Errorf("read %s/%s:%s: %w", owner, repo, path, ErrBinaryFile)
	}
	return *obj.Text, nil
}
