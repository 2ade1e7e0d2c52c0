package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"depsync/internal/data"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Timeout: 5 * time.Second}
}

func TestCratesSource_ReadsMaxStableVersion(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/crates/core-lib", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("expected User-Agent header")
		}
		fmt.Fprint(w, `{"crate":{"max_version":"2.2.0-beta.1","max_stable_version":"2.1.0"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := &CratesSource{BaseURL: srv.URL, UserAgent: "depsync-test", HTTP: NewHTTPClient(fastRetry())}
	v, err := src.Latest(context.Background(), "core-lib")
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", v)
}

func TestCratesSource_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	src := &CratesSource{BaseURL: srv.URL, UserAgent: "depsync-test", HTTP: NewHTTPClient(fastRetry())}
	_, err := src.Latest(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestCratesSource_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"crate":{"max_stable_version":"0.4.2"}}`)
	}))
	defer srv.Close()

	src := &CratesSource{BaseURL: srv.URL, UserAgent: "depsync-test", HTTP: NewHTTPClient(fastRetry())}
	v, err := src.Latest(context.Background(), "agent-sdk")
	require.NoError(t, err)
	assert.Equal(t, "0.4.2", v)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCratesSource_GivesUpAfterBoundedRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := &CratesSource{BaseURL: srv.URL, UserAgent: "depsync-test", HTTP: NewHTTPClient(fastRetry())}
	_, err := src.Latest(context.Background(), "agent-sdk")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGoProxySource_FallsBackToListForPrerelease(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/github.com/!acme/core/@latest", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Version":"v1.3.0-rc.1"}`)
	})
	mux.HandleFunc("/github.com/!acme/core/@v/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "v1.0.0\nv1.2.1\nv1.3.0-rc.1\nv1.10.0-alpha\nv1.2.0\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := &GoProxySource{BaseURL: srv.URL, HTTP: NewHTTPClient(fastRetry())}
	v, err := src.Latest(context.Background(), "github.com/Acme/core")
	require.NoError(t, err)
	assert.Equal(t, "v1.2.1", v)
}

type fakeSource struct {
	versions map[string]string
	calls    atomic.Int32
}

func (f *fakeSource) Latest(ctx context.Context, name string) (string, error) {
	f.calls.Add(1)
	v, ok := f.versions[name]
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return v, nil
}

func TestResolver_PartialFailureLeavesPackageAbsent(t *testing.T) {
	src := &fakeSource{versions: map[string]string{"core-lib": "2.1.0"}}
	r, err := NewResolver(map[data.Registry]Source{data.RegistryCrates: src}, 2)
	require.NoError(t, err)

	versions, errs := r.Resolve(context.Background(), []data.TrackedPackage{
		{Name: "core-lib", Registry: data.RegistryCrates},
		{Name: "gone-lib", Registry: data.RegistryCrates},
		{Name: "go-lib", Registry: data.RegistryGo},
	})

	assert.Equal(t, map[string]string{"core-lib": "2.1.0"}, versions)
	require.Len(t, errs, 2)
	assert.Equal(t, "gone-lib", errs[0].Package)
	assert.Equal(t, data.StageResolve, errs[0].Stage)
	assert.Contains(t, errs[1].Message, `no source for registry "go"`)
}

func TestResolver_DefaultsToCrates(t *testing.T) {
	src := &fakeSource{versions: map[string]string{"core-lib": "2.1.0"}}
	r, err := NewResolver(map[data.Registry]Source{data.RegistryCrates: src}, 1)
	require.NoError(t, err)

	versions, errs := r.Resolve(context.Background(), []data.TrackedPackage{{Name: "core-lib"}})
	assert.Empty(t, errs)
	assert.Equal(t, "2.1.0", versions["core-lib"])
}

func TestNewResolver_Validation(t *testing.T) {
	_, err := NewResolver(nil, 1)
	assert.Error(t, err)

	_, err = NewResolver(map[data.Registry]Source{data.RegistryCrates: &fakeSource{}}, 0)
	assert.Error(t, err)
}
