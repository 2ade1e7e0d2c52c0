// Package registry resolves the latest stable version of tracked packages.
package registry

import (
	"context"
	"fmt"

	"depsync/internal/data"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Resolver looks up tracked packages concurrently. A failed lookup leaves the
// package out of the result and is reported as an error entry; it never stops
// the other lookups.
type Resolver struct {
	sources     map[data.Registry]Source
	concurrency int
	group       singleflight.Group
}

func NewResolver(sources map[data.Registry]Source, concurrency int) (*Resolver, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one registry source is required")
	}
	if concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %d", concurrency)
	}
	return &Resolver{sources: sources, concurrency: concurrency}, nil
}

func (r *Resolver) Resolve(ctx context.Context, pkgs []data.TrackedPackage) (map[string]string, []data.ErrorEntry) {
	versions := make([]string, len(pkgs))
	errs := make([]error, len(pkgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, p := range pkgs {
		g.Go(func() error {
			versions[i], errs[i] = r.resolveOne(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]string, len(pkgs))
	var entries []data.ErrorEntry
	for i, p := range pkgs {
		if errs[i] != nil {
			logger.WithField("package", p.Name).Warnf("[resolve] unresolved: %v", errs[i])
			entries = append(entries, data.ErrorEntry{
				Stage:   data.StageResolve,
				Package: p.Name,
				Message: errs[i].Error(),
			})
			continue
		}
		logger.WithField("package", p.Name).Debugf("[resolve] latest stable %s", versions[i])
		out[p.Name] = versions[i]
	}
	return out, entries
}

func (r *Resolver) resolveOne(ctx context.Context, p data.TrackedPackage) (string, error) {
	kind := p.Registry
	if kind == "" {
		kind = data.RegistryCrates
	}
	src, ok := r.sources[kind]
	if !ok {
		return "", fmt.Errorf("no source for registry %q", kind)
	}

	v, err, _ := r.group.Do(string(kind)+"/"+p.Name, func() (any, error) {
		return src.Latest(ctx, p.Name)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
