package registry

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("package not found")

// Source answers "latest stable version of package P" for one registry.
type Source interface {
	Latest(ctx context.Context, name string) (string, error)
}
