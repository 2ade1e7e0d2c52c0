// Package patch rewrites version literals located by the scanner. It performs
// no I/O.
package patch

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"depsync/internal/data"
)

var (
	ErrSpanMismatch = errors.New("version span does not match content")
	ErrSpanOverlap  = errors.New("version spans overlap")
)

type edit struct {
	loc data.Location
	new string
	pkg string
}

// Apply replaces every located old version of the given matches with the
// match's new version. All other bytes are preserved. The returned bool is
// false when the result is byte-identical to content.
func Apply(content []byte, matches ...data.StaleMatch) ([]byte, bool, error) {
	var edits []edit
	for _, m := range matches {
		for _, loc := range m.Locations {
			edits = append(edits, edit{loc: loc, new: m.NewVersion, pkg: m.Package})
		}
	}
	if len(edits) == 0 {
		return content, false, nil
	}

	sort.Slice(edits, func(i, j int) bool {
		return edits[i].loc.Start < edits[j].loc.Start
	})

	for i, e := range edits {
		if e.loc.Start < 0 || e.loc.End > len(content) || e.loc.Start > e.loc.End {
			return nil, false, fmt.Errorf("%s at [%d:%d]: %w", e.pkg, e.loc.Start, e.loc.End, ErrSpanMismatch)
		}
		if string(content[e.loc.Start:e.loc.End]) != e.loc.Old {
			return nil, false, fmt.Errorf("%s at [%d:%d]: want %q: %w", e.pkg, e.loc.Start, e.loc.End, e.loc.Old, ErrSpanMismatch)
		}
		if i > 0 && edits[i-1].loc.End > e.loc.Start {
			return nil, false, fmt.Errorf("%s at [%d:%d]: %w", e.pkg, e.loc.Start, e.loc.End, ErrSpanOverlap)
		}
	}

	out := make([]byte, len(content))
	copy(out, content)
	// Back to front keeps earlier offsets valid.
	for i := len(edits) - 1; i >= 0; i-- {
		e := edits[i]
		tail := append([]byte(e.new), out[e.loc.End:]...)
		out = append(out[:e.loc.Start], tail...)
	}

	return out, !bytes.Equal(out, content), nil
}
