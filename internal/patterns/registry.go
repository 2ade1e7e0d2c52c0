package patterns

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"depsync/internal/data"
)

var (
	registry = make(map[string]Matcher)
	mu       sync.RWMutex
)

func Register(m Matcher) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[m.ID()]; exists {
		panic(fmt.Sprintf("matcher %s already registered", m.ID()))
	}
	registry[m.ID()] = m
}

func List() []Matcher {
	mu.RLock()
	defer mu.RUnlock()
	return sortedLocked()
}

func sortedLocked() []Matcher {
	out := make([]Matcher, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID() < out[j].ID()
	})
	return out
}

// Resolve returns the matchers named by a comma-separated selector.
// An empty selector selects every registered matcher.
func Resolve(selector string) ([]Matcher, error) {
	mu.RLock()
	defer mu.RUnlock()

	if strings.TrimSpace(selector) == "" {
		return sortedLocked(), nil
	}

	var selected []Matcher
	for _, id := range strings.Split(selector, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		m, ok := registry[id]
		if !ok {
			return nil, fmt.Errorf("matcher not found: %s", id)
		}
		selected = append(selected, m)
	}
	return selected, nil
}

// ForFile returns the matchers of the given kind that apply to path, in ID order.
func ForFile(matchers []Matcher, path string, kind data.FileKind) []Matcher {
	var out []Matcher
	for _, m := range matchers {
		if m.Kind() == kind && m.Applies(path) {
			out = append(out, m)
		}
	}
	return out
}
