package source

import (
	"fmt"
	"sort"

	"github.com/gobwas/glob"
	"github.com/relogdev/relog/common"
)

// Selector matches monitored tables against a glob pattern. A plain table
// name with no metacharacters is an exact-match selector.
type Selector struct {
	pattern string
	g       glob.Glob
}

// NewSelector compiles a table selector pattern.
func NewSelector(pattern string) (*Selector, error) {
	if pattern == "" {
		return nil, &common.ConfigurationError{Field: "pattern", Reason: "table selector is empty"}
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, &common.ConfigurationError{
			Field:  "pattern",
			Reason: fmt.Sprintf("invalid table selector %q: %v", pattern, err),
		}
	}
	return &Selector{pattern: pattern, g: g}, nil
}

// Pattern returns the source pattern text.
func (s *Selector) Pattern() string {
	return s.pattern
}

// Match reports whether a table name matches the selector.
func (s *Selector) Match(table string) bool {
	return s.g.Match(table)
}

// Resolve filters the catalog down to matching tables, sorted for
// deterministic pipeline layout. Zero matches is a configuration error.
func (s *Selector) Resolve(catalog []string) ([]string, error) {
	var matched []string
	for _, table := range catalog {
		if s.g.Match(table) {
			matched = append(matched, table)
		}
	}
	if len(matched) == 0 {
		return nil, &common.ConfigurationError{
			Field:  "pattern",
			Reason: fmt.Sprintf("selector %q matches no tables", s.pattern),
		}
	}
	sort.Strings(matched)
	return matched, nil
}
