// Package match selects object keys with doublestar glob patterns.
//
// It decides which storage events a handler reacts to and which reference
// objects are shipped to a compute task.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher tests object keys against include and exclude patterns.
// It is safe for concurrent use.
type Matcher struct {
	includes      []string
	excludes      []string
	prefixes      []string
	includeHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are patterns a key must match at least one of. Required.
	Includes []string

	// Excludes are patterns a key must match none of.
	Excludes []string

	// IncludeHidden admits keys with a path segment starting with '.'.
	IncludeHidden bool
}

var (
	ErrNoIncludes     = errors.New("at least one include pattern is required")
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError names the pattern that failed to compile.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New validates the configured patterns and builds a Matcher.
func New(cfg Config) (*Matcher, error) {
	if len(cfg.Includes) == 0 {
		return nil, ErrNoIncludes
	}
	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}
	return &Matcher{
		includes:      includes,
		excludes:      excludes,
		prefixes:      DerivePrefixes(includes),
		includeHidden: cfg.IncludeHidden,
	}, nil
}

// Include is shorthand for New with include patterns only.
func Include(patterns ...string) (*Matcher, error) {
	return New(Config{Includes: patterns})
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" || !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, p)
	}
	return out, nil
}

// Match reports whether key is included, not excluded and, unless hidden
// keys are allowed, not hidden. Keys are compared verbatim.
func (m *Matcher) Match(key string) bool {
	if !m.includeHidden && IsHidden(key) {
		return false
	}
	if !anyMatch(m.includes, key) {
		return false
	}
	return !anyMatch(m.excludes, key)
}

// Prefixes returns list prefixes covering every include pattern.
// An empty string means a full listing is needed.
func (m *Matcher) Prefixes() []string {
	return m.prefixes
}

// String renders the include patterns for log fields.
func (m *Matcher) String() string {
	return strings.Join(m.includes, ",")
}

func anyMatch(patterns []string, key string) bool {
	for _, p := range patterns {
		// patterns were validated in New
		if ok, _ := doublestar.Match(p, key); ok {
			return true
		}
	}
	return false
}

// IsHidden reports whether any '/'-separated segment of key starts with '.'.
func IsHidden(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
