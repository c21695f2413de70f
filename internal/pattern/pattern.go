// Package pattern compiles the filename patterns used by manifests: gobwas
// globs and unanchored regular expressions, selected by a "glob:" or
// "regex:" prefix.
package pattern

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

type Kind int

const (
	Glob Kind = iota
	Regex
)

const (
	globPrefix  = "glob:"
	regexPrefix = "regex:"
)

// Matcher reports whether a slash-separated path matches.
type Matcher interface {
	Match(path string) bool
}

type regexMatcher struct{ re *regexp.Regexp }

// Match uses substring semantics; anchor the expression to match whole names.
func (m regexMatcher) Match(path string) bool { return m.re.MatchString(path) }

// Compile parses expr. An explicit prefix wins; otherwise def decides how
// the expression is read. Globs treat '/' as the path separator so "*"
// stays within one directory and "**" crosses directories.
func Compile(expr string, def Kind) (Matcher, error) {
	kind := def
	switch {
	case strings.HasPrefix(expr, globPrefix):
		kind, expr = Glob, strings.TrimPrefix(expr, globPrefix)
	case strings.HasPrefix(expr, regexPrefix):
		kind, expr = Regex, strings.TrimPrefix(expr, regexPrefix)
	}
	if expr == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	if kind == Regex {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compiling regex %q: %w", expr, err)
		}
		return regexMatcher{re: re}, nil
	}
	g, err := glob.Compile(expr, '/')
	if err != nil {
		return nil, fmt.Errorf("compiling glob %q: %w", expr, err)
	}
	return g, nil
}

// Any matches when at least one of the matchers does.
type Any []Matcher

func (a Any) Match(path string) bool {
	for _, m := range a {
		if m.Match(path) {
			return true
		}
	}
	return false
}

// CompileAll compiles every expression with the same default kind.
func CompileAll(exprs []string, def Kind) (Any, error) {
	out := make(Any, 0, len(exprs))
	for _, e := range exprs {
		m, err := Compile(e, def)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
