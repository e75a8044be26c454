package domain

import (
	"strings"

	"github.com/gobwas/glob"
)

// globMeta are the characters that make a claim path a pattern rather than
// a literal file path.
const globMeta = "*?[{"

// IsPattern reports whether a claim path contains glob metacharacters.
func IsPattern(path string) bool {
	return strings.ContainsAny(path, globMeta)
}

// PathsOverlap reports whether two claim paths can cover a common file.
// Literal paths overlap only on equality. A pattern overlaps a literal when
// it matches it. Two patterns overlap when either matches the other's text,
// or when their literal prefixes (everything before the first
// metacharacter) contain one another; exact containment of two globs is
// undecidable cheaply and this errs on the conservative side for advisory
// leases.
func PathsOverlap(a, b string) bool {
	if a == b {
		return true
	}
	aPat, bPat := IsPattern(a), IsPattern(b)
	switch {
	case !aPat && !bPat:
		return false
	case aPat && !bPat:
		return patternMatches(a, b)
	case !aPat && bPat:
		return patternMatches(b, a)
	}
	if patternMatches(a, b) || patternMatches(b, a) {
		return true
	}
	pa := literalPrefix(a)
	pb := literalPrefix(b)
	if pa == "" || pb == "" {
		return true
	}
	return strings.HasPrefix(pa, pb) || strings.HasPrefix(pb, pa)
}

// patternMatches compiles pattern with '/' as the separator and tests
// candidate against it. A trailing "/*" is widened to "/**" so that a lease
// on a directory's children guards the whole subtree. Unparseable patterns
// fall back to literal comparison.
func patternMatches(pattern, candidate string) bool {
	widened := pattern
	if strings.HasSuffix(widened, "/*") {
		widened += "*"
	}
	g, err := glob.Compile(widened, '/')
	if err != nil {
		return pattern == candidate
	}
	return g.Match(candidate)
}

// literalPrefix returns the leading part of a pattern up to its first
// metacharacter.
func literalPrefix(pattern string) string {
	i := strings.IndexAny(pattern, globMeta)
	if i < 0 {
		return pattern
	}
	return pattern[:i]
}
