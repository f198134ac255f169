package postbox

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Matcher decides whether a subscribed pattern matches a published name.
// Implementations must be safe for concurrent use.
type Matcher interface {
	// Match reports whether pattern matches candidate.
	// A candidate containing the wildcard token is a caller error.
	Match(pattern, candidate string) (bool, error)
}

// DefaultPatternCacheSize is the number of compiled patterns kept by a WildcardMatcher.
const DefaultPatternCacheSize = 1024

// WildcardMatcher matches full names where "*" stands for zero or more characters.
// Matching is case-sensitive. Everything except the wildcard is matched literally.
type WildcardMatcher struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

// NewWildcardMatcher creates a matcher caching up to cacheSize compiled patterns.
// A non-positive size uses DefaultPatternCacheSize.
func NewWildcardMatcher(cacheSize int) *WildcardMatcher {
	if cacheSize <= 0 {
		cacheSize = DefaultPatternCacheSize
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, *regexp.Regexp](cacheSize)
	return &WildcardMatcher{cache: cache}
}

// Match implements Matcher.
func (m *WildcardMatcher) Match(pattern, candidate string) (bool, error) {
	if strings.Contains(candidate, All) {
		return false, invalidArgument("published name %q contains the wildcard token", candidate)
	}
	if candidate == "" {
		return false, nil
	}

	switch {
	case pattern == All:
		return true, nil
	case !strings.Contains(pattern, All):
		return pattern == candidate, nil
	}

	return m.compile(pattern).MatchString(candidate), nil
}

// CachedPatterns returns the number of compiled patterns currently cached.
func (m *WildcardMatcher) CachedPatterns() int {
	return m.cache.Len()
}

func (m *WildcardMatcher) compile(pattern string) *regexp.Regexp {
	if re, ok := m.cache.Get(pattern); ok {
		return re
	}
	re := regexp.MustCompile(PatternExpr(pattern))
	m.cache.Add(pattern, re)
	return re
}

// PatternExpr translates a wildcard pattern into an anchored regular expression.
// Literal parts are quoted so that characters like "." or "+" match themselves.
func PatternExpr(pattern string) string {
	parts := strings.Split(pattern, All)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return "^" + strings.Join(parts, ".*") + "$"
}

var defaultMatcher = NewWildcardMatcher(DefaultPatternCacheSize)

// DefaultMatcher returns the shared WildcardMatcher used when none is configured.
func DefaultMatcher() Matcher {
	return defaultMatcher
}
