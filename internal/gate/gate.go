// Package gate implements the proxymap approved-name allow-list (spec §4.2)
// and the single canonicalization rule shared by the gate builder and the
// request-time canonicalizer (spec §9, resolving the Open Question about
// the original's two slightly different canonicalization loops in favor of
// one rule used everywhere).
package gate

import "strings"

const proxyPrefix = "proxy:"

// Canonicalize strips any leading sequence of "proxy:" prefixes and
// reports whether the remainder contains the ':' that separates a table
// type from its name. A canonical reference with no prefixes stripped is
// returned unchanged in the ok=true case.
func Canonicalize(ref string) (canonical string, ok bool) {
	for strings.HasPrefix(ref, proxyPrefix) {
		ref = ref[len(proxyPrefix):]
	}
	if !strings.Contains(ref, ":") {
		return "", false
	}
	return ref, true
}

// Set is the read-only approved-reference allow-list, built once at
// post-jail init (spec §4.6) and never mutated afterward.
type Set struct {
	approved map[string]struct{}
}

// Build parses a whitespace-separated configuration string into an
// approved Set. Tokens that do not begin with "proxy:" are ignored (an
// operator's config may legitimately reference non-proxied tables), per
// spec §4.2.
func Build(config string) *Set {
	approved := make(map[string]struct{})
	for _, tok := range strings.Fields(config) {
		if !strings.HasPrefix(tok, proxyPrefix) {
			continue
		}
		canonical, ok := Canonicalize(tok)
		if !ok {
			continue
		}
		approved[canonical] = struct{}{}
	}
	return &Set{approved: approved}
}

// Allowed reports whether the canonical reference is a member of the set.
func (s *Set) Allowed(canonical string) bool {
	_, ok := s.approved[canonical]
	return ok
}

// Len reports the number of approved references, for diagnostics and tests.
func (s *Set) Len() int { return len(s.approved) }
