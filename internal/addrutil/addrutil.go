// Package addrutil implements the one piece of address parsing spec.md's
// Non-goals allow: splitting off an optional recipient-extension and
// @domain suffix (spec.md §1 Non-goals).
//
// Grounded on original_source/postfix/src/global/virtual8_maps_find.c's
// lookup strategy: try the address with its extension stripped first (to
// avoid hammering the backend with every distinct extension), then the
// full address, then an @domain catch-all.
package addrutil

import "strings"

// StripExtension removes a recipient-delimiter extension from the local
// part of address, e.g. StripExtension("user+tag@example.com", '+') ==
// ("user@example.com", true). ok is false when delim is not present in the
// local part, or when address has no '@'.
func StripExtension(address string, delim byte) (bare string, ok bool) {
	if delim == 0 {
		return "", false
	}
	at := strings.LastIndexByte(address, '@')
	if at < 0 {
		return "", false
	}
	local, domain := address[:at], address[at:]
	if i := strings.IndexByte(local, delim); i >= 0 {
		return local[:i] + domain, true
	}
	return "", false
}

// Getter is the subset of dict.Dict that LookupWithExtension needs — kept
// minimal here (rather than importing dict) to avoid a dependency cycle
// between internal/addrutil and internal/dict.
type Getter interface {
	Get(key string) (value string, ok bool, err error)
}

// LookupWithExtension performs the virtual8_maps_find strategy against g:
// the extension-stripped address first, then the address verbatim, then
// the "@domain" catch-all. It returns on the first hit or the first
// backend error; a miss at one step falls through to the next.
func LookupWithExtension(g Getter, address string, delim byte) (value string, ok bool, err error) {
	if bare, stripped := StripExtension(address, delim); stripped {
		value, ok, err = g.Get(bare)
		if ok || err != nil {
			return value, ok, err
		}
	}

	value, ok, err = g.Get(address)
	if ok || err != nil {
		return value, ok, err
	}

	at := strings.LastIndexByte(address, '@')
	if at < 0 {
		return "", false, nil
	}
	return g.Get(address[at:])
}
