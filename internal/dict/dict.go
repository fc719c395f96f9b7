// Package dict implements the pluggable key/value table abstraction shared
// by the proxymap and verify daemons (spec §2 item 2, §3 "Dictionary").
//
// Dict is the capability set a backend must provide: Get/Put/Del for data
// access, Flags for the handle-capability bits returned to proxymap OPEN
// clients, and Changed for the proxymap pre-accept restart check (spec §4.6).
// Del is present for completeness and for the verify negative-cache purge;
// proxymap never calls it (spec §1 Non-goals: "no writable table semantics
// in the proxy").
package dict

import "errors"

// ErrNotFound is wrapped into the error Registry.Open returns when a table
// reference names a scheme with no bound Opener. Get never returns it: a
// missing key is reported as ok=false, err=nil (see the Dict interface
// below), not as an error.
var ErrNotFound = errors.New("dict: key not found")

// Flag bits reported by a handle, loosely modeled on Postfix's DICT_FLAG_*
// bits that proxymap relays back to OPEN callers so they know, e.g.,
// whether the backend folds lookup keys to lowercase.
type Flag int

const (
	// FlagFoldFix indicates the backend does not fold key case.
	FlagFoldFix Flag = 1 << iota
	// FlagParanoid indicates every lookup is revalidated against the
	// backing store rather than served from a process-lifetime cache.
	FlagParanoid
)

// Dict is one opened table handle.
type Dict interface {
	// Get looks up key. ok is false and err is nil when the key is
	// absent; err is non-nil only for a transient backend failure.
	Get(key string) (value string, ok bool, err error)
	// Put stores key/value. Proxy map handles never call this (the
	// proxy is read-only); the verify cache does.
	Put(key, value string) error
	// Del removes key. A no-op if the key is absent.
	Del(key string) error
	// Changed reports whether the backing store has mutated since the
	// handle was opened — used by the proxymap worker's pre-accept
	// restart check.
	Changed() bool
	// Flags returns the handle's capability bits.
	Flags() Flag
	// Close releases backend resources. Proxy map handles are never
	// closed for the worker's lifetime (spec §3 "Lifecycle"); Close
	// exists for the verify daemon's clean shutdown and for tests.
	Close() error
}
