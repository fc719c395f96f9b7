package dict

import (
	"fmt"
	"sync"
)

// ErrNotFound is wrapped into the error returned by Open when no opener is
// bound for a reference's scheme — the proxy dispatcher's find() treats
// this the same as a lookup miss on the table name itself (spec §4.1).

// Opener constructs a Dict for a canonical table reference the first time
// the registry sees that reference. Registered per scheme (e.g. "hash",
// "sqlite") so the registry stays backend-agnostic.
type Opener func(name string, userFlags int) (Dict, error)

// Registry deduplicates opens within one worker process, keyed by
// "canonical:octal(userFlags)" (spec §3 "Open-handle key"). It is the
// generalization of lyft-skopeo's proxyHandler.images map — there, opened
// images were keyed by a serial integer handed back to the caller; here,
// handles are keyed by the canonicalized reference itself because callers
// identify a table by name, not by a handle returned from a prior Open.
//
// Registry is insert-only for its lifetime (spec §5 "Shared resources");
// no entry is ever evicted or replaced.
type Registry struct {
	mu       sync.Mutex
	handles  map[string]Dict
	openers  map[string]Opener
	opens    int // count of backend opens actually performed; tests assert on this
}

// NewRegistry returns an empty registry. Register openers with Bind before
// the first Open/Lookup request arrives.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]Dict),
		openers: make(map[string]Opener),
	}
}

// Bind associates a table-type scheme (the part of "type:name" before the
// colon) with the Opener that knows how to construct that backend.
func (r *Registry) Bind(scheme string, open Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[scheme] = open
}

// Key renders the registry key for a canonical reference and flag value.
func Key(canonical string, userFlags int) string {
	return fmt.Sprintf("%s:%o", canonical, userFlags)
}

// Open returns the existing handle for (canonical, userFlags) if one is
// already registered, or opens a new one via the bound Opener for the
// reference's scheme. A null handle from an Opener is a programmer-error
// condition per the original's "dict_open null result" panic (spec §4.1
// "Open algorithm") — it is reported as an error here rather than a panic,
// since a Go worker should exit cleanly (spec §7, "Programmer invariant
// violation ... abort the worker with a diagnostic").
func (r *Registry) Open(canonical string, userFlags int) (Dict, error) {
	key := Key(canonical, userFlags)

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.handles[key]; ok {
		return d, nil
	}

	scheme, name, ok := splitScheme(canonical)
	if !ok {
		return nil, fmt.Errorf("dict: malformed reference %q", canonical)
	}
	open, ok := r.openers[scheme]
	if !ok {
		return nil, fmt.Errorf("dict: no backend registered for scheme %q: %w", scheme, ErrNotFound)
	}

	d, err := open(name, userFlags)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("dict: backend open for %q returned a nil handle", canonical)
	}

	r.handles[key] = d
	r.opens++
	return d, nil
}

// OpenCount reports how many times a backend was actually opened (as
// opposed to served from the registry cache) — used by tests validating
// handle-reuse (spec §8 "Idempotent OPEN").
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

// Changed reports whether any registered handle's backing store has
// mutated since it was opened — the proxymap worker's pre-accept restart
// check (spec §4.6).
func (r *Registry) Changed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.handles {
		if d.Changed() {
			return true
		}
	}
	return false
}

func splitScheme(canonical string) (scheme, name string, ok bool) {
	for i := 0; i < len(canonical); i++ {
		if canonical[i] == ':' {
			return canonical[:i], canonical[i+1:], true
		}
	}
	return "", "", false
}
