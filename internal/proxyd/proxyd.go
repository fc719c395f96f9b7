// Package proxyd implements the proxymap request dispatcher (spec §4.1):
// decode one OPEN or LOOKUP request, canonicalize and gate the table
// reference, call into the dictionary registry, and produce a reply.
package proxyd

import (
	"errors"
	"sync/atomic"

	"github.com/ikedas/postfixproxy/internal/attrproto"
	"github.com/ikedas/postfixproxy/internal/dict"
	"github.com/ikedas/postfixproxy/internal/gate"
)

// Status codes, spec §6.
const (
	StatOK    = 0
	StatNoKey = 1
	StatBad   = 2
	StatRetry = 3
	StatDeny  = 4
)

// Dispatcher holds the state one proxymap worker needs to answer requests:
// the approved-name gate and the handle registry. Both are safe for
// concurrent connection I/O but are only ever touched from the server
// skeleton's single dispatch goroutine (spec §5) — Dispatcher itself adds
// no locking on top of what dict.Registry and gate.Set already provide.
type Dispatcher struct {
	gate     atomic.Pointer[gate.Set]
	registry *dict.Registry
}

// New returns a Dispatcher over the given handle registry. The approved-
// name gate is not required yet — call SetGate once it is built (spec
// §4.6 "post-jail builds the approved set"), before the server starts
// accepting connections. The registry must already have its backend
// Openers bound.
func New(reg *dict.Registry) *Dispatcher {
	return &Dispatcher{registry: reg}
}

// SetGate installs the approved-name gate. Safe to call once, before the
// dispatch loop starts handling requests; Dispatcher otherwise treats the
// gate as read-only (spec §4.2).
func (d *Dispatcher) SetGate(g *gate.Set) {
	d.gate.Store(g)
}

// Handle decodes and answers one request frame. Every outcome, including
// an unrecognized outer "request" name, is encoded in the reply's status
// field: an unknown request name gets a BAD reply and the connection stays
// open (spec §4.1).
func (d *Dispatcher) Handle(req attrproto.Request) *attrproto.Reply {
	switch req.Name {
	case "open":
		return d.open(req)
	case "lookup":
		return d.lookup(req)
	default:
		return attrproto.NewReply().Set("status", StatBad)
	}
}

func (d *Dispatcher) open(req attrproto.Request) *attrproto.Reply {
	table, ok1 := req.Str("table")
	flags, ok2 := req.Int("flags")
	if !ok1 || !ok2 {
		return attrproto.NewReply().Set("status", StatBad).Set("flags", 0)
	}

	h, status := d.find(table, flags)
	if h == nil {
		return attrproto.NewReply().Set("status", status).Set("flags", 0)
	}
	return attrproto.NewReply().Set("status", StatOK).Set("flags", int(h.Flags()))
}

func (d *Dispatcher) lookup(req attrproto.Request) *attrproto.Reply {
	table, ok1 := req.Str("table")
	flags, ok2 := req.Int("flags")
	key, ok3 := req.Str("key")
	if !ok1 || !ok2 || !ok3 {
		return attrproto.NewReply().Set("status", StatBad).Set("value", "")
	}

	h, status := d.find(table, flags)
	if h == nil {
		return attrproto.NewReply().Set("status", status).Set("value", "")
	}

	value, found, err := h.Get(key)
	switch {
	case err != nil:
		return attrproto.NewReply().Set("status", StatRetry).Set("value", "")
	case found:
		return attrproto.NewReply().Set("status", StatOK).Set("value", value)
	default:
		return attrproto.NewReply().Set("status", StatNoKey).Set("value", "")
	}
}

// find canonicalizes table, checks gate membership, and opens/reuses the
// backend handle, returning a non-OK status whenever h is nil.
func (d *Dispatcher) find(table string, flags int) (dict.Dict, int) {
	canonical, ok := gate.Canonicalize(table)
	if !ok {
		return nil, StatBad
	}
	g := d.gate.Load()
	if g == nil || !g.Allowed(canonical) {
		return nil, StatDeny
	}
	h, err := d.registry.Open(canonical, flags)
	if err != nil {
		if errors.Is(err, dict.ErrNotFound) {
			return nil, StatNoKey
		}
		return nil, StatRetry
	}
	return h, StatOK
}
