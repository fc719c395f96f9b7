// Package verifyd implements the address verification cache's policy engine
// (spec §4.4): UPDATE records an authoritative delivery outcome subject to
// the anti-clobber rule; QUERY computes a recipient status from the cache,
// decides whether an entry is fresh/expired/missing, and schedules a probe
// when the cached answer needs refreshing.
//
// Grounded directly on original_source/postfix/src/verify/verify.c's
// verify_update_service and verify_query_service — the control flow below
// mirrors theirs field for field, translated from mutable C locals
// reused across the override decision into explicit Go local variables.
package verifyd

import (
	"context"
	"time"

	"github.com/ikedas/postfixproxy/internal/attrproto"
	"github.com/ikedas/postfixproxy/internal/dict"
	"github.com/ikedas/postfixproxy/internal/probe"
	"github.com/ikedas/postfixproxy/internal/verifyentry"
)

// Verify server-status codes, spec §6.
const (
	StatOK   = 0
	StatBad  = 1
	StatFail = 2
)

// probeTTL is the minimum interval between successive probes against the
// same address (spec §4.4, "PROBE_TTL"), a hard-coded design constant the
// spec deliberately preserves rather than making configurable (spec §9).
const probeTTL = 1000 // seconds

// Config holds the tunable verify-cache parameters (spec §6
// "Configuration inputs"), one-to-one with the original's
// address_verify_positive_expire_time and friends.
type Config struct {
	// Sender is the probe envelope sender, passed to the Submitter
	// verbatim; an empty string submits with the null sender. A
	// configured "<>" is mapped to "" by cmd/verify before it gets here.
	Sender string
	// PosExpire, PosRefresh, NegExpire, NegRefresh are intervals in
	// seconds. The design remains well-defined if PosRefresh > PosExpire
	// (or NegRefresh > NegExpire), but probing is then effectively
	// disabled for that polarity (spec §4.4 "Ordering of fields").
	PosExpire  int64
	PosRefresh int64
	NegExpire  int64
	NegRefresh int64
	// NegativeCache controls whether negative (non-OK) results are
	// retained in the cache at all (spec §6).
	NegativeCache bool
	// Now returns the current time as seconds since the epoch. Defaults
	// to time.Now().Unix when nil; tests inject a fixed clock to hit the
	// spec's seeded scenarios exactly.
	Now func() int64
}

// Engine is the verify policy engine, operating over any dict.Dict (spec
// §9 "pluggable capability") plus a probe.Submitter.
type Engine struct {
	cache     dict.Dict
	submitter probe.Submitter
	cfg       Config
}

// New returns an Engine backed by cache and submitter.
func New(cache dict.Dict, submitter probe.Submitter, cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().Unix() }
	}
	return &Engine{cache: cache, submitter: submitter, cfg: cfg}
}

// Handle implements internal/server.Handler, routing "update" and "query"
// requests to Update/Query and encoding their results as reply frames
// (spec §6 request schemas).
func (e *Engine) Handle(req attrproto.Request) *attrproto.Reply {
	switch req.Name {
	case "update":
		return e.handleUpdate(req)
	case "query":
		return e.handleQuery(req)
	default:
		return attrproto.NewReply().Set("status", StatBad)
	}
}

func (e *Engine) handleUpdate(req attrproto.Request) *attrproto.Reply {
	address, ok1 := req.Str("address")
	addrStatus, ok2 := req.Int("addr_status")
	why, ok3 := req.Str("why")
	if !ok1 || !ok2 || !ok3 {
		return attrproto.NewReply().Set("status", StatBad)
	}
	status := e.Update(address, addrStatus, why)
	return attrproto.NewReply().Set("status", status)
}

func (e *Engine) handleQuery(req attrproto.Request) *attrproto.Reply {
	address, ok := req.Str("address")
	if !ok {
		return attrproto.NewReply().Set("status", StatBad).Set("addr_status", 0).Set("why", "")
	}
	serverStatus, addrStatus, why := e.Query(address)
	return attrproto.NewReply().Set("status", serverStatus).Set("addr_status", addrStatus).Set("why", why)
}

// Update records an authoritative delivery outcome for address (spec
// §4.4 "UPDATE"). newStatus must be one of OK/DEFER/BOUNCE; TODO is not a
// valid update and yields StatBad.
//
// Anti-clobber: a non-OK update is silently ignored (replying StatOK
// without writing anything) when the existing entry's fast-path status is
// OK, so a single failed probe never demotes a currently-good address.
func (e *Engine) Update(address string, newStatus int, text string) int {
	switch newStatus {
	case verifyentry.StatusOK, verifyentry.StatusDefer, verifyentry.StatusBounce:
	default:
		return StatBad
	}

	if newStatus != verifyentry.StatusOK {
		if raw, found, _ := e.cache.Get(address); found {
			if verifyentry.StatusFromRaw(raw) == verifyentry.StatusOK {
				return StatOK
			}
		}
	}

	now := e.cfg.Now()
	e.cache.Put(address, verifyentry.Make(newStatus, 0, now, text))
	return StatOK
}

// Query computes the recipient status for address (spec §4.4 "QUERY"),
// overriding to TODO when the cache has no usable record, scheduling a
// probe when the answer needs refreshing, and purging malformed or
// expired entries (positive or negative) when negative caching is
// disabled.
func (e *Engine) Query(address string) (serverStatus, addrStatus int, text string) {
	raw, found, err := e.cache.Get(address)
	if err != nil {
		return StatFail, 0, ""
	}
	now := e.cfg.Now()

	var status int
	var probed, updated int64
	overridden := !found

	if found {
		entry, perr := verifyentry.Parse(raw)
		if perr != nil {
			overridden = true
		} else {
			status, probed, updated, text = entry.Status, entry.Probed, entry.Updated, entry.Text
			expired := (status == verifyentry.StatusOK && updated+e.cfg.PosExpire < now) ||
				(status != verifyentry.StatusOK && updated+e.cfg.NegExpire < now)
			if expired && probeAllowed(now, probed) {
				overridden = true
			}
		}
	}

	if overridden {
		status = verifyentry.StatusTODO
		probed = 0
		updated = 0
		text = "Address verification in progress"
		if found && !e.cfg.NegativeCache {
			e.cache.Del(address)
		}
	}

	// Refresh scheduling operates on the (possibly overridden) status,
	// probed, and updated — mirroring the original's reuse of the same
	// mutable locals across both the override decision and the
	// probe-scheduling step.
	if probeAllowed(now, probed) {
		refreshPositive := status == verifyentry.StatusOK && updated+e.cfg.PosRefresh < now
		refreshNegative := status != verifyentry.StatusOK && updated+e.cfg.NegRefresh < now
		if refreshPositive || refreshNegative {
			if subErr := e.submitter.Submit(context.Background(), e.cfg.Sender, address); subErr == nil {
				if updated != 0 || e.cfg.NegativeCache {
					e.cache.Put(address, verifyentry.Make(status, now, updated, text))
				}
			}
		}
	}

	return StatOK, status, text
}

// probeAllowed reports whether a probe may be sent for an address whose
// last probe time is probed. A never-probed address (probed == 0) is
// always safe to probe — the PROBE_TTL guard exists only to stop rapid
// re-probing of an address with a recent outstanding probe, never to
// block the first probe (spec §4.4, §9 "PROBE_TTL").
func probeAllowed(now, probed int64) bool {
	return probed == 0 || now-probed > probeTTL
}
