// Package attrproto implements the request/reply frame codec shared by the
// proxymap and verify daemons.
//
// Real Postfix daemons speak a typed attribute protocol (attr_scan/
// attr_print) over a stream socket. That codec is out of scope for this
// module (spec §1) — what matters is the contract it exposes: read a named,
// typed request frame and write a named, typed reply frame. This package
// realizes that with length-prefixed JSON frames over a net.UnixConn; it
// reports no count of consumed fields, and callers check each field's
// presence and type through Str and Int instead. The design follows
// lyft-skopeo's request/reply JSON-over-Unix-socket proxy.
package attrproto

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
)

// maxFrameSize bounds a single frame to guard against a misbehaving client
// wedging the worker with an unbounded read.
const maxFrameSize = 64 * 1024

// Request is one decoded request frame. Fields holds the frame's named
// attributes keyed by name (unordered); Str and Int below extract them by
// name and type.
type Request struct {
	// Name is the outer "request" string field (e.g. "lookup", "open",
	// "update", "query").
	Name string `json:"request"`
	// Fields carries the request-specific body attributes.
	Fields map[string]any `json:"fields"`
}

// Reply is one reply frame. Fields carries the reply's named attributes.
type Reply struct {
	Fields map[string]any `json:"fields"`
}

// NewReply returns an empty reply ready to receive fields via Set.
func NewReply() *Reply {
	return &Reply{Fields: map[string]any{}}
}

// Set stores a named attribute in the reply, returning the receiver for
// chaining.
func (r *Reply) Set(name string, value any) *Reply {
	r.Fields[name] = value
	return r
}

// Conn wraps a Unix-domain connection with frame-at-a-time read/write.
// One Conn is used by exactly one reader goroutine for Recv and one
// dispatch goroutine for Send, per the server skeleton's serialization
// invariant (SPEC_FULL §5) — Conn itself holds no lock.
type Conn struct {
	c  *net.UnixConn
	br *bufio.Reader
}

// NewConn wraps an accepted Unix connection.
func NewConn(c *net.UnixConn) *Conn {
	return &Conn{c: c, br: bufio.NewReader(c)}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.c.Close() }

// Recv reads the next request frame. It returns io.EOF when the peer has
// closed the connection cleanly between frames — the caller must treat
// that as "drop the connection", not a framing error.
func (c *Conn) Recv() (Request, error) {
	var length uint32
	if err := binary.Read(c.br, binary.BigEndian, &length); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Request{}, io.EOF
		}
		return Request{}, err
	}
	if length == 0 || length > maxFrameSize {
		return Request{}, fmt.Errorf("attrproto: invalid frame length %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return Request{}, fmt.Errorf("attrproto: short read: %w", err)
	}
	var req Request
	if err := json.Unmarshal(buf, &req); err != nil {
		return Request{}, fmt.Errorf("attrproto: malformed frame: %w", err)
	}
	return req, nil
}

// Send writes one reply frame.
func (c *Conn) Send(r *Reply) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("attrproto: encode reply: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("attrproto: reply too large (%d bytes)", len(body))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := c.c.Write(hdr[:]); err != nil {
		return err
	}
	_, err = c.c.Write(body)
	return err
}

// Str returns the named string field, or "" with ok=false if absent or the
// wrong type. Mirrors attr_scan's per-field typed extraction.
func (r Request) Str(name string) (string, bool) {
	v, ok := r.Fields[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns the named numeric field as an int.
func (r Request) Int(name string) (int, bool) {
	v, ok := r.Fields[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
