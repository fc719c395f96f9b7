// Package verifyentry implements the verify cache's persisted value format
// (spec §4.3): "status:probed:updated:text".
package verifyentry

import (
	"fmt"
	"strconv"
	"strings"
)

// Recipient status codes, spec §6.
const (
	StatusOK     = 0
	StatusDefer  = 1
	StatusBounce = 2
	StatusTODO   = 3
)

// Entry is one parsed verify-cache record (spec §3 "Verify entry").
type Entry struct {
	Status  int
	Probed  int64
	Updated int64
	Text    string
}

func validStatus(s int) bool {
	switch s {
	case StatusOK, StatusDefer, StatusBounce, StatusTODO:
		return true
	default:
		return false
	}
}

// Make serializes an entry to its on-disk/on-wire form.
func Make(status int, probed, updated int64, text string) string {
	return fmt.Sprintf("%d:%d:%d:%s", status, probed, updated, text)
}

// Parse decodes raw into an Entry. Any parse failure — wrong field count,
// non-integer first three fields, an out-of-range status, or both probed
// and updated zero — is reported as an error; callers must treat that as
// "no entry" (spec §3, §4.3), never surface it to a client.
func Parse(raw string) (Entry, error) {
	// text consumes everything after the third ':', including further
	// colons, so split only the first three fields.
	parts := strings.SplitN(raw, ":", 4)
	if len(parts) != 4 {
		return Entry{}, fmt.Errorf("verifyentry: expected 4 fields, got %d", len(parts))
	}

	status, err := strconv.Atoi(parts[0])
	if err != nil {
		return Entry{}, fmt.Errorf("verifyentry: bad status field: %w", err)
	}
	probed, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("verifyentry: bad probed field: %w", err)
	}
	updated, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("verifyentry: bad updated field: %w", err)
	}
	if !validStatus(status) {
		return Entry{}, fmt.Errorf("verifyentry: status %d out of range", status)
	}
	if probed == 0 && updated == 0 {
		return Entry{}, fmt.Errorf("verifyentry: both probed and updated are zero")
	}

	return Entry{Status: status, Probed: probed, Updated: updated, Text: parts[3]}, nil
}

// StatusFromRaw returns the leading status integer without a full parse,
// used by the anti-clobber rule's fast path (spec §4.3, §4.4). It returns
// -1 if the leading field is not a valid integer.
func StatusFromRaw(raw string) int {
	i := strings.IndexByte(raw, ':')
	if i < 0 {
		i = len(raw)
	}
	n, err := strconv.Atoi(raw[:i])
	if err != nil {
		return -1
	}
	return n
}
