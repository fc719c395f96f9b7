// Package probe implements address-verification probe submission (spec
// §4.5). Submission happens synchronously today — the original author's
// own acknowledged scalability ceiling — but the interface is written so
// an async implementation with a completion signal is a drop-in
// replacement (spec §9), since Submit already returns only after the
// outcome is known.
package probe

import (
	"context"
	"fmt"
	"net/smtp"
)

// Submitter sends one verify-only probe message addressed from sender to
// recipient and reports whether the submission succeeded. A probe that
// fails to submit must not be treated as authoritative information about
// the recipient — the caller (internal/verifyd) never updates the cache
// status from a failed Submit, only the probed timestamp on success.
type Submitter interface {
	Submit(ctx context.Context, sender, recipient string) error
}

// SMTPSubmitter submits probes over SMTP to a configured relay. This
// stands in for the original's post_mail_fopen/post_mail_fclose call into
// the Postfix queue (cleanup service); no third-party SMTP client appears
// anywhere in the retrieval pack, so stdlib net/smtp is used directly.
type SMTPSubmitter struct {
	// Addr is the relay's "host:port".
	Addr string
	// HELO is the name this submitter announces itself as.
	HELO string
}

// NewSMTPSubmitter returns a submitter that relays through addr.
func NewSMTPSubmitter(addr, helo string) *SMTPSubmitter {
	return &SMTPSubmitter{Addr: addr, HELO: helo}
}

// Submit sends a minimal verify-only envelope (empty body, no content worth
// shipping — Postfix probes are discarded before final delivery) with the
// given envelope sender and recipient. context cancellation has no effect
// on net/smtp's synchronous dial; callers should bound overall request
// latency upstream instead.
func (s *SMTPSubmitter) Submit(_ context.Context, sender, recipient string) error {
	msg := []byte("From: " + sender + "\r\nTo: " + recipient +
		"\r\nSubject: \r\n\r\n")
	if err := smtp.SendMail(s.Addr, nil, sender, []string{recipient}, msg); err != nil {
		return fmt.Errorf("probe: submit to %s via %s: %w", recipient, s.Addr, err)
	}
	return nil
}

// Recorder is a test double that records every Submit call instead of
// performing network I/O, used throughout internal/verifyd's tests.
type Recorder struct {
	Calls []Call
	// Fail, when non-nil, is returned by Submit without recording a
	// successful call — used to exercise the "probe not scheduled"
	// path (spec §4.5, §7).
	Fail error
}

// Call captures one recorded Submit invocation.
type Call struct {
	Sender    string
	Recipient string
}

// Submit implements Submitter.
func (r *Recorder) Submit(_ context.Context, sender, recipient string) error {
	if r.Fail != nil {
		return r.Fail
	}
	r.Calls = append(r.Calls, Call{Sender: sender, Recipient: recipient})
	return nil
}
