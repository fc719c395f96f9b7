// Package worker implements the process-lifetime lifecycle bits that sit
// outside the request/reply path (spec §4.6 "Worker Lifecycle Controller",
// §5 "Process-group isolation"): the verify daemon's solitary-instance
// guard and session isolation.
//
// Privilege drop and chroot are explicitly out of scope (spec §1); this
// package only implements the in-scope lifecycle behaviors that the
// original's MAIL_SERVER_SOLITARY flag and pre_jail_init's setsid() call
// provide, grounded on original_source/postfix/src/verify/verify.c's
// pre_jail_init and original_source/postfix/src/global/deliver_flock.c's
// retry-with-delay locking idiom.
package worker

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// flockAttempts and flockDelay mirror deliver_flock.c's retry loop
// (var_flock_tries / var_flock_delay), applied here to the verify
// solitary-instance lock rather than a mail-queue file lock.
const (
	flockAttempts = 3
	flockDelay    = 1 * time.Second
)

// Solitary acquires an exclusive, non-blocking advisory lock on the file
// at lockPath (creating it if needed), retrying a few times before giving
// up. It is the
// in-process substitute for Postfix's MAIL_SERVER_SOLITARY constraint
// (spec §5 "restricts it to one worker at a time per listener"), since
// this module has no master process to enforce that centrally.
//
// The returned unlock func releases the lock and closes the file; callers
// must keep it alive for the worker's lifetime and must not call it until
// shutdown.
func Solitary(lockPath string) (unlock func() error, err error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("worker: open lock file %s: %w", lockPath, err)
	}

	var lockErr error
	for i := 0; i < flockAttempts; i++ {
		if i > 0 {
			time.Sleep(flockDelay)
		}
		lockErr = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if lockErr == nil {
			return func() error {
				unix.Flock(int(f.Fd()), unix.LOCK_UN)
				return f.Close()
			}, nil
		}
	}
	f.Close()
	return nil, fmt.Errorf("worker: %s is locked by another instance: %w", lockPath, lockErr)
}

// Isolate puts the calling process into its own session and process
// group, so a supervisor-directed signal broadcast during shutdown cannot
// interrupt a mid-update write to the persistent store (spec §4.6, §5
// "Process-group isolation"). Mirrors the original's bare setsid() call
// in pre_jail_init.
func Isolate() error {
	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("worker: setsid: %w", err)
	}
	return nil
}

// DisableShutdownLimits reports the (maxRequests, idleTimeout) pair a
// verify worker should actually use: both disabled (zero) when the cache
// is in-memory-only, since exiting would destroy the entire cache (spec
// §4.6 "post-jail disables the max-requests and max-idle shutdown").
// Proxy workers and persistent-map verify workers pass their configured
// limits straight through.
func DisableShutdownLimits(inMemoryOnly bool, maxRequests int, idleTimeout time.Duration) (int, time.Duration) {
	if inMemoryOnly {
		return 0, 0
	}
	return maxRequests, idleTimeout
}
