package worker

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSolitaryAcquiresAndReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verify.lock")

	unlock, err := Solitary(path)
	if err != nil {
		t.Fatalf("Solitary: %v", err)
	}
	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	// The lock must be re-acquirable once released.
	unlock2, err := Solitary(path)
	if err != nil {
		t.Fatalf("Solitary (second acquisition): %v", err)
	}
	unlock2()
}

func TestSolitaryRefusesSecondInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verify.lock")

	unlock, err := Solitary(path)
	if err != nil {
		t.Fatalf("Solitary: %v", err)
	}
	defer unlock()

	start := time.Now()
	if _, err := Solitary(path); err == nil {
		t.Fatalf("second Solitary on a held lock succeeded, want error")
	}
	if elapsed := time.Since(start); elapsed < (flockAttempts-1)*flockDelay {
		t.Errorf("Solitary gave up before exhausting its retry budget: elapsed=%s", elapsed)
	}
}

func TestDisableShutdownLimits(t *testing.T) {
	if maxReq, idle := DisableShutdownLimits(true, 100, 5*time.Second); maxReq != 0 || idle != 0 {
		t.Errorf("in-memory cache: got (%d, %s), want (0, 0)", maxReq, idle)
	}
	if maxReq, idle := DisableShutdownLimits(false, 100, 5*time.Second); maxReq != 100 || idle != 5*time.Second {
		t.Errorf("persistent cache: got (%d, %s), want (100, 5s)", maxReq, idle)
	}
}
