package dict

import (
	"path/filepath"
	"testing"
)

func TestSQLCachePutGetDel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := OpenSQLCache(path)
	if err != nil {
		t.Fatalf("OpenSQLCache: %v", err)
	}
	defer c.Close()

	if _, ok, err := c.Get("alice@example.com"); ok || err != nil {
		t.Fatalf("Get(missing) = _, %v, %v", ok, err)
	}

	if err := c.Put("alice@example.com", "0:0:100:deliverable"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := c.Get("alice@example.com")
	if err != nil || !ok || v != "0:0:100:deliverable" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}

	if err := c.Put("alice@example.com", "1:0:200:mailbox full"); err != nil {
		t.Fatalf("Put (overwrite): %v", err)
	}
	v, _, _ = c.Get("alice@example.com")
	if v != "1:0:200:mailbox full" {
		t.Errorf("Get after overwrite = %q", v)
	}

	if err := c.Del("alice@example.com"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := c.Get("alice@example.com"); ok {
		t.Errorf("Get after Del still found")
	}
}

func TestSQLCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c1, err := OpenSQLCache(path)
	if err != nil {
		t.Fatalf("OpenSQLCache: %v", err)
	}
	if err := c1.Put("bob@example.com", "0:0:50:ok"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := OpenSQLCache(path)
	if err != nil {
		t.Fatalf("reopen OpenSQLCache: %v", err)
	}
	defer c2.Close()
	v, ok, err := c2.Get("bob@example.com")
	if err != nil || !ok || v != "0:0:50:ok" {
		t.Errorf("Get after reopen = %q, %v, %v", v, ok, err)
	}
}
