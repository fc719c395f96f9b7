package dict

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTable(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "table.txt")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestFileLoadsKeyValuePairs(t *testing.T) {
	path := writeTable(t, "alice example.com\n# a comment\n\nbob  example.org extra words\n")
	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	if v, ok, err := f.Get("alice"); !ok || err != nil || v != "example.com" {
		t.Errorf("Get(alice) = %q, %v, %v", v, ok, err)
	}
	if v, ok, _ := f.Get("bob"); !ok || v != "example.org extra words" {
		t.Errorf("Get(bob) = %q, %v", v, ok)
	}
	if _, ok, _ := f.Get("missing"); ok {
		t.Errorf("Get(missing) found, want not found")
	}
}

func TestFileIsReadOnly(t *testing.T) {
	path := writeTable(t, "alice example.com\n")
	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	if err := f.Put("bob", "example.org"); err == nil {
		t.Errorf("Put succeeded on a read-only table")
	}
	if err := f.Del("alice"); err == nil {
		t.Errorf("Del succeeded on a read-only table")
	}
}

func TestFileChangedOnWrite(t *testing.T) {
	path := writeTable(t, "alice example.com\n")
	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	if f.Changed() {
		t.Fatalf("Changed() = true before any mutation")
	}

	if err := os.WriteFile(path, []byte("alice example.net\n"), 0o644); err != nil {
		t.Fatalf("rewrite table: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !f.Changed() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !f.Changed() {
		t.Errorf("Changed() = false after rewriting the backing file")
	}
}

func TestFileLookupWithExtension(t *testing.T) {
	path := writeTable(t, "alice@example.com mailbox1\n@example.com catchall\n")
	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	v, ok, err := f.LookupWithExtension("alice+foo@example.com", '+')
	if err != nil || !ok || v != "mailbox1" {
		t.Errorf("LookupWithExtension(alice+foo@example.com) = %q, %v, %v", v, ok, err)
	}

	v, ok, err = f.LookupWithExtension("bob@example.com", '+')
	if err != nil || !ok || v != "catchall" {
		t.Errorf("LookupWithExtension(bob@example.com) = %q, %v, %v", v, ok, err)
	}

	if _, ok, _ := f.LookupWithExtension("nobody@elsewhere.org", '+'); ok {
		t.Errorf("LookupWithExtension(nobody@elsewhere.org) found, want not found")
	}
}
