package dict

import (
	"errors"
	"testing"
)

func TestRegistryOpenDeduplicates(t *testing.T) {
	r := NewRegistry()
	opens := 0
	r.Bind("mem", func(name string, userFlags int) (Dict, error) {
		opens++
		return NewMem(0), nil
	})

	h1, err := r.Open("mem:one", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h2, err := r.Open("mem:one", 0)
	if err != nil {
		t.Fatalf("Open (second): %v", err)
	}
	if h1 != h2 {
		t.Errorf("Open returned distinct handles for the same reference")
	}
	if opens != 1 {
		t.Errorf("opener called %d times, want 1", opens)
	}
	if r.OpenCount() != 1 {
		t.Errorf("OpenCount() = %d, want 1", r.OpenCount())
	}
}

func TestRegistryOpenDistinguishesFlags(t *testing.T) {
	r := NewRegistry()
	r.Bind("mem", func(name string, userFlags int) (Dict, error) {
		return NewMem(0), nil
	})

	h1, _ := r.Open("mem:one", 0)
	h2, _ := r.Open("mem:one", 1)
	if h1 == h2 {
		t.Errorf("Open reused a handle across different userFlags")
	}
	if r.OpenCount() != 2 {
		t.Errorf("OpenCount() = %d, want 2", r.OpenCount())
	}
}

func TestRegistryOpenUnknownScheme(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Open("nosuch:table", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open with no bound opener = %v, want wrapping ErrNotFound", err)
	}
}

func TestRegistryOpenMalformedReference(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Open("no-colon-here", 0); err == nil {
		t.Errorf("Open with a malformed reference succeeded, want error")
	}
}

func TestRegistryOpenRejectsNilHandle(t *testing.T) {
	r := NewRegistry()
	r.Bind("nil", func(name string, userFlags int) (Dict, error) {
		return nil, nil
	})
	if _, err := r.Open("nil:x", 0); err == nil {
		t.Errorf("Open with a nil handle succeeded, want error")
	}
}

func TestRegistryOpenPropagatesOpenerError(t *testing.T) {
	sentinel := errors.New("boom")
	r := NewRegistry()
	r.Bind("fail", func(name string, userFlags int) (Dict, error) {
		return nil, sentinel
	})
	if _, err := r.Open("fail:x", 0); !errors.Is(err, sentinel) {
		t.Errorf("Open error = %v, want wrapping %v", err, sentinel)
	}
}

func TestRegistryChanged(t *testing.T) {
	r := NewRegistry()
	r.Bind("mem", func(name string, userFlags int) (Dict, error) {
		return NewMem(0), nil
	})
	h, _ := r.Open("mem:one", 0)
	if r.Changed() {
		t.Fatalf("Changed() = true before any backend reports a change")
	}
	// Mem never reports changed; swap in a Dict that does via the file
	// backend's own test instead would require real fs events, so this
	// asserts only the aggregate-false case that Mem gives us here.
	_ = h
}
