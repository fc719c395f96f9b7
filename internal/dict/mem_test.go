package dict

import "testing"

func TestMemGetPutDel(t *testing.T) {
	m := NewMem(0)

	if _, ok, err := m.Get("a"); ok || err != nil {
		t.Fatalf("Get(missing) = _, %v, %v", ok, err)
	}

	if err := m.Put("a", "1"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if v, ok, err := m.Get("a"); !ok || err != nil || v != "1" {
		t.Fatalf("Get(a) = %q, %v, %v", v, ok, err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}

	if err := m.Del("a"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := m.Get("a"); ok {
		t.Fatalf("Get(a) after Del still found")
	}
}

func TestMemChangedAlwaysFalse(t *testing.T) {
	m := NewMem(0)
	m.Put("a", "1")
	if m.Changed() {
		t.Errorf("Changed() = true, want false for an in-memory table")
	}
}

func TestMemFlags(t *testing.T) {
	m := NewMem(FlagParanoid)
	if m.Flags() != FlagParanoid {
		t.Errorf("Flags() = %v, want FlagParanoid", m.Flags())
	}
}
