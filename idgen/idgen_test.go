// Copyright (c) 2025 BVK Chaitanya

package idgen

import "testing"

func TestDeterministic(t *testing.T) {
	a := New("seed", 0)
	b := New("seed", 0)
	for i := 0; i < 100; i++ {
		x, y := a.NextID(), b.NextID()
		if x != y {
			t.Fatalf("id %d: %v != %v", i, x, y)
		}
	}
}

func TestOffsetResume(t *testing.T) {
	a := New("seed", 0)
	var last string
	for i := 0; i < 10; i++ {
		last = a.NextID().String()
	}

	b := New("seed", 9)
	if v := b.NextID().String(); v != last {
		t.Fatalf("resumed generator mismatch: %s != %s", v, last)
	}
	if a.Offset() != b.Offset() {
		t.Fatalf("offsets diverged: %d != %d", a.Offset(), b.Offset())
	}
}

func TestSeedsDiffer(t *testing.T) {
	a := New("seed-one", 0)
	b := New("seed-two", 0)
	if a.NextID() == b.NextID() {
		t.Fatalf("different seeds produced the same id")
	}
}
