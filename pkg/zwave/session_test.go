package zwave

import (
	"context"
	"testing"
	"time"
)

func TestSessionAllocatorBasic(t *testing.T) {
	s := NewSessionAllocator()
	ctx := context.Background()

	id1, err := s.Allocate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != 1 {
		t.Fatalf("first id: got %d, want 1", id1)
	}

	id2, err := s.Allocate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id2 != 2 {
		t.Fatalf("second id: got %d, want 2", id2)
	}

	s.Release(id1)
	if s.InUse(id1) {
		t.Fatal("id1 should be free after release")
	}
}

func TestSessionAllocatorNeverZero(t *testing.T) {
	s := NewSessionAllocator()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		id, err := s.Allocate(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if id == 0 {
			t.Fatal("allocated reserved id 0")
		}
	}
}

func TestSessionAllocatorFullRotationThenFreeID(t *testing.T) {
	s := NewSessionAllocator()
	ctx := context.Background()

	// Fill 254 of the 255 slots, leaving exactly one free.
	ids := make([]uint8, 0, 254)
	for i := 0; i < 254; i++ {
		id, err := s.Allocate(ctx)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	free, err := s.Allocate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		if id == free {
			t.Fatalf("allocated already in-use id %d", id)
		}
	}

	s.Release(free)
	for _, id := range ids {
		s.Release(id)
	}
}

func TestSessionAllocatorSaturationBlocks(t *testing.T) {
	s := NewSessionAllocator()
	ctx := context.Background()

	var held []uint8
	for i := 0; i < 255; i++ {
		id, err := s.Allocate(ctx)
		if err != nil {
			t.Fatal(err)
		}
		held = append(held, id)
	}

	done := make(chan uint8, 1)
	go func() {
		id, err := s.Allocate(context.Background())
		if err != nil {
			return
		}
		done <- id
	}()

	select {
	case <-done:
		t.Fatal("Allocate returned while saturated")
	case <-time.After(50 * time.Millisecond):
		// expected: blocked
	}

	s.Release(held[0])

	select {
	case id := <-done:
		if id != held[0] {
			t.Fatalf("got %d, want freed id %d", id, held[0])
		}
	case <-time.After(time.Second):
		t.Fatal("Allocate did not unblock after Release")
	}
}

func TestSessionAllocatorContextCancel(t *testing.T) {
	s := NewSessionAllocator()
	for i := 0; i < 255; i++ {
		if _, err := s.Allocate(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := s.Allocate(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}
