package lineset

import (
	"log/slog"
	"testing"
)

func TestRequestTwiceFails(t *testing.T) {
	s := New(2, slog.Default())

	if _, err := s.Request(10, "first", func(int) {}); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := s.Request(10, "second", func(int) {}); err == nil {
		t.Fatal("second request of the same line succeeded")
	}
}

func TestAllocateThenRequest(t *testing.T) {
	s := New(1, slog.Default())

	d := s.Allocate(3, "early")
	d2, err := s.Request(3, "handler", func(int) {})
	if err != nil {
		t.Fatalf("request after allocate: %v", err)
	}
	if d != d2 {
		t.Error("request returned a different descriptor than allocate")
	}
	if d.Name() != "handler" {
		t.Errorf("name = %q, want %q", d.Name(), "handler")
	}
}

func TestRaiseDispatch(t *testing.T) {
	s := New(2, slog.Default())

	got := -1
	d, _ := s.Request(1, "line", func(cpu int) { got = cpu })
	d.Enable(1)

	d.Raise(1)
	if n := s.DispatchPending(1); n != 1 {
		t.Fatalf("dispatched %d lines, want 1", n)
	}
	if got != 1 {
		t.Errorf("handler ran on CPU %d, want 1", got)
	}

	// The latch is consumed.
	if n := s.DispatchPending(1); n != 0 {
		t.Errorf("second dispatch ran %d handlers, want 0", n)
	}
}

func TestRaiseWhileDisabledStaysLatched(t *testing.T) {
	s := New(1, slog.Default())

	ran := 0
	d, _ := s.Request(1, "line", func(int) { ran++ })

	d.Raise(0)
	if s.DispatchPending(0) != 0 {
		t.Fatal("masked line dispatched")
	}

	d.Enable(0)
	if s.DispatchPending(0) != 1 || ran != 1 {
		t.Fatal("latched raise lost across enable")
	}
}

func TestRaiseMaskTargets(t *testing.T) {
	s := New(4, slog.Default())

	var ran [4]int
	d, _ := s.Request(0, "line", func(cpu int) { ran[cpu]++ })
	for cpu := 0; cpu < 4; cpu++ {
		d.Enable(cpu)
	}

	d.RaiseMask(0b1010)
	for cpu := 0; cpu < 4; cpu++ {
		s.DispatchPending(cpu)
	}

	want := [4]int{0, 1, 0, 1}
	if ran != want {
		t.Errorf("dispatch counts = %v, want %v", ran, want)
	}
}

func TestDispatchPendingAscendingOrder(t *testing.T) {
	s := New(1, slog.Default())

	var order []int
	for _, line := range []int{9, 4, 7} {
		line := line
		d, _ := s.Request(line, "line", func(int) { order = append(order, line) })
		d.Enable(0)
		d.Raise(0)
	}

	s.DispatchPending(0)

	want := []int{4, 7, 9}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", order, want)
		}
	}
}

func TestHiddenFlag(t *testing.T) {
	s := New(1, slog.Default())
	d := s.Allocate(2, "internal")

	if d.Hidden() {
		t.Fatal("fresh line marked hidden")
	}
	d.MarkHidden()
	if !d.Hidden() {
		t.Fatal("MarkHidden did not stick")
	}
}
