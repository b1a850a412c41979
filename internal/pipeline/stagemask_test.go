package pipeline

import "testing"

func TestStageMaskDisableEnable(t *testing.T) {
	rt := New(1)
	cpu := rt.CPU(0)

	cpu.Disable()
	if f := cpu.SaveFlags(); !IRQsDisabled(f) {
		t.Errorf("after Disable, SaveFlags = %#x, want stall bit set", f)
	}
	if !cpu.Stalled() {
		t.Error("after Disable, Stalled() = false")
	}

	cpu.Enable()
	if f := cpu.SaveFlags(); IRQsDisabled(f) {
		t.Errorf("after Enable, SaveFlags = %#x, want stall bit clear", f)
	}
	if cpu.Stalled() {
		t.Error("after Enable, Stalled() = true")
	}
}

func TestStageMaskSaveRestoreRoundTrip(t *testing.T) {
	rt := New(1)
	cpu := rt.CPU(0)

	for _, stalled := range []bool{false, true} {
		if stalled {
			cpu.Disable()
		} else {
			cpu.Enable()
		}
		cpu.Restore(cpu.SaveFlags())
		if cpu.Stalled() != stalled {
			t.Errorf("Restore(SaveFlags()) changed stall state from %v", stalled)
		}
	}
}

func TestStageMaskRestoreDecodes(t *testing.T) {
	rt := New(1)
	cpu := rt.CPU(0)

	cpu.Restore(ToVirtualFlags(true))
	if !cpu.Stalled() {
		t.Error("Restore of a stalled word left the stage unstalled")
	}
	cpu.Restore(ToVirtualFlags(false))
	if cpu.Stalled() {
		t.Error("Restore of an unstalled word left the stage stalled")
	}
}

func TestStageMaskPerCPUIndependence(t *testing.T) {
	rt := New(4)

	rt.CPU(2).Disable()
	for id := 0; id < 4; id++ {
		want := id == 2
		if got := rt.CPU(id).Stalled(); got != want {
			t.Errorf("CPU %d stalled = %v, want %v", id, got, want)
		}
	}
}

func TestOnlineSet(t *testing.T) {
	rt := New(4)

	// Only the boot CPU starts online.
	if got := rt.NumOnline(); got != 1 {
		t.Fatalf("NumOnline at construction = %d, want 1", got)
	}
	if !rt.Online(0) || rt.Online(1) {
		t.Fatal("boot CPU should be the only online CPU")
	}

	for id := 1; id < 4; id++ {
		rt.SetOnline(id, true)
	}
	if got := rt.OnlineMask(); got != 0b1111 {
		t.Errorf("OnlineMask = %#b, want 0b1111", got)
	}

	rt.SetOnline(2, false)
	if rt.Online(2) || rt.NumOnline() != 3 {
		t.Errorf("after offlining CPU 2: mask %#b", rt.OnlineMask())
	}
}
