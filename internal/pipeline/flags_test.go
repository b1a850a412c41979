package pipeline

import (
	"math/bits"
	"testing"
)

func TestVirtualFlagRoundTrip(t *testing.T) {
	for _, stalled := range []bool{false, true} {
		f := ToVirtualFlags(stalled)
		if got := IRQsDisabled(f); got != stalled {
			t.Errorf("IRQsDisabled(ToVirtualFlags(%v)) = %v", stalled, got)
		}
	}
}

func TestNativeFlagRoundTrip(t *testing.T) {
	for _, stalled := range []bool{false, true} {
		f := ToNativeFlags(stalled)
		if got := NativeIRQsDisabled(f); got != stalled {
			t.Errorf("NativeIRQsDisabled(ToNativeFlags(%v)) = %v", stalled, got)
		}
	}
}

func TestNativeToVirtualFlags(t *testing.T) {
	// A native word with interrupts disabled maps to exactly the
	// stall bit; an enabled word maps to zero.
	f := NativeToVirtualFlags(0)
	if f != StatusSS {
		t.Errorf("disabled native word: got %#x, want %#x", f, StatusSS)
	}
	if n := bits.OnesCount64(uint64(f)); n != 1 {
		t.Errorf("virtual word has %d bits set, want 1", n)
	}

	if f := NativeToVirtualFlags(StatusIE); f != 0 {
		t.Errorf("enabled native word: got %#x, want 0", f)
	}
}

func TestFlagBitPositionsDistinct(t *testing.T) {
	if StatusSS&(StatusSIE|StatusMIE) != 0 {
		t.Fatalf("stall bit %#x overlaps hardware interrupt-enable bits", StatusSS)
	}
}

func TestStealPipelinedTick(t *testing.T) {
	regs := &Regs{Status: StatusIE}
	if StealPipelinedTick(regs) {
		t.Error("tick stolen from a context with interrupts enabled")
	}
	regs.Status = 0
	if !StealPipelinedTick(regs) {
		t.Error("tick not stolen from a context with interrupts disabled")
	}
}

func TestSaveTimerRegs(t *testing.T) {
	src := &Regs{Epc: 0x8020_0000, Ra: 1, Sp: 2, A0: 42, Status: StatusIE, Cause: 5}
	var dst Regs
	SaveTimerRegs(&dst, src)
	if dst != *src {
		t.Errorf("copied regs differ: got %+v, want %+v", dst, *src)
	}
}

func TestIsCompanionSyscall(t *testing.T) {
	if !IsCompanionSyscall(167, false) {
		t.Error("prctl not recognized as the companion syscall")
	}
	if IsCompanionSyscall(172, false) {
		t.Error("compat number recognized outside compat mode")
	}
	if !IsCompanionSyscall(172, true) {
		t.Error("compat prctl not recognized in compat mode")
	}
	if IsCompanionSyscall(64, false) || IsCompanionSyscall(64, true) {
		t.Error("unrelated syscall recognized")
	}
}
