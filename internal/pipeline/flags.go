package pipeline

// Flags is a saved interrupt-state word. Two encodings share the
// type: native words carry the hardware interrupt-enable bit, virtual
// words carry the stage-stall bit. The positions are distinct, so the
// encodings never collide.
type Flags uint64

// Status register bits. The stall bit sits at a position the hardware
// never assigns, so a virtual word can always be told apart from the
// interrupt-enable state it shadows.
const (
	StatusSIE Flags = 1 << statusSIEShift // supervisor interrupt enable
	StatusMIE Flags = 1 << statusMIEShift // machine interrupt enable
	StatusSS  Flags = 1 << statusSSShift  // stage stall (software only)
)

const (
	statusSIEShift = 1
	statusMIEShift = 3
	statusSSShift  = 31
)

// StatusIE is the native interrupt-enable bit the pipeline
// virtualizes. Supervisor-mode kernels mask interrupts with SIE.
const StatusIE = StatusSIE

func flagWord(b bool) Flags {
	if b {
		return 1
	}
	return 0
}

// ToNativeFlags encodes a stall state as a native flags word: the
// interrupt-enable bit is set exactly when the stage is not stalled.
func ToNativeFlags(stalled bool) Flags {
	return flagWord(!stalled) << statusSIEShift
}

// ToVirtualFlags encodes a stall state as a virtual flags word with
// only the stall bit populated.
func ToVirtualFlags(stalled bool) Flags {
	return flagWord(stalled) << statusSSShift
}

// NativeToVirtualFlags maps a native flags word onto its virtual
// equivalent: interrupts disabled at the hardware level becomes a set
// stall bit.
func NativeToVirtualFlags(native Flags) Flags {
	return ToVirtualFlags(NativeIRQsDisabled(native))
}

// NativeIRQsDisabled tests the hardware interrupt-enable bit of a
// native flags word.
func NativeIRQsDisabled(f Flags) bool {
	return f&StatusIE == 0
}

// IRQsDisabled tests the stall bit of a virtual flags word. Generic
// kernel code only ever sees virtual words.
func IRQsDisabled(f Flags) bool {
	return f&StatusSS != 0
}
