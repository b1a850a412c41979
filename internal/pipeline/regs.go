package pipeline

// Regs is the trap-time register file handed to the companion core
// and to interrupt dispatch.
type Regs struct {
	Epc uint64
	Ra  uint64
	Sp  uint64
	Gp  uint64
	Tp  uint64
	T0  uint64
	T1  uint64
	T2  uint64
	S0  uint64
	S1  uint64
	A0  uint64
	A1  uint64
	A2  uint64
	A3  uint64
	A4  uint64
	A5  uint64
	A6  uint64
	A7  uint64
	S2  uint64
	S3  uint64
	S4  uint64
	S5  uint64
	S6  uint64
	S7  uint64
	S8  uint64
	S9  uint64
	S10 uint64
	S11 uint64
	T3  uint64
	T4  uint64
	T5  uint64
	T6  uint64

	Status  Flags
	Badaddr uint64
	Cause   uint64
	OrigA0  uint64
}

// Trap numbers, matching the RISC-V exception cause encoding.
const (
	TrapInsnAddrMisaligned  = 0
	TrapInsnAccessFault     = 1
	TrapIllegalInsn         = 2
	TrapBreakpoint          = 3
	TrapLoadAddrMisaligned  = 4
	TrapLoadAccessFault     = 5
	TrapStoreAddrMisaligned = 6
	TrapStoreAccessFault    = 7
	TrapEcallFromU          = 8
	TrapEcallFromS          = 9
	TrapInsnPageFault       = 12
	TrapLoadPageFault       = 13
	TrapStorePageFault      = 15
)

// SaveTimerRegs copies the register file of an interrupted context
// into a scratch slot for deferred interrupt dispatch.
func SaveTimerRegs(dst, src *Regs) {
	*dst = *src
}

// StealPipelinedTick reports whether the interrupted context had
// native interrupts disabled, in which case the tick belongs to the
// out-of-band stage.
func StealPipelinedTick(regs *Regs) bool {
	return regs.Status&StatusIE == 0
}
