package pipeline

import "fmt"

// NotifyTrap passes a trap event to the companion core and reports
// whether execution is running in-band afterwards. When it is not,
// the companion has already been unwound: some traps (a breakpoint,
// say) are fully handled out-of-band and never reach general kernel
// code.
func (c *CPU) NotifyTrap(trapnr int, regs *Regs) bool {
	c.rt.core.TrapNotify(trapnr, regs)
	if c.rt.core.RunningInband() {
		return true
	}
	c.rt.core.TrapUnwind(trapnr, regs)
	return false
}

// RequireTrap is NotifyTrap for call sites that must resume on the
// in-band stage, such as a page fault that needs the paging
// machinery. With debug assertions enabled, resuming out-of-band is a
// fatal invariant violation; production runtimes skip the check.
func (c *CPU) RequireTrap(trapnr int, regs *Regs) {
	inband := c.NotifyTrap(trapnr, regs)
	if c.rt.debug && !inband {
		panic(fmt.Sprintf("pipeline: trap %d resumed out-of-band on CPU %d", trapnr, c.id))
	}
}

// UnwindTrap sends the trap-exit cleanup notification. Call sites use
// it directly when in-band execution was already confirmed by other
// means.
func (c *CPU) UnwindTrap(trapnr int, regs *Regs) {
	c.rt.core.TrapUnwind(trapnr, regs)
}
