package pipeline

import "github.com/tinyrange/irqpipe/internal/lineset"

// irqEntryState records which RCU watcher action was taken on entry
// so the exit path can reverse exactly that action.
type irqEntryState struct {
	exitRCU bool
}

func (c *CPU) enterRCU() irqEntryState {
	var st irqEntryState
	if !c.rt.tinyRCU && c.rt.idleTask(c.id) {
		c.rt.rcu.IRQEnter()
		st.exitRCU = true
	} else {
		c.rt.rcu.EnterCheckTick()
	}
	return st
}

func (c *CPU) exitRCU(st irqEntryState) {
	if st.exitRCU {
		c.rt.rcu.IRQExit()
	}
}

// HandleIRQPipelined re-enters interrupt-descriptor dispatch for an
// interrupt delivered back to the in-band stage. The per-CPU scratch
// register slot stands in as the interrupt frame; descriptor dispatch
// must not recurse through here.
func (c *CPU) HandleIRQPipelined(desc *lineset.Desc) {
	regs := &c.state.tickRegs

	st := c.enterRCU()

	old := c.setIRQRegs(regs)
	desc.HandleDirect(c.id)
	c.setIRQRegs(old)

	c.exitRCU(st)
}

// TickRegs returns the per-CPU scratch register slot filled in by the
// low-level interrupt path before pipelined dispatch.
func (c *CPU) TickRegs() *Regs { return &c.state.tickRegs }

// IRQRegs returns the register file of the interrupt currently being
// dispatched on this CPU, nil outside dispatch.
func (c *CPU) IRQRegs() *Regs { return c.state.irqRegs }

func (c *CPU) setIRQRegs(regs *Regs) *Regs {
	old := c.state.irqRegs
	c.state.irqRegs = regs
	return old
}
