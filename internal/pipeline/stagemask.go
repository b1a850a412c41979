package pipeline

// CPU is the per-CPU view of the pipeline runtime. All methods are
// safe to call from any context; none of them suspends.
type CPU struct {
	rt    *Runtime
	id    int
	state *cpuState
}

// ID returns the CPU number.
func (c *CPU) ID() int { return c.id }

// Runtime returns the owning runtime.
func (c *CPU) Runtime() *Runtime { return c.rt }

// SaveFlags reads the current stall state as a virtual flags word
// without modifying it. The atomic load is the ordering barrier: no
// access moves across the read.
func (c *CPU) SaveFlags() Flags {
	return ToVirtualFlags(c.state.stalled.Load() != 0)
}

// Enable clears the stall bit, letting the in-band stage be
// interrupted again. The atomic store publishes all prior writes
// before the stage unstalls.
func (c *CPU) Enable() {
	c.state.stalled.Store(0)
}

// Disable sets the stall bit. The atomic store orders the stall ahead
// of everything that follows it.
func (c *CPU) Disable() {
	c.state.stalled.Store(1)
}

// Restore decodes a previously saved flags word and sets the stall
// bit accordingly.
func (c *CPU) Restore(f Flags) {
	c.state.stalled.Store(uint32(flagWord(IRQsDisabled(f))))
}

// Stalled reports the current stall state of the in-band stage.
func (c *CPU) Stalled() bool {
	return c.state.stalled.Load() != 0
}
