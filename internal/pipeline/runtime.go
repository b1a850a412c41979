// Package pipeline implements the substrate of a dual-stage interrupt
// pipeline: virtualized interrupt masking for the in-band stage, the
// trap notification gate toward the companion core, and the pipelined
// re-entry path into interrupt-descriptor dispatch.
//
// The general-purpose kernel keeps its usual save/enable/disable/
// restore contract, but those operations move a per-CPU stall bit
// instead of the hardware interrupt-enable bit; the hardware mask
// stays under the pipeline's exclusive control so the companion core
// can be signalled even while the in-band stage believes interrupts
// are off.
package pipeline

import (
	"fmt"
	"log/slog"
	"math/bits"

	"gvisor.dev/gvisor/pkg/atomicbitops"
)

// MaxCPUs bounds the CPU count; masks are a single machine word.
const MaxCPUs = 64

// CompanionCore is the out-of-band stage consumed by the trap gate.
type CompanionCore interface {
	// TrapNotify runs the trap through companion-core policy. It may
	// leave the current context running out-of-band.
	TrapNotify(trapnr int, regs *Regs)

	// TrapUnwind is the symmetric cleanup notification for trap exit.
	TrapUnwind(trapnr int, regs *Regs)

	// RunningInband reports whether the current execution context is
	// on the in-band stage.
	RunningInband() bool
}

// RCUControl is the slice of RCU bookkeeping the pipelined IRQ entry
// needs around descriptor dispatch.
type RCUControl interface {
	IRQEnter()       // extended-quiescent-state exit
	IRQExit()        // reverse of IRQEnter
	EnterCheckTick() // ordinary tick-check entry
}

type noopCompanion struct{}

func (noopCompanion) TrapNotify(int, *Regs) {}
func (noopCompanion) TrapUnwind(int, *Regs) {}
func (noopCompanion) RunningInband() bool   { return true }

type noopRCU struct{}

func (noopRCU) IRQEnter()       {}
func (noopRCU) IRQExit()        {}
func (noopRCU) EnterCheckTick() {}

type cpuState struct {
	stalled atomicbitops.Uint32

	// Scratch register slot for pipelined interrupt dispatch. Never
	// reentered concurrently: interrupt delivery is serialized per
	// CPU at this level.
	tickRegs Regs

	// Register file of the interrupt currently being dispatched.
	// Only touched by the owning CPU.
	irqRegs *Regs
}

// Runtime owns every piece of per-CPU pipeline state. It is built
// once at startup and threaded as an explicit handle through the
// stage-mask and IPI call paths.
type Runtime struct {
	log      *slog.Logger
	core     CompanionCore
	rcu      RCUControl
	debug    bool
	tinyRCU  bool
	idleTask func(cpu int) bool

	online atomicbitops.Uint64

	cpus    []cpuState
	handles []CPU
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithCompanion attaches the companion core notified by the trap gate.
func WithCompanion(core CompanionCore) Option {
	return func(r *Runtime) { r.core = core }
}

// WithRCU attaches the RCU bookkeeping used by pipelined IRQ entry.
func WithRCU(ctrl RCUControl) Option {
	return func(r *Runtime) { r.rcu = ctrl }
}

// WithDebug turns on the debug assertions of the trap gate and the
// IPI range checks.
func WithDebug(debug bool) Option {
	return func(r *Runtime) { r.debug = debug }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Runtime) { r.log = log }
}

// WithIdleTask tells the IRQ entry path whether a CPU is currently
// running its idle task.
func WithIdleTask(fn func(cpu int) bool) Option {
	return func(r *Runtime) { r.idleTask = fn }
}

// WithTinyRCU declares that full tickless RCU is not built in, which
// skips the extended-quiescent-state handling on idle entry.
func WithTinyRCU(tiny bool) Option {
	return func(r *Runtime) { r.tinyRCU = tiny }
}

// New builds the pipeline runtime for numCPUs CPUs. The boot CPU
// (CPU 0) starts online; the embedder brings up the rest.
func New(numCPUs int, opts ...Option) *Runtime {
	if numCPUs <= 0 || numCPUs > MaxCPUs {
		panic(fmt.Sprintf("pipeline: unsupported CPU count %d", numCPUs))
	}
	r := &Runtime{
		log:      slog.Default(),
		core:     noopCompanion{},
		rcu:      noopRCU{},
		idleTask: func(int) bool { return false },
		cpus:     make([]cpuState, numCPUs),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.handles = make([]CPU, numCPUs)
	for i := range r.handles {
		r.handles[i] = CPU{rt: r, id: i, state: &r.cpus[i]}
	}
	r.online.Store(1) // boot CPU
	return r
}

// NumCPUs returns the CPU count the runtime was built for.
func (r *Runtime) NumCPUs() int { return len(r.cpus) }

// Debug reports whether debug assertions are enabled.
func (r *Runtime) Debug() bool { return r.debug }

// Logger returns the diagnostic logger.
func (r *Runtime) Logger() *slog.Logger { return r.log }

// CPU returns the per-CPU handle for id.
func (r *Runtime) CPU(id int) *CPU { return &r.handles[id] }

// SetOnline moves a CPU into or out of the online set.
func (r *Runtime) SetOnline(cpu int, online bool) {
	bit := uint64(1) << cpu
	for {
		old := r.online.Load()
		var next uint64
		if online {
			next = old | bit
		} else {
			next = old &^ bit
		}
		if old == next || r.online.CompareAndSwap(old, next) {
			return
		}
	}
}

// Online reports whether a CPU is in the online set.
func (r *Runtime) Online(cpu int) bool {
	return r.online.Load()&(1<<cpu) != 0
}

// OnlineMask returns the online set as a bitmask.
func (r *Runtime) OnlineMask() uint64 { return r.online.Load() }

// NumOnline counts online CPUs.
func (r *Runtime) NumOnline() int {
	return bits.OnesCount64(r.online.Load())
}

// SwitchPrepare runs when a schedulable entity is about to leave the
// in-band stage (or has just entered it) during a stage switch. No
// per-architecture work is needed here.
func (r *Runtime) SwitchPrepare(leaveInband bool) {}

// SwitchFinish is the tail half of SwitchPrepare.
func (r *Runtime) SwitchFinish(enterInband bool) {}

// ExecPrepare runs before an execution context first enters
// general-purpose kernel code. No per-architecture work is needed.
func (r *Runtime) ExecPrepare() {}
