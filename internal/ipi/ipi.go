// Package ipi implements the dual-channel inter-processor interrupt
// subsystem of the interrupt pipeline.
//
// In-band messages share one hardware line: a sender sets the message
// bit in the target CPU's pending word and raises the shared line,
// and the receiving CPU drains the word lowest-bit-first. Multiple
// sends of the same message before a drain coalesce into a single
// dispatch. Out-of-band messages each own a dedicated line with no
// bitmap indirection and no dependency on the in-band stall state.
package ipi

import (
	"fmt"
	"log/slog"
	"math/bits"
	"time"

	"gvisor.dev/gvisor/pkg/atomicbitops"

	"github.com/tinyrange/irqpipe/internal/lineset"
	"github.com/tinyrange/irqpipe/internal/pipeline"
)

// Message identifies an in-band IPI. The ordinals are bit positions
// in the shared pending word and must not be reordered.
type Message int

const (
	Reschedule Message = iota
	CallFunction
	CPUStop
	CPUCrashStop
	IRQWork
	Timer

	numMessages
)

// NumMessages is how many in-band message identifiers are defined;
// Configure needs at least this many lines.
const NumMessages = int(numMessages)

var messageNames = [numMessages]string{
	Reschedule:   "Rescheduling interrupts",
	CallFunction: "Function call interrupts",
	CPUStop:      "CPU stop interrupts",
	CPUCrashStop: "CPU stop (for crash dump) interrupts",
	IRQWork:      "IRQ work interrupts",
	Timer:        "Timer broadcast interrupts",
}

func (m Message) String() string {
	if m < 0 || m >= numMessages {
		return fmt.Sprintf("IPI%d", int(m))
	}
	return messageNames[m]
}

// Out-of-band IPIs map to the dedicated lines right after the shared
// in-band line: timer tick, reschedule and call-function signals for
// the companion core.
const (
	oobOffset = 1

	// NumOOB is the number of dedicated out-of-band lines.
	NumOOB = 3
)

// Peer consumes the in-band messages the subsystem demultiplexes and
// supplies the parking behavior for stopped CPUs.
type Peer interface {
	Reschedule(cpu int)
	CallFunction(cpu int)
	IRQWork(cpu int)
	TimerBroadcast(cpu int)

	// CrashSave records the register state of a CPU answering a
	// crash-stop request. regs may be nil outside interrupt dispatch.
	CrashSave(cpu int, regs *pipeline.Regs)

	// StopWait parks a CPU that has answered a stop or crash-stop
	// request. It is the embedder's idle loop; the subsystem calls it
	// after the CPU left the online set (stop) or acknowledged the
	// countdown (crash-stop).
	StopWait(cpu int)
}

type cpuState struct {
	// Pending in-band messages, one bit per Message. Bits are set
	// atomically by senders and cleared only by the owning CPU while
	// demultiplexing.
	pending atomicbitops.Uint64

	counts [numMessages]atomicbitops.Uint64
}

// Subsystem is the dual-channel IPI layer. Construct one per pipeline
// runtime with New, then call Configure once at SMP bring-up.
type Subsystem struct {
	rt    *pipeline.Runtime
	lines *lineset.Set
	peer  Peer
	log   *slog.Logger

	// First line number allocated to IPIs. Zero means unconfigured;
	// written exactly once.
	virqBase atomicbitops.Int32

	nrIPI int
	descs [numMessages]*lineset.Desc
	cpus  []cpuState

	fenceFastPath atomicbitops.Uint32
	warnedUnready atomicbitops.Uint32

	crashLatch     atomicbitops.Uint32
	crashCountdown atomicbitops.Int32

	stopTimeout time.Duration
}

// SubsystemOption configures a Subsystem.
type SubsystemOption func(*Subsystem)

// WithLogger sets the diagnostic logger.
func WithLogger(log *slog.Logger) SubsystemOption {
	return func(s *Subsystem) { s.log = log }
}

// WithStopTimeout overrides the bounded wait used by BroadcastStop
// and BroadcastCrashStop.
func WithStopTimeout(d time.Duration) SubsystemOption {
	return func(s *Subsystem) { s.stopTimeout = d }
}

// New builds the IPI subsystem over a pipeline runtime and a line
// set. peer receives the demultiplexed in-band messages.
func New(rt *pipeline.Runtime, lines *lineset.Set, peer Peer, opts ...SubsystemOption) *Subsystem {
	s := &Subsystem{
		rt:          rt,
		lines:       lines,
		peer:        peer,
		log:         rt.Logger(),
		cpus:        make([]cpuState, rt.NumCPUs()),
		stopTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured reports whether Configure has assigned the line range.
func (s *Subsystem) Configured() bool { return s.virqBase.Load() != 0 }

// VirqBase returns the first IPI line number, 0 when unconfigured.
func (s *Subsystem) VirqBase() int { return int(s.virqBase.Load()) }

// UseForFence reports whether the remote-fence fast path was enabled
// at configuration time.
func (s *Subsystem) UseForFence() bool { return s.fenceFastPath.Load() != 0 }

// Configure assigns the IPI line range, requests the shared in-band
// handler plus the dedicated out-of-band lines, hides all of them
// from generic line tooling and enables them for the boot CPU. It is
// a warned no-op when called twice or with too few lines.
func (s *Subsystem) Configure(base, count int, useForFence bool) {
	if base <= 0 {
		s.log.Warn("ipi: invalid line base", "base", base)
		return
	}
	if count < int(numMessages) {
		s.log.Warn("ipi: too few lines for the defined messages",
			"count", count, "need", int(numMessages))
		return
	}
	if !s.virqBase.CompareAndSwap(0, int32(base)) {
		s.log.Warn("ipi: line base already assigned",
			"base", s.VirqBase(), "rejected", base)
		return
	}

	s.nrIPI = int(numMessages)

	// In-band messages are multiplexed over the first line: only it
	// gets the shared handler. The remaining message identifiers are
	// bit positions, but the out-of-band lines behind them are real
	// and individually addressable.
	for i := 0; i < s.nrIPI; i++ {
		line := base + i
		var desc *lineset.Desc
		if i == 0 {
			d, err := s.lines.Request(line, "IPI", s.handleInband)
			if err != nil {
				s.log.Warn("ipi: request shared line", "line", line, "error", err)
				d = s.lines.Allocate(line, "IPI")
			}
			desc = d
		} else {
			desc = s.lines.Allocate(line, "IPI (out-of-band)")
		}
		desc.MarkHidden()
		s.descs[i] = desc
	}

	// Boot CPU gets its lines immediately; secondaries enable theirs
	// during bring-up.
	s.EnableAll(0)

	if useForFence {
		s.fenceFastPath.Store(1)
	} else {
		s.fenceFastPath.Store(0)
	}
}

func (s *Subsystem) ready(op string) bool {
	if s.Configured() {
		return true
	}
	if s.warnedUnready.CompareAndSwap(0, 1) {
		s.log.Warn("ipi: not configured", "op", op)
	}
	return false
}

// EnableAll enables every IPI line for a CPU. Idempotent; a warned
// no-op before Configure.
func (s *Subsystem) EnableAll(cpu int) {
	if !s.ready("enable") {
		return
	}
	for i := 0; i < s.nrIPI; i++ {
		s.descs[i].Enable(cpu)
	}
}

// DisableAll disables every IPI line for a CPU. Idempotent; a warned
// no-op before Configure.
func (s *Subsystem) DisableAll(cpu int) {
	if !s.ready("disable") {
		return
	}
	for i := 0; i < s.nrIPI; i++ {
		s.descs[i].Disable(cpu)
	}
}

// Send delivers an in-band message to a single CPU.
func (s *Subsystem) Send(msg Message, cpu int) {
	s.SendMask(msg, uint64(1)<<cpu)
}

// SendMask delivers an in-band message to every CPU in the mask: set
// the message bit in each target's pending word, then raise the
// shared line. The atomic RMW publishes any payload implied by the
// message before a receiver can observe the bit.
func (s *Subsystem) SendMask(msg Message, mask uint64) {
	if !s.ready("send") {
		return
	}
	if msg < 0 || msg >= numMessages {
		s.log.Warn("ipi: send of undefined message", "ipi", int(msg))
		return
	}
	bit := uint64(1) << uint(msg)
	for cpu := range s.cpus {
		if mask&(1<<cpu) != 0 {
			setBits(&s.cpus[cpu].pending, bit)
		}
	}
	s.descs[0].RaiseMask(mask)
}

// TimerOOB returns the dedicated out-of-band timer line.
func (s *Subsystem) TimerOOB() int { return s.VirqBase() + oobOffset }

// RescheduleOOB returns the dedicated out-of-band reschedule line.
func (s *Subsystem) RescheduleOOB() int { return s.TimerOOB() + 1 }

// CallFunctionOOB returns the dedicated out-of-band call-function
// line.
func (s *Subsystem) CallFunctionOOB() int { return s.RescheduleOOB() + 1 }

// SendOOB raises a dedicated out-of-band line toward a CPU mask,
// bypassing the pending bitmap and the in-band stall state entirely.
// Lines outside the reserved out-of-band range are dropped, with a
// diagnostic when debug checks are on.
func (s *Subsystem) SendOOB(line int, mask uint64) {
	if !s.ready("send-oob") {
		return
	}
	op := line - s.VirqBase()
	if op < oobOffset || op >= oobOffset+NumOOB {
		if s.rt.Debug() {
			s.log.Warn("ipi: out-of-band send outside reserved range",
				"line", line, "base", s.VirqBase())
		}
		return
	}
	s.descs[op].RaiseMask(mask)
}

// handleInband is the shared handler behind the first line. Messages
// coalesce onto one hardware signal, so it drains until the pending
// word is empty.
func (s *Subsystem) handleInband(cpu int) {
	st := &s.cpus[cpu]
	for {
		pending := st.pending.Load()
		if pending == 0 {
			return
		}
		n := bits.TrailingZeros64(pending)
		clearBits(&st.pending, uint64(1)<<uint(n))
		st.counts[n].Add(1)
		s.dispatch(Message(n), cpu)
	}
}

func (s *Subsystem) dispatch(msg Message, cpu int) {
	switch msg {
	case Reschedule:
		s.peer.Reschedule(cpu)
	case CallFunction:
		s.peer.CallFunction(cpu)
	case CPUStop:
		s.stopCPU(cpu)
	case CPUCrashStop:
		s.crashStopCPU(cpu)
	case IRQWork:
		s.peer.IRQWork(cpu)
	case Timer:
		s.peer.TimerBroadcast(cpu)
	default:
		s.log.Warn("ipi: unhandled message", "cpu", cpu, "ipi", int(msg))
	}
}
