// Package lineset manages per-CPU interrupt lines: request, enable,
// disable, raise toward a CPU mask, and dispatch on the owning CPU.
//
// A raised line stays latched for the target CPU until that CPU
// dispatches it. Handlers run on the dispatching CPU's goroutine; the
// set never spawns goroutines of its own.
package lineset

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gvisor.dev/gvisor/pkg/atomicbitops"
)

// Handler services a line on the CPU it was delivered to.
type Handler func(cpu int)

// Set owns a collection of interrupt lines shared by up to 64 CPUs.
type Set struct {
	mu sync.Mutex

	numCPUs int
	log     *slog.Logger

	lines map[int]*Desc
}

// New builds an empty Set for the given number of CPUs.
func New(numCPUs int, log *slog.Logger) *Set {
	if numCPUs <= 0 || numCPUs > 64 {
		panic(fmt.Sprintf("lineset: unsupported CPU count %d", numCPUs))
	}
	if log == nil {
		log = slog.Default()
	}
	return &Set{
		numCPUs: numCPUs,
		log:     log,
		lines:   make(map[int]*Desc),
	}
}

// NumCPUs returns the CPU count the set was built for.
func (s *Set) NumCPUs() int { return s.numCPUs }

// Allocate returns the descriptor for a line, creating it without a
// handler if it does not exist yet.
func (s *Set) Allocate(line int, name string) *Desc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocateLocked(line, name)
}

func (s *Set) allocateLocked(line int, name string) *Desc {
	if d, ok := s.lines[line]; ok {
		return d
	}
	d := &Desc{
		owner:   s,
		line:    line,
		name:    name,
		enabled: make([]atomicbitops.Uint32, s.numCPUs),
		pending: make([]atomicbitops.Uint32, s.numCPUs),
	}
	s.lines[line] = d
	return d
}

// Request allocates a line and attaches its per-CPU handler. A line
// can only be requested once.
func (s *Set) Request(line int, name string, h Handler) (*Desc, error) {
	if h == nil {
		return nil, fmt.Errorf("lineset: nil handler for line %d", line)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.allocateLocked(line, name)
	if d.handler != nil {
		return nil, fmt.Errorf("lineset: line %d already requested as %q", line, d.name)
	}
	d.name = name
	d.handler = h
	return d, nil
}

// Desc returns the descriptor for a line, nil if never allocated.
func (s *Set) Desc(line int) *Desc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines[line]
}

// DispatchPending services every latched, enabled line for a CPU in
// ascending line order and reports how many handlers ran.
func (s *Set) DispatchPending(cpu int) int {
	s.mu.Lock()
	descs := make([]*Desc, 0, len(s.lines))
	for _, d := range s.lines {
		descs = append(descs, d)
	}
	s.mu.Unlock()

	sort.Slice(descs, func(i, j int) bool { return descs[i].line < descs[j].line })

	dispatched := 0
	for _, d := range descs {
		if d.enabled[cpu].Load() == 0 {
			continue
		}
		if d.Dispatch(cpu) {
			dispatched++
		}
	}
	return dispatched
}

// Desc is the descriptor for a single interrupt line.
type Desc struct {
	owner   *Set
	line    int
	name    string
	handler Handler
	hidden  atomicbitops.Uint32

	// Per-CPU state, indexed by CPU id. Only the owning CPU clears
	// its pending latch.
	enabled []atomicbitops.Uint32
	pending []atomicbitops.Uint32
}

// Line returns the line number.
func (d *Desc) Line() int { return d.line }

// Name returns the name given at allocation time.
func (d *Desc) Name() string { return d.name }

// MarkHidden excludes the line from generic line-management tooling.
func (d *Desc) MarkHidden() { d.hidden.Store(1) }

// Hidden reports whether the line is pipeline-internal.
func (d *Desc) Hidden() bool { return d.hidden.Load() != 0 }

// Enable unmasks the line for a CPU. Idempotent.
func (d *Desc) Enable(cpu int) { d.enabled[cpu].Store(1) }

// Disable masks the line for a CPU. Idempotent; a raise while masked
// stays latched and fires on the next dispatch after Enable.
func (d *Desc) Disable(cpu int) { d.enabled[cpu].Store(0) }

// Enabled reports whether the line is unmasked for a CPU.
func (d *Desc) Enabled(cpu int) bool { return d.enabled[cpu].Load() != 0 }

// Raise latches the line pending for one CPU.
func (d *Desc) Raise(cpu int) {
	d.pending[cpu].Store(1)
}

// RaiseMask latches the line pending for every CPU in the mask.
func (d *Desc) RaiseMask(mask uint64) {
	for cpu := 0; cpu < len(d.pending); cpu++ {
		if mask&(1<<cpu) != 0 {
			d.pending[cpu].Store(1)
		}
	}
}

// Pending reports whether the line is latched for a CPU.
func (d *Desc) Pending(cpu int) bool { return d.pending[cpu].Load() != 0 }

// Dispatch clears the pending latch and runs the handler on the
// calling CPU. It reports whether a handler actually ran.
func (d *Desc) Dispatch(cpu int) bool {
	wasPending := d.pending[cpu].Swap(0) != 0
	if !wasPending {
		return false
	}
	if d.handler == nil {
		d.owner.log.Warn("lineset: raised line has no handler", "line", d.line, "cpu", cpu)
		return false
	}
	d.handler(cpu)
	return true
}

// HandleDirect runs the handler without consulting the pending latch.
// Used by dispatch paths that already hold the interrupt to deliver.
func (d *Desc) HandleDirect(cpu int) {
	d.pending[cpu].Store(0)
	if d.handler != nil {
		d.handler(cpu)
	}
}
