package ipi

import (
	"fmt"
	"io"
	"strings"
)

// Count returns how many times a message was dispatched on a CPU
// since boot. Counters are never reset.
func (s *Subsystem) Count(msg Message, cpu int) uint64 {
	if msg < 0 || msg >= numMessages {
		return 0
	}
	return s.cpus[cpu].counts[msg].Load()
}

// Stats renders the per-CPU dispatch counters for every message, one
// row per message with a column per online CPU. Pure read.
func (s *Subsystem) Stats(w io.Writer) {
	online := s.rt.OnlineMask()
	for i := Message(0); i < numMessages; i++ {
		fmt.Fprintf(w, "IPI%d:", int(i))
		for cpu := range s.cpus {
			if online&(1<<cpu) == 0 {
				continue
			}
			fmt.Fprintf(w, "%10d ", s.cpus[cpu].counts[i].Load())
		}
		fmt.Fprintf(w, " %s\n", i)
	}
}

// cpuList renders a CPU mask as a compact list for diagnostics.
func cpuList(mask uint64) string {
	var b strings.Builder
	for cpu := 0; cpu < 64; cpu++ {
		if mask&(1<<cpu) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", cpu)
	}
	return b.String()
}
