package ipi

import (
	"time"
)

// stopPoll is how often the bounded shutdown waits re-check their
// condition.
const stopPoll = 10 * time.Microsecond

// stopCPU answers a CPUStop message: leave the online set, then park.
func (s *Subsystem) stopCPU(cpu int) {
	s.rt.SetOnline(cpu, false)
	s.peer.StopWait(cpu)
}

// crashStopCPU answers a CPUCrashStop message: record register state,
// acknowledge the countdown, fully mask the stage and park.
func (s *Subsystem) crashStopCPU(cpu int) {
	s.peer.CrashSave(cpu, s.rt.CPU(cpu).IRQRegs())

	s.crashCountdown.Add(-1)

	s.rt.CPU(cpu).Disable()
	s.DisableAll(cpu)
	s.peer.StopWait(cpu)
}

// BroadcastStop sends CPUStop to every online CPU except the caller
// and waits, bounded by the stop timeout, for the others to leave the
// online set. Best effort: stragglers are logged, not retried.
func (s *Subsystem) BroadcastStop(cpu int) {
	if !s.ready("broadcast-stop") {
		return
	}

	self := uint64(1) << cpu
	mask := s.rt.OnlineMask() &^ self
	if mask != 0 {
		s.log.Info("ipi: stopping secondary CPUs", "mask", cpuList(mask))
		s.SendMask(CPUStop, mask)
	}

	deadline := time.Now().Add(s.stopTimeout)
	for s.rt.NumOnline() > 1 && time.Now().Before(deadline) {
		time.Sleep(stopPoll)
	}

	if s.rt.NumOnline() > 1 {
		s.log.Warn("ipi: failed to stop secondary CPUs",
			"online", cpuList(s.rt.OnlineMask()&^self))
	}
}

// BroadcastCrashStop sends CPUCrashStop to every other online CPU and
// waits, bounded by the stop timeout, for each to acknowledge. The
// crash path can reach here twice; a latch makes the body run once.
func (s *Subsystem) BroadcastCrashStop(cpu int) {
	if !s.ready("broadcast-crash-stop") {
		return
	}
	if !s.crashLatch.CompareAndSwap(0, 1) {
		return
	}

	// Count the other online CPUs; the caller may already have left
	// the online set on the way down.
	others := s.rt.NumOnline()
	if s.rt.Online(cpu) {
		others--
	}
	if others == 0 {
		return
	}

	mask := s.rt.OnlineMask() &^ (uint64(1) << cpu)

	s.crashCountdown.Store(int32(others))

	s.log.Info("ipi: stopping secondary CPUs for crash dump", "mask", cpuList(mask))
	s.SendMask(CPUCrashStop, mask)

	deadline := time.Now().Add(s.stopTimeout)
	for s.crashCountdown.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(stopPoll)
	}

	if s.crashCountdown.Load() > 0 {
		s.log.Warn("ipi: failed to crash-stop secondary CPUs",
			"waiting", s.crashCountdown.Load(), "mask", cpuList(mask))
	}
}

// CrashStopFailed reports whether any CPU has not acknowledged the
// crash-stop request.
func (s *Subsystem) CrashStopFailed() bool {
	return s.crashCountdown.Load() > 0
}
