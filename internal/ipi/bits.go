package ipi

import "gvisor.dev/gvisor/pkg/atomicbitops"

func setBits(w *atomicbitops.Uint64, bits uint64) {
	for {
		old := w.Load()
		if old&bits == bits || w.CompareAndSwap(old, old|bits) {
			return
		}
	}
}

func clearBits(w *atomicbitops.Uint64, bits uint64) {
	for {
		old := w.Load()
		if old&bits == 0 || w.CompareAndSwap(old, old&^bits) {
			return
		}
	}
}
