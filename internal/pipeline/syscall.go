package pipeline

// prctl carries companion-core control requests. The numbers are part
// of the platform syscall ABI and are written in stone; they are
// spelled out here rather than pulled from a syscall table to avoid a
// header dependency cycle.
const (
	companionSyscall       = 167 // __NR_prctl
	compatCompanionSyscall = 172 // __NR_prctl, compat tables
)

// IsCompanionSyscall reports whether a syscall number is the one
// reserved for companion-core control requests.
func IsCompanionSyscall(nr int, compat bool) bool {
	if compat {
		return nr == compatCompanionSyscall
	}
	return nr == companionSyscall
}
