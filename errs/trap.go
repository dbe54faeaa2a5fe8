package errs

// Trap reports an "impossible" state transition (double resume, taking a
// continuation twice, ...). Under the ioruntime_debug build tag it
// aborts the process via panic; otherwise it degrades to a typed
// *Lifecycle error carrying internalInvariantViolation, per the
// propagation policy: fatal/trap conditions abort in debug and degrade
// to a typed error in release.
func Trap(msg string) *Lifecycle {
	trap(msg)
	return InternalInvariantViolation(msg)
}
