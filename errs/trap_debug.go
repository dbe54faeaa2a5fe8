//go:build ioruntime_debug

package errs

func trap(msg string) {
	panic("errs: invariant violation: " + msg)
}
