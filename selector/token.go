package selector

import (
	"sync/atomic"

	"github.com/joeycumines/ioruntime/errs"
)

// tokenPhase emulates the typestate a Token carries: Go has no affine
// types, so the phase lives on the value itself rather than in the type
// system, and consumption is enforced at runtime (§9's design note).
type tokenPhase uint8

const (
	phaseRegistering tokenPhase = iota
	phaseArmed
)

// Token is the move-only capability produced by Register and threaded
// through Arm/Begin/AwaitArm. Each Token must be consumed exactly once;
// a second use is a programmer error, trapped via errs.Trap rather than
// silently tolerated.
type Token struct {
	id    uint64
	phase tokenPhase
	spent atomic.Bool
}

func newToken(id uint64, phase tokenPhase) *Token {
	return &Token{id: id, phase: phase}
}

// ID returns the registration identifier this token authorizes
// operations against. Safe to call after the token has been consumed.
func (t *Token) ID() uint64 { return t.id }

// consume marks the token spent, returning false (and trapping in
// debug builds) if it had already been consumed by a prior call.
func (t *Token) consume() error {
	if !t.spent.CompareAndSwap(false, true) {
		return errs.Trap("selector: token consumed twice")
	}
	return nil
}
