package selector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/ioruntime/errs"
	"github.com/joeycumines/ioruntime/rtlog"
)

type registration struct {
	fd       int
	interest Interest
}

// requestKind enumerates the operations the poll thread performs on
// behalf of the selector actor, per §4.10 step 2.
type requestKind int

const (
	reqRegister requestKind = iota
	reqModify
	reqDeregister
	reqArm
)

type request struct {
	kind     requestKind
	fd       int
	id       uint64
	interest Interest
	// reply is non-nil for register/modify, which expect a confirmation;
	// deregister requests carry no reply, and arm requests are
	// fire-and-forget per §4.10.
	reply chan error
}

// pollMsgKind tags what the poll thread pushed onto the actor's inbox.
type pollMsgKind int

const (
	pollEvents pollMsgKind = iota
	pollTick
	pollError
)

type pollMsg struct {
	kind   pollMsgKind
	events []Event
	err    error
}

// actorMsgKind tags what flows through the selector actor's single
// inbox: poll results, driver-op completions, arm requests, and
// cancellation notices all funnel through here so every mutation of
// actor-owned state (registrations, waiters, permits, the deadline
// heap) happens on the one actor goroutine (§4.9's "single funnel").
type actorMsgKind int

const (
	actorPoll actorMsgKind = iota
	actorCompletion
	actorCancel
	actorArmSinglePhase
	actorArmBegin
	actorAwaitArm
	actorDeregister
)

type actorMsg struct {
	kind actorMsgKind

	poll pollMsg

	req *request

	cancelKey waiterKey
	cancelGen uint64

	armKey      waiterKey
	armGen      uint64
	armDeadline time.Time

	// singlePhaseReply carries the outcome of actorArmSinglePhase: a
	// non-nil outcome means a permit resolved it immediately; a nil
	// outcome with a non-nil waiter means the caller must await it.
	singlePhaseReply chan armOutcome
	// beginReply carries the Handle produced by actorArmBegin.
	beginReply chan Handle
	// awaitReply carries the waiter AwaitArm should await, or nil if
	// the handle's generation is stale.
	awaitReply chan *waiter

	deregisterID uint64
}

type armOutcome struct {
	immediate *outcome
	waiter    *waiter
}

// selectorState tracks the actor's own lifecycle, distinct from the
// waiter state machine.
type selectorState int32

const (
	selectorRunning selectorState = iota
	selectorShuttingDown
	selectorShutdown
)

// Selector is the Readiness Selector actor (§4.9): a cooperative,
// single-threaded owner of all registration, waiter, permit, and
// deadline state, fed by a dedicated poll thread that performs the
// actual blocking driver calls.
type Selector struct {
	driver Driver
	logger *rtlog.Logger

	idCounter atomic.Uint64

	requests *RequestQueue[*request]
	inbox    *Bridge[actorMsg]

	nextDeadline atomic.Int64 // UnixNano; noDeadline means "none"

	state atomic.Int32

	pollDone  chan struct{}
	actorDone chan struct{}

	// actor-owned state; touched only by the actor goroutine.
	registrations map[uint64]*registration
	waiters       map[waiterKey]*waiter
	permits       map[waiterKey]Flags
	generations   map[waiterKey]uint64
	deadlines     *deadlines
	deadlineEntry map[waiterKey]*deadlineEntry

	shutdownOnce sync.Once
}

const noDeadline = int64(1<<63 - 1)

// New constructs a Selector over driver, starting its poll and actor
// goroutines. driver.Create must not have been called yet; New calls it.
func New(driver Driver, opts ...Option) (*Selector, error) {
	cfg := resolveOptions(opts)

	if err := driver.Create(); err != nil {
		return nil, errs.Failure(errs.NewLeaf(errs.LeafPlatform, err))
	}

	s := &Selector{
		driver:        driver,
		logger:        cfg.logger,
		requests:      NewRequestQueue[*request](),
		inbox:         NewBridge[actorMsg](),
		pollDone:      make(chan struct{}),
		actorDone:     make(chan struct{}),
		registrations: make(map[uint64]*registration),
		waiters:       make(map[waiterKey]*waiter),
		permits:       make(map[waiterKey]Flags),
		generations:   make(map[waiterKey]uint64),
		deadlines:     newDeadlines(),
		deadlineEntry: make(map[waiterKey]*deadlineEntry),
	}
	s.nextDeadline.Store(noDeadline)

	go s.runPollLoop()
	go s.runActorLoop()

	return s, nil
}

// Register assigns a registration ID and enqueues a register request to
// the poll thread, returning a Token<Registering> on success (§4.9).
func (s *Selector) Register(ctx context.Context, fd int, interest Interest) (*Token, error) {
	if selectorState(s.state.Load()) != selectorRunning {
		return nil, errs.ShutdownInProgress()
	}

	id := s.idCounter.Add(1)
	reply := make(chan error, 1)
	s.requests.Enqueue(&request{kind: reqRegister, fd: fd, id: id, interest: interest, reply: reply})
	_ = s.driver.Wakeup()

	select {
	case err := <-reply:
		if err != nil {
			return nil, err
		}
		rtlog.Selector(s.logger).Int64(`id`, int64(id)).Log(`registered`)
		return newToken(id, phaseRegistering), nil
	case <-ctx.Done():
		return nil, errs.Cancellation()
	}
}

// Arm is the single-phase, ergonomic arm call (§4.9): it consumes
// token, and either resolves immediately from a cached permit or
// suspends until the poll thread reports readiness or deadline elapses.
func (s *Selector) Arm(ctx context.Context, token *Token, interest Interest, deadline time.Time) (*Token, Event, error) {
	if err := token.consume(); err != nil {
		return nil, Event{}, err
	}

	key := waiterKey{id: token.id, interest: interest}
	reply := make(chan armOutcome, 1)
	if !s.inbox.Push(actorMsg{kind: actorArmSinglePhase, armKey: key, armDeadline: deadline, singlePhaseReply: reply}) {
		return nil, Event{}, errs.ShutdownInProgress()
	}

	ao := <-reply
	if ao.immediate != nil {
		if ao.immediate.err != nil {
			return nil, Event{}, ao.immediate.err
		}
		return newToken(token.id, phaseArmed), ao.immediate.event, nil
	}

	w := ao.waiter
	o, ok := w.await(ctx)
	if !ok {
		s.inbox.Push(actorMsg{kind: actorCancel, cancelKey: key, cancelGen: w.generation})
		return nil, Event{}, errs.Cancellation()
	}
	if o.err != nil {
		return nil, Event{}, o.err
	}
	return newToken(token.id, phaseArmed), o.event, nil
}

// ArmPreservingToken behaves like Arm, but on failure hands back a fresh
// token of the same phase so the caller (typically a Channel) remains
// usable instead of losing its registration capability (§4.11).
func (s *Selector) ArmPreservingToken(ctx context.Context, token *Token, interest Interest, deadline time.Time) (*Token, Event, error) {
	id := token.ID()
	phase := token.phase
	tok, ev, err := s.Arm(ctx, token, interest, deadline)
	if err != nil {
		return newToken(id, phase), ev, err
	}
	return tok, ev, nil
}

// Handle is the copyable reference produced by Begin for the two-phase
// arm protocol (§4.9).
type Handle struct {
	id         uint64
	interest   Interest
	generation uint64
	ready      *outcome // non-nil if Begin resolved immediately from a permit
}

// Begin synchronously consumes token and either reports readiness from
// a cached permit, or installs an unarmed waiter and returns a Handle
// for a later AwaitArm call.
func (s *Selector) Begin(token *Token, interest Interest) (Handle, error) {
	if err := token.consume(); err != nil {
		return Handle{}, err
	}
	key := waiterKey{id: token.id, interest: interest}
	reply := make(chan Handle, 1)
	if !s.inbox.Push(actorMsg{kind: actorArmBegin, armKey: key, beginReply: reply}) {
		return Handle{}, errs.ShutdownInProgress()
	}
	return <-reply, nil
}

// AwaitArm looks up the waiter behind handle; if it is stale (the
// generation has moved on) it fails with deregistered. Otherwise it
// installs the continuation and suspends until readiness or deadline.
func (s *Selector) AwaitArm(ctx context.Context, h Handle, deadline time.Time) (Event, error) {
	if h.ready != nil {
		return h.ready.event, h.ready.err
	}
	key := waiterKey{id: h.id, interest: h.interest}
	reply := make(chan *waiter, 1)
	if !s.inbox.Push(actorMsg{kind: actorAwaitArm, armKey: key, armGen: h.generation, armDeadline: deadline, awaitReply: reply}) {
		return Event{}, errs.ShutdownInProgress()
	}
	w := <-reply
	if w == nil {
		return Event{}, errs.NewLeaf(errs.LeafDeregistered, nil)
	}

	o, ok := w.await(ctx)
	if !ok {
		s.inbox.Push(actorMsg{kind: actorCancel, cancelKey: key, cancelGen: h.generation})
		return Event{}, errs.Cancellation()
	}
	return o.event, o.err
}

// ArmTwo composes two Begin handles and awaits whichever resolves
// first, leaving the other outstanding for a subsequent AwaitArm call
// via the returned index's complement.
func (s *Selector) ArmTwo(ctx context.Context, a, b Handle, deadline time.Time) (winner int, ev Event, err error) {
	type result struct {
		idx int
		ev  Event
		err error
	}
	results := make(chan result, 2)
	go func() {
		ev, err := s.AwaitArm(ctx, a, deadline)
		results <- result{0, ev, err}
	}()
	go func() {
		ev, err := s.AwaitArm(ctx, b, deadline)
		results <- result{1, ev, err}
	}()
	r := <-results
	return r.idx, r.ev, r.err
}

// AbandonHandle releases a Handle obtained from Begin that will never
// be passed to AwaitArm, so its unarmed waiter does not linger forever.
func (s *Selector) AbandonHandle(h Handle) {
	if h.ready != nil {
		return
	}
	s.inbox.Push(actorMsg{kind: actorCancel, cancelKey: waiterKey{id: h.id, interest: h.interest}, cancelGen: h.generation})
}

// Deregister removes the local registration and drains outstanding
// waiters for id with a deregistered error, then best-effort notifies
// the poll thread. It does not wait for either step to finish.
func (s *Selector) Deregister(id uint64) {
	s.inbox.Push(actorMsg{kind: actorDeregister, deregisterID: id})
	s.requests.Enqueue(&request{kind: reqDeregister, id: id})
	_ = s.driver.Wakeup()
}

// Shutdown stops both loops, draining all waiters with shutdownInProgress
// and closing the driver handle. Idempotent; always terminates.
func (s *Selector) Shutdown() error {
	var closeErr error
	s.shutdownOnce.Do(func() {
		s.state.Store(int32(selectorShuttingDown))
		s.inbox.Shutdown()
		_ = s.driver.Wakeup()
		<-s.pollDone
		<-s.actorDone
		s.state.Store(int32(selectorShutdown))
		closeErr = s.driver.Close()
	})
	return closeErr
}
