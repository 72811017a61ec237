package simrt

import (
	"github.com/pkg/errors"

	"github.com/flexsimproject/flexsim/internal/common/flexcontext"
)

// errActorKilled unwinds an actor goroutine that has been killed. It never
// escapes the actor runner.
var errActorKilled = errors.New("actor killed")

// Actor is a cooperatively scheduled process. All Actor methods except Kill
// must be called from the actor's own goroutine.
type Actor struct {
	name   string
	engine *Engine
	host   *Host
	ctx    *flexcontext.Context
	// Closed over by the engine to hand the actor the execution token.
	resume chan struct{}
	// Pending timer event, if the actor is sleeping.
	pending *event
	// Removes the actor from whatever wait list it is parked on.
	unpark func()
	// Value delivered by a mailbox put while the actor was parked.
	wakeValue any
	killed    bool
	finished  bool
}

// Spawn creates an actor running body on host and schedules it at the current
// virtual time.
func (e *Engine) Spawn(name string, host *Host, body func(*Actor)) *Actor {
	a := &Actor{
		name:   name,
		engine: e,
		host:   host,
		ctx:    flexcontext.WithLogField(e.ctx, "actor", name),
		resume: make(chan struct{}),
	}
	e.actors = append(e.actors, a)
	go a.run(body)
	a.pending = e.at(0, func() { e.dispatch(a) })
	return a
}

func (a *Actor) run(body func(*Actor)) {
	defer func() {
		if r := recover(); r != nil && r != errActorKilled {
			if err, ok := r.(error); ok {
				a.engine.fail(errors.WithMessagef(err, "actor %s failed", a.name))
			} else {
				a.engine.fail(errors.Errorf("actor %s failed: %v", a.name, r))
			}
		}
		a.finished = true
		a.engine.yield <- struct{}{}
	}()
	<-a.resume
	if a.killed {
		panic(errActorKilled)
	}
	body(a)
}

// park suspends the actor until the engine dispatches it again.
func (a *Actor) park() {
	a.engine.yield <- struct{}{}
	<-a.resume
	if a.killed {
		panic(errActorKilled)
	}
}

// parkOn parks the actor on a wait list; remove must detach it from that list
// so a kill cannot leave a dangling waiter behind.
func (a *Actor) parkOn(remove func()) {
	a.unpark = remove
	a.park()
	a.unpark = nil
}

func (a *Actor) Name() string {
	return a.name
}

func (a *Actor) Host() *Host {
	return a.host
}

func (a *Actor) Engine() *Engine {
	return a.engine
}

// Now returns the current virtual time.
func (a *Actor) Now() float64 {
	return a.engine.clock
}

// Sleep suspends the actor for the given virtual duration.
func (a *Actor) Sleep(duration float64) {
	e := a.engine
	a.pending = e.at(duration, func() { e.dispatch(a) })
	a.park()
}

// SleepUntil suspends the actor until the given virtual time.
func (a *Actor) SleepUntil(t float64) {
	a.Sleep(t - a.engine.clock)
}

// Kill terminates the actor the next time it would run. Its owned activity
// handles are abandoned. Killing a finished actor is a no-op.
func (a *Actor) Kill() {
	if a.finished || a.killed {
		return
	}
	a.killed = true
	if a.pending != nil {
		a.pending.cancelled = true
		a.pending = nil
	}
	if a.unpark != nil {
		a.unpark()
		a.unpark = nil
	}
	e := a.engine
	e.at(0, func() { e.dispatch(a) })
}

// Fatalf raises a fatal simulation error from within the actor. It does not
// return.
func (a *Actor) Fatalf(format string, args ...interface{}) {
	panic(errors.Errorf(format, args...))
}

func (a *Actor) Infof(format string, args ...interface{}) {
	flexcontext.WithVirtualTime(a.ctx, a.engine.clock).Infof(format, args...)
}

func (a *Actor) Debugf(format string, args ...interface{}) {
	flexcontext.WithVirtualTime(a.ctx, a.engine.clock).Debugf(format, args...)
}
