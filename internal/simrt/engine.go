package simrt

import (
	"container/heap"

	"github.com/pkg/errors"

	"github.com/flexsimproject/flexsim/internal/common/flexcontext"
)

// Engine is a single-threaded cooperative discrete-event engine over virtual
// time. All actors run in turn; at most one actor executes at any moment and
// control returns to the engine only at explicit suspension points (sleeps,
// mailbox receives, barrier waits, activity waits, contended mutexes).
type Engine struct {
	// Current virtual time in seconds.
	clock float64
	// Sequence number of the next event to be scheduled.
	sequenceNumber int
	// Events stored in a priority queue ordered first by timestamp and second by sequence number.
	events eventLog
	// Handed a token by the running actor when it suspends or terminates.
	yield chan struct{}
	// All actors ever spawned. Finished actors stay in the slice.
	actors []*Actor
	// First fatal error raised by an actor. Terminates the run.
	failure error

	hosts     map[string]*Host
	hostOrder []*Host
	links     map[string]*Link
	linkOrder []*Link
	mailboxes map[string]*Mailbox

	ctx *flexcontext.Context
}

func NewEngine(ctx *flexcontext.Context) *Engine {
	return &Engine{
		yield:     make(chan struct{}),
		hosts:     make(map[string]*Host),
		links:     make(map[string]*Link),
		mailboxes: make(map[string]*Mailbox),
		ctx:       ctx,
	}
}

// Now returns the current virtual time in seconds.
func (e *Engine) Now() float64 {
	return e.clock
}

func (e *Engine) at(delay float64, fire func()) *event {
	if delay < 0 {
		delay = 0
	}
	ev := &event{
		time:           e.clock + delay,
		sequenceNumber: e.sequenceNumber,
		fire:           fire,
	}
	e.sequenceNumber++
	heap.Push(&e.events, ev)
	return ev
}

// Run processes events until the log drains or an actor fails. It then kills
// any still-live actors (daemons and killed jobs' leftovers) so their
// goroutines unwind.
func (e *Engine) Run() error {
	for e.events.Len() > 0 && e.failure == nil {
		ev := heap.Pop(&e.events).(*event)
		if ev.cancelled {
			continue
		}
		e.clock = ev.time
		ev.fire()
	}
	e.shutdown()
	return e.failure
}

// shutdown unwinds every unfinished actor.
func (e *Engine) shutdown() {
	for _, a := range e.actors {
		if a.finished {
			continue
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
		a.resume <- struct{}{}
		<-e.yield
	}
}

// fail records the first fatal condition. The run stops before the next event.
func (e *Engine) fail(err error) {
	if e.failure == nil {
		e.failure = err
	}
}

func (e *Engine) dispatch(a *Actor) {
	if a.finished {
		return
	}
	a.pending = nil
	a.resume <- struct{}{}
	<-e.yield
}

// NewHost registers a host with the given processing speed in FLOP/s and
// free-form properties.
func (e *Engine) NewHost(name string, speed float64, properties map[string]string) (*Host, error) {
	if _, ok := e.hosts[name]; ok {
		return nil, errors.Errorf("duplicate host %s", name)
	}
	h := &Host{engine: e, name: name, speed: speed, properties: properties}
	e.hosts[name] = h
	e.hostOrder = append(e.hostOrder, h)
	return h, nil
}

func (e *Engine) HostByName(name string) (*Host, error) {
	if h, ok := e.hosts[name]; ok {
		return h, nil
	}
	return nil, errors.Errorf("unknown host %s", name)
}

func (e *Engine) Hosts() []*Host {
	return e.hostOrder
}

// NewLink registers a network link with the given bandwidth in bytes/s.
func (e *Engine) NewLink(name string, bandwidth float64) (*Link, error) {
	if _, ok := e.links[name]; ok {
		return nil, errors.Errorf("duplicate link %s", name)
	}
	l := &Link{name: name, bandwidth: bandwidth}
	e.links[name] = l
	e.linkOrder = append(e.linkOrder, l)
	return l, nil
}

func (e *Engine) LinkByName(name string) (*Link, error) {
	if l, ok := e.links[name]; ok {
		return l, nil
	}
	return nil, errors.Errorf("unknown link %s", name)
}

func (e *Engine) Links() []*Link {
	return e.linkOrder
}

// MailboxByName returns the mailbox registered under name, creating it on
// first use. Messages between two actors over a given mailbox are FIFO.
func (e *Engine) MailboxByName(name string) *Mailbox {
	if m, ok := e.mailboxes[name]; ok {
		return m
	}
	m := &Mailbox{engine: e, name: name}
	e.mailboxes[name] = m
	return m
}
