package simrt

// Mailbox is a named FIFO message queue between actors. Puts never block;
// gets suspend the caller until a message arrives.
type Mailbox struct {
	engine  *Engine
	name    string
	queue   []any
	getters []*Actor
}

func (m *Mailbox) Name() string {
	return m.name
}

// Put delivers a message. If an actor is blocked on Get it is woken at the
// current virtual time; otherwise the message is queued.
func (m *Mailbox) Put(v any) {
	if len(m.getters) > 0 {
		g := m.getters[0]
		m.getters = m.getters[1:]
		g.unpark = nil
		g.wakeValue = v
		e := m.engine
		e.at(0, func() { e.dispatch(g) })
		return
	}
	m.queue = append(m.queue, v)
}

// Get returns the next message, suspending the calling actor if none is
// queued.
func (m *Mailbox) Get(a *Actor) any {
	if len(m.queue) > 0 {
		v := m.queue[0]
		m.queue = m.queue[1:]
		return v
	}
	m.getters = append(m.getters, a)
	a.parkOn(func() { m.removeGetter(a) })
	v := a.wakeValue
	a.wakeValue = nil
	return v
}

func (m *Mailbox) removeGetter(a *Actor) {
	for i, g := range m.getters {
		if g == a {
			m.getters = append(m.getters[:i], m.getters[i+1:]...)
			return
		}
	}
}
