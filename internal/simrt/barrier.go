package simrt

// Barrier suspends arriving actors until arity of them have arrived, then
// releases all of them at the same virtual time instant.
type Barrier struct {
	engine  *Engine
	arity   int
	waiters []*Actor
}

func (e *Engine) NewBarrier(arity int) *Barrier {
	return &Barrier{engine: e, arity: arity}
}

func (b *Barrier) Arity() int {
	return b.arity
}

// Wait blocks the calling actor until the barrier trips. The last arriving
// actor does not suspend.
func (b *Barrier) Wait(a *Actor) {
	if b.arity <= 1 {
		return
	}
	if len(b.waiters)+1 >= b.arity {
		waiters := b.waiters
		b.waiters = nil
		e := b.engine
		for _, w := range waiters {
			w := w
			w.unpark = nil
			e.at(0, func() { e.dispatch(w) })
		}
		return
	}
	b.waiters = append(b.waiters, a)
	a.parkOn(func() { b.removeWaiter(a) })
}

func (b *Barrier) removeWaiter(a *Actor) {
	for i, w := range b.waiters {
		if w == a {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}
