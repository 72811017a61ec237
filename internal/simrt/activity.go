package simrt

// Activity is a handle to an asynchronous simulated operation (a computation,
// transfer or disk access in flight). Actors wait on it; abandoned handles
// complete silently.
type Activity struct {
	engine  *Engine
	done    bool
	waiters []*Actor
	onDone  func()
}

func (e *Engine) newActivity() *Activity {
	return &Activity{engine: e}
}

// TimedActivity starts an activity completing after the given virtual
// duration. onStart runs immediately, onDone when the activity completes.
func (e *Engine) TimedActivity(duration float64, onStart func(), onDone func()) *Activity {
	ac := e.newActivity()
	ac.onDone = onDone
	if onStart != nil {
		onStart()
	}
	e.at(duration, ac.complete)
	return ac
}

// ManualActivity returns an activity completed explicitly via Complete.
func (e *Engine) ManualActivity() *Activity {
	return e.newActivity()
}

func (ac *Activity) Complete() {
	ac.complete()
}

func (ac *Activity) complete() {
	if ac.done {
		return
	}
	ac.done = true
	if ac.onDone != nil {
		ac.onDone()
	}
	waiters := ac.waiters
	ac.waiters = nil
	e := ac.engine
	for _, w := range waiters {
		w := w
		w.unpark = nil
		e.at(0, func() { e.dispatch(w) })
	}
}

func (ac *Activity) Done() bool {
	return ac.done
}

// Wait suspends the calling actor until the activity completes.
func (ac *Activity) Wait(a *Actor) {
	if ac.done {
		return
	}
	ac.waiters = append(ac.waiters, a)
	a.parkOn(func() { ac.removeWaiter(a) })
}

// WaitAll waits for every activity in order.
func WaitAll(a *Actor, activities []*Activity) {
	for _, ac := range activities {
		ac.Wait(a)
	}
}

func (ac *Activity) removeWaiter(a *Actor) {
	for i, w := range ac.waiters {
		if w == a {
			ac.waiters = append(ac.waiters[:i], ac.waiters[i+1:]...)
			return
		}
	}
}
