package simrt

// event is a kernel-internal event.
type event struct {
	// Virtual time at which the event fires.
	time float64
	// Each event is assigned a sequence number.
	// Events with equal time are ordered by their sequence number.
	sequenceNumber int
	// Invoked when the event is popped from the log.
	fire func()
	// Cancelled events are skipped when popped.
	cancelled bool
	// Maintained by the heap.Interface methods.
	index int
}

type eventLog []*event

func (el eventLog) Len() int { return len(el) }

func (el eventLog) Less(i, j int) bool {
	if el[i].time == el[j].time {
		return el[i].sequenceNumber < el[j].sequenceNumber
	}
	return el[i].time < el[j].time
}

func (el eventLog) Swap(i, j int) {
	el[i], el[j] = el[j], el[i]
	el[i].index = i
	el[j].index = j
}

func (el *eventLog) Push(x any) {
	n := len(*el)
	item := x.(*event)
	item.index = n
	*el = append(*el, item)
}

func (el *eventLog) Pop() any {
	old := *el
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*el = old[0 : n-1]
	return item
}
