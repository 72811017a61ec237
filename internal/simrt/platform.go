package simrt

// Host is a simulated machine with a processing speed in FLOP/s and free-form
// string properties taken from the platform description.
type Host struct {
	engine     *Engine
	name       string
	speed      float64
	properties map[string]string
	// Aggregate FLOP/s currently being consumed by executions on this host.
	load float64
}

func (h *Host) Name() string {
	return h.name
}

func (h *Host) Speed() float64 {
	return h.speed
}

// Property returns the named host property, or "" if unset.
func (h *Host) Property(key string) string {
	return h.properties[key]
}

// Load returns the FLOP/s currently consumed on this host.
func (h *Host) Load() float64 {
	return h.load
}

// ExecAsync starts a computation of the given FLOP count at full host speed.
func (h *Host) ExecAsync(flops float64) *Activity {
	duration := 0.0
	if h.speed > 0 {
		duration = flops / h.speed
	}
	return h.engine.TimedActivity(duration,
		func() { h.load += h.speed },
		func() { h.load -= h.speed },
	)
}

// Exec runs a computation synchronously.
func (h *Host) Exec(a *Actor, flops float64) {
	h.ExecAsync(flops).Wait(a)
}

// Link is a simulated network link with a bandwidth in bytes/s.
type Link struct {
	name      string
	bandwidth float64
	// Aggregate bytes/s currently crossing the link.
	load float64
}

func (l *Link) Name() string {
	return l.name
}

func (l *Link) Bandwidth() float64 {
	return l.bandwidth
}

func (l *Link) Load() float64 {
	return l.load
}

// Disk is a simulated storage device with separate read and write bandwidths
// in bytes/s.
type Disk struct {
	engine  *Engine
	name    string
	readBw  float64
	writeBw float64
}

func (e *Engine) NewDisk(name string, readBw, writeBw float64) *Disk {
	return &Disk{engine: e, name: name, readBw: readBw, writeBw: writeBw}
}

func (d *Disk) Name() string {
	return d.name
}

func (d *Disk) ReadAsync(bytes float64) *Activity {
	duration := 0.0
	if d.readBw > 0 {
		duration = bytes / d.readBw
	}
	return d.engine.TimedActivity(duration, nil, nil)
}

func (d *Disk) Read(a *Actor, bytes float64) {
	d.ReadAsync(bytes).Wait(a)
}

func (d *Disk) WriteAsync(bytes float64) *Activity {
	duration := 0.0
	if d.writeBw > 0 {
		duration = bytes / d.writeBw
	}
	return d.engine.TimedActivity(duration, nil, nil)
}

func (d *Disk) Write(a *Actor, bytes float64) {
	d.WriteAsync(bytes).Wait(a)
}

// ParallelExecAsync starts a coupled computation/communication across hosts:
// flops[i] FLOPs on hosts[i] plus a payload matrix bytes[i*n+j] of bytes sent
// from hosts[i] to hosts[j]. The duration is the maximum of the slowest
// per-host computation and the total transfer over the narrowest involved
// link. While in flight the transfer load is attributed to links.
func (e *Engine) ParallelExecAsync(hosts []*Host, flops []float64, bytes []float64, links []*Link) *Activity {
	maxCompute := 0.0
	for i, h := range hosts {
		if i < len(flops) && h.speed > 0 {
			if d := flops[i] / h.speed; d > maxCompute {
				maxCompute = d
			}
		}
	}
	totalBytes := 0.0
	for _, b := range bytes {
		totalBytes += b
	}
	commTime := 0.0
	if totalBytes > 0 {
		bandwidth := 0.0
		for _, l := range links {
			if bandwidth == 0 || l.bandwidth < bandwidth {
				bandwidth = l.bandwidth
			}
		}
		if bandwidth > 0 {
			commTime = totalBytes / bandwidth
		}
	}
	duration := maxCompute
	if commTime > duration {
		duration = commTime
	}
	var rate float64
	if duration > 0 {
		rate = totalBytes / duration
	}
	return e.TimedActivity(duration,
		func() {
			for i, h := range hosts {
				if i < len(flops) && flops[i] > 0 {
					h.load += h.speed
				}
			}
			for _, l := range links {
				l.load += rate
			}
		},
		func() {
			for i, h := range hosts {
				if i < len(flops) && flops[i] > 0 {
					h.load -= h.speed
				}
			}
			for _, l := range links {
				l.load -= rate
			}
		},
	)
}

// ParallelExec runs a coupled computation/communication synchronously.
func (e *Engine) ParallelExec(a *Actor, hosts []*Host, flops []float64, bytes []float64, links []*Link) {
	e.ParallelExecAsync(hosts, flops, bytes, links).Wait(a)
}
