package platform

import (
	"fmt"

	"github.com/flexsimproject/flexsim/internal/simrt"
)

type GpuState int

const (
	GpuFree GpuState = iota
	GpuAllocated
)

// Gpu models one accelerator. A per-GPU mutex serialises allocation windows
// so overlapping kernels queue cleanly.
type Gpu struct {
	id              int
	processingSpeed float64
	state           GpuState
	utilization     float64
	engine          *simrt.Engine
	host            *simrt.Host
	mutex           *simrt.Mutex
	kernelId        int
}

func NewGpu(engine *simrt.Engine, id int, processingSpeed float64, host *simrt.Host) *Gpu {
	return &Gpu{
		id:              id,
		processingSpeed: processingSpeed,
		engine:          engine,
		host:            host,
		mutex:           engine.NewMutex(),
	}
}

func (g *Gpu) Id() int {
	return g.id
}

func (g *Gpu) ProcessingSpeed() float64 {
	return g.processingSpeed
}

func (g *Gpu) State() GpuState {
	return g.state
}

func (g *Gpu) Utilization() float64 {
	return g.utilization
}

// ExecAsync runs a kernel of the given FLOP count. The kernel actor queues on
// the GPU mutex, so a busy GPU delays the kernel rather than failing it.
func (g *Gpu) ExecAsync(flops float64) *simrt.Activity {
	activity := g.engine.ManualActivity()
	name := fmt.Sprintf("Kernel%d@GPU%d@%s", g.kernelId, g.id, g.host.Name())
	g.kernelId++
	g.engine.Spawn(name, g.host, func(a *simrt.Actor) {
		g.mutex.Lock(a)
		g.state = GpuAllocated
		g.utilization = 1.0
		duration := 0.0
		if g.processingSpeed > 0 {
			duration = flops / g.processingSpeed
		}
		a.Sleep(duration)
		g.utilization = 0.0
		g.state = GpuFree
		g.mutex.Unlock()
		activity.Complete()
	})
	return activity
}
