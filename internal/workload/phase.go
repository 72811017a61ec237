package workload

// Phase is an ordered list of tasks iterated a bounded number of times.
type Phase struct {
	Tasks []*Task
	// Remaining iterations; decremented as the workload advances.
	Iterations int
	// Iteration count at load time, used for the phase_iteration token of
	// evolving models.
	InitialIterations int
	// The workload offers the scheduler a safe reconfiguration point between
	// iterations.
	SchedulingPoint bool
	// Whether a scheduling point in the last iteration of the last phase
	// still fires.
	FinalSchedulingPoint bool
	// All ranks synchronise on the job barrier once per iteration: before the
	// tasks of a main-phase iteration, after those of a one-time-phase iteration.
	Barrier bool
	// Size request formula evaluated between iterations of evolving and
	// adaptive jobs. Nil if absent.
	EvolvingModel *Formula
}

func (p *Phase) HasEvolvingModel() bool {
	return p.EvolvingModel != nil
}

// EvolvingRequest evaluates the phase's evolving model at the given phase
// iteration.
func (p *Phase) EvolvingRequest(numNodes, numGpusPerNode, phaseIteration int, runtimeArgs map[string]string) (int, error) {
	n, err := p.EvolvingModel.Evaluate(EvalScope{
		NumNodes:       numNodes,
		NumGpusPerNode: numGpusPerNode,
		PhaseIteration: &phaseIteration,
		RuntimeArgs:    runtimeArgs,
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (p *Phase) ScaleTo(numNodes, numGpusPerNode int, runtimeArgs map[string]string) error {
	for _, task := range p.Tasks {
		if err := task.ScaleTo(numNodes, numGpusPerNode, runtimeArgs); err != nil {
			return err
		}
	}
	return nil
}

// Workload is the application model of one job: up to three one-time phases
// plus the ordered main phases.
type Workload struct {
	InitPhase            *Phase
	ReconfigurationPhase *Phase
	ExpansionPhase       *Phase
	phases               []*Phase
	// Sum of main-phase iterations at load time.
	totalPhaseCount int
	// Iterations fully processed so far; monotonically increasing.
	completedPhases int
}

func NewWorkload(initPhase, reconfigurationPhase, expansionPhase *Phase, phases []*Phase) *Workload {
	w := &Workload{
		InitPhase:            initPhase,
		ReconfigurationPhase: reconfigurationPhase,
		ExpansionPhase:       expansionPhase,
		phases:               phases,
	}
	for _, phase := range phases {
		w.totalPhaseCount += phase.Iterations
	}
	return w
}

// Phases returns the live (not yet fully processed) main phases, front first.
func (w *Workload) Phases() []*Phase {
	return w.phases
}

func (w *Workload) TotalPhaseCount() int {
	return w.totalPhaseCount
}

func (w *Workload) CompletedPhases() int {
	return w.completedPhases
}

// Advance records workload progress reported by rank 0 at a safe point:
// phasesPopped fully processed phases are dropped and the front phase is left
// with remainingIterations. The completed counter is recomputed so that
// completedPhases plus all remaining iterations always equals the total.
func (w *Workload) Advance(phasesPopped, remainingIterations int) {
	if phasesPopped > len(w.phases) {
		phasesPopped = len(w.phases)
	}
	w.phases = w.phases[phasesPopped:]
	if len(w.phases) > 0 {
		w.phases[0].Iterations = remainingIterations
	}
	remaining := 0
	for _, phase := range w.phases {
		remaining += phase.Iterations
	}
	w.completedPhases = w.totalPhaseCount - remaining
}

// Complete marks the whole workload processed.
func (w *Workload) Complete() {
	w.phases = nil
	w.completedPhases = w.totalPhaseCount
}

// ScaleTo rescales all live main phases to a new configuration.
func (w *Workload) ScaleTo(numNodes, numGpusPerNode int, runtimeArgs map[string]string) error {
	for _, phase := range w.phases {
		if err := phase.ScaleTo(numNodes, numGpusPerNode, runtimeArgs); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workload) ScaleInitPhaseTo(numNodes, numGpusPerNode int, runtimeArgs map[string]string) error {
	if w.InitPhase == nil {
		return nil
	}
	return w.InitPhase.ScaleTo(numNodes, numGpusPerNode, runtimeArgs)
}

func (w *Workload) ScaleReconfigurationPhaseTo(numNodes, numGpusPerNode int, runtimeArgs map[string]string) error {
	if w.ReconfigurationPhase == nil {
		return nil
	}
	return w.ReconfigurationPhase.ScaleTo(numNodes, numGpusPerNode, runtimeArgs)
}

func (w *Workload) ScaleExpansionPhaseTo(numNodes, numGpusPerNode int, runtimeArgs map[string]string) error {
	if w.ExpansionPhase == nil {
		return nil
	}
	return w.ExpansionPhase.ScaleTo(numNodes, numGpusPerNode, runtimeArgs)
}
