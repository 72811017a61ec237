package platform

import (
	"github.com/pkg/errors"

	"github.com/flexsimproject/flexsim/internal/simrt"
)

// Manager owns the compute nodes and the PFS link aggregation. It is passed
// by explicit reference to the actors that need it.
type Manager struct {
	nodes      []*Node
	masterHost *simrt.Host

	pfsReadLinks      []*simrt.Link
	pfsWriteLinks     []*simrt.Link
	pfsReadBandwidth  float64
	pfsWriteBandwidth float64
	// Links carrying inter-node application traffic (everything that is not a
	// PFS link).
	computeLinks []*simrt.Link
}

func NewManager(nodes []*Node, masterHost *simrt.Host,
	pfsReadLinks, pfsWriteLinks, computeLinks []*simrt.Link,
) *Manager {
	m := &Manager{
		nodes:         nodes,
		masterHost:    masterHost,
		pfsReadLinks:  pfsReadLinks,
		pfsWriteLinks: pfsWriteLinks,
		computeLinks:  computeLinks,
	}
	for _, link := range pfsReadLinks {
		m.pfsReadBandwidth += link.Bandwidth()
	}
	for _, link := range pfsWriteLinks {
		m.pfsWriteBandwidth += link.Bandwidth()
	}
	return m
}

// ComputeNodes returns all nodes, ordered by id.
func (m *Manager) ComputeNodes() []*Node {
	return m.nodes
}

func (m *Manager) NodeById(id int) (*Node, error) {
	if id < 0 || id >= len(m.nodes) {
		return nil, errors.Errorf("unknown node id %d", id)
	}
	return m.nodes[id], nil
}

func (m *Manager) MasterHost() *simrt.Host {
	return m.masterHost
}

func (m *Manager) PfsReadLinks() []*simrt.Link {
	return m.pfsReadLinks
}

func (m *Manager) PfsWriteLinks() []*simrt.Link {
	return m.pfsWriteLinks
}

func (m *Manager) ComputeLinks() []*simrt.Link {
	return m.computeLinks
}

func (m *Manager) PfsReadBandwidth() float64 {
	return m.pfsReadBandwidth
}

func (m *Manager) PfsWriteBandwidth() float64 {
	return m.pfsWriteBandwidth
}

// PfsReadUtilization returns the traffic currently crossing the PFS read
// links in bytes/s.
func (m *Manager) PfsReadUtilization() float64 {
	total := 0.0
	for _, link := range m.pfsReadLinks {
		total += link.Load()
	}
	return total
}

// PfsWriteUtilization returns the traffic currently crossing the PFS write
// links in bytes/s.
func (m *Manager) PfsWriteUtilization() float64 {
	total := 0.0
	for _, link := range m.pfsWriteLinks {
		total += link.Load()
	}
	return total
}
