package workload

import (
	"strings"

	"github.com/pkg/errors"
)

// VectorPattern describes how a total size is distributed over ranks.
type VectorPattern int

const (
	AllRanks VectorPattern = iota
	RootOnly
	EvenRanks
	OddRanks
	Uniform
	Vector
)

func (p VectorPattern) String() string {
	switch p {
	case AllRanks:
		return "ALL_RANKS"
	case RootOnly:
		return "ROOT_ONLY"
	case EvenRanks:
		return "EVEN_RANKS"
	case OddRanks:
		return "ODD_RANKS"
	case Uniform:
		return "UNIFORM"
	case Vector:
		return "VECTOR"
	}
	return "UNKNOWN"
}

func ParseVectorPattern(pattern string) (VectorPattern, error) {
	switch strings.ToLower(pattern) {
	case "root_only":
		return RootOnly, nil
	case "all_ranks", "total":
		return AllRanks, nil
	case "even_ranks":
		return EvenRanks, nil
	case "odd_ranks":
		return OddRanks, nil
	case "uniform":
		return Uniform, nil
	case "vector":
		return Vector, nil
	}
	return 0, errors.Errorf("unknown vector pattern type %s", pattern)
}

// MatrixPattern describes how a total payload is distributed over
// sender/receiver pairs.
type MatrixPattern int

const (
	AllToAll MatrixPattern = iota
	Gather
	Scatter
	MasterWorker
	Ring
	RingClockwise
	RingCounterClockwise
	Matrix
)

func (p MatrixPattern) String() string {
	switch p {
	case AllToAll:
		return "ALL_TO_ALL"
	case Gather:
		return "GATHER"
	case Scatter:
		return "SCATTER"
	case MasterWorker:
		return "MASTER_WORKER"
	case Ring:
		return "RING"
	case RingClockwise:
		return "RING_CLOCKWISE"
	case RingCounterClockwise:
		return "RING_COUNTER_CLOCKWISE"
	case Matrix:
		return "MATRIX"
	}
	return "UNKNOWN"
}

func ParseMatrixPattern(pattern string) (MatrixPattern, error) {
	switch strings.ToLower(pattern) {
	case "all_to_all":
		return AllToAll, nil
	case "gather":
		return Gather, nil
	case "scatter":
		return Scatter, nil
	case "master_worker":
		return MasterWorker, nil
	case "ring":
		return Ring, nil
	case "ring_clockwise":
		return RingClockwise, nil
	case "ring_counter_clockwise":
		return RingCounterClockwise, nil
	case "matrix":
		return Matrix, nil
	}
	return 0, errors.Errorf("unknown matrix pattern type %s", pattern)
}

func euclideanMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// CreateVector distributes a total size over numNodes ranks according to the
// pattern.
func CreateVector(size float64, pattern VectorPattern, numNodes int) []float64 {
	sizes := make([]float64, numNodes)
	switch pattern {
	case Uniform:
		for i := range sizes {
			sizes[i] = size
		}
	case EvenRanks:
		participating := numNodes / 2
		if numNodes%2 != 0 {
			participating = numNodes/2 + 1
		}
		sizePerNode := size / float64(participating)
		for i := 0; i < numNodes; i += 2 {
			sizes[i] = sizePerNode
		}
	case OddRanks:
		participating := numNodes / 2
		sizePerNode := size / float64(participating)
		for i := 1; i < numNodes; i += 2 {
			sizes[i] = sizePerNode
		}
	case RootOnly:
		sizes[0] = size
	case AllRanks:
		sizePerNode := size / float64(numNodes)
		for i := range sizes {
			sizes[i] = sizePerNode
		}
	}
	return sizes
}

// CreateMatrix distributes a total payload over a numNodes x numNodes
// sender/receiver matrix according to the pattern.
func CreateMatrix(size float64, pattern MatrixPattern, numNodes int) ([]float64, error) {
	if numNodes == 1 {
		return []float64{0}, nil
	}
	sizes := make([]float64, numNodes*numNodes)
	switch pattern {
	case AllToAll:
		payload := size / float64(numNodes*numNodes-numNodes)
		for i := 0; i < numNodes; i++ {
			for j := 0; j < numNodes; j++ {
				if i == j {
					continue
				}
				sizes[i*numNodes+j] = payload
			}
		}
	case Gather:
		payload := size / float64(numNodes)
		for i := 1; i < numNodes; i++ {
			sizes[i*numNodes] = payload
		}
	case Scatter:
		payload := size / float64(numNodes)
		for i := 1; i < numNodes; i++ {
			sizes[i] = payload
		}
	case Ring:
		payload := size / float64(numNodes*2)
		for i := 0; i < numNodes; i++ {
			sizes[i*numNodes+euclideanMod(i-1, numNodes)] += payload
			sizes[i*numNodes+euclideanMod(i+1, numNodes)] += payload
		}
	case RingClockwise:
		payload := size / float64(numNodes)
		for i := 0; i < numNodes; i++ {
			sizes[i*numNodes+euclideanMod(i+1, numNodes)] += payload
		}
	case RingCounterClockwise:
		payload := size / float64(numNodes)
		for i := 0; i < numNodes; i++ {
			sizes[i*numNodes+euclideanMod(i-1, numNodes)] += payload
		}
	case MasterWorker:
		payload := size / (float64(numNodes-1) / 2)
		for i := 1; i < numNodes; i++ {
			sizes[i] = payload
			sizes[i*numNodes] = payload
		}
	default:
		return nil, errors.Errorf("unsupported communication pattern %s", pattern)
	}
	return sizes, nil
}

// CreateMatrices splits a total GPU payload into an intra-node (GPU to GPU)
// and an inter-node (node to node) matrix.
func CreateMatrices(size float64, pattern MatrixPattern, numNodes, numGpusPerNode int) ([]float64, []float64, error) {
	var intraNodeComSize, interNodeComSize float64
	numGpus := numNodes * numGpusPerNode
	switch {
	case numGpusPerNode == 1:
		intraNodeComSize = 0
		interNodeComSize = size
	case pattern == AllToAll:
		payloadPerCommunication := size / float64(numGpus*numGpus-numGpus)
		gpusToCommunicatePerNode := float64(numGpusPerNode - 1)
		intraNodeComSize = payloadPerCommunication * gpusToCommunicatePerNode * gpusToCommunicatePerNode
		interNodeComSize = payloadPerCommunication * float64(numNodes*numGpusPerNode-numGpusPerNode)
	case pattern == Ring:
		payloadPerCommunication := size / float64(numGpus*2)
		if numNodes == 1 {
			intraNodeComSize = payloadPerCommunication * float64(numGpusPerNode) * 2
		} else {
			intraNodeComSize = payloadPerCommunication * float64(numGpusPerNode-1) * 2
		}
		interNodeComSize = payloadPerCommunication * float64(numNodes) * 2
	case pattern == RingClockwise || pattern == RingCounterClockwise:
		payloadPerCommunication := size / float64(numGpus)
		if numNodes == 1 {
			intraNodeComSize = payloadPerCommunication * float64(numGpusPerNode)
		} else {
			intraNodeComSize = payloadPerCommunication * float64(numGpusPerNode-1)
		}
		interNodeComSize = payloadPerCommunication * float64(numNodes) * 2
	default:
		return nil, nil, errors.Errorf("unsupported GPU communication pattern %s", pattern)
	}
	intra, err := CreateMatrix(intraNodeComSize, pattern, numGpusPerNode)
	if err != nil {
		return nil, nil, err
	}
	inter, err := CreateMatrix(interNodeComSize, pattern, numNodes)
	if err != nil {
		return nil, nil, err
	}
	return intra, inter, nil
}
