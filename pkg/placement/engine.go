package placement

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/metrics"
	"github.com/bastionhq/bastion/pkg/storage"
	"github.com/bastionhq/bastion/pkg/types"
	"github.com/rs/zerolog"
)

var (
	// ErrNoNodes indicates no nodes are configured at all
	ErrNoNodes = errors.New("no nodes configured")

	// ErrInsufficientResources indicates nodes exist but none can fit
	// the request
	ErrInsufficientResources = errors.New("no nodes have sufficient resources")
)

// Scoring weights. Memory slack and load spreading dominate; disk and
// port headroom act as tie-breakers.
const (
	weightMemory      = 0.3
	weightDisk        = 0.2
	weightAllocations = 0.2
	weightSpread      = 0.3
)

// maxAlternatives is how many runner-up candidates a suggestion carries
const maxAlternatives = 2

// Engine ranks nodes for new server placement. It is a pure function
// over a snapshot of the store: given identical nodes and servers it
// always produces the same ordering.
type Engine struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewEngine creates a placement engine
func NewEngine(store storage.Store) *Engine {
	return &Engine{
		store:  store,
		logger: log.WithComponent("placement"),
	}
}

// Suggest computes the best node for the request plus up to two ranked
// alternatives. Nodes in maintenance are excluded; candidates are sorted
// descending by score with ties broken by store order.
func (e *Engine) Suggest(req types.ResourceRequest) (*types.Candidate, []types.Candidate, error) {
	nodes, err := e.store.ListNodes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	if len(nodes) == 0 {
		metrics.PlacementRequestsTotal.WithLabelValues("no_nodes").Inc()
		return nil, nil, ErrNoNodes
	}

	var fitting []types.Candidate
	for _, node := range nodes {
		if node.Maintenance {
			continue
		}

		cand, err := e.evaluate(node, req)
		if err != nil {
			return nil, nil, err
		}
		if cand.CanFit {
			fitting = append(fitting, cand)
		}
	}

	if len(fitting) == 0 {
		metrics.PlacementRequestsTotal.WithLabelValues("insufficient").Inc()
		return nil, nil, ErrInsufficientResources
	}

	sort.SliceStable(fitting, func(i, j int) bool {
		return fitting[i].Score > fitting[j].Score
	})

	best := fitting[0]
	alternatives := fitting[1:]
	if len(alternatives) > maxAlternatives {
		alternatives = alternatives[:maxAlternatives]
	}

	metrics.PlacementRequestsTotal.WithLabelValues("placed").Inc()
	e.logger.Debug().
		Str("node_id", best.Node.ID).
		Float64("score", best.Score).
		Int64("memory_mb", req.MemoryMB).
		Int64("disk_mb", req.DiskMB).
		Msg("placement suggested")

	return &best, alternatives, nil
}

// evaluate computes one node's candidate against the request
func (e *Engine) evaluate(node *types.Node, req types.ResourceRequest) (types.Candidate, error) {
	servers, err := e.store.ListServersByNode(node.ID)
	if err != nil {
		return types.Candidate{}, fmt.Errorf("failed to list servers on node %s: %w", node.ID, err)
	}

	var usedMemory, usedDisk int64
	for _, srv := range servers {
		usedMemory += srv.MemoryMB
		usedDisk += srv.DiskMB
	}

	memCapacity, memUncapped := capacityWithSlack(node.MemoryMB, node.MemoryOverallocate)
	diskCapacity, diskUncapped := capacityWithSlack(node.DiskMB, node.DiskOverallocate)

	cand := types.Candidate{
		Node:                 node,
		AvailableMemoryMB:    memCapacity - float64(usedMemory),
		AvailableDiskMB:      diskCapacity - float64(usedDisk),
		AvailableAllocations: node.AllocationCount - node.AllocatedCount,
		ServerCount:          len(servers),
	}

	memFits := memUncapped || cand.AvailableMemoryMB >= float64(req.MemoryMB)
	diskFits := diskUncapped || cand.AvailableDiskMB >= float64(req.DiskMB)
	cand.CanFit = memFits && diskFits && cand.AvailableAllocations > 0

	if cand.CanFit {
		allocDenom := float64(max(node.AllocationCount, 1))
		cand.Score = weightMemory*ratio(cand.AvailableMemoryMB, float64(node.MemoryMB)) +
			weightDisk*ratio(cand.AvailableDiskMB, float64(node.DiskMB)) +
			weightAllocations*float64(cand.AvailableAllocations)/allocDenom +
			weightSpread*(1-float64(cand.ServerCount)/allocDenom)
	}

	return cand, nil
}

// capacityWithSlack applies the over-allocation percentage to a declared
// capacity. A negative percentage disables the cap entirely: the raw
// capacity is still reported for scoring, but fit checks are skipped.
func capacityWithSlack(capacityMB int64, overallocPct int) (float64, bool) {
	if overallocPct < 0 {
		return float64(capacityMB), true
	}
	return float64(capacityMB) * (1 + float64(overallocPct)/100), false
}

func ratio(available, capacity float64) float64 {
	if capacity <= 0 {
		return 0
	}
	return available / capacity
}
