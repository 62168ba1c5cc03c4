package placement

import (
	"testing"

	"github.com/bastionhq/bastion/pkg/storage"
	"github.com/bastionhq/bastion/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, storage.Store) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewEngine(store), store
}

func addNode(t *testing.T, store storage.Store, node *types.Node) {
	t.Helper()
	require.NoError(t, store.CreateNode(node))
}

func addServer(t *testing.T, store storage.Store, nodeID string, memMB, diskMB int64) {
	t.Helper()
	require.NoError(t, store.CreateServer(&types.Server{
		ID:       uuid.NewString(),
		NodeID:   nodeID,
		Name:     "srv",
		MemoryMB: memMB,
		DiskMB:   diskMB,
	}))
}

func TestSuggestNoNodesConfigured(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, _, err := engine.Suggest(types.ResourceRequest{MemoryMB: 1024, DiskMB: 10240})
	assert.ErrorIs(t, err, ErrNoNodes)
}

func TestSuggestInsufficientResources(t *testing.T) {
	engine, store := newTestEngine(t)
	addNode(t, store, &types.Node{
		ID: "node-a", Name: "a",
		MemoryMB: 512, DiskMB: 5120,
		AllocationCount: 10,
	})

	_, _, err := engine.Suggest(types.ResourceRequest{MemoryMB: 1024, DiskMB: 1024})
	assert.ErrorIs(t, err, ErrInsufficientResources)
}

func TestSuggestMaintenanceExcluded(t *testing.T) {
	engine, store := newTestEngine(t)
	addNode(t, store, &types.Node{
		ID: "node-a", Name: "a",
		MemoryMB: 8192, DiskMB: 81920,
		AllocationCount: 10,
		Maintenance:     true,
	})

	// The only capable node is in maintenance: nodes exist, none fit
	_, _, err := engine.Suggest(types.ResourceRequest{MemoryMB: 1024, DiskMB: 10240})
	assert.ErrorIs(t, err, ErrInsufficientResources)
}

func TestSuggestExactBoundary(t *testing.T) {
	engine, store := newTestEngine(t)
	addNode(t, store, &types.Node{
		ID: "node-a", Name: "a",
		MemoryMB: 4096, DiskMB: 40960,
		AllocationCount: 10,
	})
	addServer(t, store, "node-a", 3072, 0)

	// availableMemory is exactly 1024: a request of 1024 fits
	best, alternatives, err := engine.Suggest(types.ResourceRequest{MemoryMB: 1024, DiskMB: 1024})
	require.NoError(t, err)
	assert.Equal(t, "node-a", best.Node.ID)
	assert.Equal(t, 1024.0, best.AvailableMemoryMB)
	assert.True(t, best.CanFit)
	assert.Empty(t, alternatives)

	// One megabyte over the boundary does not
	_, _, err = engine.Suggest(types.ResourceRequest{MemoryMB: 1025, DiskMB: 1024})
	assert.ErrorIs(t, err, ErrInsufficientResources)
}

func TestSuggestOverallocation(t *testing.T) {
	engine, store := newTestEngine(t)
	addNode(t, store, &types.Node{
		ID: "node-a", Name: "a",
		MemoryMB: 1024, DiskMB: 10240,
		MemoryOverallocate: 100,
		AllocationCount:    10,
	})
	addServer(t, store, "node-a", 1024, 1024)

	// Declared memory is fully committed, but 100% over-allocation
	// doubles the effective capacity.
	best, _, err := engine.Suggest(types.ResourceRequest{MemoryMB: 1024, DiskMB: 1024})
	require.NoError(t, err)
	assert.Equal(t, 1024.0, best.AvailableMemoryMB)
	assert.True(t, best.CanFit)
}

func TestSuggestNegativeOverallocationDisablesCap(t *testing.T) {
	engine, store := newTestEngine(t)
	addNode(t, store, &types.Node{
		ID: "node-a", Name: "a",
		MemoryMB: 1024, DiskMB: 10240,
		MemoryOverallocate: -1,
		AllocationCount:    10,
	})
	addServer(t, store, "node-a", 4096, 1024)

	// Memory is overcommitted fourfold, but the cap is disabled
	best, _, err := engine.Suggest(types.ResourceRequest{MemoryMB: 8192, DiskMB: 1024})
	require.NoError(t, err)
	assert.True(t, best.CanFit)
}

func TestSuggestRequiresFreeAllocation(t *testing.T) {
	engine, store := newTestEngine(t)
	addNode(t, store, &types.Node{
		ID: "node-a", Name: "a",
		MemoryMB: 8192, DiskMB: 81920,
		AllocationCount: 5,
		AllocatedCount:  5,
	})

	_, _, err := engine.Suggest(types.ResourceRequest{MemoryMB: 1024, DiskMB: 1024})
	assert.ErrorIs(t, err, ErrInsufficientResources)
}

func TestSuggestPrefersMostHeadroom(t *testing.T) {
	engine, store := newTestEngine(t)
	addNode(t, store, &types.Node{
		ID: "node-a", Name: "crowded",
		MemoryMB: 8192, DiskMB: 81920,
		AllocationCount: 10,
	})
	addNode(t, store, &types.Node{
		ID: "node-b", Name: "empty",
		MemoryMB: 8192, DiskMB: 81920,
		AllocationCount: 10,
	})
	addServer(t, store, "node-a", 6144, 20480)

	best, alternatives, err := engine.Suggest(types.ResourceRequest{MemoryMB: 1024, DiskMB: 10240})
	require.NoError(t, err)
	assert.Equal(t, "node-b", best.Node.ID)
	require.Len(t, alternatives, 1)
	assert.Equal(t, "node-a", alternatives[0].Node.ID)
	assert.Greater(t, best.Score, alternatives[0].Score)
}

func TestSuggestOnlyFittingNodeWins(t *testing.T) {
	engine, store := newTestEngine(t)
	addNode(t, store, &types.Node{
		ID: "node-a", Name: "full",
		MemoryMB: 2048, DiskMB: 20480,
		AllocationCount: 10,
	})
	addNode(t, store, &types.Node{
		ID: "node-b", Name: "roomy",
		MemoryMB: 8192, DiskMB: 81920,
		AllocationCount: 10,
	})
	addServer(t, store, "node-a", 1536, 15360)

	best, alternatives, err := engine.Suggest(types.ResourceRequest{MemoryMB: 1024, DiskMB: 10240})
	require.NoError(t, err)
	assert.Equal(t, "node-b", best.Node.ID)
	assert.Empty(t, alternatives)
}

func TestSuggestDeterministicOrdering(t *testing.T) {
	engine, store := newTestEngine(t)
	for _, id := range []string{"node-a", "node-b", "node-c"} {
		addNode(t, store, &types.Node{
			ID: id, Name: id,
			MemoryMB: 8192, DiskMB: 81920,
			AllocationCount: 10,
		})
	}

	req := types.ResourceRequest{MemoryMB: 1024, DiskMB: 10240}
	best1, alts1, err := engine.Suggest(req)
	require.NoError(t, err)
	best2, alts2, err := engine.Suggest(req)
	require.NoError(t, err)

	// Identical snapshot, identical answer. Scores tie, so the sort
	// keeps the store's iteration order.
	assert.Equal(t, best1.Node.ID, best2.Node.ID)
	assert.Equal(t, "node-a", best1.Node.ID)
	require.Len(t, alts1, 2)
	require.Len(t, alts2, 2)
	for i := range alts1 {
		assert.Equal(t, alts1[i].Node.ID, alts2[i].Node.ID)
	}
}

func TestSuggestCapsAlternatives(t *testing.T) {
	engine, store := newTestEngine(t)
	for _, id := range []string{"node-a", "node-b", "node-c", "node-d"} {
		addNode(t, store, &types.Node{
			ID: id, Name: id,
			MemoryMB: 8192, DiskMB: 81920,
			AllocationCount: 10,
		})
	}

	_, alternatives, err := engine.Suggest(types.ResourceRequest{MemoryMB: 1024, DiskMB: 10240})
	require.NoError(t, err)
	assert.Len(t, alternatives, 2)
}
