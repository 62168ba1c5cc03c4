package storage

import (
	"testing"
	"time"

	"github.com/bastionhq/bastion/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()

	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNodeCRUD(t *testing.T) {
	store := newTestStore(t)

	node := &types.Node{
		ID:              "node-1",
		Name:            "us-east-1",
		Secret:          "s3cret",
		MemoryMB:        8192,
		DiskMB:          102400,
		AllocationCount: 10,
		Status:          types.NodeStatusOffline,
		CreatedAt:       time.Now(),
	}

	require.NoError(t, store.CreateNode(node))

	got, err := store.GetNode("node-1")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", got.Name)
	assert.Equal(t, int64(8192), got.MemoryMB)

	got.Status = types.NodeStatusOnline
	require.NoError(t, store.UpdateNode(got))

	got, err = store.GetNode("node-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOnline, got.Status)

	nodes, err := store.ListNodes()
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	require.NoError(t, store.DeleteNode("node-1"))
	_, err = store.GetNode("node-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListServersByNode(t *testing.T) {
	store := newTestStore(t)

	servers := []*types.Server{
		{ID: "srv-1", NodeID: "node-a", Name: "minecraft"},
		{ID: "srv-2", NodeID: "node-a", Name: "valheim"},
		{ID: "srv-3", NodeID: "node-b", Name: "rust"},
	}
	for _, srv := range servers {
		require.NoError(t, store.CreateServer(srv))
	}

	onA, err := store.ListServersByNode("node-a")
	require.NoError(t, err)
	assert.Len(t, onA, 2)

	onB, err := store.ListServersByNode("node-b")
	require.NoError(t, err)
	assert.Len(t, onB, 1)
	assert.Equal(t, "rust", onB[0].Name)

	none, err := store.ListServersByNode("node-c")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScheduleActiveFiltering(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateSchedule(&types.Schedule{
		ID: "sch-1", ServerID: "srv-1", Cron: "0 0 * * *",
		Action: types.ScheduleActionBackup, IsActive: true,
	}))
	require.NoError(t, store.CreateSchedule(&types.Schedule{
		ID: "sch-2", ServerID: "srv-1", Cron: "*/5 * * * *",
		Action: types.ScheduleActionCommand, IsActive: false,
	}))

	active, err := store.ListActiveSchedules()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "sch-1", active[0].ID)

	byServer, err := store.ListSchedulesByServer("srv-1")
	require.NoError(t, err)
	assert.Len(t, byServer, 2)
}

func TestScheduleExecutionBookkeeping(t *testing.T) {
	store := newTestStore(t)

	sch := &types.Schedule{
		ID: "sch-1", ServerID: "srv-1", Cron: "0 0 * * *",
		Action: types.ScheduleActionPower, IsActive: true,
	}
	require.NoError(t, store.CreateSchedule(sch))

	sch.LastRun = time.Now()
	sch.RunCount = 1
	sch.LastError = "daemon not connected"
	require.NoError(t, store.UpdateSchedule(sch))

	got, err := store.GetSchedule("sch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RunCount)
	assert.Equal(t, "daemon not connected", got.LastError)
	assert.False(t, got.LastRun.IsZero())
}

func TestBackupRecords(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateBackup(&types.Backup{
		ID: "bak-1", ServerID: "srv-1", Name: "nightly",
	}))
	require.NoError(t, store.CreateBackup(&types.Backup{
		ID: "bak-2", ServerID: "srv-2", Name: "nightly",
	}))

	backups, err := store.ListBackupsByServer("srv-1")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, "bak-1", backups[0].ID)

	backups[0].SizeBytes = 1 << 20
	require.NoError(t, store.UpdateBackup(backups[0]))

	got, err := store.GetBackup("bak-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), got.SizeBytes)
}
