package console

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/bastionhq/bastion/pkg/backend"
	"github.com/bastionhq/bastion/pkg/protocol"
	"github.com/bastionhq/bastion/pkg/storage"
	"github.com/bastionhq/bastion/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession records every event written to it
type fakeSession struct {
	id   string
	user Identity

	mu     sync.Mutex
	events []protocol.Event
}

func (s *fakeSession) ID() string     { return s.id }
func (s *fakeSession) User() Identity { return s.user }

func (s *fakeSession) Send(ctx context.Context, ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSession) received() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Event, len(s.events))
	copy(out, s.events)
	return out
}

// fakeBackend scripts backend responses and records calls
type fakeBackend struct {
	mu       sync.Mutex
	observer backend.Observer

	status   types.ServerStatus
	stats    *types.ServerStats
	powerErr error
	cmdErr   error

	commands []string
	powers   []types.PowerAction
}

func (b *fakeBackend) Power(ctx context.Context, serverID string, action types.PowerAction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.powerErr != nil {
		return b.powerErr
	}
	b.powers = append(b.powers, action)
	return nil
}

func (b *fakeBackend) SendCommand(ctx context.Context, serverID, command string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmdErr != nil {
		return b.cmdErr
	}
	b.commands = append(b.commands, command)
	return nil
}

func (b *fakeBackend) Status(ctx context.Context, serverID string) (types.ServerStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, nil
}

func (b *fakeBackend) Stats(ctx context.Context, serverID string) (*types.ServerStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats, nil
}

func (b *fakeBackend) Backup(ctx context.Context, serverID, backupID string) error  { return nil }
func (b *fakeBackend) CreateServer(ctx context.Context, server *types.Server) error { return nil }
func (b *fakeBackend) DeleteServer(ctx context.Context, serverID string) error      { return nil }
func (b *fakeBackend) InstallServer(ctx context.Context, serverID string) error     { return nil }

func (b *fakeBackend) AddObserver(obs backend.Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = obs
}

func newTestRelay(t *testing.T) (*Relay, *fakeBackend, storage.Store) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateServer(&types.Server{
		ID:      "srv-1",
		NodeID:  "node-1",
		OwnerID: "user-1",
		Name:    "lobby",
		Status:  types.ServerStatusOffline,
	}))

	exec := &fakeBackend{status: types.ServerStatusOnline}
	relay := NewRelay(store, exec, OwnerAuthorizer{}, nil, Config{})
	return relay, exec, store
}

func ownerSession(id string) *fakeSession {
	return &fakeSession{id: id, user: Identity{UserID: "user-1"}}
}

func TestSubscribeSendsConnectedAck(t *testing.T) {
	relay, _, _ := newTestRelay(t)
	session := ownerSession("sess-1")

	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", session))

	evs := session.received()
	require.Len(t, evs, 1)
	assert.Equal(t, protocol.EventConnected, evs[0].Type)
	require.NotNil(t, evs[0].Server)
	assert.Equal(t, "lobby", evs[0].Server.Name)
	assert.Equal(t, types.ServerStatusOffline, evs[0].Server.Status)
}

func TestSubscribeAuthorization(t *testing.T) {
	relay, _, _ := newTestRelay(t)

	stranger := &fakeSession{id: "sess-x", user: Identity{UserID: "user-2"}}
	err := relay.Subscribe(context.Background(), "srv-1", stranger)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, stranger.received())

	admin := &fakeSession{id: "sess-a", user: Identity{UserID: "user-2", Admin: true}}
	assert.NoError(t, relay.Subscribe(context.Background(), "srv-1", admin))
}

func TestSubscribeUnknownServer(t *testing.T) {
	relay, _, _ := newTestRelay(t)

	err := relay.Subscribe(context.Background(), "srv-missing", ownerSession("sess-1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOutputFanOutExactlyOnce(t *testing.T) {
	relay, exec, _ := newTestRelay(t)
	s1 := ownerSession("sess-1")
	s2 := ownerSession("sess-2")
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s1))
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s2))

	exec.observer.HandleOutput("srv-1", "[Server] Done (2.3s)!")

	for _, s := range []*fakeSession{s1, s2} {
		var outputs []protocol.Event
		for _, ev := range s.received() {
			if ev.Type == protocol.EventOutput {
				outputs = append(outputs, ev)
			}
		}
		require.Len(t, outputs, 1)
		assert.Equal(t, "[Server] Done (2.3s)!", outputs[0].Content)
	}
}

func TestInstallOutputBroadcastAsInstallEvents(t *testing.T) {
	relay, exec, _ := newTestRelay(t)
	s1 := ownerSession("sess-1")
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s1))

	exec.observer.HandleInstallOutput("srv-1", "Downloading server.jar")

	var installs []protocol.Event
	for _, ev := range s1.received() {
		if ev.Type == protocol.EventInstall {
			installs = append(installs, ev)
		}
	}
	require.Len(t, installs, 1)
	assert.Equal(t, "Downloading server.jar", installs[0].Content)
}

func TestUnsubscribeReleasesGroup(t *testing.T) {
	relay, exec, _ := newTestRelay(t)
	s1 := ownerSession("sess-1")
	s2 := ownerSession("sess-2")
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s1))
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s2))

	relay.Unsubscribe(s1)
	assert.Equal(t, []string{"srv-1"}, relay.watchedServers())

	relay.Unsubscribe(s2)
	assert.Empty(t, relay.watchedServers())

	// Events for a server nobody watches go nowhere
	before := len(s1.received())
	exec.observer.HandleOutput("srv-1", "ignored")
	assert.Len(t, s1.received(), before)

	// Unknown session is a no-op
	require.NotPanics(t, func() { relay.Unsubscribe(s1) })
}

func TestPowerBroadcastsTransitionalThenAuthoritative(t *testing.T) {
	relay, exec, store := newTestRelay(t)
	s1 := ownerSession("sess-1")
	s2 := ownerSession("sess-2")
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s1))
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s2))

	raw, _ := json.Marshal(protocol.ClientMessage{Type: protocol.ClientPower, Action: types.PowerStart})
	require.NoError(t, relay.HandleClientMessage(context.Background(), s1, raw))

	require.Len(t, exec.powers, 1)
	assert.Equal(t, types.PowerStart, exec.powers[0])

	// Both sessions see starting first, then the authoritative online
	for _, s := range []*fakeSession{s1, s2} {
		var statuses []types.ServerStatus
		for _, ev := range s.received() {
			if ev.Type == protocol.EventStatus {
				statuses = append(statuses, ev.Status)
			}
		}
		assert.Equal(t, []types.ServerStatus{types.ServerStatusStarting, types.ServerStatusOnline}, statuses)
	}

	// Authoritative status was persisted
	server, err := store.GetServer("srv-1")
	require.NoError(t, err)
	assert.Equal(t, types.ServerStatusOnline, server.Status)
}

func TestPowerErrorBroadcast(t *testing.T) {
	relay, exec, _ := newTestRelay(t)
	exec.powerErr = errors.New("daemon not connected")
	s1 := ownerSession("sess-1")
	s2 := ownerSession("sess-2")
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s1))
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s2))

	raw, _ := json.Marshal(protocol.ClientMessage{Type: protocol.ClientPower, Action: types.PowerStop})
	err := relay.HandleClientMessage(context.Background(), s1, raw)
	require.Error(t, err)

	// The error reaches every session, not just the sender
	for _, s := range []*fakeSession{s1, s2} {
		var sawError bool
		for _, ev := range s.received() {
			if ev.Type == protocol.EventError {
				sawError = true
				assert.Contains(t, ev.Message, "daemon not connected")
			}
		}
		assert.True(t, sawError)
	}
}

func TestPowerRejectsUnknownAction(t *testing.T) {
	relay, exec, _ := newTestRelay(t)
	s1 := ownerSession("sess-1")
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s1))

	raw, _ := json.Marshal(protocol.ClientMessage{Type: protocol.ClientPower, Action: "explode"})
	err := relay.HandleClientMessage(context.Background(), s1, raw)
	require.Error(t, err)
	assert.Empty(t, exec.powers)
}

func TestCommandForwarded(t *testing.T) {
	relay, exec, _ := newTestRelay(t)
	s1 := ownerSession("sess-1")
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s1))

	raw, _ := json.Marshal(protocol.ClientMessage{Type: protocol.ClientCommand, Command: "save-all"})
	require.NoError(t, relay.HandleClientMessage(context.Background(), s1, raw))
	assert.Equal(t, []string{"save-all"}, exec.commands)
}

func TestCommandWhileStopped(t *testing.T) {
	relay, exec, _ := newTestRelay(t)
	exec.cmdErr = backend.ErrServerNotRunning
	s1 := ownerSession("sess-1")
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s1))

	raw, _ := json.Marshal(protocol.ClientMessage{Type: protocol.ClientCommand, Command: "say hi"})
	err := relay.HandleClientMessage(context.Background(), s1, raw)
	assert.ErrorIs(t, err, backend.ErrServerNotRunning)

	evs := s1.received()
	last := evs[len(evs)-1]
	assert.Equal(t, protocol.EventError, last.Type)
}

func TestStatsAnswersRequesterOnly(t *testing.T) {
	relay, exec, _ := newTestRelay(t)
	exec.stats = &types.ServerStats{CPUPercent: 12.5}
	s1 := ownerSession("sess-1")
	s2 := ownerSession("sess-2")
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s1))
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s2))

	raw, _ := json.Marshal(protocol.ClientMessage{Type: protocol.ClientStats})
	require.NoError(t, relay.HandleClientMessage(context.Background(), s1, raw))

	var snapshots int
	for _, ev := range s1.received() {
		if ev.Type == protocol.EventStats {
			snapshots++
			require.NotNil(t, ev.Stats)
			assert.Equal(t, 12.5, ev.Stats.CPUPercent)
		}
	}
	assert.Equal(t, 1, snapshots)

	for _, ev := range s2.received() {
		assert.NotEqual(t, protocol.EventStats, ev.Type)
	}
}

func TestMalformedClientMessage(t *testing.T) {
	relay, _, _ := newTestRelay(t)
	s1 := ownerSession("sess-1")
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s1))

	require.NoError(t, relay.HandleClientMessage(context.Background(), s1, []byte("{oops")))

	evs := s1.received()
	last := evs[len(evs)-1]
	assert.Equal(t, protocol.EventError, last.Type)
}

func TestUnsubscribedSessionRejected(t *testing.T) {
	relay, _, _ := newTestRelay(t)

	raw, _ := json.Marshal(protocol.ClientMessage{Type: protocol.ClientStats})
	err := relay.HandleClientMessage(context.Background(), ownerSession("sess-x"), raw)
	assert.Error(t, err)
}

func TestStatusObserverPersistsAndBroadcasts(t *testing.T) {
	relay, exec, store := newTestRelay(t)
	s1 := ownerSession("sess-1")
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s1))

	exec.observer.HandleStatus("srv-1", types.ServerStatusStarting, &types.ServerStats{Uptime: 3})

	server, err := store.GetServer("srv-1")
	require.NoError(t, err)
	assert.Equal(t, types.ServerStatusStarting, server.Status)

	evs := s1.received()
	last := evs[len(evs)-1]
	assert.Equal(t, protocol.EventStatus, last.Type)
	assert.Equal(t, types.ServerStatusStarting, last.Status)
	require.NotNil(t, last.Stats)
	assert.Equal(t, int64(3), last.Stats.Uptime)
}

func TestPollBroadcastsSnapshots(t *testing.T) {
	relay, exec, _ := newTestRelay(t)
	exec.stats = &types.ServerStats{CPUPercent: 7}
	s1 := ownerSession("sess-1")
	require.NoError(t, relay.Subscribe(context.Background(), "srv-1", s1))

	relay.pollOnce()

	evs := s1.received()
	last := evs[len(evs)-1]
	assert.Equal(t, protocol.EventStatus, last.Type)
	assert.Equal(t, types.ServerStatusOnline, last.Status)
	require.NotNil(t, last.Stats)
	assert.Equal(t, 7.0, last.Stats.CPUPercent)
}
