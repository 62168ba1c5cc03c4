package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/protocol"
	"github.com/bastionhq/bastion/pkg/storage"
	"github.com/bastionhq/bastion/pkg/types"
	"github.com/rs/zerolog"
)

// Sender is the slice of the daemon registry the remote backend needs:
// best-effort delivery to a node's daemon socket.
type Sender interface {
	Send(nodeID string, msg interface{}) bool
	IsConnected(nodeID string) bool
}

// Remote executes server operations by messaging the daemon on the
// server's node. It also acts as the registry's server event sink,
// caching the last known status and stats per server and fanning
// inbound daemon events out to observers.
type Remote struct {
	store  storage.Store
	sender Sender
	logger zerolog.Logger

	mu        sync.RWMutex
	observers []Observer
	statuses  map[string]types.ServerStatus
	stats     map[string]*types.ServerStats
}

// NewRemote creates a daemon-backed execution backend
func NewRemote(store storage.Store, sender Sender) *Remote {
	return &Remote{
		store:    store,
		sender:   sender,
		logger:   log.WithComponent("backend.remote"),
		statuses: make(map[string]types.ServerStatus),
		stats:    make(map[string]*types.ServerStats),
	}
}

// AddObserver registers an observer for daemon-relayed server events
func (r *Remote) AddObserver(obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, obs)
}

// Power sends a power action to the server's daemon
func (r *Remote) Power(ctx context.Context, serverID string, action types.PowerAction) error {
	server, err := r.store.GetServer(serverID)
	if err != nil {
		return fmt.Errorf("failed to load server %s: %w", serverID, err)
	}

	if !r.sender.Send(server.NodeID, protocol.ServerAction(serverID, action)) {
		return fmt.Errorf("power %s for server %s: %w", action, serverID, ErrDaemonNotConnected)
	}
	return nil
}

// SendCommand forwards a console command to the server's daemon. The
// server must be running to accept input.
func (r *Remote) SendCommand(ctx context.Context, serverID, command string) error {
	server, err := r.store.GetServer(serverID)
	if err != nil {
		return fmt.Errorf("failed to load server %s: %w", serverID, err)
	}

	status, err := r.Status(ctx, serverID)
	if err != nil {
		return err
	}
	if status != types.ServerStatusOnline {
		return fmt.Errorf("command for server %s: %w", serverID, ErrServerNotRunning)
	}

	if !r.sender.Send(server.NodeID, protocol.Command(serverID, command)) {
		return fmt.Errorf("command for server %s: %w", serverID, ErrDaemonNotConnected)
	}
	return nil
}

// Status returns the last daemon-reported status, falling back to the
// persisted record when the daemon has not reported since connect.
func (r *Remote) Status(ctx context.Context, serverID string) (types.ServerStatus, error) {
	r.mu.RLock()
	status, ok := r.statuses[serverID]
	r.mu.RUnlock()
	if ok {
		return status, nil
	}

	server, err := r.store.GetServer(serverID)
	if err != nil {
		return "", fmt.Errorf("failed to load server %s: %w", serverID, err)
	}
	if server.Status == "" {
		return types.ServerStatusOffline, nil
	}
	return server.Status, nil
}

// Stats returns the last daemon-reported snapshot, or nil when the
// daemon has not sent one
func (r *Remote) Stats(ctx context.Context, serverID string) (*types.ServerStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.stats[serverID]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

// Backup asks the server's daemon to archive its data
func (r *Remote) Backup(ctx context.Context, serverID, backupID string) error {
	server, err := r.store.GetServer(serverID)
	if err != nil {
		return fmt.Errorf("failed to load server %s: %w", serverID, err)
	}

	if !r.sender.Send(server.NodeID, protocol.ServerBackup(serverID, backupID)) {
		return fmt.Errorf("backup for server %s: %w", serverID, ErrDaemonNotConnected)
	}
	return nil
}

// CreateServer announces a new server to its node's daemon
func (r *Remote) CreateServer(ctx context.Context, server *types.Server) error {
	if !r.sender.Send(server.NodeID, protocol.ServerCreate(server)) {
		return fmt.Errorf("create for server %s: %w", server.ID, ErrDaemonNotConnected)
	}
	return nil
}

// DeleteServer instructs the daemon to remove the server, then drops
// cached state
func (r *Remote) DeleteServer(ctx context.Context, serverID string) error {
	server, err := r.store.GetServer(serverID)
	if err != nil {
		return fmt.Errorf("failed to load server %s: %w", serverID, err)
	}

	delivered := r.sender.Send(server.NodeID, protocol.ServerDelete(serverID))
	r.Forget(serverID)
	if !delivered {
		return fmt.Errorf("delete for server %s: %w", serverID, ErrDaemonNotConnected)
	}
	return nil
}

// InstallServer asks the daemon to (re)run the server's installer.
// Installer output comes back as regular server_output frames.
func (r *Remote) InstallServer(ctx context.Context, serverID string) error {
	server, err := r.store.GetServer(serverID)
	if err != nil {
		return fmt.Errorf("failed to load server %s: %w", serverID, err)
	}

	if !r.sender.Send(server.NodeID, protocol.ServerInstall(serverID)) {
		return fmt.Errorf("install for server %s: %w", serverID, ErrDaemonNotConnected)
	}
	return nil
}

// HandleServerOutput implements the registry's server event sink
func (r *Remote) HandleServerOutput(serverID, output string) {
	for _, obs := range r.snapshotObservers() {
		obs.HandleOutput(serverID, output)
	}
}

// HandleServerInstallOutput implements the registry's server event
// sink for installer log lines
func (r *Remote) HandleServerInstallOutput(serverID, output string) {
	for _, obs := range r.snapshotObservers() {
		obs.HandleInstallOutput(serverID, output)
	}
}

// HandleServerStatus implements the registry's server event sink. The
// status and stats are cached before observers run, so a Status call
// from an observer callback sees the new value.
func (r *Remote) HandleServerStatus(serverID string, status types.ServerStatus, stats *types.ServerStats) {
	r.mu.Lock()
	r.statuses[serverID] = status
	if stats != nil {
		r.stats[serverID] = stats
	}
	r.mu.Unlock()

	for _, obs := range r.snapshotObservers() {
		obs.HandleStatus(serverID, status, stats)
	}
}

// Forget drops cached state for a server, typically after deletion
func (r *Remote) Forget(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.statuses, serverID)
	delete(r.stats, serverID)
}

func (r *Remote) snapshotObservers() []Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.observers
}
