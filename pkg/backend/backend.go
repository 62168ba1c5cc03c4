package backend

import (
	"context"
	"errors"

	"github.com/bastionhq/bastion/pkg/types"
)

var (
	// ErrDaemonNotConnected indicates the server's node has no live
	// authenticated daemon connection
	ErrDaemonNotConnected = errors.New("daemon not connected")

	// ErrServerNotRunning indicates an operation that needs a running
	// process, sent while the server is down
	ErrServerNotRunning = errors.New("server is not running")
)

// Observer receives push events from an execution backend. The console
// relay registers itself as an observer so output and status changes
// reach subscribed sessions.
type Observer interface {
	HandleOutput(serverID, line string)
	HandleInstallOutput(serverID, line string)
	HandleStatus(serverID string, status types.ServerStatus, stats *types.ServerStats)
}

// Backend is the single execution boundary for server operations. All
// power actions, console commands, and stats queries route through it,
// whether the server runs on a remote node's daemon or in a local
// container runtime.
type Backend interface {
	// Power applies a power state transition to a server
	Power(ctx context.Context, serverID string, action types.PowerAction) error

	// SendCommand writes a console command to a server's process.
	// Returns ErrServerNotRunning when the server cannot accept input.
	SendCommand(ctx context.Context, serverID, command string) error

	// Status returns the server's current normalized status
	Status(ctx context.Context, serverID string) (types.ServerStatus, error)

	// Stats returns the most recent resource snapshot, or nil when no
	// snapshot is available yet
	Stats(ctx context.Context, serverID string) (*types.ServerStats, error)

	// Backup asks the backend to archive the server's data
	Backup(ctx context.Context, serverID, backupID string) error

	// CreateServer announces a new server to its execution environment
	// so the process can be provisioned ahead of the first start
	CreateServer(ctx context.Context, server *types.Server) error

	// DeleteServer removes the server's process and data from its
	// execution environment
	DeleteServer(ctx context.Context, serverID string) error

	// InstallServer (re)runs the server's installer
	InstallServer(ctx context.Context, serverID string) error

	// AddObserver registers an observer for push events
	AddObserver(obs Observer)
}
