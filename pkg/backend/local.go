package backend

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/runtime"
	"github.com/bastionhq/bastion/pkg/types"
	"github.com/rs/zerolog"
)

// Local executes server operations against a containerd runtime on the
// panel host itself. Used for single-host deployments where no separate
// daemon runs.
type Local struct {
	runtime    *runtime.ContainerdRuntime
	dataRoot   string
	backupRoot string
	logger     zerolog.Logger

	mu        sync.RWMutex
	observers []Observer
}

// NewLocal creates a containerd-backed execution backend. Server data
// directories live under dataRoot/<serverID>; backups are written as
// tarballs under backupRoot.
func NewLocal(rt *runtime.ContainerdRuntime, dataRoot, backupRoot string) *Local {
	return &Local{
		runtime:    rt,
		dataRoot:   dataRoot,
		backupRoot: backupRoot,
		logger:     log.WithComponent("backend.local"),
	}
}

// AddObserver registers an observer for runtime events
func (l *Local) AddObserver(obs Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, obs)
}

// Power applies a power action through the local runtime. The
// authoritative status is pushed to observers once the runtime call
// returns.
func (l *Local) Power(ctx context.Context, serverID string, action types.PowerAction) error {
	var err error
	switch action {
	case types.PowerStart:
		err = l.start(ctx, serverID)
	case types.PowerStop:
		err = l.runtime.StopServer(ctx, serverID)
	case types.PowerRestart:
		if err = l.runtime.StopServer(ctx, serverID); err == nil {
			err = l.start(ctx, serverID)
		}
	case types.PowerKill:
		err = l.runtime.KillServer(ctx, serverID)
	default:
		return fmt.Errorf("unknown power action %q", action)
	}
	if err != nil {
		return fmt.Errorf("power %s for server %s: %w", action, serverID, err)
	}

	status, err := l.runtime.ServerStatus(ctx, serverID)
	if err != nil {
		status = types.ServerStatusOffline
	}
	l.notifyStatus(serverID, status, l.runtime.ServerStats(serverID))
	return nil
}

func (l *Local) start(ctx context.Context, serverID string) error {
	return l.runtime.StartServer(ctx, serverID, l.handleOutput)
}

// SendCommand writes a console command to the server's stdin
func (l *Local) SendCommand(ctx context.Context, serverID, command string) error {
	if !l.runtime.IsRunning(ctx, serverID) {
		return fmt.Errorf("command for server %s: %w", serverID, ErrServerNotRunning)
	}
	if err := l.runtime.WriteStdin(serverID, command); err != nil {
		return fmt.Errorf("command for server %s: %w", serverID, err)
	}
	return nil
}

// Status returns the server's normalized runtime status
func (l *Local) Status(ctx context.Context, serverID string) (types.ServerStatus, error) {
	return l.runtime.ServerStatus(ctx, serverID)
}

// Stats returns the runtime's snapshot for the server, or nil when the
// server is not running
func (l *Local) Stats(ctx context.Context, serverID string) (*types.ServerStats, error) {
	return l.runtime.ServerStats(serverID), nil
}

// Backup archives the server's data directory into a gzipped tarball
// named after the backup record. The server keeps running; a backup of
// a live world is crash-consistent, not quiesced.
func (l *Local) Backup(ctx context.Context, serverID, backupID string) error {
	src := filepath.Join(l.dataRoot, serverID)
	dst := filepath.Join(l.backupRoot, backupID+".tar.gz")

	if err := os.MkdirAll(l.backupRoot, 0o750); err != nil {
		return fmt.Errorf("backup for server %s: %w", serverID, err)
	}

	if err := writeTarball(src, dst); err != nil {
		return fmt.Errorf("backup for server %s: %w", serverID, err)
	}

	l.logger.Info().
		Str("server_id", serverID).
		Str("backup_id", backupID).
		Msg("backup archived")
	return nil
}

// CreateServer provisions the server's data directory and container
func (l *Local) CreateServer(ctx context.Context, server *types.Server) error {
	dataPath := filepath.Join(l.dataRoot, server.ID)
	if err := os.MkdirAll(dataPath, 0o750); err != nil {
		return fmt.Errorf("create for server %s: %w", server.ID, err)
	}
	if err := l.runtime.CreateServer(ctx, server, server.Image, dataPath, nil); err != nil {
		return fmt.Errorf("create for server %s: %w", server.ID, err)
	}
	return nil
}

// DeleteServer removes the server's container and data directory
func (l *Local) DeleteServer(ctx context.Context, serverID string) error {
	if err := l.runtime.DeleteServer(ctx, serverID); err != nil {
		return fmt.Errorf("delete for server %s: %w", serverID, err)
	}
	if err := os.RemoveAll(filepath.Join(l.dataRoot, serverID)); err != nil {
		return fmt.Errorf("delete for server %s: %w", serverID, err)
	}
	return nil
}

// InstallServer is a no-op locally. The image carries the server files,
// so provisioning happens at CreateServer.
func (l *Local) InstallServer(ctx context.Context, serverID string) error {
	l.logger.Debug().Str("server_id", serverID).Msg("install requested, nothing to run locally")
	return nil
}

func (l *Local) handleOutput(serverID, line string) {
	for _, obs := range l.snapshotObservers() {
		obs.HandleOutput(serverID, line)
	}
}

func (l *Local) notifyStatus(serverID string, status types.ServerStatus, stats *types.ServerStats) {
	for _, obs := range l.snapshotObservers() {
		obs.HandleStatus(serverID, status, stats)
	}
}

func (l *Local) snapshotObservers() []Observer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.observers
}

// writeTarball archives the directory at src into a gzipped tar at dst
func writeTarball(src, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tw, f)
		return err
	})
}
