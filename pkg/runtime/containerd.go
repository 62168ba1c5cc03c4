package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/types"
	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
)

const (
	// DefaultNamespace is the containerd namespace for Bastion servers
	DefaultNamespace = "bastion"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// stopTimeout is how long a server gets to exit after SIGTERM
	// before it is force-killed
	stopTimeout = 30 * time.Second
)

// OutputFunc receives one line of server console output
type OutputFunc func(serverID, line string)

// proc tracks the transient state of a running server task
type proc struct {
	stdin     io.WriteCloser
	startedAt time.Time
}

// ContainerdRuntime runs game servers as containerd tasks. One
// container per server, keyed by the server's identifier; stdin stays
// attached for console commands and stdout/stderr are scanned line by
// line into the output callback.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
	logger    zerolog.Logger

	mu    sync.Mutex
	procs map[string]*proc
}

// NewContainerdRuntime connects to containerd
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: DefaultNamespace,
		logger:    log.WithComponent("runtime"),
		procs:     make(map[string]*proc),
	}, nil
}

// Close closes the containerd client connection
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// PullImage pulls a server image from a registry
func (r *ContainerdRuntime) PullImage(ctx context.Context, imageRef string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	if _, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	return nil
}

// imageStore is the slice of the containerd client that image
// resolution needs
type imageStore interface {
	GetImage(ctx context.Context, ref string) (containerd.Image, error)
	Pull(ctx context.Context, ref string, opts ...containerd.RemoteOpt) (containerd.Image, error)
}

// ensureImage resolves an image ref, pulling it when it is not in the
// local content store yet
func ensureImage(ctx context.Context, store imageStore, imageRef string) (containerd.Image, error) {
	image, err := store.GetImage(ctx, imageRef)
	if err == nil {
		return image, nil
	}

	image, err = store.Pull(ctx, imageRef, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	return image, nil
}

// CreateServer creates the container for a server, pulling the image
// on first use. The server's data directory is bind-mounted read-write
// at /data and its committed memory becomes the container's hard limit.
func (r *ContainerdRuntime) CreateServer(ctx context.Context, server *types.Server, imageRef, dataPath string, env []string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := ensureImage(ctx, r.client, imageRef)
	if err != nil {
		return err
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
		oci.WithMemoryLimit(uint64(server.MemoryMB) << 20),
	}
	if dataPath != "" {
		opts = append(opts, oci.WithMounts([]specs.Mount{
			{
				Source:      dataPath,
				Destination: "/data",
				Type:        "bind",
				Options:     []string{"rw", "bind"},
			},
		}))
	}

	_, err = r.client.NewContainer(
		ctx,
		server.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(server.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return fmt.Errorf("failed to create container for server %s: %w", server.ID, err)
	}
	return nil
}

// StartServer starts a server's task with attached IO. Console output
// flows into onOutput one line at a time until the process exits.
func (r *ContainerdRuntime) StartServer(ctx context.Context, serverID string, onOutput OutputFunc) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, serverID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", serverID, err)
	}

	stdinR, stdinW := io.Pipe()
	outR, outW := io.Pipe()

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStreams(stdinR, outW, outW)))
	if err != nil {
		stdinW.Close()
		outR.Close()
		return fmt.Errorf("failed to create task for server %s: %w", serverID, err)
	}

	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(namespaces.WithNamespace(context.Background(), r.namespace))
		stdinW.Close()
		outR.Close()
		return fmt.Errorf("failed to start server %s: %w", serverID, err)
	}

	r.mu.Lock()
	r.procs[serverID] = &proc{stdin: stdinW, startedAt: time.Now()}
	r.mu.Unlock()

	go r.scanOutput(serverID, outR, onOutput)

	r.logger.Info().Str("server_id", serverID).Msg("server started")
	return nil
}

// scanOutput pumps task output into the callback until the pipe closes
func (r *ContainerdRuntime) scanOutput(serverID string, out io.ReadCloser, onOutput OutputFunc) {
	defer out.Close()

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onOutput != nil {
			onOutput(serverID, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		r.logger.Debug().Err(err).Str("server_id", serverID).Msg("output stream closed")
	}

	r.mu.Lock()
	if p, ok := r.procs[serverID]; ok {
		p.stdin.Close()
		delete(r.procs, serverID)
	}
	r.mu.Unlock()
}

// StopServer sends SIGTERM and waits for exit, escalating to SIGKILL
// when the process outlives the stop timeout
func (r *ContainerdRuntime) StopServer(ctx context.Context, serverID string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, serverID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", serverID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means the server is already stopped
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal server %s: %w", serverID, err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for server %s: %w", serverID, err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to force kill server %s: %w", serverID, err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete task for server %s: %w", serverID, err)
	}

	r.logger.Info().Str("server_id", serverID).Msg("server stopped")
	return nil
}

// KillServer terminates a server immediately with SIGKILL
func (r *ContainerdRuntime) KillServer(ctx context.Context, serverID string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, serverID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", serverID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil
	}

	if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill server %s: %w", serverID, err)
	}
	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete task for server %s: %w", serverID, err)
	}
	return nil
}

// DeleteServer removes a server's container and snapshot
func (r *ContainerdRuntime) DeleteServer(ctx context.Context, serverID string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, serverID)
	if err != nil {
		// Container might not exist
		return nil
	}

	if err := r.StopServer(ctx, serverID); err != nil {
		r.logger.Warn().Err(err).Str("server_id", serverID).Msg("failed to stop server before delete")
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container for server %s: %w", serverID, err)
	}
	return nil
}

// WriteStdin writes a console command to a running server's stdin. A
// trailing newline is appended so the server's console parser sees a
// complete line.
func (r *ContainerdRuntime) WriteStdin(serverID, command string) error {
	r.mu.Lock()
	p, ok := r.procs[serverID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("server %s has no attached stdin", serverID)
	}

	if _, err := io.WriteString(p.stdin, command+"\n"); err != nil {
		return fmt.Errorf("failed to write to server %s stdin: %w", serverID, err)
	}
	return nil
}

// ServerStatus returns the server's normalized status
func (r *ContainerdRuntime) ServerStatus(ctx context.Context, serverID string) (types.ServerStatus, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, serverID)
	if err != nil {
		return types.ServerStatusOffline, fmt.Errorf("failed to load container %s: %w", serverID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means the server is not running
		return types.ServerStatusOffline, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return types.ServerStatusOffline, fmt.Errorf("failed to get task status for server %s: %w", serverID, err)
	}

	return types.NormalizeStatus(string(status.Status)), nil
}

// ServerStats returns a point-in-time snapshot for a running server.
// Only uptime is populated locally; resource sampling is deferred to
// the cgroup exporters running on the node.
func (r *ContainerdRuntime) ServerStats(serverID string) *types.ServerStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.procs[serverID]
	if !ok {
		return nil
	}
	return &types.ServerStats{
		Uptime: int64(time.Since(p.startedAt).Seconds()),
	}
}

// IsRunning checks whether a server's task is currently running
func (r *ContainerdRuntime) IsRunning(ctx context.Context, serverID string) bool {
	status, err := r.ServerStatus(ctx, serverID)
	if err != nil {
		return false
	}
	return status == types.ServerStatusOnline
}

// ListServers returns the IDs of all server containers in the
// Bastion namespace
func (r *ContainerdRuntime) ListServers(ctx context.Context) ([]string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}
