package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bastionhq/bastion/pkg/events"
	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/metrics"
	"github.com/bastionhq/bastion/pkg/protocol"
	"github.com/bastionhq/bastion/pkg/security"
	"github.com/bastionhq/bastion/pkg/storage"
	"github.com/bastionhq/bastion/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultAuthTimeout is how long a daemon has to authenticate after
	// opening its socket.
	DefaultAuthTimeout = 30 * time.Second

	// DefaultPingInterval is the transport-level liveness period. A
	// socket whose previous ping went unanswered is terminated on the
	// next round, bounding staleness to roughly one interval.
	DefaultPingInterval = 45 * time.Second

	// sendTimeout bounds a single outbound write
	sendTimeout = 5 * time.Second
)

// ServerEventSink receives per-server events relayed by daemons. The
// remote execution backend registers itself here so inbound
// server_status/server_output frames reach console subscribers.
type ServerEventSink interface {
	HandleServerOutput(serverID, output string)
	HandleServerInstallOutput(serverID, output string)
	HandleServerStatus(serverID string, status types.ServerStatus, stats *types.ServerStats)
}

// Config holds registry tunables. Zero values fall back to defaults;
// tests inject short timeouts.
type Config struct {
	AuthTimeout  time.Duration
	PingInterval time.Duration
}

// Registry tracks live daemon connections and owns their
// authentication/heartbeat state machine. It is constructed once at
// process start and passed by reference to socket handlers.
type Registry struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger

	authTimeout  time.Duration
	pingInterval time.Duration

	mu    sync.RWMutex
	conns map[string]*daemonConn
	sinks []ServerEventSink

	stopCh   chan struct{}
	stopOnce sync.Once
}

// daemonConn is the transient per-connection state. Never persisted: on
// panel restart the map is empty until daemons reconnect.
type daemonConn struct {
	nodeID        string
	conn          Conn
	authenticated bool
	authTimer     *time.Timer
	lastHeartbeat time.Time
	stats         *types.NodeStats
	awaitingPong  bool
}

// NewRegistry creates a daemon registry
func NewRegistry(store storage.Store, broker *events.Broker, cfg Config) *Registry {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}

	return &Registry{
		store:        store,
		broker:       broker,
		logger:       log.WithComponent("registry"),
		authTimeout:  cfg.AuthTimeout,
		pingInterval: cfg.PingInterval,
		conns:        make(map[string]*daemonConn),
		stopCh:       make(chan struct{}),
	}
}

// AddServerSink registers a sink for daemon-relayed server events
func (r *Registry) AddServerSink(sink ServerEventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
}

// Start begins the liveness ping loop
func (r *Registry) Start() {
	metrics.UpdateComponent("registry", true, "ping loop running")
	go r.pingLoop()
}

// Stop stops the ping loop. Open connections are left to their read
// loops; callers close sockets during HTTP server shutdown.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		metrics.UpdateComponent("registry", false, "stopped")
	})
}

// OnConnect registers a new unauthenticated daemon connection and arms
// the authentication deadline. A previous connection for the same node
// is terminated first.
func (r *Registry) OnConnect(nodeID string, conn Conn) {
	r.mu.Lock()
	if old, exists := r.conns[nodeID]; exists {
		r.mu.Unlock()
		r.logger.Warn().Str("node_id", nodeID).Msg("daemon reconnected, dropping previous socket")
		r.terminate(old, protocol.CloseSuperseded, "superseded by new connection")
		r.mu.Lock()
	}

	dc := &daemonConn{
		nodeID: nodeID,
		conn:   conn,
	}
	dc.authTimer = time.AfterFunc(r.authTimeout, func() {
		r.expireAuth(nodeID, dc)
	})
	r.conns[nodeID] = dc
	r.mu.Unlock()

	r.logger.Debug().Str("node_id", nodeID).Msg("daemon socket opened, awaiting auth")
}

// expireAuth fires when a connection never authenticated in time
func (r *Registry) expireAuth(nodeID string, dc *daemonConn) {
	r.mu.Lock()
	current, exists := r.conns[nodeID]
	if !exists || current != dc || dc.authenticated {
		r.mu.Unlock()
		return
	}
	delete(r.conns, nodeID)
	r.mu.Unlock()

	metrics.DaemonAuthFailures.WithLabelValues("timeout").Inc()
	r.logger.Warn().Str("node_id", nodeID).Msg("daemon authentication timed out")
	_ = dc.conn.Close(protocol.CloseAuthTimeout, "authentication timeout")
}

// HandleAuth validates a daemon token against the node's stored secret.
// On failure the connection is closed and discarded; the daemon must
// reconnect to retry.
func (r *Registry) HandleAuth(ctx context.Context, nodeID, token string) error {
	r.mu.Lock()
	dc, exists := r.conns[nodeID]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("no pending connection for node %s", nodeID)
	}
	if dc.authenticated {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	node, err := r.store.GetNode(nodeID)
	if err != nil {
		r.rejectAuth(nodeID, dc, "unknown node")
		return fmt.Errorf("auth failed for node %s: %w", nodeID, err)
	}

	if !security.VerifySecret(node.Secret, token) {
		r.rejectAuth(nodeID, dc, "invalid token")
		return fmt.Errorf("auth failed for node %s: invalid token", nodeID)
	}

	r.mu.Lock()
	if r.conns[nodeID] != dc {
		// Connection was replaced or expired while we validated
		r.mu.Unlock()
		return fmt.Errorf("connection for node %s no longer pending", nodeID)
	}
	dc.authTimer.Stop()
	dc.authenticated = true
	dc.lastHeartbeat = time.Now()
	r.mu.Unlock()

	node.Status = types.NodeStatusOnline
	node.UpdatedAt = time.Now()
	if err := r.store.UpdateNode(node); err != nil {
		r.logger.Error().Err(err).Str("node_id", nodeID).Msg("failed to persist node status")
	}

	metrics.DaemonsConnected.Inc()
	if r.broker != nil {
		r.broker.Publish(events.New(events.EventNodeOnline, "daemon authenticated",
			map[string]string{"node_id": nodeID}))
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := dc.conn.Send(sendCtx, protocol.AuthSuccess(node)); err != nil {
		r.logger.Warn().Err(err).Str("node_id", nodeID).Msg("failed to send auth acknowledgement")
	}

	r.logger.Info().Str("node_id", nodeID).Str("node_name", node.Name).Msg("daemon authenticated")
	return nil
}

// rejectAuth sends auth_failed and discards the connection
func (r *Registry) rejectAuth(nodeID string, dc *daemonConn, reason string) {
	r.mu.Lock()
	if r.conns[nodeID] == dc {
		dc.authTimer.Stop()
		delete(r.conns, nodeID)
	}
	r.mu.Unlock()

	metrics.DaemonAuthFailures.WithLabelValues("rejected").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	_ = dc.conn.Send(ctx, protocol.AuthFailed(reason))
	_ = dc.conn.Close(protocol.CloseAuthFailed, reason)
}

// OnDisconnect removes a connection and its cached stats and persists
// the node as offline. Idempotent: a second call for the same node is a
// no-op.
func (r *Registry) OnDisconnect(nodeID string) {
	r.mu.Lock()
	dc, exists := r.conns[nodeID]
	if !exists {
		r.mu.Unlock()
		return
	}
	dc.authTimer.Stop()
	wasAuthenticated := dc.authenticated
	delete(r.conns, nodeID)
	r.mu.Unlock()

	if !wasAuthenticated {
		return
	}

	metrics.DaemonsConnected.Dec()

	node, err := r.store.GetNode(nodeID)
	if err == nil {
		node.Status = types.NodeStatusOffline
		node.UpdatedAt = time.Now()
		if err := r.store.UpdateNode(node); err != nil {
			r.logger.Error().Err(err).Str("node_id", nodeID).Msg("failed to persist node status")
		}
	}

	if r.broker != nil {
		r.broker.Publish(events.New(events.EventNodeOffline, "daemon disconnected",
			map[string]string{"node_id": nodeID}))
	}

	r.logger.Info().Str("node_id", nodeID).Msg("daemon disconnected")
}

// UpdateStats overwrites the cached stats for an authenticated node
func (r *Registry) UpdateStats(nodeID string, stats *types.NodeStats) {
	if stats == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dc, exists := r.conns[nodeID]
	if !exists || !dc.authenticated {
		return
	}

	s := *stats
	s.ReceivedAt = time.Now()
	dc.stats = &s
}

// Stats returns a copy of the last reported stats, or nil when the node
// is not connected or has not reported yet
func (r *Registry) Stats(nodeID string) *types.NodeStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dc, exists := r.conns[nodeID]
	if !exists || dc.stats == nil {
		return nil
	}
	s := *dc.stats
	return &s
}

// IsConnected reports whether the node has a live authenticated connection
func (r *Registry) IsConnected(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dc, exists := r.conns[nodeID]
	return exists && dc.authenticated
}

// ConnectedNodeIDs returns the IDs of all authenticated nodes
func (r *Registry) ConnectedNodeIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id, dc := range r.conns {
		if dc.authenticated {
			ids = append(ids, id)
		}
	}
	return ids
}

// Send writes a message to a node's daemon, best-effort. Returns false
// when the node has no live authenticated connection or the write
// fails, letting callers degrade gracefully.
func (r *Registry) Send(nodeID string, msg interface{}) bool {
	r.mu.RLock()
	dc, exists := r.conns[nodeID]
	if !exists || !dc.authenticated {
		r.mu.RUnlock()
		return false
	}
	conn := dc.conn
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := conn.Send(ctx, msg); err != nil {
		r.logger.Warn().Err(err).Str("node_id", nodeID).Msg("daemon write failed")
		return false
	}
	return true
}

// HandleMessage processes one inbound frame from a daemon socket.
// Malformed JSON is logged and dropped; the read loop never dies on bad
// input. Unauthenticated connections may only authenticate; everything
// else is silently ignored.
func (r *Registry) HandleMessage(ctx context.Context, nodeID string, raw []byte) {
	var msg protocol.DaemonMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.logger.Warn().Err(err).Str("node_id", nodeID).Msg("dropping malformed daemon message")
		return
	}

	if msg.Type == protocol.DaemonAuth {
		if err := r.HandleAuth(ctx, nodeID, msg.Token); err != nil {
			r.logger.Warn().Err(err).Str("node_id", nodeID).Msg("daemon authentication rejected")
		}
		return
	}

	r.mu.RLock()
	dc, exists := r.conns[nodeID]
	authenticated := exists && dc.authenticated
	r.mu.RUnlock()
	if !authenticated {
		return
	}

	switch msg.Type {
	case protocol.DaemonHeartbeat:
		r.mu.Lock()
		dc.lastHeartbeat = time.Now()
		r.mu.Unlock()
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		if err := dc.conn.Send(sendCtx, protocol.Pong(time.Now())); err != nil {
			r.logger.Debug().Err(err).Str("node_id", nodeID).Msg("pong write failed")
		}

	case protocol.DaemonStats:
		r.UpdateStats(nodeID, msg.Data)

	case protocol.DaemonServerStatus:
		status := types.NormalizeStatus(msg.Status)
		for _, sink := range r.serverSinks() {
			sink.HandleServerStatus(msg.UUID, status, msg.Stats)
		}

	case protocol.DaemonServerOutput:
		for _, sink := range r.serverSinks() {
			sink.HandleServerOutput(msg.UUID, msg.Output)
		}

	case protocol.DaemonInstallOutput:
		for _, sink := range r.serverSinks() {
			sink.HandleServerInstallOutput(msg.UUID, msg.Output)
		}

	case protocol.DaemonLog:
		r.logger.Info().
			Str("node_id", nodeID).
			Str("daemon_level", msg.Level).
			Msg(msg.Message)

	default:
		r.logger.Debug().Str("node_id", nodeID).Str("type", msg.Type).Msg("ignoring unknown daemon message")
	}
}

// LastHeartbeat returns when the node last sent an application-level
// heartbeat; the zero time when the node is not connected.
func (r *Registry) LastHeartbeat(nodeID string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if dc, exists := r.conns[nodeID]; exists {
		return dc.lastHeartbeat
	}
	return time.Time{}
}

func (r *Registry) serverSinks() []ServerEventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sinks
}

// pingLoop drives the transport-level liveness protocol
func (r *Registry) pingLoop() {
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

// sweep terminates every socket whose previous ping went unanswered,
// then pings the survivors. Answering flips awaitingPong back off; a
// socket that stays quiet is reclaimed on the next round.
func (r *Registry) sweep() {
	r.mu.Lock()
	var stale []*daemonConn
	var live []*daemonConn
	for _, dc := range r.conns {
		if dc.awaitingPong {
			stale = append(stale, dc)
		} else {
			dc.awaitingPong = true
			live = append(live, dc)
		}
	}
	r.mu.Unlock()

	for _, dc := range stale {
		metrics.DaemonPingTimeouts.Inc()
		r.logger.Warn().Str("node_id", dc.nodeID).Msg("daemon unresponsive to ping, terminating")
		r.terminate(dc, protocol.ClosePingTimeout, "ping timeout")
	}

	for _, dc := range live {
		go func(dc *daemonConn) {
			ctx, cancel := context.WithTimeout(context.Background(), r.pingInterval)
			defer cancel()

			if err := dc.conn.Ping(ctx); err != nil {
				return // stays awaiting, reclaimed next sweep
			}

			r.mu.Lock()
			dc.awaitingPong = false
			r.mu.Unlock()
		}(dc)
	}
}

// terminate force-closes a socket and treats it as a disconnect
func (r *Registry) terminate(dc *daemonConn, code int, reason string) {
	_ = dc.conn.Close(code, reason)
	r.OnDisconnect(dc.nodeID)
}
