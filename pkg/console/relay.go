package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bastionhq/bastion/pkg/backend"
	"github.com/bastionhq/bastion/pkg/events"
	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/metrics"
	"github.com/bastionhq/bastion/pkg/protocol"
	"github.com/bastionhq/bastion/pkg/storage"
	"github.com/bastionhq/bastion/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultPollInterval is how often stats snapshots are pushed to
	// every server with at least one watching session
	DefaultPollInterval = 2 * time.Second

	// sendTimeout bounds one outbound write to one session so a stalled
	// browser cannot hold up delivery to its siblings
	sendTimeout = 2 * time.Second

	// Inbound client messages are rate limited per session. Ten
	// messages a second is far above any human typing rate.
	messageRate  = rate.Limit(10)
	messageBurst = 20
)

// ErrUnauthorized is returned when the requester may not attach to the
// server's console
var ErrUnauthorized = errors.New("not authorized for this server's console")

// Identity describes the requester behind a console session
type Identity struct {
	UserID string
	Admin  bool
}

// Session is one browser-side console connection. The relay only needs
// to address it and write events to it; transport details stay in the
// API layer.
type Session interface {
	ID() string
	User() Identity
	Send(ctx context.Context, ev protocol.Event) error
}

// Authorizer decides whether a requester may attach to a server's
// console. The relay delegates the decision; ownership and subuser
// permission models live outside the core.
type Authorizer interface {
	AuthorizeConsole(user Identity, server *types.Server) error
}

// OwnerAuthorizer grants access to the server's owner and to admins
type OwnerAuthorizer struct{}

func (OwnerAuthorizer) AuthorizeConsole(user Identity, server *types.Server) error {
	if user.Admin || user.UserID == server.OwnerID {
		return nil
	}
	return ErrUnauthorized
}

// group is the broadcast set for one server. It exists only while at
// least one session is attached.
type group struct {
	serverID string
	sessions map[string]Session
}

// Relay fans server output and status events out to the browser
// sessions watching each server, and routes session input back into the
// execution backend. It implements backend.Observer.
type Relay struct {
	store  storage.Store
	exec   backend.Backend
	auth   Authorizer
	broker *events.Broker
	logger zerolog.Logger

	pollInterval time.Duration

	mu       sync.RWMutex
	groups   map[string]*group
	byID     map[string]string // session ID -> server ID
	limiters map[string]*rate.Limiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Config holds relay tunables. Zero values fall back to defaults.
type Config struct {
	PollInterval time.Duration
}

// NewRelay creates a console relay and registers it as an observer on
// the execution backend
func NewRelay(store storage.Store, exec backend.Backend, auth Authorizer, broker *events.Broker, cfg Config) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	r := &Relay{
		store:        store,
		exec:         exec,
		auth:         auth,
		broker:       broker,
		logger:       log.WithComponent("console"),
		pollInterval: cfg.PollInterval,
		groups:       make(map[string]*group),
		byID:         make(map[string]string),
		limiters:     make(map[string]*rate.Limiter),
		stopCh:       make(chan struct{}),
	}
	exec.AddObserver(r)
	return r
}

// Start begins the stats poll loop
func (r *Relay) Start() {
	go r.pollLoop()
}

// Stop stops the poll loop. Open sessions are closed by the API layer
// during server shutdown.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Subscribe attaches a session to a server's broadcast group. The
// requester must be authorized for the server's console. The session
// receives a connected acknowledgement with the server's name and
// current status.
func (r *Relay) Subscribe(ctx context.Context, serverID string, session Session) error {
	server, err := r.store.GetServer(serverID)
	if err != nil {
		return fmt.Errorf("failed to load server %s: %w", serverID, err)
	}

	if err := r.auth.AuthorizeConsole(session.User(), server); err != nil {
		return err
	}

	r.mu.Lock()
	g, exists := r.groups[serverID]
	if !exists {
		g = &group{serverID: serverID, sessions: make(map[string]Session)}
		r.groups[serverID] = g
	}
	g.sessions[session.ID()] = session
	r.byID[session.ID()] = serverID
	r.limiters[session.ID()] = rate.NewLimiter(messageRate, messageBurst)
	r.mu.Unlock()

	metrics.ConsoleSessions.Inc()
	if !exists && r.broker != nil {
		r.broker.Publish(events.New(events.EventConsoleAttached, "console stream attached",
			map[string]string{"server_id": serverID}))
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := session.Send(sendCtx, protocol.Connected(server)); err != nil {
		r.logger.Debug().Err(err).Str("session_id", session.ID()).Msg("connected ack write failed")
	}

	r.logger.Debug().
		Str("server_id", serverID).
		Str("session_id", session.ID()).
		Str("user_id", session.User().UserID).
		Msg("console session attached")
	return nil
}

// Unsubscribe detaches a session from its group. When the last session
// for a server leaves, the group is torn down and the stream released.
// Unknown sessions are a no-op.
func (r *Relay) Unsubscribe(session Session) {
	r.mu.Lock()
	serverID, known := r.byID[session.ID()]
	if !known {
		r.mu.Unlock()
		return
	}
	delete(r.byID, session.ID())
	delete(r.limiters, session.ID())

	var released bool
	if g, exists := r.groups[serverID]; exists {
		delete(g.sessions, session.ID())
		if len(g.sessions) == 0 {
			delete(r.groups, serverID)
			released = true
		}
	}
	r.mu.Unlock()

	metrics.ConsoleSessions.Dec()
	if released && r.broker != nil {
		r.broker.Publish(events.New(events.EventConsoleDetached, "console stream released",
			map[string]string{"server_id": serverID}))
	}

	r.logger.Debug().
		Str("server_id", serverID).
		Str("session_id", session.ID()).
		Msg("console session detached")
}

// HandleClientMessage processes one inbound frame from a console
// session. Malformed JSON yields an error event to the sender, never a
// dropped connection.
func (r *Relay) HandleClientMessage(ctx context.Context, session Session, raw []byte) error {
	r.mu.RLock()
	serverID, known := r.byID[session.ID()]
	limiter := r.limiters[session.ID()]
	r.mu.RUnlock()
	if !known {
		return fmt.Errorf("session %s is not subscribed", session.ID())
	}

	if limiter != nil && !limiter.Allow() {
		r.sendError(ctx, session, "too many messages, slow down")
		return nil
	}

	var msg protocol.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.logger.Debug().Err(err).Str("session_id", session.ID()).Msg("dropping malformed console message")
		r.sendError(ctx, session, "malformed message")
		return nil
	}

	switch msg.Type {
	case protocol.ClientCommand:
		return r.handleCommand(ctx, session, serverID, msg.Command)
	case protocol.ClientPower:
		return r.handlePower(ctx, session, serverID, msg.Action)
	case protocol.ClientStats:
		return r.handleStats(ctx, session, serverID)
	default:
		r.sendError(ctx, session, fmt.Sprintf("unknown message type %q", msg.Type))
		return nil
	}
}

func (r *Relay) handleCommand(ctx context.Context, session Session, serverID, command string) error {
	if err := r.exec.SendCommand(ctx, serverID, command); err != nil {
		r.sendError(ctx, session, err.Error())
		return err
	}
	return nil
}

func (r *Relay) handlePower(ctx context.Context, session Session, serverID string, action types.PowerAction) error {
	if !types.ValidPowerAction(action) {
		r.sendError(ctx, session, fmt.Sprintf("unknown power action %q", action))
		return fmt.Errorf("unknown power action %q", action)
	}
	return r.Power(ctx, serverID, action)
}

// Power applies a power action and keeps watching sessions informed: an
// optimistic transitional status is broadcast before the backend call
// and the authoritative status after it. Clients treat the transitional
// status as provisional. Also used by the REST power endpoint so both
// entry points produce the same console traffic.
func (r *Relay) Power(ctx context.Context, serverID string, action types.PowerAction) error {
	r.broadcast(serverID, protocol.Status(action.TransitionalStatus(), nil))

	if err := r.exec.Power(ctx, serverID, action); err != nil {
		r.broadcast(serverID, protocol.Error(err.Error()))
		return err
	}

	status, err := r.exec.Status(ctx, serverID)
	if err != nil {
		r.logger.Warn().Err(err).Str("server_id", serverID).Msg("status fetch after power action failed")
		return nil
	}
	r.persistStatus(serverID, status)
	r.broadcast(serverID, protocol.Status(status, nil))
	return nil
}

// handleStats returns a snapshot to the requesting session only
func (r *Relay) handleStats(ctx context.Context, session Session, serverID string) error {
	stats, err := r.exec.Stats(ctx, serverID)
	if err != nil {
		r.sendError(ctx, session, err.Error())
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return session.Send(sendCtx, protocol.Stats(stats))
}

// HandleOutput implements backend.Observer: one line of server output
// is broadcast to every watching session
func (r *Relay) HandleOutput(serverID, line string) {
	r.broadcast(serverID, protocol.Output(line))
}

// HandleInstallOutput implements backend.Observer: installer log lines
// go out as install events so clients can render them apart from the
// server's own console
func (r *Relay) HandleInstallOutput(serverID, line string) {
	r.broadcast(serverID, protocol.Install(line))
}

// HandleStatus implements backend.Observer: the status is persisted and
// broadcast with whatever stats accompanied it
func (r *Relay) HandleStatus(serverID string, status types.ServerStatus, stats *types.ServerStats) {
	r.persistStatus(serverID, status)
	r.broadcast(serverID, protocol.Status(status, stats))
}

func (r *Relay) persistStatus(serverID string, status types.ServerStatus) {
	server, err := r.store.GetServer(serverID)
	if err != nil {
		r.logger.Warn().Err(err).Str("server_id", serverID).Msg("failed to load server for status update")
		return
	}
	if server.Status == status {
		return
	}

	server.Status = status
	server.UpdatedAt = time.Now()
	if err := r.store.UpdateServer(server); err != nil {
		r.logger.Error().Err(err).Str("server_id", serverID).Msg("failed to persist server status")
		return
	}

	if r.broker != nil {
		r.broker.Publish(events.New(events.EventServerStatus, string(status),
			map[string]string{"server_id": serverID}))
	}
}

// broadcast writes an event to every session in a server's group. The
// session set is snapshotted first so a slow write never holds the
// relay lock; a failed write is skipped, not retried.
func (r *Relay) broadcast(serverID string, ev protocol.Event) {
	r.mu.RLock()
	g, exists := r.groups[serverID]
	if !exists {
		r.mu.RUnlock()
		return
	}
	sessions := make([]Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := s.Send(ctx, ev); err != nil {
			metrics.ConsoleBroadcastDrops.Inc()
			r.logger.Debug().Err(err).Str("session_id", s.ID()).Msg("broadcast write skipped")
		}
		cancel()
	}
}

func (r *Relay) sendError(ctx context.Context, session Session, message string) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := session.Send(sendCtx, protocol.Error(message)); err != nil {
		r.logger.Debug().Err(err).Str("session_id", session.ID()).Msg("error event write failed")
	}
}

// watchedServers returns the IDs of all servers with at least one
// attached session
func (r *Relay) watchedServers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	return ids
}

// pollLoop pushes a fresh status and stats snapshot to every watched
// server on a fixed cadence, so sessions see liveness even when the
// backend emits no spontaneous events
func (r *Relay) pollLoop() {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.pollOnce()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Relay) pollOnce() {
	for _, serverID := range r.watchedServers() {
		ctx, cancel := context.WithTimeout(context.Background(), r.pollInterval)

		status, err := r.exec.Status(ctx, serverID)
		if err != nil {
			cancel()
			continue
		}
		stats, _ := r.exec.Stats(ctx, serverID)
		cancel()

		r.broadcast(serverID, protocol.Status(status, stats))
	}
}
