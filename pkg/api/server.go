package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bastionhq/bastion/pkg/backend"
	"github.com/bastionhq/bastion/pkg/backup"
	"github.com/bastionhq/bastion/pkg/console"
	"github.com/bastionhq/bastion/pkg/events"
	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/metrics"
	"github.com/bastionhq/bastion/pkg/placement"
	"github.com/bastionhq/bastion/pkg/registry"
	"github.com/bastionhq/bastion/pkg/scheduler"
	"github.com/bastionhq/bastion/pkg/security"
	"github.com/bastionhq/bastion/pkg/storage"
	"github.com/bastionhq/bastion/pkg/tokens"
	"github.com/bastionhq/bastion/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

// Server is the panel's HTTP surface: the REST admin API, the daemon
// and console websocket endpoints, and the operational endpoints
// (health, readiness, metrics).
type Server struct {
	store     storage.Store
	registry  *registry.Registry
	relay     *console.Relay
	exec      backend.Backend
	placer    *placement.Engine
	scheduler *scheduler.Scheduler
	backups   *backup.Service
	tokens    *tokens.Manager
	broker    *events.Broker
	logger    zerolog.Logger

	tokenTTL time.Duration
	httpSrv  *http.Server
}

// Deps bundles the collaborators the server routes requests to
type Deps struct {
	Store     storage.Store
	Registry  *registry.Registry
	Relay     *console.Relay
	Exec      backend.Backend
	Placer    *placement.Engine
	Scheduler *scheduler.Scheduler
	Backups   *backup.Service
	Tokens    *tokens.Manager
	Broker    *events.Broker
	TokenTTL  time.Duration
}

// NewServer creates the API server
func NewServer(deps Deps) *Server {
	return &Server{
		store:     deps.Store,
		registry:  deps.Registry,
		relay:     deps.Relay,
		exec:      deps.Exec,
		placer:    deps.Placer,
		scheduler: deps.Scheduler,
		backups:   deps.Backups,
		tokens:    deps.Tokens,
		broker:    deps.Broker,
		logger:    log.WithComponent("api"),
		tokenTTL:  deps.TokenTTL,
	}
}

// Routes builds the request mux
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Daemon and console sockets
	mux.HandleFunc("GET /api/remote/{node}", s.handleDaemonSocket)
	mux.HandleFunc("GET /api/servers/{id}/console", s.handleConsoleSocket)
	mux.HandleFunc("POST /api/servers/{id}/console-token", s.handleIssueConsoleToken)

	// Nodes
	mux.HandleFunc("GET /api/nodes", s.handleListNodes)
	mux.HandleFunc("POST /api/nodes", s.handleCreateNode)
	mux.HandleFunc("GET /api/nodes/{id}", s.handleGetNode)
	mux.HandleFunc("PATCH /api/nodes/{id}", s.handleUpdateNode)
	mux.HandleFunc("DELETE /api/nodes/{id}", s.handleDeleteNode)

	// Servers
	mux.HandleFunc("GET /api/servers", s.handleListServers)
	mux.HandleFunc("POST /api/servers", s.handleCreateServer)
	mux.HandleFunc("GET /api/servers/{id}", s.handleGetServer)
	mux.HandleFunc("DELETE /api/servers/{id}", s.handleDeleteServer)
	mux.HandleFunc("POST /api/servers/{id}/power", s.handlePower)
	mux.HandleFunc("POST /api/servers/{id}/install", s.handleInstallServer)
	mux.HandleFunc("POST /api/servers/{id}/backups", s.handleCreateBackup)
	mux.HandleFunc("GET /api/servers/{id}/backups", s.handleListBackups)

	// Schedules
	mux.HandleFunc("GET /api/servers/{id}/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/servers/{id}/schedules", s.handleCreateSchedule)
	mux.HandleFunc("PATCH /api/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/execute", s.handleExecuteSchedule)

	// Placement
	mux.HandleFunc("POST /api/deployable", s.handleDeployable)

	// Event stream
	mux.HandleFunc("GET /api/events", s.handleEventSocket)

	// Operational
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", metrics.HealthHandler())
	mux.HandleFunc("GET /readyz", metrics.ReadyHandler())

	return mux
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("api listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the listener
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// requester extracts the caller identity set by the fronting auth
// proxy. The panel core does not own user authentication.
func requester(r *http.Request) console.Identity {
	return console.Identity{
		UserID: r.Header.Get("X-User-ID"),
		Admin:  r.Header.Get("X-Admin") == "true",
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("response write failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps a domain error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, placement.ErrNoNodes), errors.Is(err, placement.ErrInsufficientResources):
		return http.StatusUnprocessableEntity
	case errors.Is(err, console.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, scheduler.ErrJobRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.store.ListNodes()
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	type nodeView struct {
		*types.Node
		Connected bool             `json:"connected"`
		Stats     *types.NodeStats `json:"stats,omitempty"`
	}
	views := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		n.Secret = "" // never leak daemon secrets
		views = append(views, nodeView{
			Node:      n,
			Connected: s.registry.IsConnected(n.ID),
			Stats:     s.registry.Stats(n.ID),
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var node types.Node
	if err := json.NewDecoder(r.Body).Decode(&node); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if node.Secret == "" {
		secret, err := security.GenerateSecret()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		node.Secret = secret
	}
	node.Status = types.NodeStatusOffline
	node.CreatedAt = time.Now()
	node.UpdatedAt = node.CreatedAt

	if err := s.store.CreateNode(&node); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	// The create response is the only place the secret is returned
	s.writeJSON(w, http.StatusCreated, &node)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.store.GetNode(r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	node.Secret = ""
	s.writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.store.GetNode(r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	var patch struct {
		Name               *string `json:"name"`
		Maintenance        *bool   `json:"maintenance"`
		MemoryMB           *int64  `json:"memory"`
		DiskMB             *int64  `json:"disk"`
		MemoryOverallocate *int    `json:"memory_overallocate"`
		DiskOverallocate   *int    `json:"disk_overallocate"`
		AllocationCount    *int    `json:"allocation_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if patch.Name != nil {
		node.Name = *patch.Name
	}
	if patch.Maintenance != nil {
		node.Maintenance = *patch.Maintenance
	}
	if patch.MemoryMB != nil {
		node.MemoryMB = *patch.MemoryMB
	}
	if patch.DiskMB != nil {
		node.DiskMB = *patch.DiskMB
	}
	if patch.MemoryOverallocate != nil {
		node.MemoryOverallocate = *patch.MemoryOverallocate
	}
	if patch.DiskOverallocate != nil {
		node.DiskOverallocate = *patch.DiskOverallocate
	}
	if patch.AllocationCount != nil {
		node.AllocationCount = *patch.AllocationCount
	}
	node.UpdatedAt = time.Now()

	if err := s.store.UpdateNode(node); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	node.Secret = ""
	s.writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")

	servers, err := s.store.ListServersByNode(nodeID)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if len(servers) > 0 {
		s.writeError(w, http.StatusConflict, fmt.Errorf("node %s still hosts %d servers", nodeID, len(servers)))
		return
	}

	if err := s.store.DeleteNode(nodeID); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.ListServers()
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, servers)
}

// handleCreateServer places and records a new server. When no node is
// given, the placement engine picks one.
func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		OwnerID  string `json:"owner_id"`
		NodeID   string `json:"node_id"`
		Image    string `json:"image"`
		MemoryMB int64  `json:"memory"`
		DiskMB   int64  `json:"disk"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" || req.MemoryMB <= 0 || req.DiskMB <= 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("name, memory, and disk are required"))
		return
	}

	nodeID := req.NodeID
	if nodeID == "" {
		best, _, err := s.placer.Suggest(types.ResourceRequest{MemoryMB: req.MemoryMB, DiskMB: req.DiskMB})
		if err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
		nodeID = best.Node.ID
	} else if _, err := s.store.GetNode(nodeID); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	now := time.Now()
	server := &types.Server{
		ID:        uuid.NewString(),
		NodeID:    nodeID,
		OwnerID:   req.OwnerID,
		Name:      req.Name,
		Image:     req.Image,
		MemoryMB:  req.MemoryMB,
		DiskMB:    req.DiskMB,
		Status:    types.ServerStatusOffline,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateServer(server); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	// Provisioning is best-effort here: a disconnected daemon picks the
	// server up when it reconciles after auth.
	if err := s.exec.CreateServer(r.Context(), server); err != nil {
		s.logger.Warn().Err(err).Str("server_id", server.ID).Msg("server not provisioned yet")
	}

	s.writeJSON(w, http.StatusCreated, server)
}

// handleInstallServer (re)runs a server's installer
func (s *Server) handleInstallServer(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("id")
	if _, err := s.store.GetServer(serverID); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	if err := s.exec.InstallServer(r.Context(), serverID); err != nil {
		if errors.Is(err, backend.ErrDaemonNotConnected) {
			s.writeError(w, http.StatusBadGateway, err)
			return
		}
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.store.GetServer(r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, server)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("id")
	if _, err := s.store.GetServer(serverID); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	schedules, err := s.store.ListSchedulesByServer(serverID)
	if err == nil {
		for _, schedule := range schedules {
			s.scheduler.RemoveJob(schedule.ID)
			if err := s.store.DeleteSchedule(schedule.ID); err != nil {
				s.logger.Warn().Err(err).Str("schedule_id", schedule.ID).Msg("failed to delete schedule with server")
			}
		}
	}

	// Teardown on the execution side is best-effort; the record goes
	// away regardless.
	if err := s.exec.DeleteServer(r.Context(), serverID); err != nil {
		s.logger.Warn().Err(err).Str("server_id", serverID).Msg("execution-side teardown not delivered")
	}

	if err := s.store.DeleteServer(serverID); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePower applies a power action via the relay so every watching
// console session sees the transitional and final statuses
func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action types.PowerAction `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if !types.ValidPowerAction(req.Action) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown power action %q", req.Action))
		return
	}

	serverID := r.PathValue("id")
	if _, err := s.store.GetServer(serverID); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	if err := s.relay.Power(r.Context(), serverID, req.Action); err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		req.Name = "Backup " + time.Now().Format("2006-01-02 15:04")
	}

	record, err := s.backups.CreateBackup(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	records, err := s.backups.ListBackups(r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedulesByServer(r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("id")
	if _, err := s.store.GetServer(serverID); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	var req struct {
		Name     string               `json:"name"`
		Cron     string               `json:"cron"`
		Action   types.ScheduleAction `json:"action"`
		Payload  json.RawMessage      `json:"payload"`
		IsActive *bool                `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := scheduler.ParseCron(req.Cron); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	now := time.Now()
	schedule := &types.Schedule{
		ID:        uuid.NewString(),
		ServerID:  serverID,
		Name:      req.Name,
		Cron:      req.Cron,
		Action:    req.Action,
		Payload:   req.Payload,
		IsActive:  req.IsActive == nil || *req.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSchedule(schedule); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if err := s.scheduler.AddJob(schedule); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, schedule)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := s.store.GetSchedule(r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	var patch struct {
		Name     *string          `json:"name"`
		Cron     *string          `json:"cron"`
		Payload  *json.RawMessage `json:"payload"`
		IsActive *bool            `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if patch.Cron != nil {
		if _, err := scheduler.ParseCron(*patch.Cron); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		schedule.Cron = *patch.Cron
	}
	if patch.Name != nil {
		schedule.Name = *patch.Name
	}
	if patch.Payload != nil {
		schedule.Payload = *patch.Payload
	}
	if patch.IsActive != nil {
		schedule.IsActive = *patch.IsActive
	}
	schedule.UpdatedAt = time.Now()

	if err := s.store.UpdateSchedule(schedule); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if err := s.scheduler.UpdateJob(schedule); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := r.PathValue("id")
	if _, err := s.store.GetSchedule(scheduleID); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.scheduler.RemoveJob(scheduleID)
	if err := s.store.DeleteSchedule(scheduleID); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecuteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.ExecuteJob(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleDeployable answers the synchronous placement query
func (s *Server) handleDeployable(w http.ResponseWriter, r *http.Request) {
	var req types.ResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.MemoryMB <= 0 || req.DiskMB <= 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("memory and disk must be positive"))
		return
	}

	best, alternatives, err := s.placer.Suggest(req)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"best":         best,
		"alternatives": alternatives,
	})
}

// handleIssueConsoleToken issues a short-lived bearer token for the
// console websocket, after checking the requester may attach
func (s *Server) handleIssueConsoleToken(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("id")
	server, err := s.store.GetServer(serverID)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	user := requester(r)
	if err := (console.OwnerAuthorizer{}).AuthorizeConsole(user, server); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	token, err := s.tokens.Issue(serverID, user, s.tokenTTL)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token.Token,
		"expires_at": token.ExpiresAt,
	})
}
