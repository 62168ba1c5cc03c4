package types

import (
	"encoding/json"
	"time"
)

// Node represents a physical or virtual host running the Bastion daemon
type Node struct {
	ID     string
	Name   string
	Secret string // Shared secret the daemon authenticates with
	FQDN   string

	// Declared capacity in megabytes
	MemoryMB int64
	DiskMB   int64

	// Over-allocation percentages. 0 means no slack, a positive value
	// allows committing capacity*(1+pct/100), -1 disables the cap entirely.
	MemoryOverallocate int
	DiskOverallocate   int

	// Port allocation inventory
	AllocationCount int
	AllocatedCount  int

	Maintenance bool
	Status      NodeStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NodeStatus represents the persisted connectivity state of a node
type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "online"
	NodeStatusOffline NodeStatus = "offline"
)

// NodeStats is the last stats blob reported by a connected daemon
type NodeStats struct {
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryBytes int64     `json:"memory_bytes"`
	DiskBytes   int64     `json:"disk_bytes"`
	Uptime      int64     `json:"uptime"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Server represents a game server hosted on a node
type Server struct {
	ID      string
	NodeID  string
	OwnerID string
	Name    string

	// Image is the OCI image the server process runs. Remote daemons
	// resolve it themselves; the local executor pulls it as-is.
	Image string

	// Committed resources in megabytes
	MemoryMB int64
	DiskMB   int64

	Status    ServerStatus
	Suspended bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ServerStatus is the normalized server state vocabulary. Every backend
// maps its native states onto this fixed set.
type ServerStatus string

const (
	ServerStatusOnline   ServerStatus = "online"
	ServerStatusOffline  ServerStatus = "offline"
	ServerStatusStarting ServerStatus = "starting"
	ServerStatusStopping ServerStatus = "stopping"
)

// NormalizeStatus maps a container-native state onto the fixed status set.
// Unrecognized states map to offline.
func NormalizeStatus(native string) ServerStatus {
	switch native {
	case "running":
		return ServerStatusOnline
	case "restarting":
		return ServerStatusStarting
	case "removing":
		return ServerStatusStopping
	default:
		return ServerStatusOffline
	}
}

// ServerStats is a point-in-time resource snapshot for one server
type ServerStats struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes int64   `json:"memory_bytes"`
	DiskBytes   int64   `json:"disk_bytes"`
	Uptime      int64   `json:"uptime"`
}

// PowerAction is a power state transition request
type PowerAction string

const (
	PowerStart   PowerAction = "start"
	PowerStop    PowerAction = "stop"
	PowerRestart PowerAction = "restart"
	PowerKill    PowerAction = "kill"
)

// ValidPowerAction reports whether the given action is part of the
// power vocabulary accepted from clients and schedules.
func ValidPowerAction(a PowerAction) bool {
	switch a {
	case PowerStart, PowerStop, PowerRestart, PowerKill:
		return true
	}
	return false
}

// TransitionalStatus returns the provisional status broadcast before a
// power action is handed to the backend.
func (a PowerAction) TransitionalStatus() ServerStatus {
	switch a {
	case PowerStart, PowerRestart:
		return ServerStatusStarting
	default:
		return ServerStatusStopping
	}
}

// Schedule is a cron-triggered automated action bound to one server
type Schedule struct {
	ID       string
	ServerID string
	Name     string
	Cron     string // 5-field minute/hour/day/month/weekday expression
	Action   ScheduleAction

	// Action-specific parameters, e.g. {"action":"restart"} for power
	// or {"command":"save-all"} for command.
	Payload json.RawMessage

	IsActive  bool
	LastRun   time.Time
	RunCount  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduleAction defines what a schedule does when it fires
type ScheduleAction string

const (
	ScheduleActionPower   ScheduleAction = "power"
	ScheduleActionCommand ScheduleAction = "command"
	ScheduleActionBackup  ScheduleAction = "backup"
)

// PowerPayload is the decoded payload of a power schedule
type PowerPayload struct {
	Action PowerAction `json:"action"`
}

// CommandPayload is the decoded payload of a command schedule
type CommandPayload struct {
	Command string `json:"command"`
}

// Backup records one archival run for a server. The archive format is
// owned by the daemon side; the panel only tracks the record.
type Backup struct {
	ID        string
	ServerID  string
	Name      string
	SizeBytes int64
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ResourceRequest describes the resources a new server needs from a node
type ResourceRequest struct {
	MemoryMB int64 `json:"memory"`
	DiskMB   int64 `json:"disk"`
}

// Candidate is a scored placement option computed for one request.
// Never persisted.
type Candidate struct {
	Node *Node `json:"node"`

	AvailableMemoryMB    float64 `json:"available_memory"`
	AvailableDiskMB      float64 `json:"available_disk"`
	AvailableAllocations int     `json:"available_allocations"`
	ServerCount          int     `json:"server_count"`

	CanFit bool    `json:"can_fit"`
	Score  float64 `json:"score"`
}
