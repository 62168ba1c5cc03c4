package storage

import (
	"errors"

	"github.com/bastionhq/bastion/pkg/types"
)

// ErrNotFound is returned when a record does not exist. Callers that need
// to distinguish "missing" from an I/O failure test with errors.Is.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for durable panel state. Bastion ships a
// bbolt-backed implementation; anything that can read and write records
// by identifier satisfies the panel's needs.
type Store interface {
	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Servers
	CreateServer(server *types.Server) error
	GetServer(id string) (*types.Server, error)
	ListServers() ([]*types.Server, error)
	ListServersByNode(nodeID string) ([]*types.Server, error)
	UpdateServer(server *types.Server) error
	DeleteServer(id string) error

	// Schedules
	CreateSchedule(schedule *types.Schedule) error
	GetSchedule(id string) (*types.Schedule, error)
	ListSchedules() ([]*types.Schedule, error)
	ListSchedulesByServer(serverID string) ([]*types.Schedule, error)
	ListActiveSchedules() ([]*types.Schedule, error)
	UpdateSchedule(schedule *types.Schedule) error
	DeleteSchedule(id string) error

	// Backups
	CreateBackup(backup *types.Backup) error
	GetBackup(id string) (*types.Backup, error)
	ListBackupsByServer(serverID string) ([]*types.Backup, error)
	UpdateBackup(backup *types.Backup) error
	DeleteBackup(id string) error

	// Utility
	Close() error
}
