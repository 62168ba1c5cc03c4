package protocol

import (
	"time"

	"github.com/bastionhq/bastion/pkg/types"
)

// Close codes used when the panel terminates a daemon socket. They sit in
// the websocket application range (4000-4999) so a reconnecting daemon can
// tell an authentication problem apart from a network failure.
const (
	CloseAuthTimeout = 4001
	CloseAuthFailed  = 4002
	ClosePingTimeout = 4003
	CloseSuperseded  = 4004
)

// Daemon→Panel message types
const (
	DaemonAuth          = "auth"
	DaemonHeartbeat     = "heartbeat"
	DaemonStats         = "stats"
	DaemonServerStatus  = "server_status"
	DaemonServerOutput  = "server_output"
	DaemonInstallOutput = "install_output"
	DaemonLog           = "log"
)

// Panel→Daemon message types
const (
	PanelAuthSuccess   = "auth_success"
	PanelAuthFailed    = "auth_failed"
	PanelPong          = "pong"
	PanelServerAction  = "server_action"
	PanelCommand       = "command"
	PanelServerInstall = "server_install"
	PanelServerCreate  = "server_create"
	PanelServerDelete  = "server_delete"
	PanelServerBackup  = "server_backup"
)

// DaemonMessage is the inbound envelope on a daemon socket. Exactly one
// message per frame; unused fields stay empty.
type DaemonMessage struct {
	Type string `json:"type"`

	// auth
	Token string `json:"token,omitempty"`

	// stats
	Data *types.NodeStats `json:"data,omitempty"`

	// server_status / server_output
	UUID   string             `json:"uuid,omitempty"`
	Status string             `json:"status,omitempty"`
	Stats  *types.ServerStats `json:"stats,omitempty"`
	Output string             `json:"output,omitempty"`

	// log
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

// PanelMessage is the outbound envelope on a daemon socket
type PanelMessage struct {
	Type string `json:"type"`

	Node      *NodeInfo          `json:"node,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Timestamp int64              `json:"timestamp,omitempty"`
	Action    types.PowerAction  `json:"action,omitempty"`
	UUID      string             `json:"uuid,omitempty"`
	Command   string             `json:"command,omitempty"`
	Backup    string             `json:"backup,omitempty"`
	Server    *types.Server      `json:"server,omitempty"`
}

// NodeInfo is the node identity echoed back on successful authentication
type NodeInfo struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

// AuthSuccess acknowledges a valid daemon token
func AuthSuccess(node *types.Node) PanelMessage {
	return PanelMessage{
		Type: PanelAuthSuccess,
		Node: &NodeInfo{Name: node.Name, UUID: node.ID},
	}
}

// AuthFailed rejects a daemon token; the socket is closed right after
func AuthFailed(reason string) PanelMessage {
	return PanelMessage{Type: PanelAuthFailed, Reason: reason}
}

// Pong answers an application-level heartbeat
func Pong(now time.Time) PanelMessage {
	return PanelMessage{Type: PanelPong, Timestamp: now.Unix()}
}

// ServerAction instructs the daemon to change a server's power state
func ServerAction(serverID string, action types.PowerAction) PanelMessage {
	return PanelMessage{Type: PanelServerAction, UUID: serverID, Action: action}
}

// Command forwards console input to a server's process
func Command(serverID, command string) PanelMessage {
	return PanelMessage{Type: PanelCommand, UUID: serverID, Command: command}
}

// ServerBackup instructs the daemon to archive a server
func ServerBackup(serverID, backupID string) PanelMessage {
	return PanelMessage{Type: PanelServerBackup, UUID: serverID, Backup: backupID}
}

// ServerCreate announces a new server so the daemon can provision it
func ServerCreate(server *types.Server) PanelMessage {
	return PanelMessage{Type: PanelServerCreate, UUID: server.ID, Server: server}
}

// ServerDelete instructs the daemon to remove a server and its data
func ServerDelete(serverID string) PanelMessage {
	return PanelMessage{Type: PanelServerDelete, UUID: serverID}
}

// ServerInstall instructs the daemon to (re)run a server's installer
func ServerInstall(serverID string) PanelMessage {
	return PanelMessage{Type: PanelServerInstall, UUID: serverID}
}

// Console client→panel message types
const (
	ClientCommand = "command"
	ClientPower   = "power"
	ClientStats   = "stats"
)

// Console panel→client event types
const (
	EventConnected = "connected"
	EventOutput    = "output"
	EventStatus    = "status"
	EventStats     = "stats"
	EventError     = "error"
	EventInstall   = "install"
)

// ClientMessage is the inbound envelope on a console session
type ClientMessage struct {
	Type    string            `json:"type"`
	Command string            `json:"command,omitempty"`
	Action  types.PowerAction `json:"action,omitempty"`
}

// Event is the outbound envelope on a console session
type Event struct {
	Type    string             `json:"type"`
	Server  *ServerInfo        `json:"server,omitempty"`
	Content string             `json:"content,omitempty"`
	Status  types.ServerStatus `json:"status,omitempty"`
	Stats   *types.ServerStats `json:"stats,omitempty"`
	Message string             `json:"message,omitempty"`
}

// ServerInfo is the summary sent in the connected acknowledgement
type ServerInfo struct {
	UUID   string             `json:"uuid"`
	Name   string             `json:"name"`
	Status types.ServerStatus `json:"status"`
}

// Connected acknowledges a new console subscription
func Connected(server *types.Server) Event {
	return Event{
		Type: EventConnected,
		Server: &ServerInfo{
			UUID:   server.ID,
			Name:   server.Name,
			Status: server.Status,
		},
	}
}

// Output carries one line of server console output
func Output(content string) Event {
	return Event{Type: EventOutput, Content: content}
}

// Status carries a status transition, optionally with a stats snapshot
func Status(status types.ServerStatus, stats *types.ServerStats) Event {
	return Event{Type: EventStatus, Status: status, Stats: stats}
}

// Stats answers an explicit snapshot request from one session
func Stats(stats *types.ServerStats) Event {
	return Event{Type: EventStats, Stats: stats}
}

// Error reports a failed client action back to the session
func Error(message string) Event {
	return Event{Type: EventError, Message: message}
}

// Install carries installer output while a server is being provisioned
func Install(content string) Event {
	return Event{Type: EventInstall, Content: content}
}
