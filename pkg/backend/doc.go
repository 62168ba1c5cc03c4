// Package backend defines the execution boundary for server operations.
//
// Every power action, console command, stats query, and backup request
// routes through the Backend interface. Two implementations exist:
// Remote messages the daemon on the server's node through the daemon
// registry, and Local drives a containerd runtime on the panel host.
// Callers never know which one they hold, so single-host and fleet
// deployments share the same console relay and scheduler code.
//
// Backends push spontaneous events (console output, status changes) to
// registered Observers. The Remote backend doubles as the daemon
// registry's server event sink: inbound server_status and server_output
// frames are cached and fanned out from here.
package backend
