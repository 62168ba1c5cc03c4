/*
Package runtime provides containerd integration for running game servers
as local containers.

The runtime wraps containerd's client API to provide one container per
server: image pulling, container creation with a data bind mount and a
memory limit, lifecycle control, and live console IO. It handles OCI
spec generation, snapshot management, and containerd namespace
isolation.

# Architecture

	┌──────────────────── CONTAINERD RUNTIME ────────────────────┐
	│                                                            │
	│  ┌──────────────────────────────────────────────┐          │
	│  │        ContainerdRuntime Client              │          │
	│  │  - Socket: /run/containerd/containerd.sock   │          │
	│  │  - Namespace: bastion                        │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │           Server Lifecycle                   │          │
	│  │  - Create: OCI spec + /data bind mount       │          │
	│  │  - Start: attached stdin/stdout task         │          │
	│  │  - Stop: graceful shutdown (SIGTERM→SIGKILL) │          │
	│  │  - Delete: cleanup container and snapshot    │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │            Console IO                        │          │
	│  │  - stdout/stderr scanned line by line        │          │
	│  │  - stdin kept open for console commands      │          │
	│  │  - output fanned out via OutputFunc          │          │
	│  └──────────────────────────────────────────────┘          │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

# Console IO

Unlike a batch workload, a game server is interactive: players and
operators expect to watch its console and type into it. StartServer
therefore creates the task with attached pipes rather than null IO. A
scanner goroutine pumps output lines into the registered OutputFunc
until the process exits; the stdin pipe is held in a per-server map so
WriteStdin can inject commands at any time while the server runs.

# Status Mapping

ServerStatus maps containerd's native task states onto the panel's
fixed vocabulary (online, offline, starting, stopping) through
types.NormalizeStatus. A container without a task is offline; an
unrecognized native state is also reported as offline.

# Lifecycle Semantics

StopServer sends SIGTERM and waits up to the stop timeout for a clean
exit before escalating to SIGKILL, so servers get a chance to save
world state. KillServer skips the grace period. Both delete the task
afterwards; DeleteServer additionally removes the container and its
snapshot.
*/
package runtime
