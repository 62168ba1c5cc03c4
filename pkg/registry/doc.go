/*
Package registry tracks the fleet's daemon connections.

Each node's daemon opens one persistent socket to the panel. The
connection enters the registry unauthenticated with a 30 second deadline
to present the node's shared secret; a valid token flips it to
authenticated and marks the node online, an invalid token or an expired
deadline closes the socket with a distinguishable code. Connections are
purely transient: a panel restart empties the map and daemons
re-register as they reconnect.

Liveness runs at the transport level: every 45 seconds the registry
pings each socket, and any socket whose previous ping went unanswered is
force-terminated before the next round. That bounds how stale the
"connected" signal can get and reclaims half-open sockets that never saw
a TCP close.

Send is best-effort by contract: it returns false instead of an error
when the node is unreachable, so callers (console power actions, the
scheduler) can report "daemon not connected" without unwinding.

The registry never crashes on daemon input. Malformed frames are logged
and dropped, and an unauthenticated peer gets exactly one verb: auth.
*/
package registry
