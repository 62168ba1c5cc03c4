/*
Package console relays live server consoles to browser sessions.

Sessions watching the same server form a broadcast group. The relay
registers itself as an observer on the execution backend, so every
output line and status change a server produces is fanned out to its
group; input flows the other way, from session messages into the
backend. Groups are created when the first session subscribes and torn
down when the last one leaves, releasing the output stream for servers
nobody is watching.

# Message Flow

	browser session ──command/power/stats──▶ Relay ──▶ Backend
	browser session ◀──output/status/stats── Relay ◀── Backend observer

Power actions broadcast twice: an optimistic transitional status
(starting or stopping) the moment the request arrives, then the
authoritative status once the backend call returns. Stats requests are
answered to the requesting session only.

# Delivery Semantics

Within one server's group, events are broadcast in the order received
from the backend. Broadcasting snapshots the group first and bounds
each write with a short timeout, so one stalled session cannot delay
its siblings; a failed write is skipped, not retried. Independently of
backend pushes, a poll loop sends every watched server's status and
stats snapshot on a fixed cadence, guaranteeing sessions see liveness
even from a silent backend.

Authorization is delegated to an Authorizer collaborator. The bundled
OwnerAuthorizer admits the server's owner and admins.
*/
package console
