/*
Package api exposes the panel over HTTP.

Three kinds of traffic share one listener:

  - REST admin endpoints under /api for nodes, servers, schedules,
    backups, and the synchronous placement query (/api/deployable).
  - Persistent websockets: /api/remote/{node} for daemon connections,
    /api/servers/{id}/console for browser console sessions, and
    /api/events for the panel event stream. Daemon frames are pumped
    into the registry; console frames into the relay; the handlers own
    no protocol state themselves.
  - Operational endpoints: /metrics (Prometheus), /healthz, /readyz.

Console sockets authenticate with a short-lived bearer token carried in
the query string, issued by POST /api/servers/{id}/console-token. User
identity on REST requests is taken from headers set by the fronting
auth proxy; the panel core does not own user accounts.

Domain errors map onto HTTP statuses in one place (statusFor): a
missing record is 404, a failed placement 422, a console authorization
failure 403, an unreachable daemon 502.
*/
package api
