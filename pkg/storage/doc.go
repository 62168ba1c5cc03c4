/*
Package storage provides durable panel state behind the Store interface.

The shipped implementation is bbolt-backed: one bucket per entity (nodes,
servers, schedules, backups), record IDs as keys, JSON-marshaled structs
as values. Updates are upserts. Foreign-key style reads (servers by node,
schedules by server, active schedules) are linear scans, which is fine at
panel scale where a fleet is hundreds of nodes, not millions.

Missing records are reported with ErrNotFound so callers can distinguish
"does not exist" from storage failures with errors.Is.
*/
package storage
