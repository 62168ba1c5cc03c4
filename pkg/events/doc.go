/*
Package events distributes panel lifecycle events (daemon connectivity,
server status transitions, schedule runs, backups) to in-process
subscribers over buffered channels.

Publishing never blocks on a slow consumer: the broker drops an event for
any subscriber whose buffer is full. The event stream is observability,
not state; the store remains the source of truth.
*/
package events
