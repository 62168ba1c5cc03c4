/*
Package log provides structured logging for Bastion built on zerolog.

Init configures the global logger once at process start; components then
derive child loggers with WithComponent, WithNodeID, WithServerID, or
WithScheduleID so every line carries the identifiers needed to follow a
single daemon connection, console session, or schedule run through the
panel.
*/
package log
