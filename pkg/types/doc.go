/*
Package types defines the shared data model for Bastion: nodes, servers,
schedules, backups, and the placement request/candidate pair.

All durable entities are plain structs serialized as JSON by the storage
layer. Status and action vocabularies are string-typed constants so they
survive round-trips through the store and the wire protocols unchanged.

The server status vocabulary is deliberately small ({online, offline,
starting, stopping}); NormalizeStatus maps whatever a container runtime
reports onto that set so the rest of the panel never sees native states.
*/
package types
