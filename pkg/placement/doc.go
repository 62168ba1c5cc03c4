// Package placement ranks nodes for new server deployments.
//
// The engine is a stateless scoring function over a snapshot of the
// store: it aggregates each node's committed memory, disk, and port
// allocations, filters out nodes in maintenance or without headroom,
// and scores the remainder by available slack and server spread. The
// highest-scoring node is returned as the suggestion along with up to
// two ranked alternatives.
//
// Over-allocation percentages stretch a node's declared capacity. A
// node with 100% memory over-allocation can commit twice its declared
// memory; a negative percentage removes the cap entirely.
//
// Placement never reserves anything. Callers create the server record
// (and claim an allocation) themselves; a concurrent caller racing for
// the last slot is resolved by whoever commits first.
package placement
