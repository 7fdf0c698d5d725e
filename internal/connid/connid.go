// Package connid mints a correlation id for each accepted connection.
// It carries no protocol meaning on the wire (the wire id is the raw
// socket fd, per spec) — it exists purely so operators can grep one
// UUID across log lines for a connection's whole lifetime, the way
// request ids are threaded through a request-scoped logger elsewhere
// in this codebase's lineage.
package connid

import "github.com/google/uuid"

// New mints a fresh correlation id.
func New() uuid.UUID {
	return uuid.New()
}
