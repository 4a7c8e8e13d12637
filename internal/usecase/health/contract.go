package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// SchemaReadiness reports whether the schema bootstrap completed.
type SchemaReadiness interface {
	Ready() bool
	Dimension() int
}

// Checker is an optional dependency probe (embedding provider, cache).
type Checker interface {
	HealthCheck(ctx context.Context) error
}
