package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional dependency is failing; the store still serves.
	Degraded Status = "degraded"
	// Unhealthy indicates the database or schema is unusable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
	// CheckPending indicates a component that has not finished starting.
	CheckPending CheckResult = "pending"
)

// Report aggregates health check results.
type Report struct {
	Status    Status
	Checks    map[string]CheckResult
	Dimension int
}

// Service coordinates health checks.
type Service struct {
	db       DBPinger
	schema   SchemaReadiness
	optional map[string]Checker
}

// Option registers an optional check.
type Option func(*Service)

// WithCheck adds a named optional check. A nil checker is ignored.
func WithCheck(name string, c Checker) Option {
	return func(s *Service) {
		if c != nil {
			s.optional[name] = c
		}
	}
}

// New creates a Service.
func New(db DBPinger, schema SchemaReadiness, opts ...Option) *Service {
	s := &Service{db: db, schema: schema, optional: make(map[string]Checker)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	status := Healthy

	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = CheckError
		status = Unhealthy
	} else {
		checks["database"] = CheckOK
	}

	var dim int
	if s.schema.Ready() {
		checks["schema"] = CheckOK
		dim = s.schema.Dimension()
	} else {
		checks["schema"] = CheckPending
		status = Unhealthy
	}

	for name, c := range s.optional {
		if err := c.HealthCheck(ctx); err != nil {
			checks[name] = CheckError
			if status == Healthy {
				status = Degraded
			}
		} else {
			checks[name] = CheckOK
		}
	}

	return Report{Status: status, Checks: checks, Dimension: dim}
}
