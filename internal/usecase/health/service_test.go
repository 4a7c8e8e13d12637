package health

import (
	"context"
	"errors"
	"testing"
)

// --- Mocks ---

type mockDBPinger struct {
	err error
}

func (m *mockDBPinger) Ping(_ context.Context) error { return m.err }

type mockSchema struct {
	ready bool
	dim   int
}

func (m mockSchema) Ready() bool    { return m.ready }
func (m mockSchema) Dimension() int { return m.dim }

type mockChecker struct {
	err error
}

func (m *mockChecker) HealthCheck(_ context.Context) error { return m.err }

var readySchema = mockSchema{ready: true, dim: 2000}

// --- Tests ---

func TestCheck_AllHealthy(t *testing.T) {
	svc := New(&mockDBPinger{}, readySchema,
		WithCheck("embedding", &mockChecker{}),
		WithCheck("cache", &mockChecker{}),
	)
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	for _, name := range []string{"database", "schema", "embedding", "cache"} {
		if r.Checks[name] != CheckOK {
			t.Errorf("expected %s %q, got %q", name, CheckOK, r.Checks[name])
		}
	}
	if r.Dimension != 2000 {
		t.Errorf("expected dimension 2000, got %d", r.Dimension)
	}
}

func TestCheck_DBError(t *testing.T) {
	svc := New(&mockDBPinger{err: errors.New("conn refused")}, readySchema, WithCheck("embedding", &mockChecker{}))
	r := svc.Check(context.Background())

	if r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
	if r.Checks["database"] != CheckError {
		t.Errorf("expected database %q, got %q", CheckError, r.Checks["database"])
	}
	if r.Checks["embedding"] != CheckOK {
		t.Errorf("expected embedding %q, got %q", CheckOK, r.Checks["embedding"])
	}
}

func TestCheck_SchemaPending(t *testing.T) {
	svc := New(&mockDBPinger{}, mockSchema{})
	r := svc.Check(context.Background())

	if r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
	if r.Checks["schema"] != CheckPending {
		t.Errorf("expected schema %q, got %q", CheckPending, r.Checks["schema"])
	}
	if r.Dimension != 0 {
		t.Errorf("expected no dimension before bootstrap, got %d", r.Dimension)
	}
}

func TestCheck_OptionalErrorDegrades(t *testing.T) {
	svc := New(&mockDBPinger{}, readySchema, WithCheck("embedding", &mockChecker{err: errors.New("timeout")}))
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks["embedding"] != CheckError {
		t.Errorf("expected embedding %q, got %q", CheckError, r.Checks["embedding"])
	}
}

func TestCheck_UnhealthyWinsOverDegraded(t *testing.T) {
	svc := New(&mockDBPinger{err: errors.New("down")}, readySchema, WithCheck("cache", &mockChecker{err: errors.New("down")}))
	if r := svc.Check(context.Background()); r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
}

func TestCheck_NilOptionalIgnored(t *testing.T) {
	svc := New(&mockDBPinger{}, readySchema, WithCheck("cache", nil))
	r := svc.Check(context.Background())

	if _, exists := r.Checks["cache"]; exists {
		t.Error("nil checker must not be reported")
	}
	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
}
