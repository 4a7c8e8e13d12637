package record

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/vecstore/internal/domain"
)

func TestListQuery_Normalize_Defaults(t *testing.T) {
	plan, err := ListQuery{Tenant: "t1", Collection: "jobs", RecordType: "application"}.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Sort != SortCreatedAt || !plan.Descending {
		t.Errorf("default order = %s desc=%v, want created_at desc", plan.Sort, plan.Descending)
	}
	if plan.Limit != DefaultListLimit {
		t.Errorf("limit = %d, want %d", plan.Limit, DefaultListLimit)
	}
}

func TestListQuery_Normalize_UnknownSortFallsBack(t *testing.T) {
	plan, err := ListQuery{
		Tenant: "t1", Collection: "jobs", RecordType: "application",
		SortBy: "salary; DROP TABLE vector_documents", Descending: false,
	}.Normalize()
	if err != nil {
		t.Fatalf("unknown sort must not error: %v", err)
	}
	if plan.Sort != SortCreatedAt || !plan.Descending {
		t.Errorf("order = %s desc=%v, want created_at desc", plan.Sort, plan.Descending)
	}
}

func TestListQuery_Normalize_KnownSortKeepsDirection(t *testing.T) {
	plan, err := ListQuery{
		Tenant: "t1", Collection: "jobs", RecordType: "application",
		SortBy: "applied_date", Descending: false,
	}.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Sort != SortAppliedDate || plan.Descending {
		t.Errorf("order = %s desc=%v", plan.Sort, plan.Descending)
	}
	if plan.Sort.IsColumn() {
		t.Error("applied_date is a payload field")
	}
}

func TestListQuery_Normalize_Limit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultListLimit},
		{-5, DefaultListLimit},
		{10, 10},
		{MaxListLimit + 1, MaxListLimit},
	}
	for _, tt := range tests {
		plan, err := ListQuery{Tenant: "t", Collection: "c", RecordType: "r", Limit: tt.in}.Normalize()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if plan.Limit != tt.want {
			t.Errorf("limit(%d) = %d, want %d", tt.in, plan.Limit, tt.want)
		}
	}
}

func TestListQuery_Normalize_Filters(t *testing.T) {
	plan, err := ListQuery{
		Tenant: "t1", Collection: "jobs", RecordType: "application",
		Filters: map[string]any{
			"status":  "applied",
			"company": "Acme",
			"remote":  true,
			"salary":  float64(120000),
			"skipped": nil,
		},
	}.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Predicate{
		{"company", "Acme"},
		{"remote", "true"},
		{"salary", "120000"},
		{"status", "applied"},
	}
	if len(plan.Predicates) != len(want) {
		t.Fatalf("predicates = %v", plan.Predicates)
	}
	for i := range want {
		if plan.Predicates[i] != want[i] {
			t.Errorf("predicate[%d] = %v, want %v", i, plan.Predicates[i], want[i])
		}
	}
}

func TestListQuery_Normalize_RejectsNestedFilter(t *testing.T) {
	_, err := ListQuery{
		Tenant: "t1", Collection: "jobs", RecordType: "application",
		Filters: map[string]any{"tags": []any{"a"}},
	}.Normalize()
	if !errors.Is(err, domain.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestListQuery_Normalize_RequiresScope(t *testing.T) {
	_, err := ListQuery{Collection: "jobs", RecordType: "application"}.Normalize()
	if !errors.Is(err, domain.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}
