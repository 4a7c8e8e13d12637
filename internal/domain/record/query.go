package record

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/kailas-cloud/vecstore/internal/domain"
)

// List limits.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
	MaxFilters       = 32
)

// SortField is a named ordering supported by List.
type SortField string

// Supported sort fields. Date-like payload fields sort as ISO-8601 text.
const (
	SortCreatedAt   SortField = "created_at"
	SortUpdatedAt   SortField = "updated_at"
	SortAppliedDate SortField = "applied_date"
	SortCompany     SortField = "company"
	SortStatus      SortField = "status"
)

// IsColumn reports whether the field is a table column rather than a payload field.
func (f SortField) IsColumn() bool {
	return f == SortCreatedAt || f == SortUpdatedAt
}

// ParseSortField maps a caller sort key to a supported field.
// Unknown or empty keys map to created_at and ok=false.
func ParseSortField(s string) (SortField, bool) {
	switch f := SortField(s); f {
	case SortCreatedAt, SortUpdatedAt, SortAppliedDate, SortCompany, SortStatus:
		return f, true
	default:
		return SortCreatedAt, false
	}
}

// ListQuery selects records of one type within a scope.
type ListQuery struct {
	Tenant     string
	Collection string
	RecordType string
	// Filters are exact-match predicates over top-level data fields. Nil values are skipped.
	Filters    map[string]any
	SortBy     string
	Descending bool
	Limit      int
}

// Predicate is one normalized exact-match filter.
type Predicate struct {
	Field string
	Value string
}

// Plan is a ListQuery with defaults applied.
type Plan struct {
	Scope      Scope
	RecordType string
	Predicates []Predicate
	Sort       SortField
	Descending bool
	Limit      int
}

// Normalize validates q and applies defaults. An unknown sort key falls back
// to newest first without error.
func (q ListQuery) Normalize() (Plan, error) {
	scope := Scope{Tenant: q.Tenant, Collection: q.Collection}
	if err := scope.Validate(); err != nil {
		return Plan{}, err
	}
	if err := validateName("record type", q.RecordType); err != nil {
		return Plan{}, err
	}
	if len(q.Filters) > MaxFilters {
		return Plan{}, fmt.Errorf("too many filters (max %d): %w", MaxFilters, domain.ErrInvalidRecord)
	}

	preds := make([]Predicate, 0, len(q.Filters))
	for _, k := range slices.Sorted(maps.Keys(q.Filters)) {
		v := q.Filters[k]
		if v == nil {
			continue
		}
		if k == "" {
			return Plan{}, fmt.Errorf("filter field is required: %w", domain.ErrInvalidRecord)
		}
		s, err := FilterValue(v)
		if err != nil {
			return Plan{}, fmt.Errorf("filter %q: %w", k, err)
		}
		preds = append(preds, Predicate{Field: k, Value: s})
	}

	plan := Plan{
		Scope:      scope,
		RecordType: q.RecordType,
		Predicates: preds,
		Descending: q.Descending,
		Limit:      q.Limit,
	}
	var known bool
	plan.Sort, known = ParseSortField(q.SortBy)
	if !known {
		plan.Descending = true
	}
	switch {
	case plan.Limit <= 0:
		plan.Limit = DefaultListLimit
	case plan.Limit > MaxListLimit:
		plan.Limit = MaxListLimit
	}
	return plan, nil
}

// FilterValue renders a scalar the way JSONB text extraction does.
func FilterValue(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	default:
		return "", fmt.Errorf("unsupported filter value type %T: %w", v, domain.ErrInvalidRecord)
	}
}
