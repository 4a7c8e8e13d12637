package chi

import (
	"time"

	domrec "github.com/kailas-cloud/vecstore/internal/domain/record"
)

// ErrorCode is the machine-readable error identifier in API responses.
type ErrorCode string

// Error codes.
const (
	ErrorCodeBadRequest         ErrorCode = "bad_request"
	ErrorCodeUnauthorized       ErrorCode = "unauthorized"
	ErrorCodeValidationFailed   ErrorCode = "validation_failed"
	ErrorCodeRecordNotFound     ErrorCode = "record_not_found"
	ErrorCodeVectorDimMismatch  ErrorCode = "vector_dim_mismatch"
	ErrorCodeNotReady           ErrorCode = "not_ready"
	ErrorCodeRateLimited        ErrorCode = "rate_limited"
	ErrorCodeRateLimitExhausted ErrorCode = "rate_limit_exhausted"
	ErrorCodeProviderError      ErrorCode = "embedding_provider_error"
	ErrorCodeConfigurationError ErrorCode = "configuration_error"
	ErrorCodeInternalError      ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// UpsertRecordRequest is the body of PUT .../records/{type}/{id}.
type UpsertRecordRequest struct {
	Text     string         `json:"text"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpsertRecordResponse reports the stored Document.
type UpsertRecordResponse struct {
	DocumentID string `json:"document_id"`
}

// RecordResponse is one record as returned by Get, List, and Search.
type RecordResponse struct {
	DocumentID string         `json:"document_id"`
	RecordType string         `json:"record_type,omitempty"`
	RecordID   string         `json:"record_id,omitempty"`
	Text       string         `json:"text"`
	Data       map[string]any `json:"data"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ListRecordsRequest is the body of POST .../records/{type}/list.
type ListRecordsRequest struct {
	Filters    map[string]any `json:"filters,omitempty"`
	SortBy     string         `json:"sort_by,omitempty"`
	Descending bool           `json:"descending,omitempty"`
	Limit      int            `json:"limit,omitempty"`
}

// ListRecordsResponse wraps List results.
type ListRecordsResponse struct {
	Items []RecordResponse `json:"items"`
}

// SearchRequest is the body of POST .../search.
type SearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// SearchResultItem is one similarity hit.
type SearchResultItem struct {
	RecordResponse
	Score float64 `json:"score"`
}

// SearchResponse wraps similarity search results.
type SearchResponse struct {
	Items []SearchResultItem `json:"items"`
}

// AddTextsRequest is the body of POST .../texts.
type AddTextsRequest struct {
	Texts     []string         `json:"texts"`
	Metadatas []map[string]any `json:"metadatas,omitempty"`
}

// AddTextsResponse lists the created Document ids in input order.
type AddTextsResponse struct {
	DocumentIDs []string `json:"document_ids"`
}

// SourceItem is one source label with its Document count.
type SourceItem struct {
	Source    string `json:"source"`
	Documents int64  `json:"documents"`
}

// SourcesResponse wraps ListSources results.
type SourcesResponse struct {
	Items []SourceItem `json:"items"`
}

// CountResponse reports how many Documents an operation affected.
type CountResponse struct {
	Count int64 `json:"count"`
}

// StatsResponse summarizes a collection.
type StatsResponse struct {
	Tenant      string           `json:"tenant"`
	Collection  string           `json:"collection"`
	Documents   int64            `json:"documents"`
	Records     int64            `json:"records"`
	Sources     int64            `json:"sources"`
	RecordTypes map[string]int64 `json:"record_types"`
	Dimension   int              `json:"dimension"`
}

// HealthResponse reports component health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Dimension int               `json:"dimension,omitempty"`
}

func recordToResponse(r domrec.Record) RecordResponse {
	return RecordResponse{
		DocumentID: r.DocumentID,
		RecordType: r.RecordType,
		RecordID:   r.RecordID,
		Text:       r.Text,
		Data:       r.Data,
		Metadata:   r.Metadata,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func statsToResponse(s domrec.CollectionStats) StatsResponse {
	return StatsResponse{
		Tenant:      s.Tenant,
		Collection:  s.Collection,
		Documents:   s.Documents,
		Records:     s.Records,
		Sources:     s.Sources,
		RecordTypes: s.RecordTypes,
		Dimension:   s.Dimension,
	}
}
