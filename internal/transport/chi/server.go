package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecstore/internal/domain"
	domrec "github.com/kailas-cloud/vecstore/internal/domain/record"
	healthuc "github.com/kailas-cloud/vecstore/internal/usecase/health"
)

// maxBodyBytes bounds request bodies; AddTexts carries the largest payloads.
const maxBodyBytes = 32 << 20

// Records is the record store as seen by the HTTP API.
type Records interface {
	Upsert(ctx context.Context, req domrec.UpsertRequest) (string, error)
	AddTexts(ctx context.Context, tenant, collection string, texts []string, metadatas []map[string]any) ([]string, error)
	GetByID(ctx context.Context, tenant, collection, recordType, recordID string) (domrec.Record, error)
	List(ctx context.Context, q domrec.ListQuery) ([]domrec.Record, error)
	Delete(ctx context.Context, tenant, collection, recordType, recordID string) (bool, error)
	SimilaritySearch(ctx context.Context, tenant, collection, query string, k int) ([]domrec.SearchHit, error)
	DeleteBySource(ctx context.Context, tenant, collection, source string) (int64, error)
	ListSources(ctx context.Context, tenant, collection string) ([]domrec.SourceCount, error)
	Stats(ctx context.Context, tenant, collection string) (domrec.CollectionStats, error)
	MigrateLegacyTenant(ctx context.Context, tenant, collection string) (int64, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the record store over HTTP.
type Server struct {
	records       Records
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(records Records, health HealthChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		records: records,
		health:  health,
		logger:  logger,
	}
	// Order matters: an exhausted retry also matches ErrRateLimited and ErrEmbeddingProviderError.
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidRecord, http.StatusBadRequest, ErrorCodeValidationFailed),
		sentinelHandler(domain.ErrRecordNotFound, http.StatusNotFound, ErrorCodeRecordNotFound),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusConflict, ErrorCodeVectorDimMismatch),
		sentinelHandler(domain.ErrNotReady, http.StatusServiceUnavailable, ErrorCodeNotReady),
		sentinelHandler(domain.ErrConfiguration, http.StatusServiceUnavailable, ErrorCodeConfigurationError),
		sentinelHandler(domain.ErrRateLimitExhausted, http.StatusTooManyRequests, ErrorCodeRateLimitExhausted),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, ErrorCodeRateLimited),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, ErrorCodeProviderError),
	}
	return s
}

// Register mounts every route on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/tenants/{tenant}/collections/{collection}", func(r chi.Router) {
		r.Route("/records/{type}", func(r chi.Router) {
			r.Post("/list", s.ListRecords)
			r.Put("/{id}", s.UpsertRecord)
			r.Get("/{id}", s.GetRecord)
			r.Delete("/{id}", s.DeleteRecord)
		})
		r.Post("/search", s.Search)
		r.Post("/texts", s.AddTexts)
		r.Get("/sources", s.ListSources)
		r.Delete("/sources/{source}", s.DeleteSource)
		r.Get("/stats", s.Stats)
		r.Post("/migrate-legacy", s.MigrateLegacy)
	})
}

// UpsertRecord handles PUT .../records/{type}/{id}.
func (s *Server) UpsertRecord(w http.ResponseWriter, r *http.Request) {
	var body UpsertRecordRequest
	if !decodeBody(w, r, &body) {
		return
	}
	ctx, usage := domain.NewContextWithUsage(r.Context())
	id, err := s.records.Upsert(ctx, domrec.UpsertRequest{
		Tenant:     chi.URLParam(r, "tenant"),
		Collection: chi.URLParam(r, "collection"),
		RecordType: chi.URLParam(r, "type"),
		RecordID:   chi.URLParam(r, "id"),
		Text:       body.Text,
		Data:       body.Data,
		Metadata:   body.Metadata,
	})
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UpsertRecordResponse{DocumentID: id})
}

// GetRecord handles GET .../records/{type}/{id}.
func (s *Server) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.GetByID(r.Context(),
		chi.URLParam(r, "tenant"), chi.URLParam(r, "collection"),
		chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordToResponse(rec))
}

// DeleteRecord handles DELETE .../records/{type}/{id}.
func (s *Server) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.records.Delete(r.Context(),
		chi.URLParam(r, "tenant"), chi.URLParam(r, "collection"),
		chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, ErrorCodeRecordNotFound, domain.ErrRecordNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRecords handles POST .../records/{type}/list.
func (s *Server) ListRecords(w http.ResponseWriter, r *http.Request) {
	var body ListRecordsRequest
	if !decodeBody(w, r, &body) {
		return
	}
	recs, err := s.records.List(r.Context(), domrec.ListQuery{
		Tenant:     chi.URLParam(r, "tenant"),
		Collection: chi.URLParam(r, "collection"),
		RecordType: chi.URLParam(r, "type"),
		Filters:    body.Filters,
		SortBy:     body.SortBy,
		Descending: body.Descending,
		Limit:      body.Limit,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	items := make([]RecordResponse, len(recs))
	for i, rec := range recs {
		items[i] = recordToResponse(rec)
	}
	writeJSON(w, http.StatusOK, ListRecordsResponse{Items: items})
}

// Search handles POST .../search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var body SearchRequest
	if !decodeBody(w, r, &body) {
		return
	}
	ctx, usage := domain.NewContextWithUsage(r.Context())
	hits, err := s.records.SimilaritySearch(ctx,
		chi.URLParam(r, "tenant"), chi.URLParam(r, "collection"), body.Query, body.K)
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	items := make([]SearchResultItem, len(hits))
	for i, h := range hits {
		items[i] = SearchResultItem{RecordResponse: recordToResponse(h.Record), Score: h.Score}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Items: items})
}

// AddTexts handles POST .../texts.
func (s *Server) AddTexts(w http.ResponseWriter, r *http.Request) {
	var body AddTextsRequest
	if !decodeBody(w, r, &body) {
		return
	}
	ctx, usage := domain.NewContextWithUsage(r.Context())
	ids, err := s.records.AddTexts(ctx,
		chi.URLParam(r, "tenant"), chi.URLParam(r, "collection"), body.Texts, body.Metadatas)
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AddTextsResponse{DocumentIDs: ids})
}

// ListSources handles GET .../sources.
func (s *Server) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.records.ListSources(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "collection"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	items := make([]SourceItem, len(sources))
	for i, sc := range sources {
		items[i] = SourceItem{Source: sc.Source, Documents: sc.Documents}
	}
	writeJSON(w, http.StatusOK, SourcesResponse{Items: items})
}

// DeleteSource handles DELETE .../sources/{source}.
func (s *Server) DeleteSource(w http.ResponseWriter, r *http.Request) {
	n, err := s.records.DeleteBySource(r.Context(),
		chi.URLParam(r, "tenant"), chi.URLParam(r, "collection"), chi.URLParam(r, "source"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// Stats handles GET .../stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.records.Stats(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "collection"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsToResponse(st))
}

// MigrateLegacy handles POST .../migrate-legacy.
func (s *Server) MigrateLegacy(w http.ResponseWriter, r *http.Request) {
	n, err := s.records.MigrateLegacyTenant(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "collection"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:    string(report.Status),
		Checks:    checks,
		Dimension: report.Dimension,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	tokens, calls, retries := usage.Snapshot()
	if calls == 0 {
		return
	}
	w.Header().Set("X-Embedding-Tokens", strconv.Itoa(tokens))
	w.Header().Set("X-Embedding-Calls", strconv.Itoa(calls))
	if retries > 0 {
		w.Header().Set("X-Embedding-Retries", strconv.Itoa(retries))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
// Validation errors carry caller-facing detail and are passed through.
func safeDomainMessage(err error) string {
	if errors.Is(err, domain.ErrInvalidRecord) {
		return err.Error()
	}
	sentinels := []error{
		domain.ErrRecordNotFound,
		domain.ErrVectorDimMismatch,
		domain.ErrNotReady,
		domain.ErrConfiguration,
		domain.ErrRateLimitExhausted,
		domain.ErrRateLimited,
		domain.ErrEmbeddingProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
