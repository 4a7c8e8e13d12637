package record

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kailas-cloud/vecstore/internal/domain"
	domrec "github.com/kailas-cloud/vecstore/internal/domain/record"
)

// --- Mocks ---

type storedDoc struct {
	domrec.Document
	id      string
	created time.Time
	updated time.Time
}

// memStore keeps Documents in memory with the same identity and scope rules as the SQL store.
type memStore struct {
	mu    sync.Mutex
	docs  []*storedDoc
	seq   int
	clock time.Time

	searchErr  error
	migrateErr error
	migrations int
}

func newMemStore() *memStore {
	return &memStore{clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) UpsertMany(_ context.Context, docs []domrec.Document) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(docs))
	for i, d := range docs {
		if existing := m.find(d.Scope, d.RecordType, d.RecordID); existing != nil {
			existing.Document = d
			existing.updated = m.tick()
			ids[i] = existing.id
			continue
		}
		ids[i] = m.insert(d)
	}
	return ids, nil
}

func (m *memStore) InsertChunks(_ context.Context, docs []domrec.Document) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = m.insert(d)
	}
	return ids, nil
}

func (m *memStore) insert(d domrec.Document) string {
	m.seq++
	now := m.tick()
	sd := &storedDoc{Document: d, id: fmt.Sprintf("doc-%d", m.seq), created: now, updated: now}
	m.docs = append(m.docs, sd)
	return sd.id
}

func (m *memStore) find(scope domrec.Scope, typ, id string) *storedDoc {
	for _, d := range m.docs {
		if d.Scope == scope && d.HasIdentity() && d.RecordType == typ && d.RecordID == id {
			return d
		}
	}
	return nil
}

func (m *memStore) Get(_ context.Context, id domrec.Identity) (domrec.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.find(id.Scope, id.Type, id.ID)
	if d == nil {
		return domrec.Record{}, domain.ErrRecordNotFound
	}
	return d.record(), nil
}

func (m *memStore) List(_ context.Context, p domrec.Plan) ([]domrec.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*storedDoc
	for _, d := range m.docs {
		if d.Scope != p.Scope || d.RecordType != p.RecordType {
			continue
		}
		data, _ := d.Metadata[domrec.MetaData].(map[string]any)
		match := true
		for _, pr := range p.Predicates {
			v, err := domrec.FilterValue(data[pr.Field])
			if err != nil || v != pr.Value {
				match = false
				break
			}
		}
		if match {
			out = append(out, d)
		}
	}
	slices.SortStableFunc(out, func(a, b *storedDoc) int {
		c := cmp.Compare(a.created.UnixNano(), b.created.UnixNano())
		if p.Descending {
			return -c
		}
		return c
	})
	if len(out) > p.Limit {
		out = out[:p.Limit]
	}
	recs := make([]domrec.Record, len(out))
	for i, d := range out {
		recs[i] = d.record()
	}
	return recs, nil
}

func (m *memStore) Delete(_ context.Context, id domrec.Identity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.docs)
	m.docs = slices.DeleteFunc(m.docs, func(d *storedDoc) bool {
		return d.Scope == id.Scope && d.HasIdentity() && d.RecordType == id.Type && d.RecordID == id.ID
	})
	return len(m.docs) < n, nil
}

func (m *memStore) Search(_ context.Context, scope domrec.Scope, q []float32, k int) ([]domrec.SearchHit, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []domrec.SearchHit
	for _, d := range m.docs {
		if d.Scope == scope {
			hits = append(hits, domrec.SearchHit{Record: d.record(), Score: cosine(q, d.Embedding)})
		}
	}
	slices.SortStableFunc(hits, func(a, b domrec.SearchHit) int { return cmp.Compare(b.Score, a.Score) })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *memStore) DeleteBySource(_ context.Context, scope domrec.Scope, source string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.docs)
	m.docs = slices.DeleteFunc(m.docs, func(d *storedDoc) bool {
		return d.Scope == scope && d.Metadata[domrec.MetaSource] == source
	})
	return int64(n - len(m.docs)), nil
}

func (m *memStore) ListSources(_ context.Context, scope domrec.Scope) ([]domrec.SourceCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int64{}
	for _, d := range m.docs {
		if s, ok := d.Metadata[domrec.MetaSource].(string); ok && d.Scope == scope {
			counts[s]++
		}
	}
	var out []domrec.SourceCount
	for _, s := range slices.Sorted(maps.Keys(counts)) {
		out = append(out, domrec.SourceCount{Source: s, Documents: counts[s]})
	}
	return out, nil
}

func (m *memStore) Stats(_ context.Context, scope domrec.Scope) (domrec.CollectionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := domrec.CollectionStats{Tenant: scope.Tenant, Collection: scope.Collection, RecordTypes: map[string]int64{}}
	sources := map[string]bool{}
	for _, d := range m.docs {
		if d.Scope != scope {
			continue
		}
		st.Documents++
		if d.HasIdentity() {
			st.Records++
			st.RecordTypes[d.RecordType]++
		}
		if s, ok := d.Metadata[domrec.MetaSource].(string); ok {
			sources[s] = true
		}
	}
	st.Sources = int64(len(sources))
	return st, nil
}

func (m *memStore) MigrateTenant(_ context.Context, from string, scope domrec.Scope) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.migrations++
	if m.migrateErr != nil {
		return 0, m.migrateErr
	}
	for _, d := range m.docs {
		if d.Scope == scope {
			return 0, nil
		}
	}
	var n int64
	for _, d := range m.docs {
		if d.Scope.Tenant == from && d.Scope.Collection == scope.Collection {
			d.Scope.Tenant = scope.Tenant
			n++
		}
	}
	return n, nil
}

func (d *storedDoc) record() domrec.Record {
	data, _ := d.Metadata[domrec.MetaData].(map[string]any)
	return domrec.Record{
		DocumentID: d.id,
		Tenant:     d.Scope.Tenant,
		Collection: d.Scope.Collection,
		RecordType: d.RecordType,
		RecordID:   d.RecordID,
		Text:       d.Text,
		Data:       data,
		Metadata:   d.Metadata,
		CreatedAt:  d.created,
		UpdatedAt:  d.updated,
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// topicEmbedder maps words onto a few fixed topic axes.
type topicEmbedder struct {
	mu       sync.Mutex
	docCalls int
	err      error
}

var topics = map[string]int{
	"ml": 0, "machine": 0, "learning": 0, "engineer": 0, "senior": 0,
	"pizza": 1, "delivery": 1, "driver": 1,
	"apple": 2, "banana": 3,
}

func embedText(text string) []float32 {
	v := make([]float32, 5)
	v[4] = 0.1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if i, ok := topics[w]; ok {
			v[i]++
		}
	}
	return v
}

func (e *topicEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.docCalls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

func (e *topicEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return embedText(text), nil
}

type passReducer struct {
	fits []bool
}

func (r *passReducer) Reduce(_ context.Context, _, _ string, v [][]float32, fitIfAbsent bool) ([][]float32, error) {
	r.fits = append(r.fits, fitIfAbsent)
	return v, nil
}

func (r *passReducer) ReduceQuery(_ context.Context, _, _ string, v []float32) ([]float32, error) {
	return v, nil
}

type stubReadiness struct {
	ready bool
	dim   int
}

func (s stubReadiness) Ready() bool    { return s.ready }
func (s stubReadiness) Dimension() int { return s.dim }
