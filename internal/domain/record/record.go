package record

import (
	"fmt"
	"regexp"
	"time"

	"github.com/kailas-cloud/vecstore/internal/domain"
)

// MaxIdentifierLength bounds tenant, collection, type, and record id values.
const MaxIdentifierLength = 255

// MaxTextSize is the maximum embedded text size in bytes.
const MaxTextSize = 163840 // 160KB

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)

// Scope is the (tenant, collection) pair every operation runs under.
type Scope struct {
	Tenant     string
	Collection string
}

// Validate checks that both parts are present and well formed.
func (s Scope) Validate() error {
	if err := validateName("tenant", s.Tenant); err != nil {
		return err
	}
	return validateName("collection", s.Collection)
}

func (s Scope) String() string { return s.Tenant + "/" + s.Collection }

// Identity is the caller's unit of identity: one Document per Identity.
type Identity struct {
	Scope
	Type string
	ID   string
}

// Validate checks the scope, record type, and record id.
func (i Identity) Validate() error {
	if err := i.Scope.Validate(); err != nil {
		return err
	}
	if err := validateName("record type", i.Type); err != nil {
		return err
	}
	if i.ID == "" {
		return fmt.Errorf("record id is required: %w", domain.ErrInvalidRecord)
	}
	if len(i.ID) > MaxIdentifierLength {
		return fmt.Errorf("record id too long (max %d): %w", MaxIdentifierLength, domain.ErrInvalidRecord)
	}
	return nil
}

// UpsertRequest replaces the Document for one logical record.
type UpsertRequest struct {
	Tenant     string
	Collection string
	RecordType string
	RecordID   string
	// Text is the content that gets embedded.
	Text string
	// Data is returned verbatim by Get, List, and SimilaritySearch.
	Data map[string]any
	// Metadata holds caller keys stored alongside the reserved ones.
	Metadata map[string]any
}

// Identity returns the logical identity of the request.
func (r UpsertRequest) Identity() Identity {
	return Identity{
		Scope: Scope{Tenant: r.Tenant, Collection: r.Collection},
		Type:  r.RecordType,
		ID:    r.RecordID,
	}
}

// Validate checks identity, text, and reserved metadata keys.
func (r UpsertRequest) Validate() error {
	if err := r.Identity().Validate(); err != nil {
		return err
	}
	if err := validateText(r.Text); err != nil {
		return err
	}
	for k := range r.Metadata {
		if reservedMetadataKeys[k] {
			return fmt.Errorf("metadata key %q is reserved: %w", k, domain.ErrInvalidRecord)
		}
	}
	return validateSource(r.Metadata)
}

// Chunk is free-form text ingested without a logical identity.
type Chunk struct {
	Text     string
	Metadata map[string]any
}

// Validate checks the chunk text and its source label.
func (c Chunk) Validate() error {
	if err := validateText(c.Text); err != nil {
		return err
	}
	return validateSource(c.Metadata)
}

// Record is a stored Document as returned to callers.
type Record struct {
	DocumentID string
	Tenant     string
	Collection string
	RecordType string
	RecordID   string
	Text       string
	Data       map[string]any
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Source returns the source label, if any.
func (r Record) Source() string {
	s, _ := r.Metadata[MetaSource].(string)
	return s
}

// SearchHit is a similarity search result. Score is 1 - cosine distance.
type SearchHit struct {
	Record Record
	Score  float64
}

// SourceCount is the number of Documents ingested from one source label.
type SourceCount struct {
	Source    string
	Documents int64
}

// CollectionStats summarizes one (tenant, collection).
type CollectionStats struct {
	Tenant      string
	Collection  string
	Documents   int64
	Records     int64
	Sources     int64
	RecordTypes map[string]int64
	Dimension   int
}

func validateName(what, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required: %w", what, domain.ErrInvalidRecord)
	}
	if len(v) > MaxIdentifierLength {
		return fmt.Errorf("%s too long (max %d): %w", what, MaxIdentifierLength, domain.ErrInvalidRecord)
	}
	if !nameRegex.MatchString(v) {
		return fmt.Errorf("%s %q has invalid characters: %w", what, v, domain.ErrInvalidRecord)
	}
	return nil
}

// validateSource allows an absent source but rejects anything other than a
// non-empty string, since source labels are grouped and deleted by value.
func validateSource(md map[string]any) error {
	v, ok := md[MetaSource]
	if !ok {
		return nil
	}
	if s, isString := v.(string); !isString || s == "" {
		return fmt.Errorf("metadata %q must be a non-empty string, got %v: %w", MetaSource, v, domain.ErrInvalidRecord)
	}
	return nil
}

func validateText(text string) error {
	if text == "" {
		return fmt.Errorf("text is required: %w", domain.ErrInvalidRecord)
	}
	if len(text) > MaxTextSize {
		return fmt.Errorf("text too large (max %d bytes): %w", MaxTextSize, domain.ErrInvalidRecord)
	}
	return nil
}

// Document is the storage unit: one embedded text with its metadata.
// RecordType and RecordID are empty for free-form chunks.
type Document struct {
	Scope      Scope
	RecordType string
	RecordID   string
	Text       string
	Embedding  []float32
	Metadata   map[string]any
}

// HasIdentity reports whether the Document belongs to a logical record.
func (d Document) HasIdentity() bool {
	return d.RecordType != "" && d.RecordID != ""
}
