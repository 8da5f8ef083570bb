package models

import "time"

// EmbeddingDimension is the fixed vector length produced by the embedding
// model (text-embedding-3-small).
const EmbeddingDimension = 1536

// Field length and search bounds enforced by the service layer.
const (
	TitleMaxLen   = 500
	ContentMaxLen = 50000
	SummaryMaxLen = 1000
	MaxTags       = 20
	TagMaxLen     = 50

	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
	DefaultThreshold   = 0.7

	BulkDeleteBatchSize = 50
)

// MemoryType classifies what kind of memory an entry holds.
type MemoryType string

const (
	TypeContext   MemoryType = "context"
	TypeProject   MemoryType = "project"
	TypeKnowledge MemoryType = "knowledge"
	TypeReference MemoryType = "reference"
	TypePersonal  MemoryType = "personal"
	TypeWorkflow  MemoryType = "workflow"
)

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	switch t {
	case TypeContext, TypeProject, TypeKnowledge, TypeReference, TypePersonal, TypeWorkflow:
		return true
	}
	return false
}

// MemoryStatus is the lifecycle state of an entry. Deleted entries are kept
// as rows but excluded from reads by default (soft delete).
type MemoryStatus string

const (
	StatusActive   MemoryStatus = "active"
	StatusArchived MemoryStatus = "archived"
	StatusDraft    MemoryStatus = "draft"
	StatusDeleted  MemoryStatus = "deleted"
)

// Valid reports whether s is a known status.
func (s MemoryStatus) Valid() bool {
	switch s {
	case StatusActive, StatusArchived, StatusDraft, StatusDeleted:
		return true
	}
	return false
}

// TenantScope identifies the owner of a set of records. Every store query
// filters by it; it is supplied by the upstream auth layer and trusted here.
type TenantScope struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
}

// MemoryEntry is the central entity of the memory store.
type MemoryEntry struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	Summary        string         `json:"summary,omitempty"`
	MemoryType     MemoryType     `json:"memory_type"`
	Status         MemoryStatus   `json:"status"`
	Tags           []string       `json:"tags,omitempty"`
	TopicID        *string        `json:"topic_id,omitempty"`
	ProjectRef     string         `json:"project_ref,omitempty"`
	UserID         string         `json:"user_id"`
	OrganizationID string         `json:"organization_id"`
	Embedding      []float32      `json:"embedding,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	AccessCount    int64          `json:"access_count"`
	LastAccessed   *time.Time     `json:"last_accessed,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Scope returns the entry's tenant scope.
func (m *MemoryEntry) Scope() TenantScope {
	return TenantScope{UserID: m.UserID, OrganizationID: m.OrganizationID}
}

// MemoryVersion is an immutable snapshot of an entry's content-bearing
// fields, appended as a side effect of every content-affecting update.
// Version numbers per memory start at 1 and are gapless.
type MemoryVersion struct {
	ID            string         `json:"id"`
	MemoryID      string         `json:"memory_id"`
	VersionNumber int            `json:"version_number"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	Summary       string         `json:"summary,omitempty"`
	MemoryType    MemoryType     `json:"memory_type"`
	Tags          []string       `json:"tags,omitempty"`
	TopicID       *string        `json:"topic_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedBy     string         `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
}

// MemoryTopic is a named grouping of entries, unique per tenant by name.
type MemoryTopic struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Color          string         `json:"color,omitempty"`
	ParentTopicID  *string        `json:"parent_topic_id,omitempty"`
	UserID         string         `json:"user_id"`
	OrganizationID string         `json:"organization_id"`
	IsSystem       bool           `json:"is_system"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// UpdateParams holds a partial update. Nil pointers leave the stored value
// untouched. A non-nil TopicID pointing at an empty string clears the topic.
type UpdateParams struct {
	Title      *string         `json:"title,omitempty"`
	Content    *string         `json:"content,omitempty"`
	Summary    *string         `json:"summary,omitempty"`
	MemoryType *MemoryType     `json:"memory_type,omitempty"`
	Status     *MemoryStatus   `json:"status,omitempty"`
	Tags       *[]string       `json:"tags,omitempty"`
	TopicID    *string         `json:"topic_id,omitempty"`
	ProjectRef *string         `json:"project_ref,omitempty"`
	Metadata   *map[string]any `json:"metadata,omitempty"`

	// Embedding replaces the stored vector. Set by the service when the
	// content changed, never by callers directly.
	Embedding []float32 `json:"-"`

	// CreatedBy attributes the version snapshot taken by this update.
	CreatedBy string `json:"-"`
}

// Versioning reports whether the update touches a content-bearing field and
// therefore must append a version snapshot.
func (p UpdateParams) Versioning() bool {
	return p.Title != nil || p.Content != nil || p.Summary != nil ||
		p.MemoryType != nil || p.Tags != nil || p.TopicID != nil || p.Metadata != nil
}

// SearchParams drive a similarity search. QueryEmbedding is required; the
// relational filters are optional and combined with AND.
type SearchParams struct {
	Scope          TenantScope
	QueryEmbedding []float32
	Threshold      float64
	Limit          int
	Types          []MemoryType
	Tags           []string // overlap: at least one must match
	TopicID        *string
	ProjectRef     string
	Statuses       []MemoryStatus // defaults to active-only
}

// SearchResult pairs an entry with its similarity score
// (1 - cosine distance, higher is more similar).
type SearchResult struct {
	Entry MemoryEntry `json:"entry"`
	Score float64     `json:"score"`
}

// ListParams drive a filtered, paginated listing.
type ListParams struct {
	Scope      TenantScope
	Types      []MemoryType
	Tags       []string // overlap: at least one must match
	TopicID    *string
	ProjectRef string
	Statuses   []MemoryStatus // defaults to active-only
	Limit      int
	Offset     int
	SortBy     string // whitelisted by Normalize
	SortOrder  string // "asc" or "desc"
}

// listSortKeys whitelists ORDER BY columns to keep user input out of SQL.
var listSortKeys = map[string]bool{
	"created_at":   true,
	"updated_at":   true,
	"title":        true,
	"access_count": true,
}

// Normalize clamps pagination and falls back to safe sort defaults.
func (p *ListParams) Normalize() {
	if p.Limit <= 0 {
		p.Limit = DefaultSearchLimit
	}
	if p.Limit > MaxSearchLimit {
		p.Limit = MaxSearchLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	if !listSortKeys[p.SortBy] {
		p.SortBy = "created_at"
	}
	if p.SortOrder != "asc" {
		p.SortOrder = "desc"
	}
}

// BulkDeleteResult reports the outcome of a partial-failure-tolerant bulk
// delete. DeletedCount + len(FailedIDs) equals the number of requested ids.
type BulkDeleteResult struct {
	DeletedCount int      `json:"deleted_count"`
	FailedIDs    []string `json:"failed_ids"`
}
