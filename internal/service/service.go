// Package service sequences the memory lifecycle: embedding, persistence,
// search, and the access/versioning side effects.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mnemohq/mnemo/internal/db"
	"github.com/mnemohq/mnemo/internal/models"
)

// Embedder converts text into a fixed-length dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Service is the façade over the embedding adapter and the record store.
// One long-lived instance serves all requests; it holds no per-request state.
type Service struct {
	store    *db.Store
	embedder Embedder
	logger   *slog.Logger
}

// New wires a Service from its long-lived collaborators.
func New(store *db.Store, embedder Embedder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{store: store, embedder: embedder, logger: logger}
}

// CreateParams is the validated input for creating a memory.
type CreateParams struct {
	Scope      models.TenantScope
	Title      string
	Content    string
	Summary    string
	MemoryType models.MemoryType
	Status     models.MemoryStatus // optional, defaults to active
	Tags       []string
	TopicID    *string
	ProjectRef string
	Metadata   map[string]any
}

// Create embeds the content and persists a new entry. If embedding fails
// nothing is persisted.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.MemoryEntry, error) {
	if err := validateCreate(p); err != nil {
		return nil, err
	}

	vector, err := s.embedder.Embed(ctx, p.Content)
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}

	entry := &models.MemoryEntry{
		Title:          p.Title,
		Content:        p.Content,
		Summary:        p.Summary,
		MemoryType:     p.MemoryType,
		Status:         p.Status,
		Tags:           p.Tags,
		TopicID:        p.TopicID,
		ProjectRef:     p.ProjectRef,
		UserID:         p.Scope.UserID,
		OrganizationID: p.Scope.OrganizationID,
		Embedding:      vector,
		Metadata:       p.Metadata,
	}

	if err := s.store.InsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}

	s.logger.Info("memory created", "id", entry.ID, "type", entry.MemoryType, "user_id", entry.UserID)
	return entry, nil
}

// Get fetches an entry and records the access. Access tracking is
// non-critical: a failure there is logged and never fails the read.
func (s *Service) Get(ctx context.Context, id string, scope models.TenantScope) (*models.MemoryEntry, error) {
	entry, err := s.store.GetEntry(ctx, id, scope)
	if err != nil {
		return nil, err
	}

	if err := s.store.RecordAccess(ctx, id, scope); err != nil {
		s.logger.Warn("failed to record access", "id", id, "error", err)
	}

	return entry, nil
}

// Update applies a partial update. When content is supplied the entry is
// re-embedded and the stored vector replaced; a failed embedding aborts the
// update before anything is written. Version snapshots happen inside the
// store's transaction.
func (s *Service) Update(ctx context.Context, id string, scope models.TenantScope, params models.UpdateParams) (*models.MemoryEntry, error) {
	if err := validateUpdate(params); err != nil {
		return nil, err
	}

	if params.Content != nil {
		vector, err := s.embedder.Embed(ctx, *params.Content)
		if err != nil {
			return nil, fmt.Errorf("update: %w", err)
		}
		params.Embedding = vector
	}

	entry, err := s.store.UpdateEntry(ctx, id, scope, params)
	if err != nil {
		return nil, err
	}

	s.logger.Info("memory updated", "id", id, "versioned", params.Versioning())
	return entry, nil
}

// SearchQuery is the validated-at-the-boundary search input. The service
// still re-checks bounds defensively before touching the store.
type SearchQuery struct {
	Scope      models.TenantScope
	Query      string
	Threshold  *float64 // nil means the default 0.7
	Limit      int      // 0 means the default 20
	Types      []models.MemoryType
	Tags       []string
	TopicID    *string
	ProjectRef string
	Statuses   []models.MemoryStatus
}

// Search embeds the query text and delegates ranking to the store. Results
// at or above the threshold come back ordered by descending score.
func (s *Service) Search(ctx context.Context, q SearchQuery) ([]models.SearchResult, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", models.ErrValidation)
	}

	threshold := models.DefaultThreshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be between 0 and 1", models.ErrValidation)
	}

	limit := q.Limit
	if limit == 0 {
		limit = models.DefaultSearchLimit
	}
	if limit < 1 || limit > models.MaxSearchLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", models.ErrValidation, models.MaxSearchLimit)
	}

	vector, err := s.embedder.Embed(ctx, q.Query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results, err := s.store.SearchSimilar(ctx, models.SearchParams{
		Scope:          q.Scope,
		QueryEmbedding: vector,
		Threshold:      threshold,
		Limit:          limit,
		Types:          q.Types,
		Tags:           q.Tags,
		TopicID:        q.TopicID,
		ProjectRef:     q.ProjectRef,
		Statuses:       q.Statuses,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	return results, nil
}

// Delete soft-deletes a single entry. No embedding or versioning side
// effects.
func (s *Service) Delete(ctx context.Context, id string, scope models.TenantScope) error {
	return s.store.SoftDelete(ctx, id, scope)
}

// BulkDelete soft-deletes ids in fixed-size batches. A batch that fails at
// the store level records all of its ids as failed and processing continues
// with the next batch. The result arithmetic always holds:
// DeletedCount + len(FailedIDs) == len(ids).
func (s *Service) BulkDelete(ctx context.Context, scope models.TenantScope, ids []string) (models.BulkDeleteResult, error) {
	var result models.BulkDeleteResult

	for start := 0; start < len(ids); start += models.BulkDeleteBatchSize {
		end := start + models.BulkDeleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		deleted, failed, err := s.store.SoftDeleteBatch(ctx, scope, batch)
		if err != nil {
			s.logger.Error("bulk delete batch failed", "batch_start", start, "batch_size", len(batch), "error", err)
			result.FailedIDs = append(result.FailedIDs, batch...)
			continue
		}
		result.DeletedCount += deleted
		result.FailedIDs = append(result.FailedIDs, failed...)
	}

	return result, nil
}

// List returns entries matching the filters plus the total match count.
func (s *Service) List(ctx context.Context, params models.ListParams) ([]models.MemoryEntry, int, error) {
	for _, t := range params.Types {
		if !t.Valid() {
			return nil, 0, fmt.Errorf("%w: unknown memory type %q", models.ErrValidation, t)
		}
	}
	for _, st := range params.Statuses {
		if !st.Valid() {
			return nil, 0, fmt.Errorf("%w: unknown status %q", models.ErrValidation, st)
		}
	}
	return s.store.List(ctx, params)
}

// Versions returns the snapshot history of an entry, oldest first.
func (s *Service) Versions(ctx context.Context, id string, scope models.TenantScope) ([]models.MemoryVersion, error) {
	return s.store.ListVersions(ctx, id, scope)
}

var colorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// CreateTopic persists a new topic after validating name and color.
func (s *Service) CreateTopic(ctx context.Context, t *models.MemoryTopic) (*models.MemoryTopic, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("%w: topic name must not be empty", models.ErrValidation)
	}
	if t.Color != "" && !colorRe.MatchString(t.Color) {
		return nil, fmt.Errorf("%w: color must match #RRGGBB", models.ErrValidation)
	}

	if err := s.store.InsertTopic(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTopic fetches a topic within the tenant scope.
func (s *Service) GetTopic(ctx context.Context, id string, scope models.TenantScope) (*models.MemoryTopic, error) {
	return s.store.GetTopic(ctx, id, scope)
}

// ListTopics returns all topics for the tenant.
func (s *Service) ListTopics(ctx context.Context, scope models.TenantScope) ([]models.MemoryTopic, error) {
	return s.store.ListTopics(ctx, scope)
}

// UpdateTopic applies a partial topic update.
func (s *Service) UpdateTopic(ctx context.Context, id string, scope models.TenantScope, params db.TopicUpdateParams) (*models.MemoryTopic, error) {
	if params.Name != nil && strings.TrimSpace(*params.Name) == "" {
		return nil, fmt.Errorf("%w: topic name must not be empty", models.ErrValidation)
	}
	if params.Color != nil && *params.Color != "" && !colorRe.MatchString(*params.Color) {
		return nil, fmt.Errorf("%w: color must match #RRGGBB", models.ErrValidation)
	}
	return s.store.UpdateTopic(ctx, id, scope, params)
}

// DeleteTopic removes a topic; entries referencing it keep their rows with
// topic_id set to null.
func (s *Service) DeleteTopic(ctx context.Context, id string, scope models.TenantScope) error {
	return s.store.DeleteTopic(ctx, id, scope)
}

func validateCreate(p CreateParams) error {
	if p.Scope.UserID == "" {
		return fmt.Errorf("%w: user id is required", models.ErrValidation)
	}
	if l := len(p.Title); l < 1 || l > models.TitleMaxLen {
		return fmt.Errorf("%w: title must be 1-%d characters", models.ErrValidation, models.TitleMaxLen)
	}
	if l := len(p.Content); l < 1 || l > models.ContentMaxLen {
		return fmt.Errorf("%w: content must be 1-%d characters", models.ErrValidation, models.ContentMaxLen)
	}
	if len(p.Summary) > models.SummaryMaxLen {
		return fmt.Errorf("%w: summary must be at most %d characters", models.ErrValidation, models.SummaryMaxLen)
	}
	if !p.MemoryType.Valid() {
		return fmt.Errorf("%w: unknown memory type %q", models.ErrValidation, p.MemoryType)
	}
	if p.Status != "" && (!p.Status.Valid() || p.Status == models.StatusDeleted) {
		return fmt.Errorf("%w: invalid status %q", models.ErrValidation, p.Status)
	}
	return validateTags(p.Tags)
}

func validateUpdate(p models.UpdateParams) error {
	if p.Title != nil {
		if l := len(*p.Title); l < 1 || l > models.TitleMaxLen {
			return fmt.Errorf("%w: title must be 1-%d characters", models.ErrValidation, models.TitleMaxLen)
		}
	}
	if p.Content != nil {
		if l := len(*p.Content); l < 1 || l > models.ContentMaxLen {
			return fmt.Errorf("%w: content must be 1-%d characters", models.ErrValidation, models.ContentMaxLen)
		}
	}
	if p.Summary != nil && len(*p.Summary) > models.SummaryMaxLen {
		return fmt.Errorf("%w: summary must be at most %d characters", models.ErrValidation, models.SummaryMaxLen)
	}
	if p.MemoryType != nil && !p.MemoryType.Valid() {
		return fmt.Errorf("%w: unknown memory type %q", models.ErrValidation, *p.MemoryType)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", models.ErrValidation, *p.Status)
	}
	if p.Tags != nil {
		return validateTags(*p.Tags)
	}
	return nil
}

func validateTags(tags []string) error {
	if len(tags) > models.MaxTags {
		return fmt.Errorf("%w: at most %d tags allowed", models.ErrValidation, models.MaxTags)
	}
	for _, tag := range tags {
		if tag == "" || len(tag) > models.TagMaxLen {
			return fmt.Errorf("%w: tags must be 1-%d characters", models.ErrValidation, models.TagMaxLen)
		}
	}
	return nil
}
