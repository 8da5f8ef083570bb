package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mnemohq/mnemo/internal/models"
)

const entryColumns = `id, title, content, summary, memory_type, status, tags,
	topic_id, project_ref, user_id, organization_id, embedding, metadata,
	access_count, last_accessed, created_at, updated_at`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*models.MemoryEntry, error) {
	var e models.MemoryEntry
	var summary, topicID, projectRef sql.NullString
	var lastAccessed sql.NullTime
	var tagsRaw, embeddingRaw, metadataRaw any

	err := sc.Scan(
		&e.ID, &e.Title, &e.Content, &summary, &e.MemoryType, &e.Status, &tagsRaw,
		&topicID, &projectRef, &e.UserID, &e.OrganizationID, &embeddingRaw, &metadataRaw,
		&e.AccessCount, &lastAccessed, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if summary.Valid {
		e.Summary = summary.String
	}
	if topicID.Valid {
		e.TopicID = &topicID.String
	}
	if projectRef.Valid {
		e.ProjectRef = projectRef.String
	}
	if lastAccessed.Valid {
		t := lastAccessed.Time
		e.LastAccessed = &t
	}
	e.Tags = parseTags(tagsRaw)
	e.Embedding = parseEmbedding(embeddingRaw)
	e.Metadata = parseMetadata(metadataRaw)

	return &e, nil
}

// appendEntryFilters adds the tenant scope and the optional relational
// predicates shared by List and SearchSimilar. Tag filtering is overlap
// semantics: at least one requested tag must be present.
func appendEntryFilters(conds []string, args []any, scope models.TenantScope,
	types []models.MemoryType, tags []string, topicID *string, projectRef string,
	statuses []models.MemoryStatus) ([]string, []any) {

	conds = append(conds, "user_id = ?", "organization_id = ?")
	args = append(args, scope.UserID, scope.OrganizationID)

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, fmt.Sprintf("memory_type IN (%s)", strings.Join(placeholders, ", ")))
	}

	if len(tags) > 0 {
		overlap := make([]string, len(tags))
		for i, tag := range tags {
			overlap[i] = "list_contains(tags, ?)"
			args = append(args, tag)
		}
		conds = append(conds, "("+strings.Join(overlap, " OR ")+")")
	}

	if topicID != nil {
		conds = append(conds, "topic_id = ?")
		args = append(args, *topicID)
	}

	if projectRef != "" {
		conds = append(conds, "project_ref = ?")
		args = append(args, projectRef)
	}

	if len(statuses) == 0 {
		statuses = []models.MemoryStatus{models.StatusActive}
	}
	placeholders := make([]string, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}
	conds = append(conds, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))

	return conds, args
}

// InsertEntry persists a new entry, assigning id, status, and timestamps
// when absent. The tenant scope on the entry is immutable after this call.
func (s *Store) InsertEntry(ctx context.Context, e *models.MemoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
	if e.Status == "" {
		e.Status = models.StatusActive
	}

	metadataJSON, err := metadataValue(e.Metadata)
	if err != nil {
		return storeErr("insert entry", err)
	}

	query := `
		INSERT INTO memory_entries (
			id, title, content, summary, memory_type, status, tags, topic_id,
			project_ref, user_id, organization_id, embedding, metadata,
			access_count, last_accessed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.Title, e.Content, nullString(e.Summary), string(e.MemoryType), string(e.Status),
		tagsValue(e.Tags), topicValue(e.TopicID), nullString(e.ProjectRef),
		e.UserID, e.OrganizationID, embeddingValue(e.Embedding), metadataJSON,
		e.AccessCount, nullTime(e.LastAccessed), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return storeErr("insert entry", err)
	}

	return nil
}

// GetEntry retrieves a single entry within the tenant scope. Soft-deleted
// entries and entries owned by other tenants both surface as ErrNotFound.
func (s *Store) GetEntry(ctx context.Context, id string, scope models.TenantScope) (*models.MemoryEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM memory_entries
		WHERE id = ? AND user_id = ? AND organization_id = ? AND status != ?
	`, entryColumns)

	row := s.db.QueryRowContext(ctx, query, id, scope.UserID, scope.OrganizationID, string(models.StatusDeleted))
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get entry", err)
	}

	return e, nil
}

// UpdateEntry mutates only the supplied fields and always refreshes
// updated_at. When any content-bearing field is supplied, the pre-update
// state is snapshotted into memory_versions in the same transaction, with
// version_number = max(existing)+1 starting at 1.
func (s *Store) UpdateEntry(ctx context.Context, id string, scope models.TenantScope, params models.UpdateParams) (*models.MemoryEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("update entry", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		SELECT %s FROM memory_entries
		WHERE id = ? AND user_id = ? AND organization_id = ? AND status != ?
	`, entryColumns)
	current, err := scanEntry(tx.QueryRowContext(ctx, query, id, scope.UserID, scope.OrganizationID, string(models.StatusDeleted)))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("update entry", err)
	}

	if params.Versioning() {
		if err := insertVersion(ctx, tx, current, params.CreatedBy); err != nil {
			return nil, storeErr("insert version", err)
		}
	}

	var sets []string
	var args []any

	if params.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *params.Title)
	}
	if params.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *params.Content)
	}
	if params.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, nullString(*params.Summary))
	}
	if params.MemoryType != nil {
		sets = append(sets, "memory_type = ?")
		args = append(args, string(*params.MemoryType))
	}
	if params.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*params.Status))
	}
	if params.Tags != nil {
		sets = append(sets, "tags = ?")
		args = append(args, tagsValue(*params.Tags))
	}
	if params.TopicID != nil {
		sets = append(sets, "topic_id = ?")
		args = append(args, topicValue(params.TopicID))
	}
	if params.ProjectRef != nil {
		sets = append(sets, "project_ref = ?")
		args = append(args, nullString(*params.ProjectRef))
	}
	if params.Metadata != nil {
		metadataJSON, err := metadataValue(*params.Metadata)
		if err != nil {
			return nil, storeErr("update entry", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, metadataJSON)
	}
	if params.Embedding != nil {
		sets = append(sets, "embedding = ?")
		args = append(args, embeddingValue(params.Embedding))
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now())
	args = append(args, id, scope.UserID, scope.OrganizationID)

	updateSQL := fmt.Sprintf(
		"UPDATE memory_entries SET %s WHERE id = ? AND user_id = ? AND organization_id = ?",
		strings.Join(sets, ", "),
	)
	if _, err := tx.ExecContext(ctx, updateSQL, args...); err != nil {
		return nil, storeErr("update entry", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("update entry", err)
	}

	return s.GetEntry(ctx, id, scope)
}

// insertVersion snapshots the pre-update state of an entry. Runs inside the
// update transaction so an update is never left un-versioned.
func insertVersion(ctx context.Context, tx *sql.Tx, current *models.MemoryEntry, createdBy string) error {
	var next int
	err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version_number), 0) + 1 FROM memory_versions WHERE memory_id = ?",
		current.ID,
	).Scan(&next)
	if err != nil {
		return err
	}

	metadataJSON, err := metadataValue(current.Metadata)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_versions (
			id, memory_id, version_number, title, content, summary,
			memory_type, tags, topic_id, metadata, created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.New().String(), current.ID, next, current.Title, current.Content,
		nullString(current.Summary), string(current.MemoryType), tagsValue(current.Tags),
		topicValue(current.TopicID), metadataJSON, nullString(createdBy), time.Now(),
	)
	return err
}

// SoftDelete marks an entry deleted without removing the row. A second call
// on the same id returns ErrNotFound: deleted entries are outside lookup
// scope.
func (s *Store) SoftDelete(ctx context.Context, id string, scope models.TenantScope) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE memory_entries SET status = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND organization_id = ? AND status != ?
	`, string(models.StatusDeleted), time.Now(), id, scope.UserID, scope.OrganizationID, string(models.StatusDeleted))
	if err != nil {
		return storeErr("soft delete", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr("soft delete", err)
	}
	if rows == 0 {
		return models.ErrNotFound
	}

	return nil
}

// SoftDeleteBatch soft-deletes a batch of ids inside one transaction.
// Missing ids are reported in failed without aborting the batch; a driver
// error aborts and rolls back the whole batch.
func (s *Store) SoftDeleteBatch(ctx context.Context, scope models.TenantScope, ids []string) (deleted int, failed []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, storeErr("bulk delete", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, id := range ids {
		result, err := tx.ExecContext(ctx, `
			UPDATE memory_entries SET status = ?, updated_at = ?
			WHERE id = ? AND user_id = ? AND organization_id = ? AND status != ?
		`, string(models.StatusDeleted), now, id, scope.UserID, scope.OrganizationID, string(models.StatusDeleted))
		if err != nil {
			return 0, nil, storeErr("bulk delete", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, nil, storeErr("bulk delete", err)
		}
		if rows == 0 {
			failed = append(failed, id)
			continue
		}
		deleted++
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, storeErr("bulk delete", err)
	}

	return deleted, failed, nil
}

// List returns entries matching the filters plus the total match count
// before pagination.
func (s *Store) List(ctx context.Context, params models.ListParams) ([]models.MemoryEntry, int, error) {
	params.Normalize()

	conds, args := appendEntryFilters(nil, nil, params.Scope,
		params.Types, params.Tags, params.TopicID, params.ProjectRef, params.Statuses)
	whereClause := " WHERE " + strings.Join(conds, " AND ")

	// Sort key and order come from the Normalize whitelist, never raw input.
	query := fmt.Sprintf("SELECT %s FROM memory_entries%s ORDER BY %s %s LIMIT ? OFFSET ?",
		entryColumns, whereClause, params.SortBy, strings.ToUpper(params.SortOrder))
	rows, err := s.db.QueryContext(ctx, query, append(args, params.Limit, params.Offset)...)
	if err != nil {
		return nil, 0, storeErr("list entries", err)
	}
	defer rows.Close()

	var entries []models.MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, storeErr("list entries", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr("list entries", err)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM memory_entries" + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, storeErr("count entries", err)
	}

	return entries, total, nil
}

// SearchSimilar ranks entries by cosine similarity against the query vector,
// with the relational predicates pushed into the same query rather than
// post-filtered. A candidate scoring exactly the threshold is included.
// Ties on score break by created_at descending.
func (s *Store) SearchSimilar(ctx context.Context, params models.SearchParams) ([]models.SearchResult, error) {
	if len(params.QueryEmbedding) != s.dimension {
		return nil, fmt.Errorf("%w: query embedding dimension %d, want %d",
			models.ErrValidation, len(params.QueryEmbedding), s.dimension)
	}

	conds, args := appendEntryFilters([]string{"embedding IS NOT NULL"}, nil, params.Scope,
		params.Types, params.Tags, params.TopicID, params.ProjectRef, params.Statuses)

	// The vector is values-only JSON, inlined as a DuckDB list literal the
	// same way it is serialized for storage.
	vecJSON, err := json.Marshal(params.QueryEmbedding)
	if err != nil {
		return nil, storeErr("search", err)
	}

	query := fmt.Sprintf(`
		SELECT %s, score FROM (
			SELECT %s, array_cosine_similarity(embedding, %s::FLOAT[%d]) AS score
			FROM memory_entries
			WHERE %s
		)
		WHERE score >= ?
		ORDER BY score DESC, created_at DESC
		LIMIT ?
	`, entryColumns, entryColumns, string(vecJSON), s.dimension, strings.Join(conds, " AND "))

	args = append(args, params.Threshold, params.Limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("search", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var e models.MemoryEntry
		var summary, topicID, projectRef sql.NullString
		var lastAccessed sql.NullTime
		var tagsRaw, embeddingRaw, metadataRaw any
		var score float64

		err := rows.Scan(
			&e.ID, &e.Title, &e.Content, &summary, &e.MemoryType, &e.Status, &tagsRaw,
			&topicID, &projectRef, &e.UserID, &e.OrganizationID, &embeddingRaw, &metadataRaw,
			&e.AccessCount, &lastAccessed, &e.CreatedAt, &e.UpdatedAt, &score,
		)
		if err != nil {
			return nil, storeErr("search", err)
		}

		if summary.Valid {
			e.Summary = summary.String
		}
		if topicID.Valid {
			e.TopicID = &topicID.String
		}
		if projectRef.Valid {
			e.ProjectRef = projectRef.String
		}
		if lastAccessed.Valid {
			t := lastAccessed.Time
			e.LastAccessed = &t
		}
		e.Tags = parseTags(tagsRaw)
		e.Embedding = parseEmbedding(embeddingRaw)
		e.Metadata = parseMetadata(metadataRaw)

		results = append(results, models.SearchResult{Entry: e, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("search", err)
	}

	return results, nil
}

// RecordAccess bumps access_count and stamps last_accessed for a read.
func (s *Store) RecordAccess(ctx context.Context, id string, scope models.TenantScope) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE memory_entries
		SET access_count = access_count + 1, last_accessed = ?
		WHERE id = ? AND user_id = ? AND organization_id = ? AND status != ?
	`, time.Now(), id, scope.UserID, scope.OrganizationID, string(models.StatusDeleted))
	if err != nil {
		return storeErr("record access", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr("record access", err)
	}
	if rows == 0 {
		return models.ErrNotFound
	}

	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
