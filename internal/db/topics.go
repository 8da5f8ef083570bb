package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mnemohq/mnemo/internal/models"
)

const topicColumns = `id, name, description, color, parent_topic_id,
	user_id, organization_id, is_system, metadata, created_at, updated_at`

func scanTopic(sc scanner) (*models.MemoryTopic, error) {
	var t models.MemoryTopic
	var description, color, parentID sql.NullString
	var metadataRaw any

	err := sc.Scan(
		&t.ID, &t.Name, &description, &color, &parentID,
		&t.UserID, &t.OrganizationID, &t.IsSystem, &metadataRaw,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		t.Description = description.String
	}
	if color.Valid {
		t.Color = color.String
	}
	if parentID.Valid {
		t.ParentTopicID = &parentID.String
	}
	t.Metadata = parseMetadata(metadataRaw)

	return &t, nil
}

// InsertTopic persists a new topic. Names are unique per tenant; a duplicate
// surfaces as ErrValidation via the schema constraint.
func (s *Store) InsertTopic(ctx context.Context, t *models.MemoryTopic) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}

	metadataJSON, err := metadataValue(t.Metadata)
	if err != nil {
		return storeErr("insert topic", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_topics (
			id, name, description, color, parent_topic_id,
			user_id, organization_id, is_system, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.Name, nullString(t.Description), nullString(t.Color), topicValue(t.ParentTopicID),
		t.UserID, t.OrganizationID, t.IsSystem, metadataJSON, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "Constraint") || strings.Contains(err.Error(), "constraint") {
			return fmt.Errorf("%w: topic name already exists", models.ErrValidation)
		}
		return storeErr("insert topic", err)
	}

	return nil
}

// GetTopic retrieves a single topic within the tenant scope.
func (s *Store) GetTopic(ctx context.Context, id string, scope models.TenantScope) (*models.MemoryTopic, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM memory_topics
		WHERE id = ? AND user_id = ? AND organization_id = ?
	`, topicColumns)

	t, err := scanTopic(s.db.QueryRowContext(ctx, query, id, scope.UserID, scope.OrganizationID))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get topic", err)
	}

	return t, nil
}

// ListTopics returns all topics for the tenant, name order.
func (s *Store) ListTopics(ctx context.Context, scope models.TenantScope) ([]models.MemoryTopic, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM memory_topics
		WHERE user_id = ? AND organization_id = ?
		ORDER BY name ASC
	`, topicColumns)

	rows, err := s.db.QueryContext(ctx, query, scope.UserID, scope.OrganizationID)
	if err != nil {
		return nil, storeErr("list topics", err)
	}
	defer rows.Close()

	var topics []models.MemoryTopic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, storeErr("list topics", err)
		}
		topics = append(topics, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list topics", err)
	}

	return topics, nil
}

// TopicUpdateParams holds a partial topic update. Nil pointers leave the
// stored value untouched.
type TopicUpdateParams struct {
	Name          *string         `json:"name,omitempty"`
	Description   *string         `json:"description,omitempty"`
	Color         *string         `json:"color,omitempty"`
	ParentTopicID *string         `json:"parent_topic_id,omitempty"`
	Metadata      *map[string]any `json:"metadata,omitempty"`
}

// UpdateTopic mutates only the supplied fields and refreshes updated_at.
func (s *Store) UpdateTopic(ctx context.Context, id string, scope models.TenantScope, params TopicUpdateParams) (*models.MemoryTopic, error) {
	var sets []string
	var args []any

	if params.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *params.Name)
	}
	if params.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullString(*params.Description))
	}
	if params.Color != nil {
		sets = append(sets, "color = ?")
		args = append(args, nullString(*params.Color))
	}
	if params.ParentTopicID != nil {
		sets = append(sets, "parent_topic_id = ?")
		args = append(args, topicValue(params.ParentTopicID))
	}
	if params.Metadata != nil {
		metadataJSON, err := metadataValue(*params.Metadata)
		if err != nil {
			return nil, storeErr("update topic", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, metadataJSON)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now())
	args = append(args, id, scope.UserID, scope.OrganizationID)

	query := fmt.Sprintf(
		"UPDATE memory_topics SET %s WHERE id = ? AND user_id = ? AND organization_id = ?",
		strings.Join(sets, ", "),
	)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("update topic", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, storeErr("update topic", err)
	}
	if rows == 0 {
		return nil, models.ErrNotFound
	}

	return s.GetTopic(ctx, id, scope)
}

// DeleteTopic removes a topic and nulls topic_id on entries that referenced
// it, in one transaction (set-null semantics, entries survive).
func (s *Store) DeleteTopic(ctx context.Context, id string, scope models.TenantScope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("delete topic", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE memory_entries SET topic_id = NULL
		WHERE topic_id = ? AND user_id = ? AND organization_id = ?
	`, id, scope.UserID, scope.OrganizationID)
	if err != nil {
		return storeErr("delete topic", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM memory_topics
		WHERE id = ? AND user_id = ? AND organization_id = ?
	`, id, scope.UserID, scope.OrganizationID)
	if err != nil {
		return storeErr("delete topic", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr("delete topic", err)
	}
	if rows == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return storeErr("delete topic", err)
	}
	return nil
}
