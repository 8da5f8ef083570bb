package db

import (
	"context"
	"database/sql"

	"github.com/mnemohq/mnemo/internal/models"
)

// ListVersions returns the version history of an entry, oldest first. The
// parent entry must be visible within the tenant scope; versions themselves
// carry no tenant columns because they live and die with their parent.
func (s *Store) ListVersions(ctx context.Context, memoryID string, scope models.TenantScope) ([]models.MemoryVersion, error) {
	// Scope check through the parent keeps tenant isolation airtight even
	// though version rows are only reachable by memory id.
	if _, err := s.GetEntry(ctx, memoryID, scope); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, version_number, title, content, summary,
		       memory_type, tags, topic_id, metadata, created_by, created_at
		FROM memory_versions
		WHERE memory_id = ?
		ORDER BY version_number ASC
	`, memoryID)
	if err != nil {
		return nil, storeErr("list versions", err)
	}
	defer rows.Close()

	var versions []models.MemoryVersion
	for rows.Next() {
		var v models.MemoryVersion
		var summary, topicID, createdBy sql.NullString
		var tagsRaw, metadataRaw any

		err := rows.Scan(
			&v.ID, &v.MemoryID, &v.VersionNumber, &v.Title, &v.Content, &summary,
			&v.MemoryType, &tagsRaw, &topicID, &metadataRaw, &createdBy, &v.CreatedAt,
		)
		if err != nil {
			return nil, storeErr("list versions", err)
		}

		if summary.Valid {
			v.Summary = summary.String
		}
		if topicID.Valid {
			v.TopicID = &topicID.String
		}
		if createdBy.Valid {
			v.CreatedBy = createdBy.String
		}
		v.Tags = parseTags(tagsRaw)
		v.Metadata = parseMetadata(metadataRaw)

		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list versions", err)
	}

	return versions, nil
}
