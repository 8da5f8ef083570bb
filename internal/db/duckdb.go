// Package db persists memory entries, versions, and topics in DuckDB,
// using native FLOAT[N] columns for embeddings and the VSS extension for
// similarity search.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/mnemohq/mnemo/internal/models"
)

// Store wraps DuckDB operations for the memory schema.
type Store struct {
	db        *sql.DB
	dimension int
}

// NewStore opens (or creates) the database at dbPath and applies the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("db: failed to open database: %w", err)
	}

	store := &Store{db: db, dimension: models.EmbeddingDimension}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("db: failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize sets up extensions and the schema. Idempotent.
func (s *Store) initialize() error {
	schema := fmt.Sprintf(`
		INSTALL vss;
		LOAD vss;

		CREATE TABLE IF NOT EXISTS memory_entries (
			id VARCHAR PRIMARY KEY,
			title VARCHAR NOT NULL,
			content TEXT NOT NULL,
			summary TEXT,
			memory_type VARCHAR NOT NULL,
			status VARCHAR NOT NULL DEFAULT 'active',
			tags VARCHAR[],
			topic_id VARCHAR,
			project_ref VARCHAR,
			user_id VARCHAR NOT NULL,
			organization_id VARCHAR NOT NULL,
			embedding FLOAT[%d],
			metadata JSON,
			access_count BIGINT NOT NULL DEFAULT 0,
			last_accessed TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS memory_versions (
			id VARCHAR PRIMARY KEY,
			memory_id VARCHAR NOT NULL,
			version_number INTEGER NOT NULL,
			title VARCHAR NOT NULL,
			content TEXT NOT NULL,
			summary TEXT,
			memory_type VARCHAR NOT NULL,
			tags VARCHAR[],
			topic_id VARCHAR,
			metadata JSON,
			created_by VARCHAR,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (memory_id, version_number)
		);

		CREATE TABLE IF NOT EXISTS memory_topics (
			id VARCHAR PRIMARY KEY,
			name VARCHAR NOT NULL,
			description TEXT,
			color VARCHAR,
			parent_topic_id VARCHAR,
			user_id VARCHAR NOT NULL,
			organization_id VARCHAR NOT NULL,
			is_system BOOLEAN NOT NULL DEFAULT FALSE,
			metadata JSON,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, organization_id, name)
		);

		CREATE INDEX IF NOT EXISTS idx_entries_tenant ON memory_entries (user_id, organization_id);
		CREATE INDEX IF NOT EXISTS idx_entries_created_at ON memory_entries (created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_entries_topic ON memory_entries (topic_id);
		CREATE INDEX IF NOT EXISTS idx_versions_memory ON memory_versions (memory_id);
		CREATE INDEX IF NOT EXISTS idx_topics_tenant ON memory_topics (user_id, organization_id);
	`, s.dimension)

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	// Best effort: an approximate index speeds up similarity ranking but the
	// search query is correct without it.
	_, _ = s.db.Exec("CREATE INDEX IF NOT EXISTS idx_entries_embedding ON memory_entries USING HNSW (embedding)")

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// storeErr wraps a driver error with the opaque store sentinel. The
// underlying cause stays in the chain for internal logging only.
func storeErr(op string, err error) error {
	return fmt.Errorf("db: %s: %w: %w", op, models.ErrStore, err)
}

// tagsValue serializes tags for a DuckDB VARCHAR[] column.
func tagsValue(tags []string) any {
	if len(tags) == 0 {
		return nil
	}
	data, _ := json.Marshal(tags)
	return string(data)
}

// embeddingValue serializes a vector for a DuckDB FLOAT[N] column.
func embeddingValue(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	data, _ := json.Marshal(vec)
	return string(data)
}

// metadataValue serializes free-form metadata for a DuckDB JSON column.
// The map is opaque to the store; it round-trips verbatim.
func metadataValue(md map[string]any) (any, error) {
	if md == nil {
		return nil, nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

// topicValue maps an optional topic reference to its column value.
// A pointer at the empty string clears the topic (NULL).
func topicValue(topicID *string) any {
	if topicID == nil || *topicID == "" {
		return nil
	}
	return *topicID
}

// parseTags decodes a VARCHAR[] scan result.
func parseTags(raw any) []string {
	switch v := raw.(type) {
	case []any:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	case []string:
		return v
	}
	return nil
}

// parseEmbedding decodes a FLOAT[N] scan result.
func parseEmbedding(raw any) []float32 {
	switch v := raw.(type) {
	case []any:
		vec := make([]float32, len(v))
		for i, val := range v {
			switch f := val.(type) {
			case float32:
				vec[i] = f
			case float64:
				vec[i] = float32(f)
			}
		}
		return vec
	case []float32:
		return v
	}
	return nil
}

// parseMetadata decodes a JSON scan result back into the opaque map.
func parseMetadata(raw any) map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		return v
	case string:
		var md map[string]any
		if err := json.Unmarshal([]byte(v), &md); err == nil {
			return md
		}
	case []byte:
		var md map[string]any
		if err := json.Unmarshal(v, &md); err == nil {
			return md
		}
	}
	return nil
}
