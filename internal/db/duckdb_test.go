package db

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/mnemohq/mnemo/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir() + "/test.duckdb")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

var testScope = models.TenantScope{UserID: "user-1", OrganizationID: "org-1"}

// unitVec returns a vector with a single 1.0 at the given index. Two such
// vectors are orthogonal, which keeps similarity arithmetic exact.
func unitVec(index int) []float32 {
	vec := make([]float32, models.EmbeddingDimension)
	vec[index] = 1.0
	return vec
}

func insertTestEntry(t *testing.T, store *Store, e *models.MemoryEntry) *models.MemoryEntry {
	t.Helper()

	if e.Title == "" {
		e.Title = "Test memory"
	}
	if e.Content == "" {
		e.Content = "Test content"
	}
	if e.MemoryType == "" {
		e.MemoryType = models.TypeKnowledge
	}
	if e.UserID == "" {
		e.UserID = testScope.UserID
		e.OrganizationID = testScope.OrganizationID
	}

	if err := store.InsertEntry(context.Background(), e); err != nil {
		t.Fatalf("Failed to insert entry: %v", err)
	}
	return e
}

func TestNewStore(t *testing.T) {
	tmpFile := t.TempDir() + "/test.duckdb"

	store, err := NewStore(tmpFile)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(tmpFile); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestInsertEntry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t.Run("generates id, status, and timestamps", func(t *testing.T) {
		e := insertTestEntry(t, store, &models.MemoryEntry{})

		if e.ID == "" {
			t.Error("ID was not generated")
		}
		if e.Status != models.StatusActive {
			t.Errorf("Expected status active, got %q", e.Status)
		}
		if e.CreatedAt.IsZero() || e.UpdatedAt.IsZero() {
			t.Error("Timestamps were not set")
		}
	})

	t.Run("preserves all fields on round-trip", func(t *testing.T) {
		topicID := "topic-1"
		e := insertTestEntry(t, store, &models.MemoryEntry{
			Title:      "Deployment runbook",
			Content:    "Run the migration before the rollout",
			Summary:    "Migration ordering",
			MemoryType: models.TypeWorkflow,
			Tags:       []string{"deploy", "runbook"},
			TopicID:    &topicID,
			ProjectRef: "proj-42",
			Embedding:  unitVec(3),
			Metadata:   map[string]any{"source": "wiki", "priority": float64(2)},
		})

		got, err := store.GetEntry(ctx, e.ID, testScope)
		if err != nil {
			t.Fatalf("Failed to get entry: %v", err)
		}

		if got.Title != e.Title || got.Content != e.Content || got.Summary != e.Summary {
			t.Errorf("Text fields did not round-trip: %+v", got)
		}
		if got.MemoryType != models.TypeWorkflow {
			t.Errorf("Expected memory type workflow, got %q", got.MemoryType)
		}
		if len(got.Tags) != 2 || got.Tags[0] != "deploy" {
			t.Errorf("Tags did not round-trip: %v", got.Tags)
		}
		if got.TopicID == nil || *got.TopicID != topicID {
			t.Errorf("TopicID did not round-trip: %v", got.TopicID)
		}
		if got.ProjectRef != "proj-42" {
			t.Errorf("ProjectRef did not round-trip: %q", got.ProjectRef)
		}
		if len(got.Embedding) != models.EmbeddingDimension {
			t.Errorf("Expected %d-dim embedding, got %d", models.EmbeddingDimension, len(got.Embedding))
		}
		if got.Embedding[3] != 1.0 {
			t.Errorf("Embedding values did not round-trip")
		}
		if got.Metadata["source"] != "wiki" {
			t.Errorf("Metadata did not round-trip: %v", got.Metadata)
		}
	})
}

func TestGetEntry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	e := insertTestEntry(t, store, &models.MemoryEntry{})

	t.Run("unknown id returns ErrNotFound", func(t *testing.T) {
		_, err := store.GetEntry(ctx, "no-such-id", testScope)
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("other tenant cannot see the entry", func(t *testing.T) {
		otherScope := models.TenantScope{UserID: "user-2", OrganizationID: "org-1"}
		_, err := store.GetEntry(ctx, e.ID, otherScope)
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for foreign tenant, got %v", err)
		}
	})

	t.Run("other org cannot see the entry", func(t *testing.T) {
		otherScope := models.TenantScope{UserID: "user-1", OrganizationID: "org-2"}
		_, err := store.GetEntry(ctx, e.ID, otherScope)
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for foreign org, got %v", err)
		}
	})
}

func TestUpdateEntry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t.Run("partial update leaves other fields alone", func(t *testing.T) {
		e := insertTestEntry(t, store, &models.MemoryEntry{
			Title:   "Original title",
			Content: "Original content",
			Summary: "Original summary",
		})

		newTitle := "Updated title"
		got, err := store.UpdateEntry(ctx, e.ID, testScope, models.UpdateParams{Title: &newTitle})
		if err != nil {
			t.Fatalf("Failed to update entry: %v", err)
		}

		if got.Title != newTitle {
			t.Errorf("Title not updated: %q", got.Title)
		}
		if got.Content != "Original content" || got.Summary != "Original summary" {
			t.Errorf("Untouched fields changed: %+v", got)
		}
		if !got.UpdatedAt.After(e.UpdatedAt) {
			t.Error("UpdatedAt was not refreshed")
		}
	})

	t.Run("content update snapshots the previous state", func(t *testing.T) {
		e := insertTestEntry(t, store, &models.MemoryEntry{
			Title:   "v1 title",
			Content: "v1 content",
		})

		newContent := "v2 content"
		if _, err := store.UpdateEntry(ctx, e.ID, testScope, models.UpdateParams{
			Content:   &newContent,
			CreatedBy: "user-1",
		}); err != nil {
			t.Fatalf("Failed to update entry: %v", err)
		}

		versions, err := store.ListVersions(ctx, e.ID, testScope)
		if err != nil {
			t.Fatalf("Failed to list versions: %v", err)
		}
		if len(versions) != 1 {
			t.Fatalf("Expected 1 version, got %d", len(versions))
		}
		if versions[0].VersionNumber != 1 {
			t.Errorf("Expected version number 1, got %d", versions[0].VersionNumber)
		}
		if versions[0].Content != "v1 content" {
			t.Errorf("Snapshot holds post-update content: %q", versions[0].Content)
		}
		if versions[0].CreatedBy != "user-1" {
			t.Errorf("CreatedBy not recorded: %q", versions[0].CreatedBy)
		}
	})

	t.Run("version numbers are sequential and gapless", func(t *testing.T) {
		e := insertTestEntry(t, store, &models.MemoryEntry{Content: "rev 0"})

		for i := 1; i <= 3; i++ {
			content := "rev " + string(rune('0'+i))
			if _, err := store.UpdateEntry(ctx, e.ID, testScope, models.UpdateParams{Content: &content}); err != nil {
				t.Fatalf("Update %d failed: %v", i, err)
			}
		}

		versions, err := store.ListVersions(ctx, e.ID, testScope)
		if err != nil {
			t.Fatalf("Failed to list versions: %v", err)
		}
		if len(versions) != 3 {
			t.Fatalf("Expected 3 versions, got %d", len(versions))
		}
		for i, v := range versions {
			if v.VersionNumber != i+1 {
				t.Errorf("Expected version %d at position %d, got %d", i+1, i, v.VersionNumber)
			}
		}
	})

	t.Run("status-only update does not create a version", func(t *testing.T) {
		e := insertTestEntry(t, store, &models.MemoryEntry{})

		archived := models.StatusArchived
		if _, err := store.UpdateEntry(ctx, e.ID, testScope, models.UpdateParams{Status: &archived}); err != nil {
			t.Fatalf("Failed to update entry: %v", err)
		}

		versions, err := store.ListVersions(ctx, e.ID, testScope)
		if err != nil {
			t.Fatalf("Failed to list versions: %v", err)
		}
		if len(versions) != 0 {
			t.Errorf("Status change created %d versions", len(versions))
		}
	})

	t.Run("empty topic pointer clears the topic", func(t *testing.T) {
		topicID := "topic-x"
		e := insertTestEntry(t, store, &models.MemoryEntry{TopicID: &topicID})

		empty := ""
		got, err := store.UpdateEntry(ctx, e.ID, testScope, models.UpdateParams{TopicID: &empty})
		if err != nil {
			t.Fatalf("Failed to update entry: %v", err)
		}
		if got.TopicID != nil {
			t.Errorf("Topic was not cleared: %v", *got.TopicID)
		}
	})

	t.Run("unknown id returns ErrNotFound", func(t *testing.T) {
		title := "x"
		_, err := store.UpdateEntry(ctx, "no-such-id", testScope, models.UpdateParams{Title: &title})
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestSoftDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	e := insertTestEntry(t, store, &models.MemoryEntry{})

	if err := store.SoftDelete(ctx, e.ID, testScope); err != nil {
		t.Fatalf("Failed to soft delete: %v", err)
	}

	t.Run("deleted entry is gone from reads", func(t *testing.T) {
		_, err := store.GetEntry(ctx, e.ID, testScope)
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("second delete returns ErrNotFound", func(t *testing.T) {
		err := store.SoftDelete(ctx, e.ID, testScope)
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound on repeat delete, got %v", err)
		}
	})

	t.Run("row survives with deleted status", func(t *testing.T) {
		entries, total, err := store.List(ctx, models.ListParams{
			Scope:    testScope,
			Statuses: []models.MemoryStatus{models.StatusDeleted},
		})
		if err != nil {
			t.Fatalf("Failed to list deleted entries: %v", err)
		}
		if total != 1 || len(entries) != 1 {
			t.Fatalf("Expected 1 deleted row, got %d", total)
		}
		if entries[0].ID != e.ID {
			t.Errorf("Wrong row kept: %q", entries[0].ID)
		}
	})
}

func TestSoftDeleteBatch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		e := insertTestEntry(t, store, &models.MemoryEntry{})
		ids = append(ids, e.ID)
	}
	ids = append(ids, "missing-1", "missing-2")

	deleted, failed, err := store.SoftDeleteBatch(ctx, testScope, ids)
	if err != nil {
		t.Fatalf("Batch delete failed: %v", err)
	}

	if deleted != 5 {
		t.Errorf("Expected 5 deleted, got %d", deleted)
	}
	if len(failed) != 2 {
		t.Errorf("Expected 2 failed ids, got %v", failed)
	}
	if deleted+len(failed) != len(ids) {
		t.Errorf("Accounting broken: %d + %d != %d", deleted, len(failed), len(ids))
	}
}

func TestList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	insertTestEntry(t, store, &models.MemoryEntry{
		Title: "Alpha", MemoryType: models.TypeKnowledge, Tags: []string{"go"},
		ProjectRef: "proj-1",
	})
	insertTestEntry(t, store, &models.MemoryEntry{
		Title: "Beta", MemoryType: models.TypeProject, Tags: []string{"go", "infra"},
		ProjectRef: "proj-1",
	})
	insertTestEntry(t, store, &models.MemoryEntry{
		Title: "Gamma", MemoryType: models.TypeProject, Tags: []string{"python"},
		ProjectRef: "proj-2", Status: models.StatusArchived,
	})
	insertTestEntry(t, store, &models.MemoryEntry{
		Title: "Other tenant", UserID: "user-9", OrganizationID: "org-9",
	})

	t.Run("defaults to active entries in own scope", func(t *testing.T) {
		entries, total, err := store.List(ctx, models.ListParams{Scope: testScope})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if total != 2 {
			t.Errorf("Expected 2 active entries, got %d", total)
		}
		for _, e := range entries {
			if e.Status != models.StatusActive {
				t.Errorf("Non-active entry listed: %q", e.Title)
			}
			if e.UserID != testScope.UserID {
				t.Errorf("Foreign entry listed: %q", e.Title)
			}
		}
	})

	t.Run("filters by type", func(t *testing.T) {
		_, total, err := store.List(ctx, models.ListParams{
			Scope: testScope,
			Types: []models.MemoryType{models.TypeProject},
		})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if total != 1 {
			t.Errorf("Expected 1 active project entry, got %d", total)
		}
	})

	t.Run("tag filter uses overlap semantics", func(t *testing.T) {
		_, total, err := store.List(ctx, models.ListParams{
			Scope: testScope,
			Tags:  []string{"infra", "python"},
		})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		// Beta has infra; Gamma has python but is archived.
		if total != 1 {
			t.Errorf("Expected 1 entry with tag overlap, got %d", total)
		}
	})

	t.Run("includes archived when requested", func(t *testing.T) {
		_, total, err := store.List(ctx, models.ListParams{
			Scope:    testScope,
			Statuses: []models.MemoryStatus{models.StatusActive, models.StatusArchived},
		})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if total != 3 {
			t.Errorf("Expected 3 entries, got %d", total)
		}
	})

	t.Run("sorts by title ascending", func(t *testing.T) {
		entries, _, err := store.List(ctx, models.ListParams{
			Scope:     testScope,
			SortBy:    "title",
			SortOrder: "asc",
		})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(entries) != 2 || entries[0].Title != "Alpha" || entries[1].Title != "Beta" {
			t.Errorf("Wrong order: %v", entries)
		}
	})

	t.Run("paginates with total unaffected", func(t *testing.T) {
		entries, total, err := store.List(ctx, models.ListParams{
			Scope: testScope,
			Limit: 1,
		})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(entries) != 1 {
			t.Errorf("Expected 1 page entry, got %d", len(entries))
		}
		if total != 2 {
			t.Errorf("Expected total 2, got %d", total)
		}
	})
}

func TestSearchSimilar(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	matching := insertTestEntry(t, store, &models.MemoryEntry{
		Title: "Matching", Embedding: unitVec(0), Tags: []string{"go"},
	})
	insertTestEntry(t, store, &models.MemoryEntry{
		Title: "Orthogonal", Embedding: unitVec(1),
	})
	insertTestEntry(t, store, &models.MemoryEntry{
		Title: "No vector",
	})
	insertTestEntry(t, store, &models.MemoryEntry{
		Title: "Foreign", Embedding: unitVec(0), UserID: "user-9", OrganizationID: "org-9",
	})

	t.Run("returns only entries above threshold in own scope", func(t *testing.T) {
		results, err := store.SearchSimilar(ctx, models.SearchParams{
			Scope:          testScope,
			QueryEmbedding: unitVec(0),
			Threshold:      0.5,
			Limit:          10,
		})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("Expected 1 result, got %d", len(results))
		}
		if results[0].Entry.ID != matching.ID {
			t.Errorf("Wrong entry returned: %q", results[0].Entry.Title)
		}
		if results[0].Score < 0.99 {
			t.Errorf("Expected score ~1.0, got %f", results[0].Score)
		}
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		// Identical single-component unit vectors score exactly 1.0.
		results, err := store.SearchSimilar(ctx, models.SearchParams{
			Scope:          testScope,
			QueryEmbedding: unitVec(0),
			Threshold:      1.0,
			Limit:          10,
		})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 1 {
			t.Errorf("Expected boundary score to be included, got %d results", len(results))
		}
	})

	t.Run("pushes relational predicates into the query", func(t *testing.T) {
		results, err := store.SearchSimilar(ctx, models.SearchParams{
			Scope:          testScope,
			QueryEmbedding: unitVec(0),
			Threshold:      0.0,
			Limit:          10,
			Tags:           []string{"go"},
		})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 1 || results[0].Entry.ID != matching.ID {
			t.Errorf("Tag pushdown failed: %v", results)
		}
	})

	t.Run("respects the limit", func(t *testing.T) {
		results, err := store.SearchSimilar(ctx, models.SearchParams{
			Scope:          testScope,
			QueryEmbedding: unitVec(0),
			Threshold:      0.0,
			Limit:          1,
		})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 1 {
			t.Errorf("Expected limit 1, got %d results", len(results))
		}
	})

	t.Run("rejects wrong query dimension", func(t *testing.T) {
		_, err := store.SearchSimilar(ctx, models.SearchParams{
			Scope:          testScope,
			QueryEmbedding: []float32{1, 0, 0},
			Threshold:      0.5,
			Limit:          10,
		})
		if !errors.Is(err, models.ErrValidation) {
			t.Errorf("Expected ErrValidation, got %v", err)
		}
	})
}

func TestRecordAccess(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	e := insertTestEntry(t, store, &models.MemoryEntry{})

	for i := 0; i < 3; i++ {
		if err := store.RecordAccess(ctx, e.ID, testScope); err != nil {
			t.Fatalf("RecordAccess failed: %v", err)
		}
	}

	got, err := store.GetEntry(ctx, e.ID, testScope)
	if err != nil {
		t.Fatalf("Failed to get entry: %v", err)
	}
	if got.AccessCount != 3 {
		t.Errorf("Expected access count 3, got %d", got.AccessCount)
	}
	if got.LastAccessed == nil {
		t.Error("LastAccessed was not set")
	}

	t.Run("unknown id returns ErrNotFound", func(t *testing.T) {
		err := store.RecordAccess(ctx, "no-such-id", testScope)
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestListVersionsScope(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	e := insertTestEntry(t, store, &models.MemoryEntry{Content: "v1"})
	content := "v2"
	if _, err := store.UpdateEntry(ctx, e.ID, testScope, models.UpdateParams{Content: &content}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	otherScope := models.TenantScope{UserID: "user-9", OrganizationID: "org-9"}
	_, err := store.ListVersions(ctx, e.ID, otherScope)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for foreign tenant, got %v", err)
	}
}
