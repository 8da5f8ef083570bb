package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemohq/mnemo/internal/db"
	"github.com/mnemohq/mnemo/internal/models"
)

var testScope = models.TenantScope{UserID: "user-1", OrganizationID: "org-1"}

// fakeEmbedder maps text deterministically onto unit vectors so similarity
// outcomes are predictable: texts sharing a first byte are identical, others
// are orthogonal.
type fakeEmbedder struct {
	calls int
	fail  bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("%w: provider down", models.ErrEmbeddingProvider)
	}
	f.calls++

	vec := make([]float32, models.EmbeddingDimension)
	if len(text) > 0 {
		vec[int(text[0])%models.EmbeddingDimension] = 1.0
	}
	return vec, nil
}

func (f *fakeEmbedder) Dimension() int { return models.EmbeddingDimension }

func setupService(t *testing.T) (*Service, *fakeEmbedder, *db.Store) {
	t.Helper()

	store, err := db.NewStore(t.TempDir() + "/test.duckdb")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	embedder := &fakeEmbedder{}
	return New(store, embedder, nil), embedder, store
}

func validCreate() CreateParams {
	return CreateParams{
		Scope:      testScope,
		Title:      "Test memory",
		Content:    "Some content worth remembering",
		MemoryType: models.TypeKnowledge,
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("embeds and persists", func(t *testing.T) {
		svc, embedder, _ := setupService(t)

		entry, err := svc.Create(ctx, validCreate())
		require.NoError(t, err)

		assert.NotEmpty(t, entry.ID)
		assert.Equal(t, models.StatusActive, entry.Status)
		assert.Len(t, entry.Embedding, models.EmbeddingDimension)
		assert.Equal(t, 1, embedder.calls)

		got, err := svc.Get(ctx, entry.ID, testScope)
		require.NoError(t, err)
		assert.Equal(t, entry.Title, got.Title)
	})

	t.Run("validation failures never reach the embedder", func(t *testing.T) {
		svc, embedder, _ := setupService(t)

		cases := map[string]CreateParams{
			"empty title": func() CreateParams {
				p := validCreate()
				p.Title = ""
				return p
			}(),
			"oversized content": func() CreateParams {
				p := validCreate()
				p.Content = strings.Repeat("x", models.ContentMaxLen+1)
				return p
			}(),
			"unknown type": func() CreateParams {
				p := validCreate()
				p.MemoryType = "feeling"
				return p
			}(),
			"too many tags": func() CreateParams {
				p := validCreate()
				for i := 0; i <= models.MaxTags; i++ {
					p.Tags = append(p.Tags, fmt.Sprintf("tag-%d", i))
				}
				return p
			}(),
			"deleted status at create": func() CreateParams {
				p := validCreate()
				p.Status = models.StatusDeleted
				return p
			}(),
			"missing user": func() CreateParams {
				p := validCreate()
				p.Scope.UserID = ""
				return p
			}(),
		}

		for name, params := range cases {
			_, err := svc.Create(ctx, params)
			assert.ErrorIs(t, err, models.ErrValidation, name)
		}
		assert.Zero(t, embedder.calls)
	})

	t.Run("embedding failure persists nothing", func(t *testing.T) {
		svc, embedder, _ := setupService(t)
		embedder.fail = true

		_, err := svc.Create(ctx, validCreate())
		require.ErrorIs(t, err, models.ErrEmbeddingProvider)

		embedder.fail = false
		_, total, err := svc.List(ctx, models.ListParams{Scope: testScope})
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	entry, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	t.Run("records the access", func(t *testing.T) {
		first, err := svc.Get(ctx, entry.ID, testScope)
		require.NoError(t, err)
		assert.Zero(t, first.AccessCount)

		second, err := svc.Get(ctx, entry.ID, testScope)
		require.NoError(t, err)
		assert.Equal(t, int64(1), second.AccessCount)
		assert.NotNil(t, second.LastAccessed)
	})

	t.Run("unknown id returns ErrNotFound", func(t *testing.T) {
		_, err := svc.Get(ctx, "no-such-id", testScope)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("content change re-embeds", func(t *testing.T) {
		svc, embedder, _ := setupService(t)

		entry, err := svc.Create(ctx, validCreate())
		require.NoError(t, err)
		require.Equal(t, 1, embedder.calls)

		content := "completely different content"
		updated, err := svc.Update(ctx, entry.ID, testScope, models.UpdateParams{Content: &content})
		require.NoError(t, err)

		assert.Equal(t, 2, embedder.calls)
		assert.Equal(t, content, updated.Content)
	})

	t.Run("title-only change keeps the stored vector", func(t *testing.T) {
		svc, embedder, _ := setupService(t)

		entry, err := svc.Create(ctx, validCreate())
		require.NoError(t, err)

		title := "New title"
		_, err = svc.Update(ctx, entry.ID, testScope, models.UpdateParams{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, 1, embedder.calls)

		versions, err := svc.Versions(ctx, entry.ID, testScope)
		require.NoError(t, err)
		require.Len(t, versions, 1)
		assert.Equal(t, "Test memory", versions[0].Title)
	})

	t.Run("rejects invalid fields", func(t *testing.T) {
		svc, _, _ := setupService(t)

		entry, err := svc.Create(ctx, validCreate())
		require.NoError(t, err)

		empty := ""
		_, err = svc.Update(ctx, entry.ID, testScope, models.UpdateParams{Title: &empty})
		assert.ErrorIs(t, err, models.ErrValidation)

		bad := models.MemoryType("feeling")
		_, err = svc.Update(ctx, entry.ID, testScope, models.UpdateParams{MemoryType: &bad})
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("failed re-embedding leaves the entry untouched", func(t *testing.T) {
		svc, embedder, _ := setupService(t)

		entry, err := svc.Create(ctx, validCreate())
		require.NoError(t, err)

		embedder.fail = true
		content := "new content"
		_, err = svc.Update(ctx, entry.ID, testScope, models.UpdateParams{Content: &content})
		require.ErrorIs(t, err, models.ErrEmbeddingProvider)

		embedder.fail = false
		got, err := svc.Get(ctx, entry.ID, testScope)
		require.NoError(t, err)
		assert.Equal(t, "Some content worth remembering", got.Content)

		versions, err := svc.Versions(ctx, entry.ID, testScope)
		require.NoError(t, err)
		assert.Empty(t, versions)
	})
}

func TestSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("finds semantically similar entries", func(t *testing.T) {
		svc, _, _ := setupService(t)

		// "alpha..." and "about..." share a first byte, so the fake embedder
		// makes them identical; "zebra..." is orthogonal.
		p := validCreate()
		p.Title = "First"
		p.Content = "alpha content"
		_, err := svc.Create(ctx, p)
		require.NoError(t, err)

		p = validCreate()
		p.Title = "Second"
		p.Content = "zebra content"
		_, err = svc.Create(ctx, p)
		require.NoError(t, err)

		results, err := svc.Search(ctx, SearchQuery{
			Scope: testScope,
			Query: "about the same thing",
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "First", results[0].Entry.Title)
		assert.InDelta(t, 1.0, results[0].Score, 0.001)
	})

	t.Run("rejects out-of-bounds parameters", func(t *testing.T) {
		svc, embedder, _ := setupService(t)

		bad := []SearchQuery{
			{Scope: testScope, Query: "   "},
			{Scope: testScope, Query: "q", Threshold: ptr(-0.1)},
			{Scope: testScope, Query: "q", Threshold: ptr(1.5)},
			{Scope: testScope, Query: "q", Limit: -1},
			{Scope: testScope, Query: "q", Limit: models.MaxSearchLimit + 1},
		}
		for i, q := range bad {
			_, err := svc.Search(ctx, q)
			assert.ErrorIs(t, err, models.ErrValidation, "case %d", i)
		}
		assert.Zero(t, embedder.calls)
	})

	t.Run("zero limit and nil threshold use defaults", func(t *testing.T) {
		svc, _, _ := setupService(t)

		p := validCreate()
		p.Content = "alpha"
		_, err := svc.Create(ctx, p)
		require.NoError(t, err)

		results, err := svc.Search(ctx, SearchQuery{Scope: testScope, Query: "alpha"})
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	entry, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, entry.ID, testScope))

	_, err = svc.Get(ctx, entry.ID, testScope)
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, entry.ID, testScope), models.ErrNotFound)
}

func TestBulkDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("missing ids fail individually inside healthy batches", func(t *testing.T) {
		svc, _, _ := setupService(t)

		// More ids than one batch holds, plus some that do not exist.
		var ids []string
		for i := 0; i < models.BulkDeleteBatchSize+5; i++ {
			entry, err := svc.Create(ctx, validCreate())
			require.NoError(t, err)
			ids = append(ids, entry.ID)
		}
		ids = append(ids, "missing-1", "missing-2", "missing-3")

		result, err := svc.BulkDelete(ctx, testScope, ids)
		require.NoError(t, err)

		assert.Equal(t, models.BulkDeleteBatchSize+5, result.DeletedCount)
		assert.Len(t, result.FailedIDs, 3)
		assert.Equal(t, len(ids), result.DeletedCount+len(result.FailedIDs))

		_, total, err := svc.List(ctx, models.ListParams{Scope: testScope})
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("failed batches record all their ids and later batches still run", func(t *testing.T) {
		svc, _, store := setupService(t)

		var ids []string
		for i := 0; i < models.BulkDeleteBatchSize+5; i++ {
			entry, err := svc.Create(ctx, validCreate())
			require.NoError(t, err)
			ids = append(ids, entry.ID)
		}

		// Every batch now fails at the store level. The operation must not
		// surface an error: each batch's ids land in FailedIDs and the next
		// batch is still attempted, so the accounting covers every id.
		require.NoError(t, store.Close())

		result, err := svc.BulkDelete(ctx, testScope, ids)
		require.NoError(t, err)

		assert.Zero(t, result.DeletedCount)
		assert.ElementsMatch(t, ids, result.FailedIDs)
		assert.Equal(t, len(ids), result.DeletedCount+len(result.FailedIDs))
	})
}

func TestTopics(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	t.Run("create validates name and color", func(t *testing.T) {
		_, err := svc.CreateTopic(ctx, &models.MemoryTopic{
			Name: "  ", UserID: testScope.UserID, OrganizationID: testScope.OrganizationID,
		})
		assert.ErrorIs(t, err, models.ErrValidation)

		_, err = svc.CreateTopic(ctx, &models.MemoryTopic{
			Name: "ok", Color: "red", UserID: testScope.UserID, OrganizationID: testScope.OrganizationID,
		})
		assert.ErrorIs(t, err, models.ErrValidation)

		topic, err := svc.CreateTopic(ctx, &models.MemoryTopic{
			Name: "projects", Color: "#00FF88",
			UserID: testScope.UserID, OrganizationID: testScope.OrganizationID,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, topic.ID)
	})

	t.Run("update validates color", func(t *testing.T) {
		topic, err := svc.CreateTopic(ctx, &models.MemoryTopic{
			Name: "colors", UserID: testScope.UserID, OrganizationID: testScope.OrganizationID,
		})
		require.NoError(t, err)

		bad := "blue"
		_, err = svc.UpdateTopic(ctx, topic.ID, testScope, db.TopicUpdateParams{Color: &bad})
		assert.ErrorIs(t, err, models.ErrValidation)

		good := "#123ABC"
		updated, err := svc.UpdateTopic(ctx, topic.ID, testScope, db.TopicUpdateParams{Color: &good})
		require.NoError(t, err)
		assert.Equal(t, good, updated.Color)
	})
}

func TestListValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	_, _, err := svc.List(ctx, models.ListParams{
		Scope: testScope,
		Types: []models.MemoryType{"feeling"},
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, _, err = svc.List(ctx, models.ListParams{
		Scope:    testScope,
		Statuses: []models.MemoryStatus{"gone"},
	})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func ptr(f float64) *float64 { return &f }
