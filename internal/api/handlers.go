package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mnemohq/mnemo/internal/models"
	"github.com/mnemohq/mnemo/internal/service"
)

// CreateMemoryRequest is the body for POST /api/v1/memories.
type CreateMemoryRequest struct {
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Summary    string         `json:"summary,omitempty"`
	MemoryType string         `json:"memory_type"`
	Status     string         `json:"status,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	TopicID    *string        `json:"topic_id,omitempty"`
	ProjectRef string         `json:"project_ref,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SearchMemoriesRequest is the body for POST /api/v1/memories/search.
type SearchMemoriesRequest struct {
	Query      string   `json:"query"`
	Threshold  *float64 `json:"threshold,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Types      []string `json:"types,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	TopicID    *string  `json:"topic_id,omitempty"`
	ProjectRef string   `json:"project_ref,omitempty"`
	Statuses   []string `json:"statuses,omitempty"`
}

// BulkDeleteRequest is the body for POST /api/v1/memories/bulk-delete.
type BulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req CreateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	entry, err := s.svc.Create(r.Context(), service.CreateParams{
		Scope:      scopeFrom(r),
		Title:      req.Title,
		Content:    req.Content,
		Summary:    req.Summary,
		MemoryType: models.MemoryType(req.MemoryType),
		Status:     models.MemoryStatus(req.Status),
		Tags:       req.Tags,
		TopicID:    req.TopicID,
		ProjectRef: req.ProjectRef,
		Metadata:   req.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sanitize(entry))
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"), scopeFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sanitize(entry))
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	var params models.UpdateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	params.CreatedBy = scopeFrom(r).UserID

	entry, err := s.svc.Update(r.Context(), chi.URLParam(r, "id"), scopeFrom(r), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sanitize(entry))
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), chi.URLParam(r, "id"), scopeFrom(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.IDs) == 0 {
		errorResponse(w, http.StatusBadRequest, "ids must not be empty")
		return
	}

	result, err := s.svc.BulkDelete(r.Context(), scopeFrom(r), req.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Partial failure is still a 200; the body carries the split.
	if result.FailedIDs == nil {
		result.FailedIDs = []string{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	var req SearchMemoriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	results, err := s.svc.Search(r.Context(), service.SearchQuery{
		Scope:      scopeFrom(r),
		Query:      req.Query,
		Threshold:  req.Threshold,
		Limit:      req.Limit,
		Types:      toTypes(req.Types),
		Tags:       req.Tags,
		TopicID:    req.TopicID,
		ProjectRef: req.ProjectRef,
		Statuses:   toStatuses(req.Statuses),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	for i := range results {
		results[i].Entry.Embedding = nil
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := models.ListParams{
		Scope:      scopeFrom(r),
		Types:      toTypes(splitCSV(q.Get("types"))),
		Tags:       splitCSV(q.Get("tags")),
		ProjectRef: q.Get("project_ref"),
		Statuses:   toStatuses(splitCSV(q.Get("statuses"))),
		SortBy:     q.Get("sort_by"),
		SortOrder:  q.Get("sort_order"),
	}
	if topicID := q.Get("topic_id"); topicID != "" {
		params.TopicID = &topicID
	}
	params.Limit, _ = strconv.Atoi(q.Get("limit"))
	params.Offset, _ = strconv.Atoi(q.Get("offset"))

	entries, total, err := s.svc.List(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	for i := range entries {
		entries[i].Embedding = nil
	}
	if entries == nil {
		entries = []models.MemoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"memories": entries,
		"total":    total,
		"limit":    params.Limit,
		"offset":   params.Offset,
	})
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.svc.Versions(r.Context(), chi.URLParam(r, "id"), scopeFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if versions == nil {
		versions = []models.MemoryVersion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
		"count":    len(versions),
	})
}

// sanitize strips the embedding vector from API responses; clients never
// need the raw floats and they dominate the payload size.
func sanitize(entry *models.MemoryEntry) *models.MemoryEntry {
	clone := *entry
	clone.Embedding = nil
	return &clone
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toTypes(ss []string) []models.MemoryType {
	if len(ss) == 0 {
		return nil
	}
	types := make([]models.MemoryType, len(ss))
	for i, s := range ss {
		types[i] = models.MemoryType(s)
	}
	return types
}

func toStatuses(ss []string) []models.MemoryStatus {
	if len(ss) == 0 {
		return nil
	}
	statuses := make([]models.MemoryStatus, len(ss))
	for i, s := range ss {
		statuses[i] = models.MemoryStatus(s)
	}
	return statuses
}
