package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mnemohq/mnemo/internal/db"
	"github.com/mnemohq/mnemo/internal/models"
)

// CreateTopicRequest is the body for POST /api/v1/topics.
type CreateTopicRequest struct {
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Color         string         `json:"color,omitempty"`
	ParentTopicID *string        `json:"parent_topic_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req CreateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	scope := scopeFrom(r)
	topic, err := s.svc.CreateTopic(r.Context(), &models.MemoryTopic{
		Name:           req.Name,
		Description:    req.Description,
		Color:          req.Color,
		ParentTopicID:  req.ParentTopicID,
		UserID:         scope.UserID,
		OrganizationID: scope.OrganizationID,
		Metadata:       req.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, topic)
}

func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	topic, err := s.svc.GetTopic(r.Context(), chi.URLParam(r, "id"), scopeFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.svc.ListTopics(r.Context(), scopeFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if topics == nil {
		topics = []models.MemoryTopic{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topics": topics,
		"count":  len(topics),
	})
}

func (s *Server) handleUpdateTopic(w http.ResponseWriter, r *http.Request) {
	var params db.TopicUpdateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	topic, err := s.svc.UpdateTopic(r.Context(), chi.URLParam(r, "id"), scopeFrom(r), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteTopic(r.Context(), chi.URLParam(r, "id"), scopeFrom(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
