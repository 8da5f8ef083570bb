// Package mcp exposes the memory service as MCP tools over stdio or SSE.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mnemohq/mnemo/internal/models"
	"github.com/mnemohq/mnemo/internal/service"
)

// Server wraps the MCP protocol server around the memory service.
type Server struct {
	svc       *service.Service
	mcpServer *server.MCPServer
}

// NewServer creates the MCP server and registers all tools.
func NewServer(svc *service.Service) *Server {
	s := &Server{svc: svc}

	s.mcpServer = server.NewMCPServer(
		"Mnemo Memory Service",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()

	return s
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "create_memory",
		Description: "Store a new memory with semantic indexing",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Short human-readable title",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "The memory content to store and index",
				},
				"summary": map[string]interface{}{
					"type":        "string",
					"description": "Optional condensed summary",
				},
				"memory_type": map[string]interface{}{
					"type":        "string",
					"description": "One of: context, project, knowledge, reference, personal, workflow",
				},
				"tags": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "string",
					},
					"description": "Tags for categorization",
				},
				"project_ref": map[string]interface{}{
					"type":        "string",
					"description": "Optional project reference to group related memories",
				},
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "Owner of the memory",
				},
			},
			Required: []string{"title", "content", "memory_type", "user_id"},
		},
	}, s.handleCreateMemory)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "search_memories",
		Description: "Search memories by semantic similarity. For most searches only provide 'query'; the other parameters are optional filters.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language text to search for",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (default: 20, max: 100)",
				},
				"threshold": map[string]interface{}{
					"type":        "number",
					"description": "Minimum similarity score between 0 and 1 (default: 0.7)",
				},
				"memory_types": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "string",
					},
					"description": "Narrow results to these memory types. Optional.",
				},
				"tags": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "string",
					},
					"description": "Narrow results to memories carrying at least one of these tags. Optional.",
				},
				"project_ref": map[string]interface{}{
					"type":        "string",
					"description": "Narrow results to one project. Optional.",
				},
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "Owner whose memories to search",
				},
			},
			Required: []string{"query", "user_id"},
		},
	}, s.handleSearchMemories)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_memory",
		Description: "Retrieve a single memory by id. Records the access.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Memory id",
				},
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "Owner of the memory",
				},
			},
			Required: []string{"id", "user_id"},
		},
	}, s.handleGetMemory)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_memories",
		Description: "List memories in creation order with optional filters. Call with just user_id to get the most recent memories.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of memories to return (default: 20)",
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Number of memories to skip",
				},
				"memory_types": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "string",
					},
					"description": "Narrow results to these memory types. Optional.",
				},
				"tags": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "string",
					},
					"description": "Narrow results to memories carrying at least one of these tags. Optional.",
				},
				"project_ref": map[string]interface{}{
					"type":        "string",
					"description": "Narrow results to one project. Optional.",
				},
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "Owner whose memories to list",
				},
			},
			Required: []string{"user_id"},
		},
	}, s.handleListMemories)
}

// parseParams converts MCP request arguments to a struct.
func parseParams(args interface{}, target interface{}) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

func (s *Server) handleCreateMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params struct {
		Title      string   `json:"title"`
		Content    string   `json:"content"`
		Summary    string   `json:"summary"`
		MemoryType string   `json:"memory_type"`
		Tags       []string `json:"tags"`
		ProjectRef string   `json:"project_ref"`
		UserID     string   `json:"user_id"`
		OrgID      string   `json:"organization_id"`
	}

	if err := parseParams(request.Params.Arguments, &params); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	entry, err := s.svc.Create(ctx, service.CreateParams{
		Scope:      models.TenantScope{UserID: params.UserID, OrganizationID: params.OrgID},
		Title:      params.Title,
		Content:    params.Content,
		Summary:    params.Summary,
		MemoryType: models.MemoryType(params.MemoryType),
		Tags:       params.Tags,
		ProjectRef: params.ProjectRef,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create memory: %v", err)), nil
	}

	result, _ := json.Marshal(map[string]interface{}{
		"success": true,
		"id":      entry.ID,
		"message": "Memory stored successfully",
	})
	return mcp.NewToolResultText(string(result)), nil
}

func (s *Server) handleSearchMemories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params struct {
		Query       string   `json:"query"`
		Limit       int      `json:"limit"`
		Threshold   *float64 `json:"threshold"`
		MemoryTypes []string `json:"memory_types"`
		Tags        []string `json:"tags"`
		ProjectRef  string   `json:"project_ref"`
		UserID      string   `json:"user_id"`
		OrgID       string   `json:"organization_id"`
	}

	if err := parseParams(request.Params.Arguments, &params); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	types := make([]models.MemoryType, 0, len(params.MemoryTypes))
	for _, t := range params.MemoryTypes {
		types = append(types, models.MemoryType(t))
	}

	results, err := s.svc.Search(ctx, service.SearchQuery{
		Scope:      models.TenantScope{UserID: params.UserID, OrganizationID: params.OrgID},
		Query:      params.Query,
		Threshold:  params.Threshold,
		Limit:      params.Limit,
		Types:      types,
		Tags:       params.Tags,
		ProjectRef: params.ProjectRef,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	for i := range results {
		results[i].Entry.Embedding = nil
	}
	result, _ := json.Marshal(results)
	return mcp.NewToolResultText(string(result)), nil
}

func (s *Server) handleGetMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params struct {
		ID     string `json:"id"`
		UserID string `json:"user_id"`
		OrgID  string `json:"organization_id"`
	}

	if err := parseParams(request.Params.Arguments, &params); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	entry, err := s.svc.Get(ctx, params.ID, models.TenantScope{UserID: params.UserID, OrganizationID: params.OrgID})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get memory: %v", err)), nil
	}

	entry.Embedding = nil
	result, _ := json.Marshal(entry)
	return mcp.NewToolResultText(string(result)), nil
}

func (s *Server) handleListMemories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params struct {
		Limit       int      `json:"limit"`
		Offset      int      `json:"offset"`
		MemoryTypes []string `json:"memory_types"`
		Tags        []string `json:"tags"`
		ProjectRef  string   `json:"project_ref"`
		UserID      string   `json:"user_id"`
		OrgID       string   `json:"organization_id"`
	}

	if err := parseParams(request.Params.Arguments, &params); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	types := make([]models.MemoryType, 0, len(params.MemoryTypes))
	for _, t := range params.MemoryTypes {
		types = append(types, models.MemoryType(t))
	}

	entries, total, err := s.svc.List(ctx, models.ListParams{
		Scope:      models.TenantScope{UserID: params.UserID, OrganizationID: params.OrgID},
		Limit:      params.Limit,
		Offset:     params.Offset,
		Types:      types,
		Tags:       params.Tags,
		ProjectRef: params.ProjectRef,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list memories: %v", err)), nil
	}

	for i := range entries {
		entries[i].Embedding = nil
	}
	result, _ := json.Marshal(map[string]interface{}{
		"memories": entries,
		"total":    total,
	})
	return mcp.NewToolResultText(string(result)), nil
}

// Serve starts the MCP server on stdio transport.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// GetMCPServer returns the underlying MCP server for other transports.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
