package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerBrainsResource(s *server.MCPServer, h *handlers) {
	resource := mcp.NewResource(
		"gtmbrain://brains",
		"Brains",
		mcp.WithResourceDescription("All brains with vertical, status, version, and stats."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		brains, err := h.mgr.ListBrains(ctx)
		if err != nil {
			return nil, err
		}

		payload := map[string]any{
			"brains": brains,
			"count":  len(brains),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
