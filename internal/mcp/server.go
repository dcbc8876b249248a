// Package mcp exposes workflows and runs as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"comfyrun/internal/runner"
	"comfyrun/internal/services"
	"comfyrun/internal/workflow"
)

type Server struct {
	mcpServer *server.MCPServer
	catalog   *workflow.Catalog
	runner    *runner.Runner
}

func NewServer(catalog *workflow.Catalog, r *runner.Runner, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"comfyrun",
			version,
			server.WithToolCapabilities(true),
		),
		catalog: catalog,
		runner:  r,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List the workflow files available to run"),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_tokens",
			mcp.WithDescription("List the %%NAME%% placeholders of a workflow"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Workflow path as returned by list_workflows")),
		),
		s.handleListTokens,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_workflow",
			mcp.WithDescription("Fill a workflow's placeholders, run it and return its artifacts"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Workflow path as returned by list_workflows")),
			mcp.WithObject("values", mcp.Description("Placeholder values keyed by token name")),
			mcp.WithObject("overrides", mcp.Description("Direct input assignments keyed by node.field")),
			mcp.WithString("seed", mcp.Description("Seed to use; a random one is drawn when absent or not numeric")),
		),
		s.handleRunWorkflow,
	)
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names, err := s.catalog.List()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflows: %v", err)), nil
	}
	if names == nil {
		names = []string{}
	}

	jsonBytes, _ := json.Marshal(names)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListTokens(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return mcp.NewToolResultError("Missing required parameter: path"), nil
	}

	specs, err := s.catalog.Tokens(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(specs)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return mcp.NewToolResultError("Missing required parameter: path"), nil
	}
	values, _ := args["values"].(map[string]interface{})
	overrides, _ := args["overrides"].(map[string]interface{})

	g, err := s.catalog.Open(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read workflow: %v", err)), nil
	}

	id, err := s.runner.Start(services.RunRequest{
		Workflow:  path,
		Graph:     g,
		Values:    values,
		Seed:      args["seed"],
		Overrides: overrides,
	})
	if errors.Is(err, runner.ErrBusy) {
		return mcp.NewToolResultError("Another run is in progress, try again later"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start run: %v", err)), nil
	}

	res, err := s.runner.Wait(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Run %s still in progress: %v", id, err)), nil
	}

	jsonBytes, _ := json.Marshal(res.Summarize())
	if res.Err != nil {
		return mcp.NewToolResultError(string(jsonBytes)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
