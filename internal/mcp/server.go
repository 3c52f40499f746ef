// Package mcp exposes the engine's operations as Model Context Protocol
// tools so agentic clients can drive workflows.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"engagement-engine/backend/internal/engine"
)

type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
}

func NewServer(eng *engine.Engine) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Engagement Engine",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		engine: eng,
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
			"start_workflow",
			mcp.WithDescription("Materialize a workflow instance for a client from the latest template version"),
			mcp.WithString("client_id", mcp.Required(), mcp.Description("The client to start the workflow for")),
			mcp.WithString("workflow_template_id", mcp.Required(), mcp.Description("The workflow template to instantiate")),
		),
		s.handleStartWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"complete_task",
			mcp.WithDescription("Complete a task, optionally selecting an outcome that routes the workflow"),
			mcp.WithString("task_instance_id", mcp.Required(), mcp.Description("The task instance to complete")),
			mcp.WithString("outcome", mcp.Description("The selected outcome name, if any")),
			mcp.WithObject("field_values", mcp.Description("Collected field values, keyed by field code")),
		),
		s.handleCompleteTask,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"advance_stage",
			mcp.WithDescription("Close the workflow's current stage and enter the next one"),
			mcp.WithString("workflow_instance_id", mcp.Required(), mcp.Description("The workflow instance to advance")),
		),
		s.handleAdvanceStage,
	)
}

func (s *Server) handleStartWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	clientID, _ := args["client_id"].(string)
	templateID, _ := args["workflow_template_id"].(string)
	if clientID == "" || templateID == "" {
		return mcp.NewToolResultError("Missing required parameters: client_id, workflow_template_id"), nil
	}

	result, err := s.engine.StartWorkflow(ctx, clientID, templateID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleCompleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	taskID, _ := args["task_instance_id"].(string)
	if taskID == "" {
		return mcp.NewToolResultError("Missing required parameter: task_instance_id"), nil
	}
	outcome, _ := args["outcome"].(string)
	fieldValues, _ := args["field_values"].(map[string]interface{})

	result, err := s.engine.CompleteTask(ctx, taskID, fieldValues, outcome)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to complete task: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleAdvanceStage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	workflowID, _ := args["workflow_instance_id"].(string)
	if workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_instance_id"), nil
	}

	result, err := s.engine.AdvanceStage(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to advance stage: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
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
