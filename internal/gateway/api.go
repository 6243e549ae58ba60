// ABOUTME: HTTP API handlers for the aggregated MCP tool catalog.
// ABOUTME: Provides tool listing, tool invocation, status, and refresh endpoints.

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/2389/toolgate/internal/mcp"
)

// CallToolRequest is the JSON request body for POST /api/call.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResponse is the JSON response for POST /api/call. Result is the
// flattened tool output; failures arrive as "Error: ..." text, never as a
// non-200 status.
type CallToolResponse struct {
	RequestID string `json:"request_id"`
	Name      string `json:"name"`
	Result    string `json:"result"`
}

// ListToolsResponse is the JSON response for GET /api/tools.
type ListToolsResponse struct {
	Tools []mcp.FunctionDefinition `json:"tools"`
}

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	Connections int                `json:"connections"`
	Tools       int                `json:"tools"`
	Servers     []mcp.ServerStatus `json:"servers"`
}

// handleListTools handles GET /api/tools requests.
// It returns the namespaced catalog aggregated from all connected servers.
func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	response := ListToolsResponse{Tools: g.manager.ToolDefinitions()}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleCallTool handles POST /api/call requests.
// The tool name must carry the MCP namespace prefix; anything else is the
// caller asking the wrong component.
func (g *Gateway) handleCallTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseCallRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !g.manager.IsKnownTool(req.Name) {
		g.sendJSONError(w, http.StatusNotFound, "not an MCP tool name")
		return
	}

	requestID := uuid.New().String()
	g.logger.Info("executing tool", "request_id", requestID, "tool", req.Name)

	result := g.manager.ExecuteTool(r.Context(), req.Name, req.Arguments)

	response := CallToolResponse{
		RequestID: requestID,
		Name:      req.Name,
		Result:    result,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleStatus handles GET /api/status requests.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status := g.manager.Status()
	response := StatusResponse{
		Connections: status.Connections,
		Tools:       status.Tools,
		Servers:     g.manager.Servers(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleRefresh handles POST /api/refresh requests.
// It re-reads the config file and rebuilds every MCP connection.
func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	g.reloadConfig(r.Context())

	status := g.manager.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"connections": status.Connections,
		"tools":       status.Tools,
	})
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseCallRequest parses and validates a CallToolRequest from the given reader.
// Returns an error if the JSON is invalid or the name is missing.
func parseCallRequest(r io.Reader) (*CallToolRequest, error) {
	var req CallToolRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if req.Name == "" {
		return nil, errors.New("name is required")
	}

	return &req, nil
}
