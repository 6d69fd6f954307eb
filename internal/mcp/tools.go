package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
)

// handleEngineCommand handles the engine_command tool invocation
func (s *Server) handleEngineCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	command, ok := args["command"].(string)
	if !ok || command == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "command parameter is required", map[string]interface{}{
			"param":  "command",
			"reason": "missing or empty",
		})
	}

	out, err := s.am.Command(ctx, command)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "command failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(out), nil
}

// handleEngineCommandArgs handles the engine_command_args tool invocation
func (s *Server) handleEngineCommandArgs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	name, ok := args["name"].(string)
	if !ok || name == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "name parameter is required", map[string]interface{}{
			"param":  "name",
			"reason": "missing or empty",
		})
	}
	flat, err := getStringSlice(args, "args")
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid args", map[string]interface{}{
			"param":  "args",
			"reason": err.Error(),
		})
	}

	out, err := s.am.CommandArgs(ctx, name, flat)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "command failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(out), nil
}

// handleEngineStatus handles the engine_status tool invocation
func (s *Server) handleEngineStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := s.am.Command(ctx, "status")
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	var envelope []json.RawMessage
	if err := json.Unmarshal([]byte(out), &envelope); err != nil || len(envelope) < 2 {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"response": out,
		})
	}
	var status map[string]interface{}
	if err := json.Unmarshal(envelope[1], &status); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to decode status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	status["scans"] = s.am.Registry().Len()
	return mcp.NewToolResultText(formatJSON(status)), nil
}

// handleListScans handles the list_scans tool invocation
func (s *Server) handleListScans(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scans := s.am.Registry().Snapshot()
	response := map[string]interface{}{
		"count": len(scans),
		"scans": scans,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getStringSlice extracts an optional array of strings
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is not a string", i)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("must be an array of strings")
	}
}
