package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/pgrnscan/internal/engine"
)

// engineCommandTool returns the tool definition for engine_command
func engineCommandTool() mcp.Tool {
	return mcp.Tool{
		Name:        "engine_command",
		Description: "Run a diagnostic command line against the search engine",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Command line, e.g. \"column_list Sources1\"",
				},
			},
			Required: []string{"command"},
		},
	}
}

// engineCommandArgsTool returns the tool definition for engine_command_args
func engineCommandArgsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "engine_command_args",
		Description: "Run a diagnostic command by name with flattened --name value arguments",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Command name",
					"enum":        engine.CommandNames(),
				},
				"args": map[string]interface{}{
					"type":        "array",
					"description": "Flattened argument pairs, e.g. [\"--table\", \"Sources1\"]",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
			},
			Required: []string{"name"},
		},
	}
}

// engineStatusTool returns the tool definition for engine_status
func engineStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "engine_status",
		Description: "Report the search engine state and the number of live scans",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// listScansTool returns the tool definition for list_scans
func listScansTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_scans",
		Description: "Describe every registered index scan",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
