// Package mcp implements the Model Context Protocol (MCP) admin server of
// pgrnscan.
//
// The server exposes four tools:
//   - engine_command: run a raw diagnostic command line
//   - engine_command_args: run a command by name with flattened arguments
//   - engine_status: report the engine state and the live scan count
//   - list_scans: describe every registered scan
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Logs go to stderr, so stdout only carries protocol messages.
//
// # Tool: engine_command
//
//	Request:
//	{
//	  "name": "engine_command",
//	  "arguments": {
//	    "command": "select Sources1 --filter 'title @ \"groonga\"' --limit 5"
//	  }
//	}
//
// The response is the command envelope, [[rc,start,elapsed],body]. Command
// failures are reported through rc, not as protocol errors.
//
// # Tool: engine_command_args
//
//	Request:
//	{
//	  "name": "engine_command_args",
//	  "arguments": {
//	    "name": "column_list",
//	    "args": ["--table", "Sources1"]
//	  }
//	}
//
// # Tool: list_scans
//
//	Response:
//	{
//	  "count": 1,
//	  "scans": [
//	    {"handle": 1, "index_oid": 16385, "heap_oid": 16384,
//	     "sources": "Sources16386", "keys": 1, "cursor": "searched"}
//	  ]
//	}
//
// # Error Handling
//
// Invalid parameters are returned as MCPError values with JSON-RPC codes:
//   - -32602: invalid parameters
//   - -32603: internal error
package mcp
