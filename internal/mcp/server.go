package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/dshills/pgrnscan/internal/am"
	"github.com/dshills/pgrnscan/internal/logging"
)

const (
	// ServerName is the MCP server name
	ServerName = "pgrnscan"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with the access method it administers
type Server struct {
	mcp    *server.MCPServer
	am     *am.AccessMethod
	logger zerolog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(a *am.AccessMethod) (*Server, error) {
	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion),
		am:     a,
		logger: logging.Component(a.Engine().Logger(), "mcp"),
	}
	if err := s.registerTools(); err != nil {
		return nil, err
	}
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown. Scans
// still open when it returns are released.
func (s *Server) Serve(ctx context.Context) error {
	defer func() {
		if err := s.am.AbortTransaction(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release scans")
		}
	}()
	s.logger.Info().Str("version", ServerVersion).Msg("serving on stdio")
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(engineCommandTool(), s.handleEngineCommand)
	s.mcp.AddTool(engineCommandArgsTool(), s.handleEngineCommandArgs)
	s.mcp.AddTool(engineStatusTool(), s.handleEngineStatus)
	s.mcp.AddTool(listScansTool(), s.handleListScans)
	return nil
}
