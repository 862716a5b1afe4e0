package mcp

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/urmzd/zwaved/pkg/device"
	"github.com/urmzd/zwaved/pkg/device/schema"
	"github.com/urmzd/zwaved/pkg/zwave"
)

// Server wraps the MCP server with zwaved's device control functionality
type Server struct {
	mcpServer  *server.MCPServer
	controller device.Controller
	validator  *schema.Validator

	// zwController is set when controller is a *zwave.DeviceController,
	// enabling the node-detail/interview tools beyond the generic surface.
	zwController *zwave.DeviceController
}

// NewServer creates a new MCP server for device control
func NewServer(controller device.Controller, validator *schema.Validator) *Server {
	s := &Server{
		controller: controller,
		validator:  validator,
	}
	s.zwController, _ = controller.(*zwave.DeviceController)

	// Create MCP server
	s.mcpServer = server.NewMCPServer(
		"zwaved",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	// Register all tools
	s.registerTools()

	return s
}

// ServeStdio starts the MCP server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
