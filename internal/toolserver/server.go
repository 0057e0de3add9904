package toolserver

import (
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const serverVersion = "1.0.0"

// Server exposes local development tools over the MCP streamable HTTP
// transport. File tools are confined by a PathGuard; command tools run in
// the guard's working directory.
type Server struct {
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
	guard      *PathGuard
}

// NewServer creates a tool server rooted at workDir and mounted at
// endpointPath. The session-scoped endpoint path keeps the MCP surface off
// guessable locations.
func NewServer(workDir string, allowedPaths []string, endpointPath string) (*Server, error) {
	guard, err := NewPathGuard(workDir, allowedPaths)
	if err != nil {
		return nil, err
	}

	mcpServer := server.NewMCPServer(
		"vibelink",
		serverVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcpServer: mcpServer,
		guard:     guard,
	}
	s.registerTools()

	s.httpServer = server.NewStreamableHTTPServer(
		mcpServer,
		server.WithEndpointPath(endpointPath),
		server.WithStateLess(true),
	)
	return s, nil
}

// Handler returns the HTTP handler serving the MCP endpoint.
func (s *Server) Handler() http.Handler {
	return s.httpServer
}

func (s *Server) registerTools() {
	readFileTool := mcp.NewTool("read_file",
		mcp.WithDescription("Read the contents of a file"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path of the file to read, absolute or relative to the project directory"),
		),
	)
	s.mcpServer.AddTool(readFileTool, s.handleReadFile)

	writeFileTool := mcp.NewTool("write_file",
		mcp.WithDescription("Write content to a file, creating it and any parent directories if needed"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path of the file to write"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Content to write"),
		),
	)
	s.mcpServer.AddTool(writeFileTool, s.handleWriteFile)

	listDirectoryTool := mcp.NewTool("list_directory",
		mcp.WithDescription("List the entries of a directory"),
		mcp.WithString("path",
			mcp.Description("Directory to list (defaults to the project directory)"),
		),
	)
	s.mcpServer.AddTool(listDirectoryTool, s.handleListDirectory)

	searchFilesTool := mcp.NewTool("search_files",
		mcp.WithDescription("Find files whose names match a glob pattern"),
		mcp.WithString("pattern",
			mcp.Required(),
			mcp.Description("Glob pattern to match file names against, e.g. *.go"),
		),
		mcp.WithString("path",
			mcp.Description("Directory to search under (defaults to the project directory)"),
		),
	)
	s.mcpServer.AddTool(searchFilesTool, s.handleSearchFiles)

	runCommandTool := mcp.NewTool("run_command",
		mcp.WithDescription("Run a shell command in the project directory and return its output"),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("Shell command to run"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Timeout in seconds (default 60)"),
		),
	)
	s.mcpServer.AddTool(runCommandTool, s.handleRunCommand)

	claudeCodeTool := mcp.NewTool("claude_code",
		mcp.WithDescription("Run the claude CLI with a prompt in the project directory and return its output"),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Prompt to pass to the claude CLI"),
		),
	)
	s.mcpServer.AddTool(claudeCodeTool, s.handleClaudeCode)
}
