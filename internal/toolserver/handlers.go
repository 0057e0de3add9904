package toolserver

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"vibelink/pkg/logging"
)

const (
	defaultCommandTimeout = 60 * time.Second
	claudeCommandTimeout  = 5 * time.Minute

	// maxSearchResults bounds search_files output.
	maxSearchResults = 100

	// maxOutputBytes bounds command output returned over the wire.
	maxOutputBytes = 64 * 1024
)

// skipDirs are never descended into during search.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
}

func (s *Server) handleReadFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resolved, err := s.guard.Resolve(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read file: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleWriteFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resolved, err := s.guard.Resolve(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create parent directory: %v", err)), nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to write file: %v", err)), nil
	}
	logging.Debug("ToolServer", "Wrote %d bytes to %s", len(content), resolved)
	return mcp.NewToolResultText(fmt.Sprintf("Wrote %d bytes to %s", len(content), resolved)), nil
}

func (s *Server) handleListDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := request.GetString("path", s.guard.WorkDir())
	resolved, err := s.guard.Resolve(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list directory: %v", err)), nil
	}

	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&sb, "%s/\n", entry.Name())
			continue
		}
		info, err := entry.Info()
		if err != nil {
			fmt.Fprintf(&sb, "%s\n", entry.Name())
			continue
		}
		fmt.Fprintf(&sb, "%s\t%d\n", entry.Name(), info.Size())
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleSearchFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := request.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid pattern %q: %v", pattern, err)), nil
	}

	root := request.GetString("path", s.guard.WorkDir())
	resolved, err := s.guard.Resolve(root)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var matches []string
	walkErr := filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			rel, err := filepath.Rel(resolved, path)
			if err != nil {
				rel = path
			}
			matches = append(matches, rel)
			if len(matches) >= maxSearchResults {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", walkErr)), nil
	}

	sort.Strings(matches)
	if len(matches) == 0 {
		return mcp.NewToolResultText("No files matched."), nil
	}
	return mcp.NewToolResultText(strings.Join(matches, "\n")), nil
}

func (s *Server) handleRunCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := request.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeout := defaultCommandTimeout
	if seconds := request.GetFloat("timeout", 0); seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logging.Debug("ToolServer", "Running command: %s", command)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.guard.WorkDir()
	output, runErr := cmd.CombinedOutput()

	text := truncateOutput(output)
	if ctx.Err() == context.DeadlineExceeded {
		return mcp.NewToolResultError(fmt.Sprintf("Command timed out after %s\n%s", timeout, text)), nil
	}
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Command failed: %v\n%s", runErr, text)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleClaudeCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := request.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx, cancel := context.WithTimeout(ctx, claudeCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "claude", "-p", prompt, "--output-format", "text")
	cmd.Dir = s.guard.WorkDir()
	output, runErr := cmd.CombinedOutput()

	text := truncateOutput(output)
	if ctx.Err() == context.DeadlineExceeded {
		return mcp.NewToolResultError(fmt.Sprintf("claude timed out after %s\n%s", claudeCommandTimeout, text)), nil
	}
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("claude failed: %v\n%s", runErr, text)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func truncateOutput(output []byte) string {
	if len(output) <= maxOutputBytes {
		return string(output)
	}
	return string(output[:maxOutputBytes]) + "\n[output truncated]"
}
