// Package mcpserver exposes the modifier index and scene analysis as MCP
// tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentic-research/dsongraph/internal/graph"
	"github.com/agentic-research/dsongraph/internal/session"
)

// Server answers tool calls against one session. Scene analyses are kept
// until the next scan.
type Server struct {
	sess   *session.Session
	logger *slog.Logger
	mcp    *server.MCPServer

	mu       sync.Mutex
	analyses map[string]*session.Analysis
}

// New registers the tools.
func New(sess *session.Session, version string) *Server {
	s := &Server{
		sess:     sess,
		logger:   sess.Logger(),
		mcp:      server.NewMCPServer("dsongraph", version, server.WithToolCapabilities(false)),
		analyses: make(map[string]*session.Analysis),
	}

	sceneArg := mcp.WithString("scene", mcp.Required(),
		mcp.Description("Scene file: a library path such as /scenes/a.duf, or an absolute path on disk"))

	s.mcp.AddTool(mcp.NewTool("scan",
		mcp.WithDescription("Bring the modifier index up to date with the content library"),
	), s.handleScan)

	s.mcp.AddTool(mcp.NewTool("classify",
		mcp.WithDescription("Classify the modifiers that can apply to a scene's figures as used, unused, unavailable or available for dynamic"),
		sceneArg,
	), s.handleClassify)

	s.mcp.AddTool(mcp.NewTool("modifier",
		mcp.WithDescription("Describe one modifier: labels, status, static value and dependencies"),
		sceneArg,
		mcp.WithString("url", mcp.Required(), mcp.Description("Modifier asset URL, e.g. /data/x/morphs/Smile.dsf#Smile")),
	), s.handleModifier)

	s.mcp.AddTool(mcp.NewTool("search_modifiers",
		mcp.WithDescription("Find modifiers whose label or id contains a string"),
		sceneArg,
		mcp.WithString("query", mcp.Required(), mcp.Description("Case-insensitive substring")),
	), s.handleSearch)

	s.mcp.AddTool(mcp.NewTool("evaluate",
		mcp.WithDescription("Evaluate a property of a scene with its formulas applied"),
		sceneArg,
		mcp.WithString("url", mcp.Required(), mcp.Description("Property URL, e.g. Figure:#Smile?value")),
		mcp.WithBoolean("without_modifiers", mcp.Description("Ignore formulas")),
		mcp.WithBoolean("use_default_values", mcp.Description("Use asset defaults instead of scene values")),
		mcp.WithBoolean("skip_constant_value", mcp.Description("Keep only formula contributions")),
	), s.handleEvaluate)

	return s
}

// MCPServer returns the underlying server, for transports other than stdio.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio serves until stdin closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// analysis classifies scene, reusing an earlier result.
func (s *Server) analysis(scene string) (*session.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.analyses[scene]; ok {
		return a, nil
	}
	a, err := s.sess.Classify(scene)
	if err != nil {
		return nil, err
	}
	s.analyses[scene] = a
	return a, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (s *Server) handleScan(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.sess.Scan(ctx, nil)

	s.mu.Lock()
	clear(s.analyses)
	s.mu.Unlock()

	if err != nil {
		// Per-file failures still leave a usable index.
		s.logger.Warn("scan reported errors", "err", err)
		return jsonResult(map[string]any{"stats": stats, "errors": err.Error()})
	}
	return jsonResult(map[string]any{"stats": stats})
}

func (s *Server) handleClassify(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scene, err := req.RequireString("scene")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a, err := s.analysis(scene)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("classify failed", err), nil
	}
	return jsonResult(a.Summary())
}

func (s *Server) handleModifier(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scene, err := req.RequireString("scene")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	url, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a, err := s.analysis(scene)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("classify failed", err), nil
	}
	m, ok := a.Modifier(url)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no modifier %s applies to %s", url, scene)), nil
	}
	return jsonResult(m)
}

func (s *Server) handleSearch(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scene, err := req.RequireString("scene")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a, err := s.analysis(scene)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("classify failed", err), nil
	}
	return jsonResult(a.Search(query))
}

func (s *Server) handleEvaluate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scene, err := req.RequireString("scene")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	url, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := graph.EvalOptions{
		WithoutModifiers:  req.GetBool("without_modifiers", false),
		UseDefaultValues:  req.GetBool("use_default_values", false),
		SkipConstantValue: req.GetBool("skip_constant_value", false),
	}
	v, err := s.sess.Evaluate(scene, url, opts)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("evaluate failed", err), nil
	}
	return jsonResult(map[string]any{"url": url, "value": v})
}
