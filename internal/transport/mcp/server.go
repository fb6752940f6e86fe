package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sandevgo/contextd/internal/core"
	"github.com/sandevgo/contextd/internal/service/aggregator"
	"github.com/sandevgo/contextd/internal/service/orchestrator"
	"github.com/sandevgo/contextd/pkg/log"
	"github.com/sandevgo/contextd/pkg/tokens"
)

const (
	ServerName = "contextd"

	ToolStatus  = "context_status"
	ToolTrigger = "context_trigger"
	ToolDigest  = "context_digest"
)

const instructions = `contextd keeps a Markdown digest of recent conversations up to date.
Call context_digest to read it, context_status to see when it was last
published, and context_trigger after an important exchange to refresh it.`

type Engine interface {
	Status() orchestrator.Status
	TriggerNow() error
}

type Options struct {
	Version    string
	TargetPath string
	// Counter reports the digest size in tokens. Defaults to tokens.Count.
	Counter tokens.Counter
	In      io.Reader
	Out     io.Writer
}

// Server exposes the engine to MCP clients over stdio.
type Server struct {
	engine Engine
	opts   Options
	mcp    *server.MCPServer
}

func New(engine Engine, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Counter == nil {
		opts.Counter = tokens.Count
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	s := &Server{engine: engine, opts: opts}
	s.mcp = server.NewMCPServer(
		ServerName,
		opts.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	s.mcp.AddTool(mcp.NewTool(ToolStatus,
		mcp.WithDescription("Report the engine state, the last published digest and cache statistics."),
	), s.handleStatus)

	s.mcp.AddTool(mcp.NewTool(ToolTrigger,
		mcp.WithDescription("Regenerate and republish the context digest as soon as possible."),
	), s.handleTrigger)

	s.mcp.AddTool(mcp.NewTool(ToolDigest,
		mcp.WithDescription("Read the currently published context digest."),
		mcp.WithBoolean("include_body",
			mcp.Description("Return the Markdown body along with its metadata. Defaults to true."),
		),
	), s.handleDigest)

	return s
}

func (s *Server) Start(ctx context.Context) error {
	logger := log.Component(ctx, "mcp")

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(stdlog.New(logger, "", 0))

	logger.Info().Str("target", s.opts.TargetPath).Msg("serving mcp over stdio")
	err := stdio.Listen(ctx, s.opts.In, s.opts.Out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(context.Context) error {
	return nil
}

func (s *Server) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.engine.Status())
}

func (s *Server) handleTrigger(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.engine.TriggerNow(); err != nil {
		switch {
		case errors.Is(err, core.ErrGenerationDisabled):
			return mcp.NewToolResultError("context generation is disabled"), nil
		case errors.Is(err, core.ErrStopped):
			return mcp.NewToolResultError("engine is stopped"), nil
		}
		return nil, err
	}

	logger := log.Component(ctx, "mcp")
	logger.Debug().Msg("generation triggered by client")
	return mcp.NewToolResultText("generation scheduled"), nil
}

type digestReply struct {
	Path         string    `json:"path"`
	GeneratedAt  time.Time `json:"generated_at"`
	Checksum     string    `json:"checksum"`
	Valid        bool      `json:"valid"`
	ContentBytes int       `json:"content_bytes"`
	TotalBytes   int       `json:"total_bytes"`
	Tokens       int       `json:"tokens"`
	Body         string    `json:"body,omitempty"`
}

func (s *Server) handleDigest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := os.ReadFile(s.opts.TargetPath)
	if errors.Is(err, os.ErrNotExist) {
		return mcp.NewToolResultError("no digest has been published yet"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read digest: %w", err)
	}

	reply := digestReply{
		Path:       s.opts.TargetPath,
		TotalBytes: len(body),
		Tokens:     s.opts.Counter(string(body)),
	}
	if info, err := aggregator.Inspect(body); err == nil {
		reply.GeneratedAt = info.GeneratedAt
		reply.Checksum = info.Checksum
		reply.Valid = info.Valid
		reply.ContentBytes = info.ContentBytes
	} else {
		logger := log.Component(ctx, "mcp")
		logger.Warn().Err(err).Msg("published digest has no footer")
	}
	if req.GetBool("include_body", true) {
		reply.Body = string(body)
	}
	return jsonResult(reply)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
